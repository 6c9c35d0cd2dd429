package stage

import (
	"maps"
	"slices"
)

// Default shell for scripts and command lists.
const DefaultShell = "/bin/sh"

// Variables set for every stage process.
var baseEnv = Env{
	"DEBIAN_FRONTEND":             "noninteractive",
	"DEBCONF_NONINTERACTIVE_SEEN": "true",
}

// Environment variables for a stage process.
//
// Values layer: the container's own environment, then [baseEnv], then
// whatever the executor adds.
type Env map[string]string

// Returns a new [Env] with over laid on top of e. Neither input is modified.
func (e Env) Overlay(over Env) Env {
	out := make(Env, len(e)+len(over))
	maps.Copy(out, e)
	maps.Copy(out, over)
	return out
}

// Formats the environment as sorted "key=value" strings.
func (e Env) Environ() []string {
	keys := slices.Sorted(maps.Keys(e))
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+e[k])
	}
	return env
}
