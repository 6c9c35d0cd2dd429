package recipe

import (
	_ "crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v2"

	"github.com/cruciblehq/cruxdeb/internal/control"
)

// Config file names, in lookup order. The second is the name older recipes
// used.
var configNames = []string{"config.yml", "lzdeb.yml"}

// Stage script names.
const (
	ScriptBuild    = "build"
	ScriptInstall  = "install"
	ScriptValidate = "validate"
)

// Maintainer scripts shipped in the package when present.
var maintainerScripts = []string{"preinst", "postinst", "prerm", "postrm"}

// Where the source code comes from.
type SourceType string

const (
	SourceGit      SourceType = "git"
	SourceTarball  SourceType = "tarball"
	SourceLocalDir SourceType = "local-dir"
)

// Image and bootstrap commands for a container.
type Container struct {
	Image     string   `yaml:"image"`
	Bootstrap []string `yaml:"bootstrap_cmds"`
}

// Source descriptor. Which fields apply depends on Type.
type Source struct {
	Type            SourceType `yaml:"type"`
	URL             string     `yaml:"url"`              // git, tarball
	Ref             string     `yaml:"ref"`              // git
	PullSubmodules  bool       `yaml:"pull_submodules"`  // git
	StripComponents int        `yaml:"strip_components"` // tarball
	SHA256          string     `yaml:"sha256"`           // tarball, optional
	Path            string     `yaml:"path"`             // local-dir, relative to the recipe
}

// Parsed and validated recipe.
type Recipe struct {
	Dir       string // Absolute recipe directory.
	Config    string // Path of the config file that was read.
	Builder   Container
	Validator Container
	Source    Source
	Metadata  *control.Metadata

	Build    string // Host path of the build script, or "" when absent.
	Install  string // Host path of the install script.
	Validate string // Host path of the validate script, or "" when absent.

	Maintainer map[string]string // Maintainer script name to host path.
}

// Config file layout.
type file struct {
	Builder   *Container   `yaml:"builder"`
	Validator *Container   `yaml:"validator"`
	Source    *Source      `yaml:"source"`
	DebInfo   *control.Raw `yaml:"deb_info"`
}

// Loads and validates the recipe in dir.
//
// defaultArch fills deb_info.architecture when the recipe leaves it out.
// Unknown keys in the config file are rejected.
func Load(dir, defaultArch string) (*Recipe, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	cfgPath, data, err := readConfig(dir)
	if err != nil {
		return nil, err
	}

	var f file
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRecipe, cfgPath, err)
	}

	r := &Recipe{Dir: dir, Config: cfgPath, Maintainer: make(map[string]string)}
	p := control.Problems{Kind: ErrInvalidRecipe}

	r.Builder = checkContainer(&p, "builder", f.Builder)
	r.Validator = checkContainer(&p, "validator", f.Validator)
	r.Source = checkSource(&p, dir, f.Source)

	if f.DebInfo == nil {
		p.Add("deb_info", "", "is required")
	} else {
		raw := *f.DebInfo
		if strings.TrimSpace(raw.Architecture) == "" {
			raw.Architecture = defaultArch
		}
		m, err := control.Resolve(raw)
		if err != nil {
			p.Prefix = "deb_info."
			p.Merge(err)
			p.Prefix = ""
		}
		r.Metadata = m
	}

	r.Install = checkScript(&p, dir, ScriptInstall, true)
	r.Build = checkScript(&p, dir, ScriptBuild, false)
	r.Validate = checkScript(&p, dir, ScriptValidate, false)
	for _, name := range maintainerScripts {
		if path := checkScript(&p, dir, name, false); path != "" {
			r.Maintainer[name] = path
		}
	}

	if err := p.Err(); err != nil {
		return nil, err
	}

	slog.Debug("recipe loaded", "config", cfgPath, "package", r.Metadata.Name, "source", r.Source.Type)
	return r, nil
}

// Finds and reads the config file.
func readConfig(dir string) (string, []byte, error) {
	for _, name := range configNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", nil, err
		}
		return path, data, nil
	}
	return "", nil, fmt.Errorf("%w: looked for %s in %s", ErrNoConfig, strings.Join(configNames, ", "), dir)
}

func checkContainer(p *control.Problems, key string, c *Container) Container {
	if c == nil {
		p.Add(key, "", "is required")
		return Container{}
	}

	c.Image = strings.TrimSpace(c.Image)
	switch {
	case c.Image == "":
		p.Add(key+".image", "", "is required")
	case strings.HasSuffix(c.Image, ".tar"):
		// Local OCI archive, checked when imported.
	default:
		if _, err := reference.ParseNormalizedNamed(c.Image); err != nil {
			p.Add(key+".image", c.Image, "is not a valid image reference: "+err.Error())
		}
	}

	for i, cmd := range c.Bootstrap {
		if strings.TrimSpace(cmd) == "" {
			p.Add(fmt.Sprintf("%s.bootstrap_cmds[%d]", key, i), "", "must not be empty")
		}
	}
	return *c
}

func checkSource(p *control.Problems, dir string, s *Source) Source {
	if s == nil {
		p.Add("source", "", "is required")
		return Source{}
	}

	notFor := func(field string, set bool) {
		if set {
			p.Add("source."+field, "", "does not apply to "+string(s.Type)+" sources")
		}
	}

	switch s.Type {
	case "":
		p.Add("source.type", "", "is required")

	case SourceGit:
		if s.URL == "" {
			p.Add("source.url", "", "is required for git sources")
		}
		notFor("strip_components", s.StripComponents != 0)
		notFor("sha256", s.SHA256 != "")
		notFor("path", s.Path != "")

	case SourceTarball:
		switch {
		case s.URL == "":
			p.Add("source.url", "", "is required for tarball sources")
		default:
			u, err := url.Parse(s.URL)
			switch {
			case err != nil || (u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "file"):
				p.Add("source.url", s.URL, "must be an http, https or file URL, or a local path")
			case u.Scheme == "" && !filepath.IsAbs(s.URL):
				s.URL = filepath.Join(dir, s.URL)
			}
		}
		if s.StripComponents < 0 {
			p.Add("source.strip_components", fmt.Sprint(s.StripComponents), "must not be negative")
		}
		if s.SHA256 != "" {
			if err := digest.NewDigestFromEncoded(digest.SHA256, strings.ToLower(s.SHA256)).Validate(); err != nil {
				p.Add("source.sha256", s.SHA256, "is not a sha256 hex digest")
			}
		}
		notFor("ref", s.Ref != "")
		notFor("pull_submodules", s.PullSubmodules)
		notFor("path", s.Path != "")

	case SourceLocalDir:
		if s.Path == "" {
			p.Add("source.path", "", "is required for local-dir sources")
		} else {
			if !filepath.IsAbs(s.Path) {
				s.Path = filepath.Join(dir, s.Path)
			}
			if info, err := os.Stat(s.Path); err != nil || !info.IsDir() {
				p.Add("source.path", s.Path, "must be an existing directory")
			}
		}
		notFor("url", s.URL != "")
		notFor("ref", s.Ref != "")
		notFor("pull_submodules", s.PullSubmodules)
		notFor("strip_components", s.StripComponents != 0)
		notFor("sha256", s.SHA256 != "")

	default:
		p.Add("source.type", string(s.Type), "must be one of git, tarball, local-dir")
	}

	return *s
}

// Returns the host path of a recipe script, or "" when an optional script
// is absent.
func checkScript(p *control.Problems, dir, name string, required bool) string {
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if required {
			p.Add(name, path, "script is required")
		}
		return ""
	case err != nil:
		p.Add(name, path, err.Error())
		return ""
	case !info.Mode().IsRegular():
		p.Add(name, path, "must be a regular file")
		return ""
	}
	return path
}
