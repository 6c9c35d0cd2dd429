package server

import (
	"encoding/json"
	"fmt"
	"time"
)

// Command names carried in an [Envelope].
type Command string

const (
	CmdBuild    Command = "build"
	CmdStatus   Command = "status"
	CmdShutdown Command = "shutdown"
	CmdOK       Command = "ok"
	CmdError    Command = "error"
)

// One message on the socket, newline terminated.
type Envelope struct {
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Asks the daemon to build a recipe.
type BuildRequest struct {
	RecipeDir string `json:"recipe_dir"` // Absolute path on the daemon host.
	OutputDir string `json:"output_dir"` // Absolute path the .deb is written to.
}

// Outcome of a stage, as reported to clients.
type StageResult struct {
	Stage    string        `json:"stage"`
	ExitCode int           `json:"exit_code"`
	Elapsed  time.Duration `json:"elapsed"`
	TimedOut bool          `json:"timed_out,omitempty"`
}

// Outcome of a build.
type BuildResult struct {
	Success     bool          `json:"success"`
	Artifact    string        `json:"artifact,omitempty"`     // Path of the .deb, when one was kept.
	FailedStage string        `json:"failed_stage,omitempty"` // First failing stage.
	Output      string        `json:"output,omitempty"`       // Output tail of the failing stage.
	Error       string        `json:"error,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
	Stages      []StageResult `json:"stages,omitempty"`
}

type StatusResult struct {
	Running bool   `json:"running"`
	Version string `json:"version"`
	Pid     int    `json:"pid"`
	Uptime  string `json:"uptime"`
	Builds  int    `json:"builds"` // Builds finished since start.
	Failed  int    `json:"failed"` // Builds that finished without success.
	Active  int    `json:"active"` // Builds running now.
}

type ErrorResult struct {
	Message string `json:"message"`
}

// Encodes a command and payload into one line, without the newline.
func Encode(cmd Command, payload any) ([]byte, error) {
	env := Envelope{Command: cmd}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decodes one line into its envelope and raw payload.
func Decode(line []byte) (*Envelope, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if env.Command == "" {
		return nil, nil, fmt.Errorf("%w: missing command", ErrProtocol)
	}
	return &env, env.Payload, nil
}

// Decodes a payload into T.
func DecodePayload[T any](payload json.RawMessage) (*T, error) {
	var v T
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: missing payload", ErrProtocol)
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return &v, nil
}

func decodeInto(payload json.RawMessage, out any) error {
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return nil
}
