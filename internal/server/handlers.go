package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/cruciblehq/cruxdeb/internal"
	"github.com/cruciblehq/cruxdeb/internal/build"
	"github.com/cruciblehq/cruxdeb/internal/recipe"
	"github.com/cruciblehq/cruxdeb/internal/runtime"
)

// Handles a build command.
//
// Loads the recipe from the daemon's filesystem and runs it to completion.
// A failed build is still answered with CmdOK; the result carries the
// failure. CmdError is reserved for requests that never started a build.
func (s *Server) handleBuild(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	if !s.admit() {
		s.respond(conn, CmdError, &ErrorResult{Message: "daemon is shutting down"})
		return
	}
	defer s.inflight.Done()

	req, err := DecodePayload[BuildRequest](payload)
	if err == nil {
		err = req.check()
	}
	if err != nil {
		s.respond(conn, CmdError, &ErrorResult{Message: err.Error()})
		return
	}

	r, err := recipe.Load(req.RecipeDir, runtime.HostArchitecture())
	if err != nil {
		s.respond(conn, CmdError, &ErrorResult{Message: err.Error()})
		return
	}

	s.track(1, nil)
	report := build.Run(ctx, s.runtime, s.options(r, req.OutputDir))
	s.track(-1, report)

	s.respond(conn, CmdOK, NewBuildResult(report))
}

func (req *BuildRequest) check() error {
	if req.RecipeDir == "" || !filepath.IsAbs(req.RecipeDir) {
		return fmt.Errorf("%w: recipe_dir must be an absolute path", ErrRequest)
	}
	if req.OutputDir == "" || !filepath.IsAbs(req.OutputDir) {
		return fmt.Errorf("%w: output_dir must be an absolute path", ErrRequest)
	}
	return nil
}

// Registers a build with the in-flight group. Returns false once the server
// is stopping.
func (s *Server) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping {
		return false
	}
	s.inflight.Add(1)
	return true
}

// Build options from the daemon settings.
func (s *Server) options(r *recipe.Recipe, outputDir string) build.Options {
	opts := s.settings.BuildOptions(r, outputDir)
	opts.Metrics = s.metrics
	return opts
}

// Adjusts the build counters. A non-nil report marks a finished build.
func (s *Server) track(delta int, report *build.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active += delta
	if report == nil {
		return
	}
	s.builds++
	if !report.Success {
		s.failed++
	}
}

// Converts a build report into its wire form.
func NewBuildResult(report *build.Report) *BuildResult {
	res := &BuildResult{
		Success:     report.Success,
		FailedStage: report.FailedStage,
		Elapsed:     report.Elapsed,
	}
	if report.Artifact != nil {
		res.Artifact = report.Artifact.Path
	}
	if report.Err != nil {
		res.Error = report.Err.Error()
	}
	if report.Result != nil {
		res.Output = report.Result.Output
	}
	for _, sr := range report.Stages {
		res.Stages = append(res.Stages, StageResult{
			Stage:    sr.Stage,
			ExitCode: sr.ExitCode,
			Elapsed:  sr.Elapsed,
			TimedOut: sr.TimedOut,
		})
	}
	return res
}

// Handles a status command.
func (s *Server) handleStatus(conn net.Conn) {
	s.mu.Lock()
	builds, failed, active := s.builds, s.failed, s.active
	s.mu.Unlock()

	uptime := time.Since(s.startedAt).Truncate(time.Second)

	s.respond(conn, CmdOK, &StatusResult{
		Running: true,
		Version: internal.VersionString(),
		Pid:     os.Getpid(),
		Uptime:  uptime.String(),
		Builds:  builds,
		Failed:  failed,
		Active:  active,
	})
}

// Handles a shutdown command.
func (s *Server) handleShutdown(conn net.Conn) {
	s.respond(conn, CmdOK, nil)
	slog.Info("shutdown requested")

	go func() {
		s.Stop()
	}()
}
