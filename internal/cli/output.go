package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/cruciblehq/cruxdeb/internal/build"
	"github.com/cruciblehq/cruxdeb/internal/server"
)

// Prefix colors by stage name. Other stages are printed uncolored.
var stageColors = map[string]color.Attribute{
	build.StageBootstrap: color.FgBlue,
	build.StageAcquire:   color.FgMagenta,
	build.StageBuild:     color.FgCyan,
	build.StageInstall:   color.FgGreen,
	build.StageValidate:  color.FgYellow,
}

// Whether f is a terminal that should get colored output.
func useColor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Streams stage output to w, each line prefixed with the stage name.
type stageOutput struct {
	w     io.Writer
	color bool
	mu    sync.Mutex
	cur   *prefixWriter
}

func newStageOutput(w io.Writer, colored bool) *stageOutput {
	return &stageOutput{w: w, color: colored}
}

// Returns the writer for a stage. Any partial line left by the previous
// stage is written out first.
func (o *stageOutput) For(stage string) io.Writer {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cur != nil {
		o.cur.Flush()
	}
	o.cur = &prefixWriter{w: o.w, prefix: o.prefix(stage)}
	return o.cur
}

// Writes out a trailing partial line.
func (o *stageOutput) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cur != nil {
		o.cur.Flush()
	}
}

func (o *stageOutput) prefix(stage string) string {
	label := "[" + stage + "] "
	attr, ok := stageColors[stage]
	if !ok {
		return label
	}
	c := color.New(attr)
	if o.color {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c.Sprint(label)
}

// Prefixes every line written to it.
type prefixWriter struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
	buf    []byte
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf = append(p.buf, b...)
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		if _, err := fmt.Fprintf(p.w, "%s%s", p.prefix, p.buf[:i+1]); err != nil {
			return 0, err
		}
		p.buf = p.buf[i+1:]
	}
	return len(b), nil
}

func (p *prefixWriter) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) > 0 {
		fmt.Fprintf(p.w, "%s%s\n", p.prefix, p.buf)
		p.buf = nil
	}
}

// Prints a build summary. The output tail of the failing stage is included
// when showTail is set.
func printResult(w io.Writer, res *server.BuildResult, showTail bool) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range res.Stages {
		status := "ok"
		switch {
		case s.TimedOut:
			status = "timed out"
		case s.ExitCode != 0:
			status = fmt.Sprintf("exit %d", s.ExitCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Stage, status, s.Elapsed.Round(time.Millisecond))
	}
	tw.Flush()

	if res.Success {
		fmt.Fprintf(w, "built %s in %s\n", res.Artifact, res.Elapsed.Round(time.Millisecond))
		return
	}

	fmt.Fprintf(w, "build failed in stage %s after %s\n", res.FailedStage, res.Elapsed.Round(time.Millisecond))
	if res.Artifact != "" {
		fmt.Fprintf(w, "package kept at %s\n", res.Artifact)
	}
	if showTail && res.Output != "" {
		fmt.Fprintf(w, "--- output of %s ---\n%s", res.FailedStage, res.Output)
		if res.Output[len(res.Output)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
}
