package stage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"

	"github.com/hashicorp/go-multierror"
)

var programRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*$`)

// Checks that every program is on the container's PATH.
//
// All programs are checked. Missing ones are reported together, each
// wrapping [ErrMissingProgram].
func Preflight(ctx context.Context, ctr Container, programs ...string) error {
	var result *multierror.Error

	for _, p := range programs {
		if !programRe.MatchString(p) {
			return fmt.Errorf("%w: program name %q", ErrInvalidCommand, p)
		}

		code, err := ctr.Exec(ctx, []string{DefaultShell, "-c", "command -v " + p}, nil, "", io.Discard, io.Discard)
		if err != nil {
			return err
		}
		if code != 0 {
			slog.Warn("program missing", "container", ctr.ID(), "program", p)
			result = multierror.Append(result, fmt.Errorf("%w: %s", ErrMissingProgram, p))
			continue
		}
		slog.Debug("program available", "container", ctr.ID(), "program", p)
	}

	return result.ErrorOrNil()
}
