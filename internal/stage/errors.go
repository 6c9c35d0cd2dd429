package stage

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrStageFailed    = errors.New("stage failed")
	ErrStageTimeout   = errors.New("stage timed out")
	ErrMissingProgram = errors.New("required program missing")
	ErrInvalidCommand = errors.New("invalid command")
)

// A stage that ran to completion with a non-zero exit code, or was killed
// when its time limit expired.
type Failure struct {
	Result *Result
}

func (f *Failure) Error() string {
	if f.Result.TimedOut {
		return fmt.Sprintf("stage %s timed out after %s", f.Result.Stage, f.Result.Elapsed.Round(time.Millisecond))
	}
	return fmt.Sprintf("stage %s exited with code %d", f.Result.Stage, f.Result.ExitCode)
}

func (f *Failure) Unwrap() error {
	if f.Result.TimedOut {
		return ErrStageTimeout
	}
	return ErrStageFailed
}
