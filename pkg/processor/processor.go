package processor

import (
	"context"
	"errors"
	"fmt"
)

// Result is what a processor produced for one file: tag heads mapped to
// scores. The worker gates and encodes it; the core never interprets it
// further.
type Result struct {
	Tags map[string]float64
}

// Processor runs the tagging inference for one path. Implementations live
// outside the core; the worker only needs this contract.
type Processor interface {
	Process(ctx context.Context, path string, force bool) (*Result, error)
}

// FatalError marks a worker-level failure (bad configuration, missing model)
// that must stop the worker process rather than fail a single job. Code is
// the process exit code: 2 fatal-config, 3 unrecoverable.
type FatalError struct {
	Code int
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal (exit %d): %v", e.Code, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err as a FatalError with the given exit code
func Fatal(code int, err error) error {
	return &FatalError{Code: code, Err: err}
}

// FatalCode extracts the exit code from a fatal error chain. ok is false for
// ordinary job-level errors.
func FatalCode(err error) (int, bool) {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Code, true
	}
	return 0, false
}
