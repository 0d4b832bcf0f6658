package errors

import (
	"errors"
	"fmt"
)

// Error kinds. Every stage failure is reachable through errors.Is with one of these.
var (
	ErrConfig    = errors.New("configuration error")
	ErrFetch     = errors.New("fetch error")
	ErrSnapshot  = errors.New("snapshot error")
	ErrLoad      = errors.New("load error")
	ErrReconcile = errors.New("reconcile error")
	ErrTransform = errors.New("transform error")
	ErrExport    = errors.New("export error")
)

// WrapError tags err with an error kind while keeping the cause unwrappable.
func WrapError(err error, errType error, message string) error {
	if err == nil {
		return fmt.Errorf("%w: %s", errType, message)
	}
	return fmt.Errorf("%w: %s: %w", errType, message, err)
}

// StageError carries the pipeline stage and entity a failure happened in.
type StageError struct {
	Stage  string
	Entity string
	Err    error
}

func (e *StageError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("stage %s failed for %s: %v", e.Stage, e.Entity, e.Err)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func New(text string) error {
	return errors.New(text)
}
