package api

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateContext   = errors.New("workflow context already exists")
	ErrContextNotFound    = errors.New("workflow context not found")
	ErrStepNotFound       = errors.New("step not found")
	ErrJobNotFound        = errors.New("job not found")
	ErrInconsistentStatus = errors.New("inconsistent workflow status")
	ErrMalformedMessage   = errors.New("malformed message")
)

// WorkflowError reports an orchestration failure for a given workflow
// process. Err is one of the sentinels above, possibly wrapping a storage
// error.
type WorkflowError struct {
	Op   string
	ID   string
	Step string
	Err  error
}

func (e *WorkflowError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s %s/%s: %v", e.Op, e.ID, e.Step, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *WorkflowError) Unwrap() error { return e.Err }
