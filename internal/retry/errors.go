package retry

import (
	"fmt"
	"strings"
)

// Kind is the classification of a pipeline failure.
type Kind string

const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
	KindHealth    Kind = "health"
)

// TransientError marks a failure as retry-eligible.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that must never be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// HealthError marks a pipeline-wide failure that is not specific to one event.
type HealthError struct {
	Err error
}

func (e *HealthError) Error() string { return e.Err.Error() }
func (e *HealthError) Unwrap() error { return e.Err }

// ContextError reports an incomplete context build. It is informational:
// processing continues with the partial context.
type ContextError struct {
	Gaps []string
	Err  error
}

func (e *ContextError) Error() string {
	msg := fmt.Sprintf("incomplete thread context (%d gaps: %s)", len(e.Gaps), strings.Join(e.Gaps, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ContextError) Unwrap() error { return e.Err }

func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

func NewPermanentError(err error) *PermanentError {
	return &PermanentError{Err: err}
}

func NewHealthError(err error) *HealthError {
	return &HealthError{Err: err}
}
