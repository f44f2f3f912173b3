package workflow

import (
	"errors"
	"fmt"
)

// ErrDiscarded is the result of a task whose session was reset or superseded before it finished
var ErrDiscarded = errors.New("result discarded: session changed while the request was in flight")

// ValidationError represents bad local input, rejected before any network call
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConcurrentRequestError is returned when a stage is submitted while another is still in flight
type ConcurrentRequestError struct {
	InFlight Stage
	TaskID   string
}

func (e *ConcurrentRequestError) Error() string {
	return fmt.Sprintf("a %s request is already in flight (task %s)", e.InFlight, e.TaskID)
}

// ResumeError means a history entry can no longer be loaded into the session
type ResumeError struct {
	EntryID string
	Ref     string // the artifact that failed to resolve, if any
	Reason  string
	Err     error
}

func (e *ResumeError) Error() string {
	msg := fmt.Sprintf("cannot resume history entry %s: %s", e.EntryID, e.Reason)
	if e.Ref != "" {
		msg += fmt.Sprintf(" (%s)", e.Ref)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *ResumeError) Unwrap() error { return e.Err }

// StageError wraps the transport, auth or server error that failed a stage
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
