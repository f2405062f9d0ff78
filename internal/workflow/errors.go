package workflow

import (
	"context"
	"errors"
	"fmt"
)

// Error classes understood by Retry and Catch matchers.
const (
	ErrorAll             = "States.ALL"
	ErrorTaskFailed      = "States.TaskFailed"
	ErrorTimeout         = "States.Timeout"
	ErrorRuntime         = "States.Runtime"
	ErrorBranchFailed    = "States.BranchFailed"
	ErrorNoChoiceMatched = "States.NoChoiceMatched"
	ErrorCancelled       = "States.Cancelled"

	ErrorJobLaunchFailed   = "Job.LaunchFailed"
	ErrorJobNonZeroExit    = "Job.NonZeroExit"
	ErrorJobInvalidPayload = "Job.InvalidPayload"

	ErrorPlanInvalid             = "Plan.Invalid"
	ErrorIntakeServiceException  = "Intake.ServiceException"
	ErrorIntakeValidationFailure = "Intake.ValidationFailed"
)

// ErrContextInvariant is returned when a merge changes or removes the mission id.
var ErrContextInvariant = errors.New("mission_id changed or removed from document")

// ErrorClasser is implemented by errors that carry their own error class, so
// collaborators outside this package can take part in Retry and Catch matching.
type ErrorClasser interface {
	ErrorClass() string
}

// Error describes a failed state. Class drives Retry and Catch matching.
type Error struct {
	Class   string
	State   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	} else if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.State != "" {
		return fmt.Sprintf("%s: %s: %s", e.State, e.Class, msg)
	}
	return fmt.Sprintf("%s: %s", e.Class, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorClass implements ErrorClasser.
func (e *Error) ErrorClass() string {
	return e.Class
}

// CauseText returns the human readable cause without the state prefix.
func (e *Error) CauseText() string {
	switch {
	case e.Message != "" && e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	case e.Message != "":
		return e.Message
	case e.Cause != nil:
		return e.Cause.Error()
	default:
		return e.Class
	}
}

// Info returns the error in the shape merged into documents by Catch handlers.
func (e *Error) Info() map[string]any {
	return map[string]any{
		"Error": e.Class,
		"Cause": e.CauseText(),
		"State": e.State,
	}
}

// NewError creates an error of the given class.
func NewError(class, format string, args ...any) *Error {
	return &Error{Class: class, Message: fmt.Sprintf(format, args...)}
}

// AsError converts err into an *Error, attributing it to state when it carries no
// state of its own. Context errors are classified as timeouts or cancellations,
// and anything unclassified is a task failure.
func AsError(err error, state string) *Error {
	if err == nil {
		return nil
	}

	var we *Error
	if errors.As(err, &we) {
		if we.State == "" {
			copied := *we
			copied.State = state
			return &copied
		}
		return we
	}

	class := ErrorTaskFailed
	var classer ErrorClasser
	switch {
	case errors.As(err, &classer):
		class = classer.ErrorClass()
	case errors.Is(err, ErrContextInvariant):
		class = ErrorRuntime
	case errors.Is(err, context.DeadlineExceeded):
		class = ErrorTimeout
	case errors.Is(err, context.Canceled):
		class = ErrorCancelled
	}

	return &Error{Class: class, State: state, Cause: err}
}

// ClassOf returns the error class of err, or an empty string for nil.
func ClassOf(err error) string {
	if err == nil {
		return ""
	}
	return AsError(err, "").Class
}

// matchesClass reports whether an ErrorEquals list matches class.
// States.TaskFailed acts as a wildcard for everything except timeouts and
// cancellations.
func matchesClass(errorEquals []string, class string) bool {
	for _, candidate := range errorEquals {
		switch candidate {
		case ErrorAll:
			return true
		case class:
			return true
		case ErrorTaskFailed:
			if class != ErrorTimeout && class != ErrorCancelled {
				return true
			}
		}
	}
	return false
}
