package cfg

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a configuration error. None of the classes are
// retryable: each one points at a script bug.
type ErrorClass string

const (
	// ErrorClassOrdering is a registration attempted before a Process exists.
	ErrorClassOrdering ErrorClass = "ordering"

	// ErrorClassSingleton is a second Process constructed in one session.
	ErrorClassSingleton ErrorClass = "singleton"

	// ErrorClassContract is a value of the wrong type or shape, e.g. a
	// non-processor handed to StorageControl.Listen or two legacy output files.
	ErrorClassContract ErrorClass = "contract"

	// ErrorClassSelection is an unrecognized selection key.
	ErrorClassSelection ErrorClass = "selection"
)

// Error is a classified configuration error.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Code identifies the specific failure within its class.
	Code string `json:"code,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Op is the operation that failed (e.g. "addLibrary").
	Op string `json:"op,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Op != "" {
		msg = fmt.Sprintf("[%s] %s (op=%s)", e.Class, e.Message, e.Op)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports class and code equality so sentinels match through errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// withOp returns a copy of a sentinel annotated with the failing operation.
func (e *Error) withOp(op string) *Error {
	c := *e
	c.Op = op
	return &c
}

var (
	// ErrNoProcess is returned by every registration made before a Process
	// has been constructed in the session.
	ErrNoProcess = &Error{
		Class:   ErrorClassOrdering,
		Code:    "no_process",
		Message: "no Process object defined yet, create a Process before creating processors or conditions providers",
	}

	// ErrProcessExists is returned when a second Process is constructed.
	ErrProcessExists = &Error{
		Class:   ErrorClassSingleton,
		Code:    "process_exists",
		Message: "Process object is already created, only one Process object can be created in a script",
	}
)

// NewContractError creates a contract violation error.
func NewContractError(op, message string) *Error {
	return &Error{
		Class:   ErrorClassContract,
		Code:    "contract",
		Message: message,
		Op:      op,
	}
}

// NewSelectionError creates an unrecognized selection key error.
func NewSelectionError(op, key string) *Error {
	return &Error{
		Class:   ErrorClassSelection,
		Code:    "unknown_key",
		Message: fmt.Sprintf("selection key %q not recognized", key),
		Op:      op,
	}
}

// IsContract checks if an error is a contract violation.
func IsContract(err error) bool {
	return hasClass(err, ErrorClassContract)
}

// IsOrdering checks if an error is an ordering error.
func IsOrdering(err error) bool {
	return hasClass(err, ErrorClassOrdering)
}

// GetErrorClass extracts the error class from an error chain.
// Returns the empty class for errors that did not originate here.
func GetErrorClass(err error) ErrorClass {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ""
}

func hasClass(err error, class ErrorClass) bool {
	return GetErrorClass(err) == class
}
