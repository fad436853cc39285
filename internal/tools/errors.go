package tools

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass tells the caller what kind of failure a tool hit, so retry
// decisions can be made without parsing messages.
type ErrorClass string

const (
	ClassNetwork    ErrorClass = "network"
	ClassHTTPStatus ErrorClass = "http_status"
	ClassInvalid    ErrorClass = "invalid"
	ClassOther      ErrorClass = "other"
)

var (
	ErrUnknownTool   = errors.New("unknown tool")
	ErrUnknownAction = errors.New("unknown action")
	ErrInvalidParams = errors.New("invalid params")
	ErrNotFound      = errors.New("not found")
	ErrNotConfigured = errors.New("tool not configured")
)

// Error is the failure reported by every tool invocation.
type Error struct {
	Tool       string
	Action     string
	Class      ErrorClass
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	prefix := e.Tool
	if e.Action != "" {
		prefix += "." + e.Action
	}
	if e.Class == ClassHTTPStatus {
		return fmt.Sprintf("%s: HTTP %d: %v", prefix, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusError reports a non-2xx response.
func StatusError(code int, msg string) *Error {
	if msg == "" {
		msg = http.StatusText(code)
	}
	var err error = errors.New(msg)
	if code == http.StatusNotFound {
		err = fmt.Errorf("%w: %s", ErrNotFound, msg)
	}
	return &Error{Class: ClassHTTPStatus, StatusCode: code, Err: err}
}

// NetworkError reports a transport failure (dial, TLS, reset, client timeout).
func NetworkError(err error) *Error {
	return &Error{Class: ClassNetwork, Err: err}
}

// InvalidParams reports bad input to an action.
func InvalidParams(format string, args ...any) *Error {
	return &Error{Class: ClassInvalid, Err: fmt.Errorf("%w: %s", ErrInvalidParams, fmt.Sprintf(format, args...))}
}

// annotate fills in the tool and action on errors returned by handlers.
func annotate(err error, tool, action string) error {
	var te *Error
	if errors.As(err, &te) {
		if te.Tool == "" {
			te.Tool = tool
		}
		if te.Action == "" {
			te.Action = action
		}
		return err
	}
	return &Error{Tool: tool, Action: action, Class: ClassOther, Err: err}
}
