package protocol

import (
	"errors"
	"fmt"
)

// Error codes reported on the wire.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// Error is the error member of a Response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Failure is returned by ParseCommand. ID is nil when no id could be recovered.
type Failure struct {
	ID  *int64
	Err *Error
}

func (f *Failure) Error() string { return f.Err.Error() }

func (f *Failure) Unwrap() error { return f.Err }

// MethodNotFound is the uniform reply for an unknown Domain.method pair.
func MethodNotFound(name string) *Error {
	return Errorf(CodeMethodNotFound, "'%s' wasn't found", name)
}

// NotImplemented is the uniform reply for a known but unsupported command.
func NotImplemented(name string) *Error {
	return Errorf(CodeServerError, "'%s' is not implemented", name)
}

// AsError maps err onto a wire error. Protocol errors keep their code; any
// other failure is reported as a server error carrying err's message.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Code: CodeServerError, Message: err.Error()}
}
