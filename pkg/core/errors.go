package core

import "fmt"

// Error is a coded error used across package boundaries where callers
// dispatch on the kind of failure rather than the message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorc builds a coded error with a formatted message.
func Errorc(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
