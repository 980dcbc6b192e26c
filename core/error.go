package core

import "errors"

// Error is an error with a message that may be shared with the client.
type Error struct {
	msg string
	// Sensitive indicates that the message must not leave the server.
	// Sensitive errors are surfaced to clients as a generic failure.
	Sensitive bool
}

func NewError(msg string, sensitive bool) *Error {
	return &Error{msg: msg, Sensitive: sensitive}
}

func NewSensitiveError(msg string) *Error {
	return &Error{msg: msg, Sensitive: true}
}

func NewInsensitiveError(msg string) *Error {
	return &Error{msg: msg, Sensitive: false}
}

func (e *Error) Error() string {
	return e.msg
}

// ClientMessage returns the part of err that is safe to send to the client.
// Errors that do not carry an insensitive message collapse to a generic one.
func ClientMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && !e.Sensitive {
		return e.Error()
	}
	return "internal error"
}
