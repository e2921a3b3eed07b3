package errorx

import (
	"errors"
	"fmt"
)

type Code int

const (
	Unknown Code = iota
	InvalidArgument
	Locked
	Taken
	AlreadySplit
	NotFound
	Forbidden
	AlreadyEnded
	NoEntries
	FreeRaffleNoSplit
	FreeLimitReached
)

// Error carries a machine-checkable code plus the user-facing message.
type Error struct {
	Code    Code
	Message string
}

func (e Error) Error() string {
	return e.Message
}

func New(code Code, format string, args ...any) Error {
	return Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts an Error from err's chain.
func AsError(err error, target *Error) bool {
	return errors.As(err, target)
}

// Is reports whether err is an Error with the given code.
func Is(err error, code Code) bool {
	var e Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
