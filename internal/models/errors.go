package models

import (
	"errors"
	"net/http"

	"golang.org/x/sys/unix"
)

// Error is a HAL error. It unwraps to the errno reported to clients so
// callers can use errors.Is(err, unix.EINVAL).
type Error struct {
	Code    string     `json:"error"`
	Message string     `json:"message"`
	Errno   unix.Errno `json:"-"`
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Errno }

// Error constructors.
var (
	ErrInvalidArgument = func(msg string) *Error {
		return &Error{Code: "INVALID_ARGUMENT", Message: msg, Errno: unix.EINVAL}
	}
	ErrInvalidState = func(msg string) *Error {
		return &Error{Code: "INVALID_STATE", Message: msg, Errno: unix.EINVAL}
	}
	ErrIO = func(msg string) *Error {
		return &Error{Code: "IO", Message: msg, Errno: unix.EIO}
	}
	ErrNetReset = func(msg string) *Error {
		return &Error{Code: "NET_RESET", Message: msg, Errno: unix.ENETRESET}
	}
)

// Errno returns the negative errno for err: 0 for nil, the wrapped
// unix.Errno if any, otherwise -EIO.
func Errno(err error) int {
	if err == nil {
		return 0
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}
	return -int(unix.EIO)
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatus maps err to a status code for the control API.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case "INVALID_ARGUMENT":
		return http.StatusBadRequest
	case "INVALID_STATE":
		return http.StatusConflict
	case "NET_RESET", "IO":
		return http.StatusServiceUnavailable
	case "NOT_FOUND":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ErrNotFound is used by the control API for unknown stream ids.
func ErrNotFound(msg string) *Error {
	return &Error{Code: "NOT_FOUND", Message: msg, Errno: unix.ENOENT}
}
