package services

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies failures reported to callers
type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConfiguration
	KindUnavailable
)

// Error is a domain failure with a caller-facing message
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Validation reports missing or malformed input, or an operation the rules forbid
func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized reports missing or bad credentials
func Unauthorized(msg string) error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

// Forbidden reports an access list rejection
func Forbidden(msg string) error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// NotFound reports an unknown event or order
func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Misconfigured reports server-side configuration that is missing
func Misconfigured(msg string) error {
	return &Error{Kind: KindConfiguration, Message: msg}
}

// Unavailable reports an optional backend that is not enabled
func Unavailable(msg string) error {
	return &Error{Kind: KindUnavailable, Message: msg}
}

// AsError extracts a domain error from err's chain
func AsError(err error) (*Error, bool) {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr, true
	}
	return nil, false
}

// IsKind reports whether err carries a domain error of kind
func IsKind(err error, kind ErrorKind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}
