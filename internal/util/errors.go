package util

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine errors so callers can match on kind instead of
// message text.
type ErrorKind string

const (
	KindConflict            ErrorKind = "conflict"
	KindState               ErrorKind = "state"
	KindAuthorization       ErrorKind = "authorization"
	KindProvisioningTimeout ErrorKind = "provisioning_timeout"
	KindNotFound            ErrorKind = "not_found"
)

// EngineError is the typed error returned across the service boundary for all
// session, attempt and flag operations.
type EngineError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *EngineError) Unwrap() error { return e.Err }

func Conflict(format string, args ...interface{}) error {
	return &EngineError{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

func StateErr(format string, args ...interface{}) error {
	return &EngineError{Kind: KindState, Msg: fmt.Sprintf(format, args...)}
}

func NotAuthorized(format string, args ...interface{}) error {
	return &EngineError{Kind: KindAuthorization, Msg: fmt.Sprintf(format, args...)}
}

func ProvisioningTimeout(msg string, err error) error {
	return &EngineError{Kind: KindProvisioningTimeout, Msg: msg, Err: err}
}

func NotFoundErr(format string, args ...interface{}) error {
	return &EngineError{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from an error chain; "" for untyped errors.
func KindOf(err error) ErrorKind {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

var (
	ErrEmailRegistered    = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)
