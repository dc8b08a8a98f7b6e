package auth

import (
	"errors"
	"fmt"
)

// Kind classifies an identity backend failure.
type Kind int

const (
	KindInvalidCredentials Kind = iota + 1
	KindAlreadyRegistered
	KindNetworkUnavailable
	KindProviderRejected
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindAlreadyRegistered:
		return "already_registered"
	case KindNetworkUnavailable:
		return "network_unavailable"
	case KindProviderRejected:
		return "provider_rejected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Operation names the adapter call that failed. It selects the fallback
// message shown to users.
type Operation string

const (
	OpLogin    Operation = "login"
	OpRegister Operation = "register"
	OpLogout   Operation = "logout"
	OpResolve  Operation = "resolve"
	OpRenew    Operation = "renew"
)

// Sentinels for errors.Is against an *Error of the same kind.
var (
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrAlreadyRegistered  = &Error{Kind: KindAlreadyRegistered}
	ErrNetworkUnavailable = &Error{Kind: KindNetworkUnavailable}
	ErrProviderRejected   = &Error{Kind: KindProviderRejected}

	// ErrNoSession is returned by Renew when there is no provider session to renew.
	ErrNoSession = errors.New("auth: no provider session")
)

// Error is the adapter's error type. Reason, when set, is already suitable
// for display; Err is the underlying cause and is never shown to users.
type Error struct {
	Kind   Kind
	Op     Operation
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("auth %s: %s", e.Op, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Message returns text suitable for showing to the user.
func (e *Error) Message() string {
	switch e.Kind {
	case KindInvalidCredentials:
		if e.Reason != "" {
			return e.Reason
		}
		return "Invalid email or password."
	case KindAlreadyRegistered:
		return "Email is already in use. Please try logging in instead."
	case KindNetworkUnavailable:
		if e.Op == OpRegister {
			return "Network issue. Try again later."
		}
		return "Network error. Please check your connection."
	default:
		if e.Reason != "" {
			return e.Reason
		}
		switch e.Op {
		case OpRegister:
			return "Failed to register. Please try again."
		case OpLogin:
			return "Login failed"
		default:
			return "Something went wrong. Please try again."
		}
	}
}

// Message extracts a displayable message from any error returned by this
// package, falling back to a generic one for foreign errors.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message()
	}
	return "Something went wrong. Please try again."
}

func newError(kind Kind, op Operation, reason string, err error) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: err}
}
