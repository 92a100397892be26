package client

import (
	"errors"
	"fmt"
)

// Kind classifies session failures so callers can branch without string matching.
type Kind string

const (
	// KindMissingCredential means no access/refresh token was available for an
	// operation that needs one.
	KindMissingCredential Kind = "missing_credential"

	// KindNetwork means the request never produced an HTTP response.
	KindNetwork Kind = "network"

	// KindServerRejected means the server answered with a non-2xx status or a
	// success=false envelope.
	KindServerRejected Kind = "server_rejected"

	// KindMalformed means a response or token could not be decoded.
	KindMalformed Kind = "malformed"
)

// Error is the error type returned by the session manager and the API client.
type Error struct {
	Kind       Kind
	Op         string // e.g. "refresh", "profile", "logout"
	Message    string
	StatusCode int // set for KindServerRejected
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind, and by Message when the target sets one.
// This lets errors.Is(err, ErrMissingRefreshToken) work on wrapped copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

var (
	// ErrMissingAccessToken is returned when no access token is held or supplied.
	ErrMissingAccessToken = &Error{Kind: KindMissingCredential, Message: "missing access token"}

	// ErrMissingRefreshToken is the "authentication required" condition of a refresh
	// attempted without a refresh token.
	ErrMissingRefreshToken = &Error{Kind: KindMissingCredential, Message: "authentication required"}

	// ErrSessionCleared is returned when an operation's result was discarded because
	// the session was cleared or replaced while the operation was in flight.
	ErrSessionCleared = &Error{Kind: KindMissingCredential, Message: "session cleared"}
)

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func networkError(op string, err error) error {
	return &Error{Kind: KindNetwork, Op: op, Message: "request failed", Err: err}
}

func rejectedError(op string, status int, message string) error {
	return &Error{Kind: KindServerRejected, Op: op, StatusCode: status, Message: message}
}

func malformedError(op string, err error) error {
	return &Error{Kind: KindMalformed, Op: op, Message: "invalid response from server", Err: err}
}
