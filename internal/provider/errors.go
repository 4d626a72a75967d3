package provider

import (
	"errors"
	"fmt"
)

// ErrMissingCookie indicates no session cookie was configured.
var ErrMissingCookie = errors.New("session cookie is required")

// ErrMissingCSRF indicates the session cookie has no bili_jct entry.
var ErrMissingCSRF = errors.New("session cookie has no bili_jct csrf token")

// ErrUnexpectedStatus indicates a non-200 HTTP response.
var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

// ErrMalformedResponse indicates a body that is not a JSON envelope.
var ErrMalformedResponse = errors.New("malformed provider response")

// StatusError is returned by calls whose signature has no Response slot
// when the provider answered with a non-success code.
type StatusError struct {
	Op       Operation
	Response Response
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Response)
}
