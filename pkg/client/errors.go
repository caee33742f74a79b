package client

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// ErrUnsupportedVerb is returned by Execute for anything other than
// GET, PUT, POST or DELETE.
var ErrUnsupportedVerb = errors.New("unsupported HTTP verb")

// ErrBodyTooLarge is wrapped in a *TransportError when a response body is
// longer than the client reads.
var ErrBodyTooLarge = errors.New("response body too large")

// LookupError is returned by New when the default organization could not be
// resolved.
type LookupError struct {
	StatusCode int
	Body       []byte
	source     string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("default organization lookup failed with HTTP %d: %s", e.StatusCode, string(e.Body))
}

// Source returns the file:line that produced the error.
func (e *LookupError) Source() string { return e.source }

// AuthError is returned by New when the token exchange fails.
type AuthError struct {
	StatusCode int
	Body       []byte
	Reason     string
	source     string
}

func (e *AuthError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("authorization failed with HTTP %d: %s", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("authorization failed with HTTP %d: %s", e.StatusCode, string(e.Body))
}

// Source returns the file:line that produced the error.
func (e *AuthError) Source() string { return e.source }

// HTTPError is returned by Execute for any non-2xx response. The client stays
// usable after it.
type HTTPError struct {
	Verb       string
	URL        string
	StatusCode int
	Status     string
	Body       []byte
	source     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: %s: %s", e.Verb, e.URL, e.Status, string(e.Body))
}

// Source returns the file:line that produced the error.
func (e *HTTPError) Source() string { return e.source }

// TransportError wraps a network-level failure (DNS, refused connection,
// timeout). Unwrap returns the transport's own error.
type TransportError struct {
	Op     string
	URL    string
	Err    error
	source string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Source returns the file:line that produced the error.
func (e *TransportError) Source() string { return e.source }

// sourcer is implemented by every typed error in this package.
type sourcer interface {
	Source() string
}

// errorSource reports where err was built, or "" for foreign errors.
func errorSource(err error) string {
	var s sourcer
	if errors.As(err, &s) {
		return s.Source()
	}
	return ""
}

// caller returns "file.go:line" for the function that called the function
// calling caller.
func caller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func newLookupError(status int, body []byte) *LookupError {
	return &LookupError{StatusCode: status, Body: body, source: caller()}
}

func newAuthError(status int, body []byte, reason string) *AuthError {
	return &AuthError{StatusCode: status, Body: body, Reason: reason, source: caller()}
}

func newHTTPError(verb, url string, status int, statusText string, body []byte) *HTTPError {
	return &HTTPError{Verb: verb, URL: url, StatusCode: status, Status: statusText, Body: body, source: caller()}
}

func newTransportError(op, url string, err error) *TransportError {
	return &TransportError{Op: op, URL: url, Err: err, source: caller()}
}
