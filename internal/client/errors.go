package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures of a task API call
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransport
	KindRemote
	KindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRemote:
		return "remote"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// TransportError is returned when the request never produced an HTTP response
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: request failed: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError is returned for any response status other than 200
type RemoteError struct {
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP error %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// DecodeError is returned when a 200 response does not hold a task record
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("error decoding response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// KindOf reports which of the task API failure kinds err wraps
func KindOf(err error) ErrorKind {
	var transportErr *TransportError
	var remoteErr *RemoteError
	var decodeErr *DecodeError

	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &transportErr):
		return KindTransport
	case errors.As(err, &remoteErr):
		return KindRemote
	case errors.As(err, &decodeErr):
		return KindDecode
	default:
		return KindUnknown
	}
}

// IsTransient reports whether repeating the same call may succeed:
// transport failures, rate limiting and server side errors.
func IsTransient(err error) bool {
	var remoteErr *RemoteError
	switch KindOf(err) {
	case KindTransport:
		return true
	case KindRemote:
		errors.As(err, &remoteErr)
		return remoteErr.StatusCode == http.StatusTooManyRequests || remoteErr.StatusCode >= 500
	default:
		return false
	}
}
