package twitchapi

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned when the caller's context ends before a request
	// succeeds. It is never retried and is not a failure worth reporting.
	ErrCancelled = errors.New("request cancelled")

	// ErrNotFound is returned when the upstream response does not contain the
	// requested video.
	ErrNotFound = errors.New("not found")
)

// failureKind classifies a failed attempt.
type failureKind int

const (
	// failureNetwork covers transport errors: dial, TLS, reset, timeout, body read.
	failureNetwork failureKind = iota
	// failureHTTP is a well-formed response with a non-2xx status.
	failureHTTP
	// failureDecode is a 2xx response whose body is not JSON.
	failureDecode
)

func (k failureKind) String() string {
	switch k {
	case failureNetwork:
		return "network"
	case failureHTTP:
		return "http"
	case failureDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// RequestError is the terminal failure of a request whose attempts were all
// used up. It carries the detail of the last attempt.
type RequestError struct {
	Endpoint   string
	Attempts   int
	StatusCode int
	Status     string
	Body       string
	Err        error

	kind failureKind
}

func (e *RequestError) Error() string {
	switch e.kind {
	case failureHTTP:
		return fmt.Sprintf("%s: HTTP %s after %d attempts: %s", e.Endpoint, e.Status, e.Attempts, e.Body)
	default:
		return fmt.Sprintf("%s: %s error after %d attempts: %v", e.Endpoint, e.kind, e.Attempts, e.Err)
	}
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsCancelled reports whether err is a cancellation outcome rather than a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Cancelled wraps cause (context.Canceled when nil) as an ErrCancelled outcome.
func Cancelled(cause error) error {
	if cause == nil {
		cause = context.Canceled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
