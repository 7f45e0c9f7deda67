package scraper

import (
	"context"
	"errors"
	"fmt"
)

// TransportKind classifies a failed fetch.
type TransportKind string

const (
	KindUpstreamRejected TransportKind = "upstream_rejected"
	KindTimeout          TransportKind = "timeout"
	KindConnection       TransportKind = "connection"
)

// TransportError is returned by every Fetcher when no usable content came back.
type TransportError struct {
	Kind   TransportKind
	Status int // set for KindUpstreamRejected
	Err    error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case KindUpstreamRejected:
		return fmt.Sprintf("fetch: upstream rejected with status %d", e.Status)
	case KindTimeout:
		return fmt.Sprintf("fetch: timeout: %v", e.Err)
	default:
		return fmt.Sprintf("fetch: connection failed: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed. Every transport
// failure is, whatever the status. Cancellation is filtered out by
// IsRetryable.
func (e *TransportError) Retryable() bool {
	return true
}

// IsTimeout reports whether err is a TransportError of kind timeout.
func IsTimeout(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == KindTimeout
}

// UpstreamStatus returns the rejecting HTTP status, if any.
func UpstreamStatus(err error) (int, bool) {
	var te *TransportError
	if errors.As(err, &te) && te.Kind == KindUpstreamRejected {
		return te.Status, true
	}
	return 0, false
}

// IsRetryable is the RetryPolicy predicate for fetch errors. Cancellation of
// the parent context is never retried.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return false
}

// ParseError describes one listing card that could not be extracted.
// It is logged and the card is skipped.
type ParseError struct {
	Index int
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse: item %d: %v", e.Index, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
