package edgar

import (
	"context"
	"errors"
	"fmt"
)

// ErrCancelled marks work abandoned because the caller's context ended.
// Distinct from a genuine failure so batch drivers can tell them apart.
var ErrCancelled = errors.New("operation cancelled")

// ConfigurationError is fatal and never retried. It names the missing
// piece and how to remedy it.
type ConfigurationError struct {
	Field       string
	Remediation string
}

func (e *ConfigurationError) Error() string {
	if e.Remediation == "" {
		return fmt.Sprintf("configuration error: %s", e.Field)
	}
	return fmt.Sprintf("configuration error: %s (%s)", e.Field, e.Remediation)
}

// TransientNetworkError surfaces after the retry budget is exhausted,
// carrying the last underlying cause.
type TransientNetworkError struct {
	URL      string
	Attempts int
	Cause    error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error fetching %s after %d attempts: %v", e.URL, e.Attempts, e.Cause)
}

func (e *TransientNetworkError) Unwrap() error { return e.Cause }

// ClientRequestError covers non-retryable 4xx responses.
type ClientRequestError struct {
	URL        string
	StatusCode int
}

func (e *ClientRequestError) Error() string {
	return fmt.Sprintf("request for %s rejected with status %d", e.URL, e.StatusCode)
}

// ParseError is local to one document or record; logged and skipped,
// never aborts a batch.
type ParseError struct {
	Subject string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause == nil {
		return "parse " + e.Subject
	}
	return fmt.Sprintf("parse %s: %v", e.Subject, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// AsCancelled maps context termination onto ErrCancelled, preserving the
// original error for unwrap chains.
func AsCancelled(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCancelled) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return err
}

// IsCancelled reports whether err stems from caller cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
