package model

import (
	"fmt"
	"strings"
)

// ValidationError reports bad input. It is never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// NotFoundError reports a missing filter, group or conversation.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// RateLimitedError is returned by the conversation source when the upstream
// throttles requests.
type RateLimitedError struct {
	Op  string
	Err error
}

func (e *RateLimitedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: rate limited", e.Op)
	}
	return fmt.Sprintf("%s: rate limited: %v", e.Op, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// AuthTransientError is a short-lived authentication glitch (HTTP 401).
type AuthTransientError struct {
	Op  string
	Err error
}

func (e *AuthTransientError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: unauthorized", e.Op)
	}
	return fmt.Sprintf("%s: unauthorized: %v", e.Op, e.Err)
}

func (e *AuthTransientError) Unwrap() error { return e.Err }

// AuthFailedError is raised once transient authentication retries are exhausted.
type AuthFailedError struct {
	Attempts int
	Err      error
}

func (e *AuthFailedError) Error() string {
	return fmt.Sprintf("authentication failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *AuthFailedError) Unwrap() error { return e.Err }

// UpstreamError wraps any other failure reported by the chat platform.
type UpstreamError struct {
	Op     string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: upstream status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// CyclicFilterError reports a combination filter that reaches itself through
// its subfilter references.
type CyclicFilterError struct {
	Path []string
}

func (e *CyclicFilterError) Error() string {
	return "cyclic filter reference: " + strings.Join(e.Path, " -> ")
}
