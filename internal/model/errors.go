package model

import (
	"errors"
	"fmt"
)

// InvalidConfigError reports bad generation or scoring parameters. The
// message is meant to be shown to the user as is.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	if e.Field == "" {
		return "invalid config: " + e.Reason
	}
	return fmt.Sprintf("invalid config: %s %s", e.Field, e.Reason)
}

// IngestionError reports an unreadable or unsupported source document.
type IngestionError struct {
	Source string
	Reason string
	Err    error
}

func (e *IngestionError) Error() string {
	msg := fmt.Sprintf("ingest %s: %s", e.Source, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IngestionError) Unwrap() error { return e.Err }

// ParseError reports a submission in which no line could be classified.
// It is never fatal: the parser still returns an empty answer set.
type ParseError struct {
	Lines int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse submission: none of %d lines matched an answer marker", e.Lines)
}

// ExternalServiceError reports a failed call to the content, grading, chat
// or OCR collaborator. Callers may retry the same request.
type ExternalServiceError struct {
	Service string
	Op      string
	Trace   string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// Retryable is always true; the caller decides whether to retry.
func (e *ExternalServiceError) Retryable() bool { return true }

// UnknownSessionError reports a chat request for a session that does not
// exist or has expired.
type UnknownSessionError struct {
	ID string
}

func (e *UnknownSessionError) Error() string {
	return fmt.Sprintf("unknown feedback session %q", e.ID)
}

// IsUnknownSession reports whether err is or wraps an *UnknownSessionError.
func IsUnknownSession(err error) bool {
	var target *UnknownSessionError
	return errors.As(err, &target)
}
