package model

import (
	"errors"
	"fmt"
)

var (
	// ErrTransitionInProgress is returned when an event arrives while a
	// generation or grading call is still running.
	ErrTransitionInProgress = errors.New("a quiz transition is already in progress")
	// ErrInvalidTransition is returned when an event does not apply to the current phase.
	ErrInvalidTransition = errors.New("event not allowed in the current phase")
)

// ValidationError is a local input problem. It never changes the phase.
// MessageID is a translation key for the user-facing message.
type ValidationError struct {
	Field     string
	MessageID string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.MessageID
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.MessageID)
}

// ConfigurationError is a fatal startup problem.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

// GenerationError is returned when quiz generation fails for any reason.
type GenerationError struct {
	Reason  string
	Wrapped error
}

func (e *GenerationError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("quiz generation failed: %s: %v", e.Reason, e.Wrapped)
	}
	return fmt.Sprintf("quiz generation failed: %s", e.Reason)
}

func (e *GenerationError) Unwrap() error {
	return e.Wrapped
}

// GradingError is returned when grading a question fails.
type GradingError struct {
	QuestionID int
	Reason     string
	Wrapped    error
}

func (e *GradingError) Error() string {
	msg := "grading failed"
	if e.QuestionID != 0 {
		msg = fmt.Sprintf("grading question %d failed", e.QuestionID)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", msg, e.Reason, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", msg, e.Reason)
}

func (e *GradingError) Unwrap() error {
	return e.Wrapped
}
