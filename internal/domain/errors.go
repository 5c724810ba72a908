package domain

import (
	"errors"
	"fmt"
)

// ErrModelNotReady is returned when a prediction is requested before the
// model store has completed initialization. Reported to callers with the
// fixed "Model not initialized" response body.
var ErrModelNotReady = errors.New("model not initialized")

// InitError wraps a failure during model store initialization. Fatal:
// the process must not reach the ready state when one occurs.
type InitError struct {
	Stage string // "load", "generate", "fit", "persist"
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("model initialization failed during %s: %v", e.Stage, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// ScoringError wraps a per-request failure while encoding, transforming,
// or predicting. Surfaced to the caller as a 500 with the message.
type ScoringError struct {
	Err error
}

func (e *ScoringError) Error() string { return e.Err.Error() }

func (e *ScoringError) Unwrap() error { return e.Err }
