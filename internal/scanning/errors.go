package scanning

import (
	"context"
	"time"
)

// TimeoutError is returned when the engine did not answer before the session
// deadline. Calling Recognize again rebuilds the engine.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return "Scan timed out"
}

// Unwrap lets errors.Is(err, context.DeadlineExceeded) match
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// RecognitionError is returned when the engine failed to load or reported a
// failure while recognizing.
type RecognitionError struct {
	Message string
	Err     error
}

func (e *RecognitionError) Error() string {
	return e.Message
}

func (e *RecognitionError) Unwrap() error {
	return e.Err
}
