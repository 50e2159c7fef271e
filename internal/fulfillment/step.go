package fulfillment

import (
	"errors"
	"fmt"
)

// stepError classifies a step failure. Retryable errors go back through
// the step's backoff; terminal ones end the line as failed.
type stepError struct {
	code      string
	message   string
	retryable bool
}

func (e *stepError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func retryableStep(code, message string) *stepError {
	return &stepError{code: code, message: message, retryable: true}
}

func terminalStep(code, message string) *stepError {
	return &stepError{code: code, message: message}
}

// classify folds an arbitrary step failure into a stepError.
// Unclassified errors count as retryable so transient faults get their
// bounded attempts before the line is failed.
func classify(err error) *stepError {
	if err == nil {
		return nil
	}
	var step *stepError
	if errors.As(err, &step) {
		return step
	}
	return &stepError{code: "internal_error", message: err.Error(), retryable: true}
}
