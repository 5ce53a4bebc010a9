package ml

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInsufficientData is returned when fewer than two rows carry a label.
	ErrInsufficientData = errors.New("not enough labeled examples to train, need at least 2")
	// ErrModelNotTrained is returned when no artifact or metadata is available.
	ErrModelNotTrained = errors.New("model or metadata not found, train the model first")
)

// SchemaMismatchError reports a prediction payload that shares no feature
// with the trained schema.
type SchemaMismatchError struct {
	Expected []string
	Received []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("payload objects do not contain expected feature keys: expected one of [%s], received [%s]",
		strings.Join(e.Expected, ", "), strings.Join(e.Received, ", "))
}

// PredictionError wraps a failure while scoring a single row.
type PredictionError struct {
	Row int
	Err error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("prediction failed at row %d: %v", e.Row, e.Err)
}

func (e *PredictionError) Unwrap() error { return e.Err }
