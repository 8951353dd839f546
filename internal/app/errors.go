package app

import "errors"

// Sentinel kinds for coordinator errors.
var (
	// ErrWorkflow marks an out-of-order call, e.g. starting a test before
	// calibration completed. The caller must retry in the right order.
	ErrWorkflow = errors.New("workflow violation")

	// ErrWeightUnstable means bodyweight never stabilized inside the
	// allowed window.
	ErrWeightUnstable = errors.New("bodyweight never stabilized")

	// ErrStreamClosed means the sample stream ended while an operation
	// still needed samples.
	ErrStreamClosed = errors.New("sample stream closed")
)
