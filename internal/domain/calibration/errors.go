package calibration

import "errors"

// Sentinel kinds for calibration errors.
var (
	ErrExcessiveNoise       = errors.New("excessive noise during calibration")
	ErrInsufficientDuration = errors.New("insufficient calibration duration")
)
