package repository

import "errors"

// Sentinel kinds for result store errors.
var (
	ErrNotFound  = errors.New("result not found")
	ErrDuplicate = errors.New("result already saved for session")
)
