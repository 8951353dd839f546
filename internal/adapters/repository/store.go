// Package repository defines the result sink interface and errors. The core
// engine hands every finalized TestResult to a Store and never touches
// persistence formats itself.
package repository

import (
	"context"

	"github.com/okian/jumplab/internal/domain/model"
)

// Store provides write/read access to finalized test results.
type Store interface {
	// Save persists a result. A session finalizes exactly once, so saving
	// the same session twice fails with ErrDuplicate.
	Save(ctx context.Context, result model.TestResult) error

	// Get returns the result for a session.
	// Returns ErrNotFound if the session is unknown.
	Get(ctx context.Context, sessionID string) (model.TestResult, error)

	// List returns saved results, newest first.
	List(ctx context.Context) []model.TestResult

	// Count returns the number of saved results.
	Count(ctx context.Context) int
}
