// Package store persists session records. The SQLite store is the
// production backend; the memory store backs tests and ephemeral runs.
package store

import (
	"context"
	"errors"

	"github.com/coworklabs/cowork/pkg/models"
)

// ErrNotFound is returned when no record exists for a session id.
var ErrNotFound = errors.New("store: session not found")

// Store is the session persistence contract.
type Store interface {
	// Save upserts a record keyed by SessionID.
	Save(ctx context.Context, rec *models.SessionRecord) error
	// Load returns the record for id, or ErrNotFound.
	Load(ctx context.Context, id string) (*models.SessionRecord, error)
	// List returns summaries ordered by last update, newest first.
	List(ctx context.Context) ([]models.SessionSummary, error)
	// Delete removes a record. Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
	// Close releases the backing resources.
	Close() error
}
