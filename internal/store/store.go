package store

import (
	"context"
)

// Store defines the interface for campaign job persistence
type Store interface {
	// Enqueue adds a job in pending state
	Enqueue(ctx context.Context, job *Job) error

	// NextPending claims the oldest pending job and marks it running.
	// Returns nil, nil if nothing is pending.
	NextPending(ctx context.Context) (*Job, error)

	// Update persists job progress and status changes
	Update(ctx context.Context, job *Job) error

	// Get retrieves a job by ID
	Get(ctx context.Context, id string) (*Job, error)

	// List returns jobs with optional filtering
	List(ctx context.Context, filter ListFilter) ([]*Job, error)

	// Delete removes a job
	Delete(ctx context.Context, id string) error

	// Stats returns job statistics
	Stats(ctx context.Context) (*JobStats, error)

	// Close closes the storage connection
	Close() error
}
