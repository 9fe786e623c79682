package workflow

import (
	"context"

	"github.com/pitabwire/flowbase/model"
)

// RunStore persists workflow run snapshots and their audit trail.
type RunStore interface {
	// Create persists a new run. Returns CONFLICT if the ID is taken.
	Create(ctx context.Context, run model.RunSnapshot) error

	// Get retrieves a run by ID. Returns NOT_FOUND if it doesn't exist.
	Get(ctx context.Context, runID string) (model.RunSnapshot, error)

	// Update persists an updated run with optimistic locking. The version
	// must match the current stored version. Returns CONFLICT if the version
	// has changed. On success the stored version is incremented.
	Update(ctx context.Context, run model.RunSnapshot) error

	// AppendEvent adds an event to the run's audit trail.
	AppendEvent(ctx context.Context, event model.RunEvent) error

	// GetEvents retrieves all events for a run in timestamp order.
	GetEvents(ctx context.Context, runID string) ([]model.RunEvent, error)

	// List returns runs matching the filters, newest first.
	List(ctx context.Context, filters RunFilters) ([]model.RunSnapshot, error)

	// Delete removes a run and its events.
	Delete(ctx context.Context, runID string) error
}

// RunFilters are optional filters for listing runs.
type RunFilters struct {
	WorkflowID string
	Status     string
	Limit      int
	Offset     int
}
