package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/flowbase/model"
)

// MemoryRunStore is an in-memory RunStore.
type MemoryRunStore struct {
	mu     sync.RWMutex
	runs   map[string]model.RunSnapshot // key: run ID
	events map[string][]model.RunEvent  // key: run ID
}

// NewMemoryRunStore creates a new in-memory run store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs:   make(map[string]model.RunSnapshot),
		events: make(map[string][]model.RunEvent),
	}
}

// Create persists a new run.
func (s *MemoryRunStore) Create(_ context.Context, run model.RunSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("run %q already exists", run.ID))
	}

	s.runs[run.ID] = run
	return nil
}

// Get retrieves a run by ID.
func (s *MemoryRunStore) Get(_ context.Context, runID string) (model.RunSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return model.RunSnapshot{}, model.NewNotFoundError(fmt.Sprintf("run %q not found", runID))
	}
	return run, nil
}

// Update persists an updated run with optimistic locking.
func (s *MemoryRunStore) Update(_ context.Context, run model.RunSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.runs[run.ID]
	if !exists {
		return model.NewNotFoundError(fmt.Sprintf("run %q not found", run.ID))
	}

	if existing.Version != run.Version {
		return model.NewConflictError(
			fmt.Sprintf("run %q version conflict (expected %d, got %d)", run.ID, existing.Version, run.Version),
		)
	}

	run.Version++
	run.UpdatedAt = time.Now().UTC()
	s.runs[run.ID] = run
	return nil
}

// AppendEvent adds an event to the run's audit trail.
func (s *MemoryRunStore) AppendEvent(_ context.Context, event model.RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[event.RunID] = append(s.events[event.RunID], event)
	return nil
}

// GetEvents retrieves all events for a run, ordered by timestamp.
func (s *MemoryRunStore) GetEvents(_ context.Context, runID string) ([]model.RunEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.runs[runID]; !exists {
		return nil, model.NewNotFoundError(fmt.Sprintf("run %q not found", runID))
	}

	events := s.events[runID]
	result := make([]model.RunEvent, len(events))
	copy(result, events)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// List returns runs matching the filters, newest first.
func (s *MemoryRunStore) List(_ context.Context, filters RunFilters) ([]model.RunSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.RunSnapshot
	for _, run := range s.runs {
		if filters.WorkflowID != "" && run.WorkflowID != filters.WorkflowID {
			continue
		}
		if filters.Status != "" && run.Status != filters.Status {
			continue
		}
		result = append(result, run)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.RunSnapshot{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}

	return result, nil
}

// Delete removes a run and its events.
func (s *MemoryRunStore) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[runID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("run %q not found", runID))
	}

	delete(s.runs, runID)
	delete(s.events, runID)
	return nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryRunStore) HealthCheck(context.Context) error { return nil }

// Len returns the total number of runs.
func (s *MemoryRunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
