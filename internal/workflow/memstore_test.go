package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pitabwire/flowbase/model"
)

func testRun(id, workflowID, node string, created time.Time) model.RunSnapshot {
	return model.RunSnapshot{
		ID:          id,
		WorkflowID:  workflowID,
		Status:      model.RunStatusActive,
		CurrentNode: node,
		Variables:   map[string]any{"key": "val"},
		CreatedAt:   created,
		UpdatedAt:   created,
		Version:     1,
	}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var env *model.ErrorEnvelope
	if !errors.As(err, &env) {
		t.Fatalf("error = %v (%T), want *model.ErrorEnvelope", err, err)
	}
	if env.Code != code {
		t.Errorf("code = %s, want %s", env.Code, code)
	}
}

// --- Create / Get ---

func TestMemoryRunStore_Create(t *testing.T) {
	store := NewMemoryRunStore()
	if err := store.Create(context.Background(), testRun("r-1", "onboarding", "check", time.Now())); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestMemoryRunStore_Create_duplicate(t *testing.T) {
	store := NewMemoryRunStore()
	run := testRun("r-1", "onboarding", "check", time.Now())

	_ = store.Create(context.Background(), run)
	err := store.Create(context.Background(), run)
	assertCode(t, err, model.ErrConflict)
}

func TestMemoryRunStore_Get(t *testing.T) {
	store := NewMemoryRunStore()
	_ = store.Create(context.Background(), testRun("r-1", "onboarding", "check", time.Now()))

	got, err := store.Get(context.Background(), "r-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.CurrentNode != "check" {
		t.Errorf("CurrentNode = %q", got.CurrentNode)
	}
}

func TestMemoryRunStore_Get_notFound(t *testing.T) {
	_, err := NewMemoryRunStore().Get(context.Background(), "missing")
	assertCode(t, err, model.ErrNotFound)
}

// --- Update ---

func TestMemoryRunStore_Update(t *testing.T) {
	store := NewMemoryRunStore()
	run := testRun("r-1", "onboarding", "check", time.Now())
	_ = store.Create(context.Background(), run)

	run.CurrentNode = "notify"
	if err := store.Update(context.Background(), run); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	got, _ := store.Get(context.Background(), "r-1")
	if got.CurrentNode != "notify" {
		t.Errorf("CurrentNode = %q, want notify", got.CurrentNode)
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
}

func TestMemoryRunStore_Update_versionConflict(t *testing.T) {
	store := NewMemoryRunStore()
	run := testRun("r-1", "onboarding", "check", time.Now())
	_ = store.Create(context.Background(), run)
	_ = store.Update(context.Background(), run)

	// run still carries version 1.
	err := store.Update(context.Background(), run)
	assertCode(t, err, model.ErrConflict)
	if !strings.Contains(err.Error(), "expected 2, got 1") {
		t.Errorf("message = %q, want the stored version before the caller's", err.Error())
	}
}

func TestMemoryRunStore_Update_notFound(t *testing.T) {
	err := NewMemoryRunStore().Update(context.Background(), testRun("r-1", "onboarding", "check", time.Now()))
	assertCode(t, err, model.ErrNotFound)
}

// --- Events ---

func TestMemoryRunStore_GetEvents_sortedByTimestamp(t *testing.T) {
	store := NewMemoryRunStore()
	_ = store.Create(context.Background(), testRun("r-1", "onboarding", "check", time.Now()))

	base := time.Now().UTC()
	_ = store.AppendEvent(context.Background(), model.RunEvent{ID: "e-2", RunID: "r-1", Event: model.RunEventNodeExecuted, Timestamp: base.Add(time.Second)})
	_ = store.AppendEvent(context.Background(), model.RunEvent{ID: "e-1", RunID: "r-1", Event: model.RunEventStarted, Timestamp: base})

	events, err := store.GetEvents(context.Background(), "r-1")
	if err != nil {
		t.Fatalf("GetEvents error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].ID != "e-1" || events[1].ID != "e-2" {
		t.Errorf("order = %s, %s; want e-1, e-2", events[0].ID, events[1].ID)
	}
}

func TestMemoryRunStore_GetEvents_unknownRun(t *testing.T) {
	_, err := NewMemoryRunStore().GetEvents(context.Background(), "missing")
	assertCode(t, err, model.ErrNotFound)
}

// --- List ---

func TestMemoryRunStore_List(t *testing.T) {
	store := NewMemoryRunStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_ = store.Create(context.Background(), testRun("r-1", "onboarding", "a", base))
	_ = store.Create(context.Background(), testRun("r-2", "onboarding", "a", base.Add(time.Minute)))
	_ = store.Create(context.Background(), testRun("r-3", "offboarding", "a", base.Add(2*time.Minute)))
	done := testRun("r-4", "onboarding", "a", base.Add(3*time.Minute))
	done.Status = model.RunStatusCompleted
	_ = store.Create(context.Background(), done)

	tests := []struct {
		name    string
		filters RunFilters
		want    []string
	}{
		{"all newest first", RunFilters{}, []string{"r-4", "r-3", "r-2", "r-1"}},
		{"by workflow", RunFilters{WorkflowID: "onboarding"}, []string{"r-4", "r-2", "r-1"}},
		{"by status", RunFilters{Status: model.RunStatusActive}, []string{"r-3", "r-2", "r-1"}},
		{"limit", RunFilters{Limit: 2}, []string{"r-4", "r-3"}},
		{"offset", RunFilters{Offset: 3}, []string{"r-1"}},
		{"offset past end", RunFilters{Offset: 10}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := store.List(context.Background(), tt.filters)
			if err != nil {
				t.Fatalf("List error: %v", err)
			}
			if len(runs) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(runs), len(tt.want))
			}
			for i, id := range tt.want {
				if runs[i].ID != id {
					t.Errorf("runs[%d] = %s, want %s", i, runs[i].ID, id)
				}
			}
		})
	}
}

// --- Delete ---

func TestMemoryRunStore_Delete(t *testing.T) {
	store := NewMemoryRunStore()
	_ = store.Create(context.Background(), testRun("r-1", "onboarding", "a", time.Now()))
	_ = store.AppendEvent(context.Background(), model.RunEvent{ID: "e-1", RunID: "r-1", Timestamp: time.Now()})

	if err := store.Delete(context.Background(), "r-1"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0", store.Len())
	}
	_, err := store.GetEvents(context.Background(), "r-1")
	assertCode(t, err, model.ErrNotFound)
}

func TestMemoryRunStore_Delete_notFound(t *testing.T) {
	assertCode(t, NewMemoryRunStore().Delete(context.Background(), "missing"), model.ErrNotFound)
}

func TestMemoryRunStore_HealthCheck(t *testing.T) {
	if err := NewMemoryRunStore().HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
}
