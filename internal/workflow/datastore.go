package workflow

import (
	"maps"
	"sync"

	"github.com/pitabwire/flowbase/model"
)

// MemoryDataStore holds the state of one run while its nodes execute. It
// implements template.DataStore and is safe for concurrent use.
//
// Values handed out by the read methods are shared with the store. Callers
// treat them as read-only; writers replace whole entries instead of mutating
// them in place.
type MemoryDataStore struct {
	mu         sync.RWMutex
	steps      map[string]model.StepOutput
	trigger    map[string]any
	triggerSet bool
	variables  map[string]any
	loops      map[string]model.LoopContext
}

// NewMemoryDataStore creates an empty store with no trigger set.
func NewMemoryDataStore() *MemoryDataStore {
	return &MemoryDataStore{
		steps:     make(map[string]model.StepOutput),
		variables: make(map[string]any),
		loops:     make(map[string]model.LoopContext),
	}
}

// DataStoreFromSnapshot loads the state of a persisted run. A nil trigger in
// the snapshot leaves the trigger unset.
func DataStoreFromSnapshot(snap model.RunSnapshot) *MemoryDataStore {
	s := NewMemoryDataStore()
	maps.Copy(s.steps, snap.Steps)
	maps.Copy(s.variables, snap.Variables)
	maps.Copy(s.loops, snap.Loops)
	if snap.Trigger != nil {
		s.trigger = snap.Trigger
		s.triggerSet = true
	}
	return s
}

// GetStepOutput returns the recorded output of the named step.
func (s *MemoryDataStore) GetStepOutput(name string) (model.StepOutput, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.steps[name]
	return out, ok
}

// GetAllStepOutputs returns a copy of the step table.
func (s *MemoryDataStore) GetAllStepOutputs() map[string]model.StepOutput {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.steps)
}

// GetTrigger returns the trigger payload, or false if no trigger was set.
func (s *MemoryDataStore) GetTrigger() (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trigger, s.triggerSet
}

// GetVariable returns the named workflow variable.
func (s *MemoryDataStore) GetVariable(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variables[name]
	return v, ok
}

// GetLoopContext returns the iteration state of the named loop.
func (s *MemoryDataStore) GetLoopContext(id string) (model.LoopContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lc, ok := s.loops[id]
	return lc, ok
}

// RecordStepOutput stores the output of an executed step, replacing any
// earlier output under the same name.
func (s *MemoryDataStore) RecordStepOutput(name string, out model.StepOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[name] = out
}

// SetTrigger sets the trigger payload. A nil payload still counts as set.
func (s *MemoryDataStore) SetTrigger(payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trigger = payload
	s.triggerSet = true
}

// SetVariable sets a workflow variable.
func (s *MemoryDataStore) SetVariable(name string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variables[name] = v
}

// SetLoopContext sets the iteration state of a loop.
func (s *MemoryDataStore) SetLoopContext(lc model.LoopContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loops[lc.LoopID] = lc
}

// Snapshot copies the store's tables into snap, leaving the run metadata
// untouched.
func (s *MemoryDataStore) Snapshot(snap model.RunSnapshot) model.RunSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap.Steps = maps.Clone(s.steps)
	snap.Variables = maps.Clone(s.variables)
	snap.Loops = maps.Clone(s.loops)
	snap.Trigger = nil
	if s.triggerSet {
		snap.Trigger = s.trigger
		if snap.Trigger == nil {
			snap.Trigger = map[string]any{}
		}
	}
	return snap
}

// EvaluationContext returns the namespaces condition expressions read from:
// steps, trigger, variables and loops. The trigger namespace is absent when
// no trigger was set, so that paths into it fail instead of reading null.
func (s *MemoryDataStore) EvaluationContext() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	steps := make(map[string]any, len(s.steps))
	for name, out := range s.steps {
		steps[name] = map[string]any{
			"status": out.Status,
			"output": out.Output,
		}
	}
	loops := make(map[string]any, len(s.loops))
	for id, lc := range s.loops {
		loops[id] = lc.Fields()
	}

	ctx := map[string]any{
		"steps":     steps,
		"variables": maps.Clone(s.variables),
		"loops":     loops,
	}
	if s.triggerSet {
		ctx["trigger"] = s.trigger
	}
	return ctx
}
