package model

import "time"

// Workflow run status constants.
const (
	RunStatusActive    = "active"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusSuspended = "suspended"
)

// Step status constants.
const (
	StepStatusPending    = "pending"
	StepStatusInProgress = "in_progress"
	StepStatusCompleted  = "completed"
	StepStatusSkipped    = "skipped"
	StepStatusFailed     = "failed"
)

// Node type constants.
const (
	NodeTypeAction    = "action"
	NodeTypeCondition = "condition"
	NodeTypeQuery     = "query"
)

// Transition keys in NodeDefinition.Next.
const (
	NextDefault = "default"
	NextTrue    = "true"
	NextFalse   = "false"
	NextError   = "error"
)

// StepOutput is the recorded result of one executed workflow node.
type StepOutput struct {
	Status string         `json:"status"`
	Output map[string]any `json:"output,omitempty"`
}

// Completed reports whether the step finished successfully.
func (s StepOutput) Completed() bool {
	return s.Status == StepStatusCompleted
}

// LoopContext is the iteration state of a running loop node.
type LoopContext struct {
	LoopID       string `json:"loopId"`
	CurrentIndex int    `json:"currentIndex"`
	CurrentItem  any    `json:"currentItem"`
	TotalItems   int    `json:"totalItems"`
}

// Fields exposes the loop context as a map so that templates can traverse it.
func (l LoopContext) Fields() map[string]any {
	return map[string]any{
		"currentIndex": l.CurrentIndex,
		"currentItem":  l.CurrentItem,
		"totalItems":   l.TotalItems,
		"loopId":       l.LoopID,
	}
}

// RunSnapshot is the persisted state of one workflow run. Trigger is nil when
// the run was started without a trigger payload.
type RunSnapshot struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      string                 `json:"status"`
	CurrentNode string                 `json:"current_node,omitempty"`
	LastError   string                 `json:"last_error,omitempty"`
	Trigger     map[string]any         `json:"trigger,omitempty"`
	Variables   map[string]any         `json:"variables,omitempty"`
	Steps       map[string]StepOutput  `json:"steps,omitempty"`
	Loops       map[string]LoopContext `json:"loops,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	Version     int                    `json:"version"`
}

// Run event names.
const (
	RunEventStarted      = "run_started"
	RunEventNodeExecuted = "node_executed"
	RunEventNodeFailed   = "node_failed"
	RunEventCompleted    = "run_completed"
	RunEventFailed       = "run_failed"
	RunEventSuspended    = "run_suspended"
)

// RunEvent is one entry in a run's audit trail.
type RunEvent struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	NodeID    string         `json:"node_id,omitempty"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// WorkflowDefinition describes a workflow as a graph of nodes.
type WorkflowDefinition struct {
	ID          string           `yaml:"id"          json:"id"`
	Name        string           `yaml:"name"        json:"name"`
	StartNode   string           `yaml:"start_node"  json:"start_node"`
	Nodes       []NodeDefinition `yaml:"nodes"       json:"nodes"`
	Description string           `yaml:"description" json:"description,omitempty"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// NodeDefinition describes a single workflow node.
//
// Action nodes resolve Config and hand it to the named Action handler.
// Condition nodes evaluate Condition and follow Next["true"] or Next["false"].
// Query nodes resolve Filter against Config["entity_type_id"].
type NodeDefinition struct {
	ID        string            `yaml:"id"        json:"id"`
	Name      string            `yaml:"name"      json:"name,omitempty"`
	Type      string            `yaml:"type"      json:"type"`
	Action    string            `yaml:"action"    json:"action,omitempty"`
	Config    map[string]any    `yaml:"config"    json:"config,omitempty"`
	Condition string            `yaml:"condition" json:"condition,omitempty"`
	Filter    map[string]any    `yaml:"filter"    json:"filter,omitempty"`
	Next      map[string]string `yaml:"next"      json:"next,omitempty"`
}

// NodeResult is returned by the engine after a node executes. Branch is set
// for condition nodes only.
type NodeResult struct {
	NodeID    string     `json:"node_id"`
	Step      StepOutput `json:"step"`
	Branch    string     `json:"branch,omitempty"`
	NextNode  string     `json:"next_node,omitempty"`
	RunStatus string     `json:"run_status"`
}
