package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pitabwire/flowbase/internal/action"
	"github.com/pitabwire/flowbase/internal/entitycontext"
	"github.com/pitabwire/flowbase/internal/expression"
	"github.com/pitabwire/flowbase/internal/filter"
	"github.com/pitabwire/flowbase/internal/observability"
	"github.com/pitabwire/flowbase/internal/template"
	"github.com/pitabwire/flowbase/model"
)

const defaultChainLimit = 50

// Definitions looks up workflow definitions by ID.
type Definitions interface {
	GetWorkflow(workflowID string) (model.WorkflowDefinition, bool)
}

// QueryExecutor runs the resolved filter of a query node. The returned map
// becomes the step output.
type QueryExecutor interface {
	ExecuteQuery(ctx context.Context, entityTypeID string, f model.QueryFilter) (map[string]any, error)
}

// QueryExecutorFunc adapts a function to the QueryExecutor interface.
type QueryExecutorFunc func(ctx context.Context, entityTypeID string, f model.QueryFilter) (map[string]any, error)

// ExecuteQuery calls f(ctx, entityTypeID, filter).
func (f QueryExecutorFunc) ExecuteQuery(ctx context.Context, entityTypeID string, q model.QueryFilter) (map[string]any, error) {
	return f(ctx, entityTypeID, q)
}

// EchoQueryExecutor returns the resolved filter in its document form. It is
// the default when no entity search backend is configured.
func EchoQueryExecutor(_ context.Context, entityTypeID string, f model.QueryFilter) (map[string]any, error) {
	return map[string]any{
		"entity_type_id": entityTypeID,
		"filter":         filter.Encode(f),
	}, nil
}

// Observer receives run and node metrics.
type Observer interface {
	RecordRunStart(workflowID string)
	RecordRunCompletion(workflowID, finalStatus string)
	RecordNodeExecution(nodeType, status string, duration time.Duration)
	RecordExpressionEvaluation(result string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithChainLimit caps the number of nodes Run executes in one call.
func WithChainLimit(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.chainLimit = limit
		}
	}
}

// WithActionHandler registers h under name, replacing any earlier handler.
func WithActionHandler(name string, h action.Handler) Option {
	return func(e *Engine) { e.actions[name] = h }
}

// WithQueryExecutor sets the executor used by query nodes.
func WithQueryExecutor(q QueryExecutor) Option {
	return func(e *Engine) {
		if q != nil {
			e.queries = q
		}
	}
}

// WithEntityContexts enables the entity namespace in condition nodes.
func WithEntityContexts(b *entitycontext.Builder) Option {
	return func(e *Engine) { e.contexts = b }
}

// WithRedactor sets the redactor applied to payloads in debug logs.
func WithRedactor(r *observability.Redactor) Option {
	return func(e *Engine) {
		if r != nil {
			e.redactor = r
		}
	}
}

// WithPermissiveExpressions makes condition parsing ignore trailing tokens.
func WithPermissiveExpressions() Option {
	return func(e *Engine) {
		e.parseOpts = append(e.parseOpts, expression.WithPermissive())
	}
}

// Engine executes workflow nodes against persisted run state.
type Engine struct {
	definitions Definitions
	store       RunStore
	resolver    *template.Resolver
	contexts    *entitycontext.Builder
	actions     map[string]action.Handler
	queries     QueryExecutor
	observer    Observer
	logger      *zap.Logger
	redactor    *observability.Redactor
	chainLimit  int
	parseOpts   []expression.ParseOption
}

// NewEngine creates a workflow engine. The echo action is always
// registered; other handlers are added with WithActionHandler.
func NewEngine(defs Definitions, store RunStore, resolver *template.Resolver, opts ...Option) *Engine {
	if resolver == nil {
		resolver = template.NewResolver()
	}
	e := &Engine{
		definitions: defs,
		store:       store,
		resolver:    resolver,
		actions: map[string]action.Handler{
			action.NameEcho: action.HandlerFunc(action.Echo),
		},
		queries:    QueryExecutorFunc(EchoQueryExecutor),
		logger:     zap.NewNop(),
		redactor:   observability.NewRedactor(),
		chainLimit: defaultChainLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartRun creates an active run positioned at the workflow's start node.
// A nil trigger leaves the trigger unset for the life of the run.
func (e *Engine) StartRun(
	ctx context.Context,
	workflowID string,
	trigger map[string]any,
	variables map[string]any,
) (model.RunSnapshot, error) {
	def, ok := e.definitions.GetWorkflow(workflowID)
	if !ok {
		return model.RunSnapshot{}, model.NewNotFoundError(
			fmt.Sprintf("workflow %q not found", workflowID),
		)
	}

	now := time.Now().UTC()
	run := model.RunSnapshot{
		ID:          uuid.New().String(),
		WorkflowID:  workflowID,
		Status:      model.RunStatusActive,
		CurrentNode: def.StartNode,
		Trigger:     trigger,
		Variables:   nonNil(variables),
		Steps:       map[string]model.StepOutput{},
		Loops:       map[string]model.LoopContext{},
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}

	if err := e.store.Create(ctx, run); err != nil {
		return model.RunSnapshot{}, err
	}
	if err := e.appendEvent(ctx, run.ID, def.StartNode, model.RunEventStarted, nil); err != nil {
		return model.RunSnapshot{}, err
	}
	if e.observer != nil {
		e.observer.RecordRunStart(workflowID)
	}

	e.logger.Debug("run started",
		zap.String("workflow_id", workflowID),
		zap.String("run_id", run.ID),
		e.redactor.Field("trigger", trigger),
	)
	return run, nil
}

// GetRun returns the current snapshot of a run.
func (e *Engine) GetRun(ctx context.Context, runID string) (model.RunSnapshot, error) {
	return e.store.Get(ctx, runID)
}

// ListRuns returns runs matching filters, newest first.
func (e *Engine) ListRuns(ctx context.Context, filters RunFilters) ([]model.RunSnapshot, error) {
	return e.store.List(ctx, filters)
}

// GetEvents returns the audit trail of a run.
func (e *Engine) GetEvents(ctx context.Context, runID string) ([]model.RunEvent, error) {
	return e.store.GetEvents(ctx, runID)
}

// ExecuteNode executes one node of an active run and persists the outcome.
// An empty nodeID executes the run's current node.
//
// A failing node with an error transition is recorded as a failed step and
// the run moves on; ExecuteNode then returns a nil error. Without an error
// transition the run fails and the node error is returned.
func (e *Engine) ExecuteNode(ctx context.Context, runID, nodeID string) (model.NodeResult, error) {
	run, err := e.store.Get(ctx, runID)
	if err != nil {
		return model.NodeResult{}, err
	}
	if run.Status != model.RunStatusActive {
		return model.NodeResult{}, model.NewConflictError(
			fmt.Sprintf("run %q is %s, not active", runID, run.Status),
		)
	}

	def, ok := e.definitions.GetWorkflow(run.WorkflowID)
	if !ok {
		return model.NodeResult{}, model.NewNotFoundError(
			fmt.Sprintf("workflow definition %q not found", run.WorkflowID),
		)
	}
	if nodeID == "" {
		nodeID = run.CurrentNode
	}
	node := findNode(def, nodeID)
	if node == nil {
		return model.NodeResult{}, model.NewNotFoundError(
			fmt.Sprintf("node %q not found in workflow %q", nodeID, run.WorkflowID),
		)
	}

	return e.execute(ctx, run, *node)
}

// Run executes nodes from the run's current node until the run leaves the
// active status. After chainLimit nodes the run is suspended and a
// CHAIN_LIMIT error is returned.
func (e *Engine) Run(ctx context.Context, runID string) (model.RunSnapshot, error) {
	for executed := 0; ; executed++ {
		run, err := e.store.Get(ctx, runID)
		if err != nil {
			return model.RunSnapshot{}, err
		}
		if run.Status != model.RunStatusActive {
			return run, nil
		}
		if executed >= e.chainLimit {
			return e.suspend(ctx, run)
		}
		if err := ctx.Err(); err != nil {
			return run, err
		}

		if _, err := e.ExecuteNode(ctx, runID, ""); err != nil {
			latest, getErr := e.store.Get(ctx, runID)
			if getErr != nil {
				return run, err
			}
			return latest, err
		}
	}
}

// execute runs node against run and persists the transition.
func (e *Engine) execute(ctx context.Context, run model.RunSnapshot, node model.NodeDefinition) (model.NodeResult, error) {
	ctx, span := observability.StartNodeSpan(ctx, run.WorkflowID, run.ID, node.ID, node.Type)
	ctx = model.WithRunID(ctx, run.ID)
	logger := observability.RequestLogger(ctx, e.logger)
	start := time.Now()

	store := DataStoreFromSnapshot(run)
	output, branch, execErr := e.dispatch(ctx, span, node, store)
	execErr = classify(node, execErr)

	result := model.NodeResult{NodeID: node.ID, Branch: branch}
	event := model.RunEventNodeExecuted
	if execErr != nil {
		event = model.RunEventNodeFailed
		result.Step = model.StepOutput{
			Status: model.StepStatusFailed,
			Output: map[string]any{"error": execErr.Error()},
		}
		run.LastError = execErr.Error()
		if next := node.Next[model.NextError]; next != "" {
			run.CurrentNode = next
			execErr = nil
		} else {
			run.Status = model.RunStatusFailed
			run.CurrentNode = node.ID
		}
	} else {
		result.Step = model.StepOutput{Status: model.StepStatusCompleted, Output: output}
		run.LastError = ""
		run.CurrentNode = nextNode(node, branch)
		if run.CurrentNode == "" {
			run.Status = model.RunStatusCompleted
		}
	}
	store.RecordStepOutput(node.ID, result.Step)
	if e.observer != nil {
		e.observer.RecordNodeExecution(node.Type, result.Step.Status, time.Since(start))
	}

	run = store.Snapshot(run)
	if err := e.store.Update(ctx, run); err != nil {
		observability.EndSpanWithError(span, err)
		return model.NodeResult{}, err
	}
	run.Version++

	eventData := map[string]any{"status": result.Step.Status}
	if branch != "" {
		eventData["branch"] = branch
	}
	if run.LastError != "" {
		eventData["error"] = run.LastError
	}
	if err := e.appendEvent(ctx, run.ID, node.ID, event, eventData); err != nil {
		logger.Warn("append node event failed", zap.Error(err))
	}
	e.finish(ctx, run)

	result.RunStatus = run.Status
	if run.Status == model.RunStatusActive {
		result.NextNode = run.CurrentNode
	}

	if execErr != nil {
		logger.Info("node failed",
			zap.String("node_id", node.ID),
			zap.String("node_type", node.Type),
			zap.Error(execErr),
		)
	} else {
		logger.Debug("node executed",
			zap.String("node_id", node.ID),
			zap.String("node_type", node.Type),
			zap.String("step_status", result.Step.Status),
			zap.String("next_node", result.NextNode),
		)
	}
	observability.EndSpanWithError(span, execErr)
	return result, execErr
}

// dispatch executes node by type and returns its output and, for condition
// nodes, the chosen branch.
func (e *Engine) dispatch(
	ctx context.Context,
	span trace.Span,
	node model.NodeDefinition,
	store *MemoryDataStore,
) (map[string]any, string, error) {
	switch node.Type {
	case model.NodeTypeAction:
		out, err := e.executeAction(ctx, node, store)
		return out, "", err
	case model.NodeTypeCondition:
		span.SetAttributes(observability.AttrExpression.String(node.Condition))
		result, err := e.evaluateCondition(ctx, node, store)
		if err != nil {
			return nil, "", err
		}
		branch := model.NextFalse
		if result {
			branch = model.NextTrue
		}
		span.SetAttributes(observability.AttrBranch.String(branch))
		return map[string]any{"result": result}, branch, nil
	case model.NodeTypeQuery:
		out, err := e.executeQuery(ctx, node, store)
		return out, "", err
	default:
		return nil, "", model.NewNodeExecutionError(
			fmt.Sprintf("node %q has unsupported type %q", node.ID, node.Type),
		)
	}
}

func (e *Engine) executeAction(ctx context.Context, node model.NodeDefinition, store *MemoryDataStore) (map[string]any, error) {
	h, ok := e.actions[node.Action]
	if !ok {
		return nil, model.NewNodeExecutionError(
			fmt.Sprintf("no action handler registered for %q", node.Action),
		)
	}
	cfg, err := e.resolver.ResolveAll(node.Config, store)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("executing action",
		zap.String("node_id", node.ID),
		zap.String("action", node.Action),
		e.redactor.Field("config", cfg),
	)
	return h.Execute(ctx, cfg)
}

// evaluateCondition evaluates the node's expression against the run
// namespaces, plus the entity namespace when config names an entity_id.
func (e *Engine) evaluateCondition(ctx context.Context, node model.NodeDefinition, store *MemoryDataStore) (result bool, err error) {
	defer func() {
		if e.observer == nil {
			return
		}
		switch {
		case err != nil:
			e.observer.RecordExpressionEvaluation("error")
		case result:
			e.observer.RecordExpressionEvaluation("true")
		default:
			e.observer.RecordExpressionEvaluation("false")
		}
	}()

	expr, err := expression.Parse(node.Condition, e.parseOpts...)
	if err != nil {
		return false, err
	}

	evalCtx := store.EvaluationContext()
	if raw, ok := node.Config["entity_id"]; ok {
		ent, err := e.entityContext(ctx, raw, store)
		if err != nil {
			return false, err
		}
		evalCtx["entity"] = ent
	}

	return expression.EvaluateBool(expr, evalCtx)
}

func (e *Engine) entityContext(ctx context.Context, raw any, store *MemoryDataStore) (map[string]any, error) {
	if e.contexts == nil {
		return nil, model.NewEntityContextError("entity contexts are not configured")
	}
	v, err := e.resolver.Resolve(raw, store)
	if err != nil {
		return nil, err
	}
	s, ok := v.(string)
	if !ok {
		return nil, model.NewEntityContextError(fmt.Sprintf("entity_id resolved to %T, want a UUID string", v))
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, model.NewEntityContextError(fmt.Sprintf("entity_id %q is not a valid UUID", s))
	}
	return e.contexts.BuildContextWithRelationships(ctx, id)
}

func (e *Engine) executeQuery(ctx context.Context, node model.NodeDefinition, store *MemoryDataStore) (map[string]any, error) {
	f, err := filter.Decode(node.Filter)
	if err != nil {
		return nil, model.NewFilterInvalidError([]model.FieldError{
			{Field: "filter", Code: filter.CodeMalformed, Message: err.Error()},
		})
	}
	if verrs := filter.Validate(f, "filter"); len(verrs) > 0 {
		return nil, model.NewFilterInvalidError(fieldErrors(verrs))
	}

	resolved, err := filter.ResolveTemplates(e.resolver, f, store)
	if err != nil {
		return nil, err
	}
	if filter.HasTemplates(resolved) {
		return nil, model.NewTemplateResolutionError("filter still holds unresolved templates")
	}

	typeID := ""
	if raw, ok := node.Config["entity_type_id"]; ok {
		v, err := e.resolver.Resolve(raw, store)
		if err != nil {
			return nil, err
		}
		typeID = fmt.Sprint(v)
	}
	return e.queries.ExecuteQuery(ctx, typeID, resolved)
}

// suspend parks a run that hit the chain limit.
func (e *Engine) suspend(ctx context.Context, run model.RunSnapshot) (model.RunSnapshot, error) {
	run.Status = model.RunStatusSuspended
	if err := e.store.Update(ctx, run); err != nil {
		return run, err
	}
	run.Version++
	if err := e.appendEvent(ctx, run.ID, run.CurrentNode, model.RunEventSuspended,
		map[string]any{"reason": "chain limit reached"}); err != nil {
		e.logger.Warn("append suspend event failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	e.logger.Warn("run suspended at chain limit",
		zap.String("run_id", run.ID),
		zap.String("node_id", run.CurrentNode),
		zap.Int("chain_limit", e.chainLimit),
	)
	return run, model.NewChainLimitError()
}

// finish records the terminal event and metric of a run that just left the
// active status.
func (e *Engine) finish(ctx context.Context, run model.RunSnapshot) {
	var event string
	switch run.Status {
	case model.RunStatusCompleted:
		event = model.RunEventCompleted
	case model.RunStatusFailed:
		event = model.RunEventFailed
	default:
		return
	}
	if err := e.appendEvent(ctx, run.ID, "", event, nil); err != nil {
		e.logger.Warn("append run event failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	if e.observer != nil {
		e.observer.RecordRunCompletion(run.WorkflowID, run.Status)
	}
}

func (e *Engine) appendEvent(ctx context.Context, runID, nodeID, event string, data map[string]any) error {
	return e.store.AppendEvent(ctx, model.RunEvent{
		ID:        uuid.New().String(),
		RunID:     runID,
		NodeID:    nodeID,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func findNode(def model.WorkflowDefinition, nodeID string) *model.NodeDefinition {
	for i := range def.Nodes {
		if def.Nodes[i].ID == nodeID {
			return &def.Nodes[i]
		}
	}
	return nil
}

// nextNode picks the successor of a completed node: the branch transition
// for condition nodes, falling back to the default transition.
func nextNode(node model.NodeDefinition, branch string) string {
	if branch != "" {
		if next, ok := node.Next[branch]; ok {
			return next
		}
	}
	return node.Next[model.NextDefault]
}

// classify maps a node failure onto an error envelope. Envelopes pass
// through unchanged.
func classify(node model.NodeDefinition, err error) error {
	if err == nil {
		return nil
	}
	return ClassifyError(fmt.Errorf("node %q: %w", node.ID, err))
}

// ClassifyError maps an error from the expression, template, filter or entity
// context packages onto an ErrorEnvelope. Envelopes pass through unchanged and
// unrecognised errors become NODE_EXECUTION.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		return env
	}

	var (
		syntaxErr    *expression.SyntaxError
		evalErr      *expression.EvalError
		mismatchErr  *expression.TypeMismatchError
		resolveErr   *template.ResolutionError
		integrityErr *entitycontext.IntegrityError
	)
	msg := err.Error()
	switch {
	case errors.As(err, &syntaxErr):
		return model.NewExpressionSyntaxError(msg)
	case errors.As(err, &evalErr), errors.As(err, &mismatchErr):
		return model.NewExpressionEvaluationError(msg)
	case errors.As(err, &resolveErr), errors.Is(err, template.ErrTriggerUnset),
		errors.Is(err, template.ErrInvalidRoot), errors.Is(err, filter.ErrNullEntityID):
		return model.NewTemplateResolutionError(msg)
	case errors.Is(err, entitycontext.ErrEntityNotFound):
		return model.NewNotFoundError(msg)
	case errors.As(err, &integrityErr):
		return model.NewEntityContextError(msg)
	default:
		return model.NewNodeExecutionError(msg)
	}
}

func fieldErrors(verrs []filter.ValidationError) []model.FieldError {
	out := make([]model.FieldError, len(verrs))
	for i, v := range verrs {
		out[i] = model.FieldError{Field: v.Path, Code: v.Code, Message: v.Message}
	}
	return out
}
