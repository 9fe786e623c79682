package template

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/flowbase/internal/pathutil"
	"github.com/pitabwire/flowbase/model"
)

var (
	// ErrTriggerUnset is returned when a template references the trigger of a
	// run that has none.
	ErrTriggerUnset = errors.New("trigger is not set")

	// ErrInvalidRoot is returned for a reference whose first segment is not
	// steps, trigger, variables or loops.
	ErrInvalidRoot = errors.New("invalid template root")
)

// Resolution outcomes reported to the Observer.
const (
	OutcomeResolved = "resolved"
	OutcomeNull     = "null"
	OutcomeError    = "error"
)

// DataStore is the read side of a workflow run's state.
type DataStore interface {
	GetStepOutput(name string) (model.StepOutput, bool)
	GetAllStepOutputs() map[string]model.StepOutput
	GetTrigger() (map[string]any, bool)
	GetVariable(name string) (any, bool)
	GetLoopContext(id string) (model.LoopContext, bool)
}

// Observer receives one call per resolved reference.
type Observer interface {
	RecordTemplateResolution(root, outcome string)
}

// ResolutionError wraps a hard failure for a single reference path.
type ResolutionError struct {
	Path []string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve {{ %s }}: %v", pathutil.Join(e.Path), e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for graceful-degradation diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(r *Resolver) {
		r.observer = o
	}
}

// Resolver substitutes template references with run state. It holds no
// per-run state and is safe for concurrent use.
type Resolver struct {
	logger   *zap.Logger
	observer Observer
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve resolves value against store. Non-string values are returned
// unchanged. An exact template returns the referenced value with its type
// preserved; an embedded template returns the interpolated string, or nil
// if any of its references resolves to nil.
func (r *Resolver) Resolve(value any, store DataStore) (any, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}

	switch p := Parse(s).(type) {
	case NotTemplate:
		return p.Value, nil
	case Exact:
		return r.ResolvePath(p.Path, store)
	case Embedded:
		return r.resolveEmbedded(p, store)
	default:
		return nil, fmt.Errorf("unsupported template form %T", p)
	}
}

// ResolveAll resolves every string inside config, walking nested maps and
// lists. Keys, list order and list length are preserved.
func (r *Resolver) ResolveAll(config map[string]any, store DataStore) (map[string]any, error) {
	if config == nil {
		return nil, nil
	}
	out := make(map[string]any, len(config))
	for k, v := range config {
		resolved, err := r.resolveValue(v, store)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

func (r *Resolver) resolveValue(v any, store DataStore) (any, error) {
	switch t := v.(type) {
	case string:
		return r.Resolve(t, store)
	case map[string]any:
		return r.ResolveAll(t, store)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			resolved, err := r.resolveValue(e, store)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func (r *Resolver) resolveEmbedded(p Embedded, store DataStore) (any, error) {
	var sb strings.Builder
	last := 0
	for _, ref := range p.Refs {
		v, err := r.ResolvePath(ref.Path, store)
		if err != nil {
			return nil, err
		}
		if v == nil {
			r.logger.Debug("embedded template resolved to null, dropping interpolation",
				zap.String("template", p.Original),
				zap.String("reference", ref.Placeholder),
			)
			return nil, nil
		}
		sb.WriteString(p.Original[last:ref.Start])
		sb.WriteString(r.stringify(v, ref.Placeholder))
		last = ref.End
	}
	sb.WriteString(p.Original[last:])
	return sb.String(), nil
}

func (r *Resolver) stringify(v any, placeholder string) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	}
	if pathutil.IsNumber(v) {
		return fmt.Sprint(v)
	}
	r.logger.Warn("interpolating non-primitive template value",
		zap.String("reference", placeholder),
		zap.String("type", pathutil.TypeName(v)),
	)
	return fmt.Sprint(v)
}

// ResolvePath resolves a single reference path, routing on its root.
func (r *Resolver) ResolvePath(path []string, store DataStore) (any, error) {
	root := ""
	if len(path) > 0 {
		root = path[0]
	}

	var (
		v   any
		err error
	)
	switch root {
	case RootSteps:
		v, err = r.resolveStep(path, store)
	case RootTrigger:
		v, err = r.resolveTrigger(path, store)
	case RootVariables:
		v, err = r.resolveVariable(path, store)
	case RootLoops:
		v, err = r.resolveLoop(path, store)
	default:
		err = &ResolutionError{Path: path, Err: fmt.Errorf("%w %q", ErrInvalidRoot, root)}
		root = "invalid"
	}

	r.observe(root, v, err)
	return v, err
}

func (r *Resolver) observe(root string, v any, err error) {
	if r.observer == nil {
		return
	}
	outcome := OutcomeResolved
	switch {
	case err != nil:
		outcome = OutcomeError
	case v == nil:
		outcome = OutcomeNull
	}
	r.observer.RecordTemplateResolution(root, outcome)
}

func (r *Resolver) resolveStep(path []string, store DataStore) (any, error) {
	if len(path) < 2 {
		return nil, &ResolutionError{Path: path, Err: errors.New("step name is required")}
	}
	name := path[1]
	step, ok := store.GetStepOutput(name)
	if !ok {
		r.logger.Warn("template references unknown step", zap.String("step", name))
		return nil, nil
	}
	if !step.Completed() {
		r.logger.Warn("template references step that has not completed",
			zap.String("step", name),
			zap.String("status", step.Status),
		)
		return nil, nil
	}

	rest := path[2:]
	if len(rest) > 0 && rest[0] == "output" {
		rest = rest[1:]
	}
	return r.traverse(step.Output, rest, path), nil
}

func (r *Resolver) resolveTrigger(path []string, store DataStore) (any, error) {
	trigger, ok := store.GetTrigger()
	if !ok {
		return nil, &ResolutionError{Path: path, Err: ErrTriggerUnset}
	}
	return r.traverse(trigger, path[1:], path), nil
}

func (r *Resolver) resolveVariable(path []string, store DataStore) (any, error) {
	if len(path) < 2 {
		return nil, &ResolutionError{Path: path, Err: errors.New("variable name is required")}
	}
	v, ok := store.GetVariable(path[1])
	if !ok {
		r.logger.Debug("template references unknown variable", zap.String("variable", path[1]))
		return nil, nil
	}
	return r.traverse(v, path[2:], path), nil
}

func (r *Resolver) resolveLoop(path []string, store DataStore) (any, error) {
	if len(path) < 2 {
		return nil, &ResolutionError{Path: path, Err: errors.New("loop id is required")}
	}
	loop, ok := store.GetLoopContext(path[1])
	if !ok {
		r.logger.Debug("template references unknown loop", zap.String("loop", path[1]))
		return nil, nil
	}
	return r.traverse(loop.Fields(), path[2:], path), nil
}

// traverse walks segments into v. Stepping into nil, into a non-map or onto
// a missing key yields nil.
func (r *Resolver) traverse(v any, segments []string, full []string) any {
	current := untypedNil(v)
	for _, seg := range segments {
		if current == nil {
			r.logger.Debug("template traversal reached null",
				zap.String("path", pathutil.Join(full)),
				zap.String("segment", seg),
			)
			return nil
		}
		next, isMap, found := pathutil.Lookup(current, seg)
		if !isMap {
			r.logger.Warn("template traversal into non-map value",
				zap.String("path", pathutil.Join(full)),
				zap.String("segment", seg),
				zap.String("type", pathutil.TypeName(current)),
			)
			return nil
		}
		if !found {
			r.logger.Debug("template key not found",
				zap.String("path", pathutil.Join(full)),
				zap.String("segment", seg),
			)
			return nil
		}
		current = untypedNil(next)
	}
	return current
}

// untypedNil collapses nil maps and slices to a plain nil, so a step that
// completed without output resolves to null rather than an empty container.
func untypedNil(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return nil
		}
	case map[string]string:
		if t == nil {
			return nil
		}
	case []any:
		if t == nil {
			return nil
		}
	}
	return v
}
