// Package action holds the handlers that action nodes dispatch to.
package action

import (
	"context"
	"maps"
)

// Names of the built-in handlers.
const (
	NameEcho    = "echo"
	NameWebhook = "webhook"
)

// Handler performs the side effect of an action node. config arrives with
// every template already resolved; the returned map becomes the step output.
type Handler interface {
	Execute(ctx context.Context, config map[string]any) (map[string]any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, config map[string]any) (map[string]any, error)

// Execute calls f(ctx, config).
func (f HandlerFunc) Execute(ctx context.Context, config map[string]any) (map[string]any, error) {
	return f(ctx, config)
}

// Echo returns a copy of its config. It lets a workflow stage values as a
// step output without leaving the process.
func Echo(_ context.Context, config map[string]any) (map[string]any, error) {
	out := maps.Clone(config)
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
