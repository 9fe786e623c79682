package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Build metadata, set from main via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

var startedAt = time.Now()

const (
	statusOK    = "ok"
	statusError = "error"

	defaultProbeTimeout = 2 * time.Second
)

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// HealthChecker is implemented by the run store and entity lookup backends
// that can ping their database.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck calls f(ctx).
func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// DefinitionsState reports how many workflows are loaded and the registry
// checksum they were loaded under.
type DefinitionsState func() (workflows int, checksum string)

// ReadinessChecks is what /ready inspects. Definitions always counts; the
// backend probes are skipped when nil.
type ReadinessChecks struct {
	Definitions  DefinitionsState
	RunStore     HealthChecker
	EntityLookup HealthChecker

	// ProbeTimeout bounds each backend probe. Zero means two seconds.
	ProbeTimeout time.Duration
}

// CheckResult is one entry of the readiness payload.
type CheckResult struct {
	Status    string         `json:"status"`
	LatencyMs int64          `json:"latency_ms"`
	Error     string         `json:"error,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// ReadinessResponse is the readiness payload.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// Ready reports whether every check passed.
func (r ReadinessResponse) Ready() bool {
	return r.Status == "ready"
}

// Evaluate runs the backend probes concurrently and folds them together with
// the definitions check.
func (c ReadinessChecks) Evaluate(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{
		Status: "ready",
		Checks: map[string]CheckResult{"definitions": c.definitions()},
	}

	timeout := c.ProbeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for name, checker := range map[string]HealthChecker{
		"run_store":     c.RunStore,
		"entity_lookup": c.EntityLookup,
	} {
		if checker == nil {
			continue
		}
		g.Go(func() error {
			result := probe(ctx, checker, timeout)
			mu.Lock()
			resp.Checks[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, result := range resp.Checks {
		if result.Status != statusOK {
			resp.Status = "not_ready"
			break
		}
	}
	return resp
}

func (c ReadinessChecks) definitions() CheckResult {
	if c.Definitions == nil {
		return CheckResult{Status: statusError, Error: "no definition registry"}
	}
	workflows, checksum := c.Definitions()
	result := CheckResult{
		Status: statusOK,
		Detail: map[string]any{"workflows": workflows, "checksum": checksum},
	}
	if workflows == 0 {
		result.Status = statusError
		result.Error = "no workflow definitions loaded"
	}
	return result
}

func probe(parent context.Context, checker HealthChecker, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	result := CheckResult{Status: statusOK, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		result.Status = statusError
		result.Error = err.Error()
	}
	return result
}

// HandleHealth serves liveness. It never touches a backend.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, http.StatusOK, HealthResponse{
			Status:        statusOK,
			Version:       Version,
			Commit:        Commit,
			UptimeSeconds: int64(time.Since(startedAt).Seconds()),
		})
	}
}

// HandleReady serves readiness: 200 when every check passes, 503 otherwise.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := checks.Evaluate(r.Context())
		status := http.StatusOK
		if !resp.Ready() {
			status = http.StatusServiceUnavailable
		}
		writeProbe(w, status, resp)
	}
}

func writeProbe(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
