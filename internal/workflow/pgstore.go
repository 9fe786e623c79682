package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/flowbase/model"
)

// RunSchema is the DDL for the tables PgRunStore uses.
const RunSchema = `
CREATE TABLE IF NOT EXISTS workflow_runs (
	id           TEXT PRIMARY KEY,
	workflow_id  TEXT NOT NULL,
	status       TEXT NOT NULL,
	current_node TEXT NOT NULL DEFAULT '',
	last_error   TEXT NOT NULL DEFAULT '',
	trigger      JSONB,
	variables    JSONB NOT NULL DEFAULT '{}',
	steps        JSONB NOT NULL DEFAULT '{}',
	loops        JSONB NOT NULL DEFAULT '{}',
	version      INTEGER NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS workflow_runs_workflow_idx ON workflow_runs (workflow_id, created_at DESC);
CREATE TABLE IF NOT EXISTS workflow_run_events (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
	node_id    TEXT NOT NULL DEFAULT '',
	event      TEXT NOT NULL,
	data       JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS workflow_run_events_run_idx ON workflow_run_events (run_id, created_at);
`

const runColumns = `id, workflow_id, status, current_node, last_error,
	trigger, variables, steps, loops, version, created_at, updated_at`

// PgRunStore is a PostgreSQL-backed RunStore using pgx/v5.
type PgRunStore struct {
	pool *pgxpool.Pool
}

// NewPgRunStore creates a new PostgreSQL run store.
func NewPgRunStore(pool *pgxpool.Pool) *PgRunStore {
	return &PgRunStore{pool: pool}
}

// EnsureSchema creates the run tables if they do not exist.
func (s *PgRunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, RunSchema); err != nil {
		return fmt.Errorf("create run schema: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (s *PgRunStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// runColumnsJSON holds the JSON-encoded state columns of a run.
type runColumnsJSON struct {
	trigger, variables, steps, loops []byte
}

func encodeRun(run model.RunSnapshot) (runColumnsJSON, error) {
	var (
		c   runColumnsJSON
		err error
	)
	if run.Trigger != nil {
		if c.trigger, err = json.Marshal(run.Trigger); err != nil {
			return c, fmt.Errorf("marshal trigger: %w", err)
		}
	}
	if c.variables, err = json.Marshal(nonNil(run.Variables)); err != nil {
		return c, fmt.Errorf("marshal variables: %w", err)
	}
	if c.steps, err = json.Marshal(nonNil(run.Steps)); err != nil {
		return c, fmt.Errorf("marshal steps: %w", err)
	}
	if c.loops, err = json.Marshal(nonNil(run.Loops)); err != nil {
		return c, fmt.Errorf("marshal loops: %w", err)
	}
	return c, nil
}

func nonNil[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}

// Create inserts a new run.
func (s *PgRunStore) Create(ctx context.Context, run model.RunSnapshot) error {
	cols, err := encodeRun(run)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`,
		run.ID, run.WorkflowID, run.Status, run.CurrentNode, run.LastError,
		cols.trigger, cols.variables, cols.steps, cols.loops,
		run.Version, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(fmt.Sprintf("run %q already exists", run.ID))
	}
	return nil
}

// Get retrieves a run by ID.
func (s *PgRunStore) Get(ctx context.Context, runID string) (model.RunSnapshot, error) {
	run, err := scanRun(s.pool.QueryRow(ctx, `
		SELECT `+runColumns+`
		FROM workflow_runs
		WHERE id = $1`,
		runID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RunSnapshot{}, model.NewNotFoundError(fmt.Sprintf("run %q not found", runID))
	}
	if err != nil {
		return model.RunSnapshot{}, fmt.Errorf("query run: %w", err)
	}
	return run, nil
}

// Update persists an updated run with optimistic locking.
func (s *PgRunStore) Update(ctx context.Context, run model.RunSnapshot) error {
	cols, err := encodeRun(run)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_runs SET
			status = $1,
			current_node = $2,
			last_error = $3,
			trigger = $4,
			variables = $5,
			steps = $6,
			loops = $7,
			version = $8,
			updated_at = $9
		WHERE id = $10 AND version = $11`,
		run.Status, run.CurrentNode, run.LastError,
		cols.trigger, cols.variables, cols.steps, cols.loops,
		run.Version+1, time.Now().UTC(),
		run.ID, run.Version,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("run %q version conflict (expected %d)", run.ID, run.Version),
		)
	}
	return nil
}

// AppendEvent adds an event to the run audit trail.
func (s *PgRunStore) AppendEvent(ctx context.Context, event model.RunEvent) error {
	var dataJSON []byte
	if event.Data != nil {
		var err error
		if dataJSON, err = json.Marshal(event.Data); err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_run_events (id, run_id, node_id, event, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.RunID, event.NodeID, event.Event, dataJSON, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert run event: %w", err)
	}
	return nil
}

// GetEvents retrieves all events for a run.
func (s *PgRunStore) GetEvents(ctx context.Context, runID string) ([]model.RunEvent, error) {
	if _, err := s.Get(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, node_id, event, data, created_at
		FROM workflow_run_events
		WHERE run_id = $1
		ORDER BY created_at ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	defer rows.Close()

	var events []model.RunEvent
	for rows.Next() {
		var evt model.RunEvent
		var dataJSON []byte
		if err := rows.Scan(&evt.ID, &evt.RunID, &evt.NodeID, &evt.Event, &dataJSON, &evt.Timestamp); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		if dataJSON != nil {
			if err := json.Unmarshal(dataJSON, &evt.Data); err != nil {
				return nil, fmt.Errorf("unmarshal event data: %w", err)
			}
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// List returns runs matching the filters, newest first.
func (s *PgRunStore) List(ctx context.Context, filters RunFilters) ([]model.RunSnapshot, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_runs WHERE TRUE`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filters.WorkflowID != "" {
		query += " AND workflow_id = " + arg(filters.WorkflowID)
	}
	if filters.Status != "" {
		query += " AND status = " + arg(filters.Status)
	}
	query += " ORDER BY created_at DESC, id"
	if filters.Limit > 0 {
		query += " LIMIT " + arg(filters.Limit)
	}
	if filters.Offset > 0 {
		query += " OFFSET " + arg(filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []model.RunSnapshot{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Delete removes a run; its events go with it through the foreign key.
func (s *PgRunStore) Delete(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflow_runs WHERE id = $1`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("run %q not found", runID))
	}
	return nil
}

func scanRun(row pgx.Row) (model.RunSnapshot, error) {
	var run model.RunSnapshot
	var cols runColumnsJSON
	if err := row.Scan(
		&run.ID, &run.WorkflowID, &run.Status, &run.CurrentNode, &run.LastError,
		&cols.trigger, &cols.variables, &cols.steps, &cols.loops,
		&run.Version, &run.CreatedAt, &run.UpdatedAt,
	); err != nil {
		return model.RunSnapshot{}, err
	}

	if cols.trigger != nil {
		if err := json.Unmarshal(cols.trigger, &run.Trigger); err != nil {
			return model.RunSnapshot{}, fmt.Errorf("unmarshal trigger: %w", err)
		}
	}
	if err := json.Unmarshal(cols.variables, &run.Variables); err != nil {
		return model.RunSnapshot{}, fmt.Errorf("unmarshal variables: %w", err)
	}
	if err := json.Unmarshal(cols.steps, &run.Steps); err != nil {
		return model.RunSnapshot{}, fmt.Errorf("unmarshal steps: %w", err)
	}
	if err := json.Unmarshal(cols.loops, &run.Loops); err != nil {
		return model.RunSnapshot{}, fmt.Errorf("unmarshal loops: %w", err)
	}
	return run, nil
}
