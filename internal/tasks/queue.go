// Package tasks is a database-backed job queue. Work items land in the
// tasks table inside the transaction that produced them, so a rolled-back
// action never leaves an orphaned job behind.
package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Plabrum/arive/internal/scope"
	"github.com/Plabrum/arive/internal/store"
)

const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Handler processes one task payload. It runs inside a system-scoped
// transaction; returning an error schedules a retry with backoff.
type Handler func(ctx context.Context, tx *sql.Tx, payload json.RawMessage) error

// Queue owns enqueueing and the background poller.
type Queue struct {
	store *store.Store

	mu       sync.RWMutex
	handlers map[string]Handler

	interval time.Duration
	ticker   *time.Ticker
	done     chan struct{}
}

func NewQueue(s *store.Store) *Queue {
	return &Queue{
		store:    s,
		handlers: map[string]Handler{},
		interval: 5 * time.Second,
	}
}

// RegisterHandler binds a kind to its handler. Startup wiring only;
// duplicate kinds are a configuration error.
func (q *Queue) RegisterHandler(kind string, h Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.handlers[kind]; exists {
		return fmt.Errorf("task handler %q registered twice", kind)
	}
	q.handlers[kind] = h
	return nil
}

// Enqueue inserts a task due at runAt. Pass the caller's transaction so the
// job commits with the work that requested it.
func (q *Queue) Enqueue(ctx context.Context, qr store.Querier, kind string, payload any, runAt time.Time) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal task payload: %w", err)
	}
	pb := q.store.Dialect.NewParamBuilder()
	sql := fmt.Sprintf(
		`INSERT INTO tasks (kind, payload, status, run_at) VALUES (%s, %s, %s, %s)`,
		pb.Add(kind), pb.Add(string(b)), pb.Add(StatusPending), pb.Add(runAt.UTC()))
	if _, err := store.Exec(ctx, qr, sql, pb.Params()...); err != nil {
		return fmt.Errorf("enqueue task %s: %w", kind, err)
	}
	return nil
}

// Start begins the background poller.
func (q *Queue) Start() {
	q.ticker = time.NewTicker(q.interval)
	q.done = make(chan struct{})
	go q.run()
	slog.Info("task queue started", "interval", q.interval)
}

// Stop halts the poller. In-flight tasks finish their transaction.
func (q *Queue) Stop() {
	if q.ticker != nil {
		q.ticker.Stop()
	}
	if q.done != nil {
		close(q.done)
	}
}

func (q *Queue) run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.ticker.C:
			q.processDue(context.Background())
		}
	}
}

// processDue claims and runs everything that is due. Exported for tests to
// drive the queue without the ticker.
func (q *Queue) ProcessDue(ctx context.Context) {
	q.processDue(ctx)
}

func (q *Queue) processDue(ctx context.Context) {
	pb := q.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf(
		`SELECT * FROM tasks WHERE status = %s AND run_at <= %s ORDER BY run_at ASC LIMIT 50`,
		pb.Add(StatusPending), pb.Add(time.Now().UTC()))
	rows, err := store.QueryRows(ctx, q.store.DB, query, pb.Params()...)
	if err != nil {
		slog.Error("task poll", "error", err)
		return
	}
	for _, row := range rows {
		q.runOne(ctx, row)
	}
}

func (q *Queue) runOne(ctx context.Context, row map[string]any) {
	id, _ := row["id"].(int64)
	kind, _ := row["kind"].(string)
	attempts := toInt(row["attempts"])
	maxAttempts := toInt(row["max_attempts"])

	q.mu.RLock()
	handler, ok := q.handlers[kind]
	q.mu.RUnlock()
	if !ok {
		q.finish(ctx, id, StatusFailed, attempts, fmt.Sprintf("no handler for kind %q", kind))
		return
	}

	var payload json.RawMessage
	switch v := row["payload"].(type) {
	case string:
		payload = json.RawMessage(v)
	case []byte:
		payload = json.RawMessage(v)
	}

	// Tasks run as the system across tenants; handlers that need a tenant
	// boundary carry team_id in their payload and re-scope themselves.
	err := q.store.RunInTx(ctx, scope.System(), func(tx *sql.Tx) error {
		return handler(ctx, tx, payload)
	})

	attempts++
	if err == nil {
		q.finish(ctx, id, StatusDone, attempts, "")
		return
	}

	slog.Error("task failed", "id", id, "kind", kind, "attempt", attempts, "error", err)
	if attempts >= maxAttempts {
		q.finish(ctx, id, StatusFailed, attempts, err.Error())
		return
	}
	q.retry(ctx, id, attempts, err.Error())
}

func (q *Queue) finish(ctx context.Context, id int64, status string, attempts int, lastError string) {
	pb := q.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf(
		`UPDATE tasks SET status = %s, attempts = %s, last_error = %s, updated_at = %s WHERE id = %s`,
		pb.Add(status), pb.Add(attempts), pb.Add(lastError), pb.Add(time.Now().UTC()), pb.Add(id))
	if _, err := store.Exec(ctx, q.store.DB, query, pb.Params()...); err != nil {
		slog.Error("task finish", "id", id, "error", err)
	}
}

// retry reschedules with exponential backoff: 30s, 60s, 120s and so on.
func (q *Queue) retry(ctx context.Context, id int64, attempts int, lastError string) {
	delay := time.Duration(math.Pow(2, float64(attempts-1))) * 30 * time.Second
	pb := q.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf(
		`UPDATE tasks SET attempts = %s, last_error = %s, run_at = %s, updated_at = %s WHERE id = %s`,
		pb.Add(attempts), pb.Add(lastError), pb.Add(time.Now().UTC().Add(delay)),
		pb.Add(time.Now().UTC()), pb.Add(id))
	if _, err := store.Exec(ctx, q.store.DB, query, pb.Params()...); err != nil {
		slog.Error("task retry", "id", id, "error", err)
	}
}

func toInt(v any) int {
	switch val := v.(type) {
	case int64:
		return int(val)
	case int:
		return val
	case float64:
		return int(val)
	}
	return 0
}
