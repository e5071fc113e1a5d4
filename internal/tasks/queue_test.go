package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/Plabrum/arive/internal/config"
	"github.com/Plabrum/arive/internal/store"
)

func testQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		Path:   t.TempDir(),
		Name:   "test",
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	t.Cleanup(s.Close)
	return NewQueue(s), s
}

func taskRow(t *testing.T, s *store.Store, kind string) map[string]any {
	t.Helper()
	ctx := context.Background()
	pb := s.Dialect.NewParamBuilder()
	row, err := store.QueryRow(ctx, s.DB,
		"SELECT * FROM tasks WHERE kind = "+pb.Add(kind), pb.Params()...)
	if err != nil {
		t.Fatalf("read task row: %v", err)
	}
	return row
}

func TestQueue_RunsDueTask(t *testing.T) {
	q, s := testQueue(t)
	ctx := context.Background()

	var got string
	err := q.RegisterHandler("greet", func(_ context.Context, _ *sql.Tx, payload json.RawMessage) error {
		var p struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		got = p.Name
		return nil
	})
	if err != nil {
		t.Fatalf("register handler: %v", err)
	}

	if err := q.Enqueue(ctx, s.DB, "greet", map[string]any{"name": "world"}, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.ProcessDue(ctx)

	if got != "world" {
		t.Fatalf("handler did not run, got %q", got)
	}
	row := taskRow(t, s, "greet")
	if status, _ := row["status"].(string); status != StatusDone {
		t.Fatalf("expected status done, got %q", status)
	}
}

func TestQueue_NotDueYet(t *testing.T) {
	q, s := testQueue(t)
	ctx := context.Background()

	ran := false
	if err := q.RegisterHandler("later", func(context.Context, *sql.Tx, json.RawMessage) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("register handler: %v", err)
	}
	if err := q.Enqueue(ctx, s.DB, "later", nil, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.ProcessDue(ctx)

	if ran {
		t.Fatal("future task must not run")
	}
	row := taskRow(t, s, "later")
	if status, _ := row["status"].(string); status != StatusPending {
		t.Fatalf("expected status pending, got %q", status)
	}
}

func TestQueue_RetryWithBackoff(t *testing.T) {
	q, s := testQueue(t)
	ctx := context.Background()

	calls := 0
	if err := q.RegisterHandler("flaky", func(context.Context, *sql.Tx, json.RawMessage) error {
		calls++
		return fmt.Errorf("boom %d", calls)
	}); err != nil {
		t.Fatalf("register handler: %v", err)
	}
	if err := q.Enqueue(ctx, s.DB, "flaky", nil, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	q.ProcessDue(ctx)
	if calls != 1 {
		t.Fatalf("expected 1 attempt, got %d", calls)
	}
	row := taskRow(t, s, "flaky")
	if status, _ := row["status"].(string); status != StatusPending {
		t.Fatalf("failed task must stay pending for retry, got %q", status)
	}
	if lastErr, _ := row["last_error"].(string); lastErr != "boom 1" {
		t.Fatalf("last_error = %q", lastErr)
	}

	// The retry is pushed into the future, so polling again is a no-op.
	q.ProcessDue(ctx)
	if calls != 1 {
		t.Fatalf("retried before backoff elapsed, %d calls", calls)
	}
}

func TestQueue_ExhaustedAttemptsFail(t *testing.T) {
	q, s := testQueue(t)
	ctx := context.Background()

	if err := q.RegisterHandler("doomed", func(context.Context, *sql.Tx, json.RawMessage) error {
		return fmt.Errorf("always fails")
	}); err != nil {
		t.Fatalf("register handler: %v", err)
	}
	if err := q.Enqueue(ctx, s.DB, "doomed", nil, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pb := s.Dialect.NewParamBuilder()
	if _, err := store.Exec(ctx, s.DB,
		"UPDATE tasks SET max_attempts = 1 WHERE kind = "+pb.Add("doomed"), pb.Params()...); err != nil {
		t.Fatalf("set max_attempts: %v", err)
	}

	q.ProcessDue(ctx)
	row := taskRow(t, s, "doomed")
	if status, _ := row["status"].(string); status != StatusFailed {
		t.Fatalf("expected status failed, got %q", status)
	}
}

func TestQueue_UnknownKindFails(t *testing.T) {
	q, s := testQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, s.DB, "mystery", nil, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.ProcessDue(ctx)

	row := taskRow(t, s, "mystery")
	if status, _ := row["status"].(string); status != StatusFailed {
		t.Fatalf("expected status failed for unhandled kind, got %q", status)
	}
}

func TestQueue_DuplicateHandlerRegistration(t *testing.T) {
	q, _ := testQueue(t)

	h := func(context.Context, *sql.Tx, json.RawMessage) error { return nil }
	if err := q.RegisterHandler("dup", h); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := q.RegisterHandler("dup", h); err == nil {
		t.Fatal("expected error on duplicate registration")
	}
}
