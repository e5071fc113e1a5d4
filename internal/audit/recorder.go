// Package audit persists the activity trail: one action_logs row per action
// trigger, one state_transitions row per lifecycle field change, and a
// buffered low-priority event stream.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Plabrum/arive/internal/objects"
	"github.com/Plabrum/arive/internal/scope"
	"github.com/Plabrum/arive/internal/store"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ActionEntry is one recorded action trigger.
type ActionEntry struct {
	ActionGroup    string
	ActionKey      string
	ObjectType     string
	ObjectID       int64
	ActorID        int64
	Status         string
	Message        string
	IdempotencyKey string
	Result         any
	Changes        []objects.FieldChange
	OccurredAt     time.Time
}

// Recorder writes audit rows inside the caller's transaction so the trail
// commits or rolls back with the work it describes.
type Recorder struct {
	store *store.Store
}

func NewRecorder(s *store.Store) *Recorder {
	return &Recorder{store: s}
}

func (r *Recorder) LogAction(ctx context.Context, q store.Querier, sc scope.Current, entry ActionEntry) error {
	var resultJSON, changesJSON any
	if entry.Result != nil {
		b, err := json.Marshal(entry.Result)
		if err != nil {
			return fmt.Errorf("marshal action result: %w", err)
		}
		resultJSON = string(b)
	}
	if len(entry.Changes) > 0 {
		b, err := json.Marshal(entry.Changes)
		if err != nil {
			return fmt.Errorf("marshal action changes: %w", err)
		}
		changesJSON = string(b)
	}

	var objectID, actorID any
	if entry.ObjectID != 0 {
		objectID = entry.ObjectID
	}
	if entry.ActorID != 0 {
		actorID = entry.ActorID
	}
	var idemKey any
	if entry.IdempotencyKey != "" {
		idemKey = entry.IdempotencyKey
	}

	pb := r.store.Dialect.NewParamBuilder()
	sql := fmt.Sprintf(
		`INSERT INTO action_logs
		 (team_id, action_group, action_key, object_type, object_id, actor_id,
		  status, message, idempotency_key, result, changes, created_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(sc.TeamID), pb.Add(entry.ActionGroup), pb.Add(entry.ActionKey),
		pb.Add(entry.ObjectType), pb.Add(objectID), pb.Add(actorID),
		pb.Add(entry.Status), pb.Add(entry.Message), pb.Add(idemKey),
		pb.Add(resultJSON), pb.Add(changesJSON), pb.Add(entry.OccurredAt))
	if _, err := store.Exec(ctx, q, sql, pb.Params()...); err != nil {
		return fmt.Errorf("log action %s__%s: %w", entry.ActionGroup, entry.ActionKey, err)
	}
	return nil
}

// FindIdempotent returns the most recent successful log row for the same
// action, object and idempotency key within the caller's team, or
// store.ErrNotFound. Matching the object and team keeps a reused key from
// replaying a different row's, or another tenant's, recorded result.
func (r *Recorder) FindIdempotent(ctx context.Context, q store.Querier, sc scope.Current, group, key string, objectID int64, idemKey string) (map[string]any, error) {
	pb := r.store.Dialect.NewParamBuilder()
	objectClause := "object_id IS NULL"
	if objectID != 0 {
		objectClause = "object_id = " + pb.Add(objectID)
	}
	sql := fmt.Sprintf(
		`SELECT * FROM action_logs
		 WHERE team_id = %s AND action_group = %s AND action_key = %s AND %s
		   AND idempotency_key = %s AND status = %s
		 ORDER BY id DESC LIMIT 1`,
		pb.Add(sc.TeamID), pb.Add(group), pb.Add(key), objectClause,
		pb.Add(idemKey), pb.Add(StatusSuccess))
	return store.QueryRow(ctx, q, sql, pb.Params()...)
}

// LogTransition records a lifecycle field moving between values.
func (r *Recorder) LogTransition(ctx context.Context, q store.Querier, sc scope.Current, objType string, objID int64, field, from, to string, actorID int64) error {
	var actor any
	if actorID != 0 {
		actor = actorID
	}
	pb := r.store.Dialect.NewParamBuilder()
	sql := fmt.Sprintf(
		`INSERT INTO state_transitions
		 (team_id, object_type, object_id, field, from_value, to_value, actor_id)
		 VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(sc.TeamID), pb.Add(objType), pb.Add(objID),
		pb.Add(field), pb.Add(from), pb.Add(to), pb.Add(actor))
	if _, err := store.Exec(ctx, q, sql, pb.Params()...); err != nil {
		return fmt.Errorf("log transition %s.%s: %w", objType, field, err)
	}
	return nil
}

// Transitions lists the recorded transitions for one object, newest first.
func (r *Recorder) Transitions(ctx context.Context, q store.Querier, objType string, objID int64) ([]map[string]any, error) {
	pb := r.store.Dialect.NewParamBuilder()
	sql := fmt.Sprintf(
		`SELECT * FROM state_transitions WHERE object_type = %s AND object_id = %s ORDER BY id DESC`,
		pb.Add(objType), pb.Add(objID))
	return store.QueryRows(ctx, q, sql, pb.Params()...)
}
