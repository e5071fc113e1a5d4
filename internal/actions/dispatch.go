package actions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/audit"
	"github.com/Plabrum/arive/internal/scope"
	"github.com/Plabrum/arive/internal/store"
)

// Dispatcher resolves and runs actions. One instance serves the whole app.
type Dispatcher struct {
	registry *Registry
	deps     *Deps
}

func NewDispatcher(reg *Registry, deps *Deps) *Dispatcher {
	return &Dispatcher{registry: reg, deps: deps}
}

// TriggerRequest names an action and the row it applies to. ObjectID is 0
// for actions that create rows rather than acting on one.
type TriggerRequest struct {
	Group          string
	Key            string
	ObjectID       int64
	Payload        map[string]any
	IdempotencyKey string
}

// Trigger runs one action end to end: resolve, authorize, check
// availability, validate the payload, evaluate guards, execute, audit.
// A repeated idempotency key returns the recorded result without re-running.
func (d *Dispatcher) Trigger(ctx context.Context, sc scope.Current, req TriggerRequest) (*Response, error) {
	group, action, rules, ok := d.registry.Resolve(req.Group, req.Key)
	if !ok {
		return nil, apperror.UnknownAction(req.Group, req.Key)
	}

	actor := ActorFromContext(ctx)
	if !actor.Can(action.Requires()) {
		return nil, apperror.Forbidden(fmt.Sprintf("Missing capability for %s__%s", req.Group, req.Key))
	}

	if details := validatePayload(action.Payload(), req.Payload); len(details) > 0 {
		return nil, apperror.Validation(details)
	}

	if action.RequiresRow() && req.ObjectID == 0 {
		return nil, apperror.BadRequest(fmt.Sprintf("Action %s__%s requires an object id", req.Group, req.Key))
	}

	var resp *Response
	err := d.deps.Store.RunInTx(ctx, sc, func(tx *sql.Tx) error {
		if req.IdempotencyKey != "" {
			prior, err := d.deps.Audit.FindIdempotent(ctx, tx, sc, req.Group, req.Key, req.ObjectID, req.IdempotencyKey)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if err == nil {
				resp = replayResponse(prior)
				return nil
			}
		}

		var row map[string]any
		if req.ObjectID != 0 && group.ObjectType != "" {
			obj := d.deps.Objects.Get(group.ObjectType)
			if obj == nil {
				return apperror.UnknownObject(group.ObjectType)
			}
			var err error
			row, err = d.deps.Engine.GetByID(ctx, tx, obj, sc, req.ObjectID)
			if err != nil {
				return err
			}
		}

		if !action.Available(row, sc) {
			return apperror.Conflict(fmt.Sprintf("Action %s__%s is not available", req.Group, req.Key))
		}

		if details := EvaluateRules(rules, row, req.Payload, actor); len(details) > 0 {
			return apperror.Validation(details)
		}

		ec := &ExecContext{
			Tx:      tx,
			Scope:   sc,
			Actor:   actor,
			Row:     row,
			Payload: req.Payload,
			Deps:    d.deps,
		}
		if group.ObjectType != "" {
			ec.Object = d.deps.Objects.Get(group.ObjectType)
		}

		var err error
		resp, err = action.Execute(ctx, ec)
		if err != nil {
			return err
		}
		if resp == nil {
			resp = &Response{}
		}
		if len(resp.InvalidateQueries) == 0 && group.ObjectType != "" {
			resp.InvalidateQueries = []string{group.ObjectType}
		}

		return d.deps.Audit.LogAction(ctx, tx, sc, audit.ActionEntry{
			ActionGroup:    req.Group,
			ActionKey:      req.Key,
			ObjectType:     group.ObjectType,
			ObjectID:       req.ObjectID,
			ActorID:        actor.UserID,
			Status:         audit.StatusSuccess,
			Message:        resp.Message,
			IdempotencyKey: req.IdempotencyKey,
			Result:         resp.Result,
			Changes:        resp.Changes,
			OccurredAt:     time.Now().UTC(),
		})
	})
	if err != nil {
		d.recordFailure(ctx, sc, group, req, actor, err)
		return nil, err
	}
	return resp, nil
}

// recordFailure writes the error entry in its own transaction so it
// survives the rollback of the action's work.
func (d *Dispatcher) recordFailure(ctx context.Context, sc scope.Current, group *Group, req TriggerRequest, actor Actor, cause error) {
	var appErr *apperror.AppError
	msg := cause.Error()
	if errors.As(cause, &appErr) {
		msg = appErr.Message
	}
	logErr := d.deps.Store.RunInTx(ctx, sc, func(tx *sql.Tx) error {
		return d.deps.Audit.LogAction(ctx, tx, sc, audit.ActionEntry{
			ActionGroup:    req.Group,
			ActionKey:      req.Key,
			ObjectType:     group.ObjectType,
			ObjectID:       req.ObjectID,
			ActorID:        actor.UserID,
			Status:         audit.StatusError,
			Message:        msg,
			IdempotencyKey: req.IdempotencyKey,
			OccurredAt:     time.Now().UTC(),
		})
	})
	if logErr != nil {
		slog.Error("record action failure", "group", req.Group, "key", req.Key, "error", logErr)
	}
}

// Descriptor is the wire shape of one available action.
type Descriptor struct {
	Key         string       `json:"key"`
	Label       string       `json:"label"`
	Priority    int          `json:"priority"`
	BulkAllowed bool         `json:"bulk_allowed"`
	Payload     *PayloadSpec `json:"payload,omitempty"`
}

// AvailableActions lists the actions of a group the caller may run against
// the given row, ordered by priority with registration order breaking ties.
func (d *Dispatcher) AvailableActions(groupName string, row map[string]any, sc scope.Current, actor Actor) ([]Descriptor, error) {
	group, ok := d.registry.Group(groupName)
	if !ok {
		return nil, apperror.UnknownAction(groupName, "")
	}
	var out []Descriptor
	for _, reg := range group.sorted() {
		if !actor.Can(reg.action.Requires()) {
			continue
		}
		if !reg.action.Available(row, sc) {
			continue
		}
		out = append(out, Descriptor{
			Key:         reg.action.Key(),
			Label:       reg.action.Label(),
			Priority:    reg.action.Priority(),
			BulkAllowed: reg.action.BulkAllowed(),
			Payload:     reg.action.Payload(),
		})
	}
	if out == nil {
		out = []Descriptor{}
	}
	return out, nil
}

// replayResponse rebuilds a Response from a recorded action log row.
func replayResponse(prior map[string]any) *Response {
	resp := &Response{}
	if msg, ok := prior["message"].(string); ok {
		resp.Message = msg
	}
	if raw, ok := prior["result"].(string); ok && raw != "" {
		var result any
		if err := json.Unmarshal([]byte(raw), &result); err == nil {
			resp.Result = result
		}
	} else if raw, ok := prior["result"].([]byte); ok && len(raw) > 0 {
		var result any
		if err := json.Unmarshal(raw, &result); err == nil {
			resp.Result = result
		}
	}
	return resp
}
