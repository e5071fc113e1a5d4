package actions

import (
	"context"
	"database/sql"

	"github.com/Plabrum/arive/internal/objects"
	"github.com/Plabrum/arive/internal/scope"
)

// Capability is a unit of permission an action requires from the caller.
// The set a user holds is derived from their membership role at login.
type Capability string

const (
	CapRead    Capability = "read"
	CapWrite   Capability = "write"
	CapDestroy Capability = "destroy"
	CapBilling Capability = "billing"
	CapAdmin   Capability = "admin"
)

// Actor is the authenticated caller as the dispatcher sees it.
type Actor struct {
	UserID       int64
	Email        string
	Capabilities []Capability
}

// Can reports whether the actor holds every required capability.
func (a Actor) Can(required []Capability) bool {
	for _, req := range required {
		found := false
		for _, have := range a.Capabilities {
			if have == req {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the caller, or a zero Actor with no capabilities.
func ActorFromContext(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok {
		return a
	}
	return Actor{}
}

// PayloadField describes one field an action accepts.
type PayloadField struct {
	Key        string            `json:"key"`
	Label      string            `json:"label"`
	Type       objects.FieldType `json:"type"`
	Required   bool              `json:"required"`
	EnumValues []string          `json:"enum_values,omitempty"`
}

// PayloadSpec is the declared shape of an action's request body. Actions
// with a nil spec take no payload; unknown keys are always rejected.
type PayloadSpec struct {
	Fields []PayloadField `json:"fields"`
}

// Response is what a completed action hands back to the client. Changes is
// not sent over the wire; the dispatcher copies it into the audit trail.
type Response struct {
	Message           string                `json:"message,omitempty"`
	Result            any                   `json:"result,omitempty"`
	InvalidateQueries []string              `json:"invalidate_queries,omitempty"`
	Changes           []objects.FieldChange `json:"-"`
}

// ExecContext carries everything an action body may touch. The transaction
// already has the caller's tenant scope applied.
type ExecContext struct {
	Tx      *sql.Tx
	Scope   scope.Current
	Actor   Actor
	Object  *objects.Object
	Row     map[string]any
	Payload map[string]any
	Deps    *Deps
}

// Action is one operation on one object type. Implementations declare what
// they need up front so availability and permission checks stay data-driven.
type Action interface {
	Key() string
	Label() string
	Priority() int
	BulkAllowed() bool
	Requires() []Capability
	// RequiresRow declares whether the action targets an existing row. The
	// dispatcher rejects a trigger without an object id before touching
	// availability, so the client sees a malformed request, not a conflict.
	RequiresRow() bool
	Payload() *PayloadSpec
	Available(row map[string]any, sc scope.Current) bool
	Execute(ctx context.Context, ec *ExecContext) (*Response, error)
}

// Base carries the declarative half of an Action so concrete types only
// implement Available and Execute.
type Base struct {
	ActionKey      string
	ActionLabel    string
	ActionPriority int
	Bulk           bool
	Caps           []Capability
	Spec           *PayloadSpec
}

func (b Base) Key() string            { return b.ActionKey }
func (b Base) Label() string          { return b.ActionLabel }
func (b Base) Priority() int          { return b.ActionPriority }
func (b Base) BulkAllowed() bool      { return b.Bulk }
func (b Base) Requires() []Capability { return b.Caps }
func (b Base) RequiresRow() bool      { return false }
func (b Base) Payload() *PayloadSpec  { return b.Spec }

// Available defaults to always; actions with state preconditions override.
func (b Base) Available(_ map[string]any, _ scope.Current) bool { return true }

// Rule is an expression guard evaluated before Execute. The expression sees
// "record", "payload" and "actor_email"; a true result blocks the action.
type Rule struct {
	Expression string
	Message    string

	compiled any
}
