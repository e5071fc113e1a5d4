// Package views registers saved views: a named list configuration
// (filters, sorts, visible columns) a user keeps for one object type.
// Views belong to the user who saved them.
package views

import (
	"context"
	"encoding/json"

	"github.com/Plabrum/arive/internal/actions"
	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/objects"
	"github.com/Plabrum/arive/internal/scope"
)

const ObjectType = "saved_views"

func Descriptor() *objects.Object {
	return &objects.Object{
		Type:       ObjectType,
		Table:      "saved_views",
		SoftDelete: true,
		TeamScoped: true,
		Columns: []objects.ColumnDefinition{
			{Key: "name", Label: "Name", Type: objects.FieldString, Sortable: true, Filterable: true, DefaultVisible: true, Editable: true},
			{Key: "object_type", Label: "Object", Type: objects.FieldString, Filterable: true, DefaultVisible: true},
			{Key: "user_id", Label: "Owner", Type: objects.FieldObject, Filterable: true,
				QueryRelationship: "users", QueryColumn: "email", ForeignKey: "user_id"},
			{Key: "definition", Label: "Definition", Type: objects.FieldJSON, Editable: true},
			{Key: "created_at", Label: "Created", Type: objects.FieldDatetime, Sortable: true},
		},
		DefaultSort:   []objects.Sort{{Column: "name"}},
		TopLevelGroup: ObjectType,
		ObjectGroup:   ObjectType,
	}
}

func Register(reg *objects.Registry, acts *actions.Registry) error {
	if err := reg.Register(Descriptor()); err != nil {
		return err
	}
	group, err := acts.AddGroup(ObjectType, ObjectType)
	if err != nil {
		return err
	}
	group.MustRegister(&createAction{})
	group.MustRegister(&updateAction{})
	group.MustRegister(&deleteAction{})
	return nil
}

// requireOwner rejects edits to another user's view.
func requireOwner(ec *actions.ExecContext) error {
	owner, _ := ec.Row["user_id"].(int64)
	if owner != ec.Actor.UserID {
		return apperror.Forbidden("Only the view's owner can modify it")
	}
	return nil
}

// normalizeDefinition validates that the definition payload is a JSON
// object and returns its serialized form.
func normalizeDefinition(v any) (string, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", apperror.BadRequest("definition must be an object")
	}
	blob, err := json.Marshal(m)
	if err != nil {
		return "", apperror.BadRequest("definition is not serializable")
	}
	return string(blob), nil
}

type createAction struct{ actions.Base }

func (a *createAction) Key() string   { return "create" }
func (a *createAction) Label() string { return "Save View" }
func (a *createAction) Priority() int { return 0 }
func (a *createAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapRead}
}

func (a *createAction) Payload() *actions.PayloadSpec {
	return &actions.PayloadSpec{Fields: []actions.PayloadField{
		{Key: "name", Label: "Name", Type: objects.FieldString, Required: true},
		{Key: "object_type", Label: "Object", Type: objects.FieldString, Required: true},
		{Key: "definition", Label: "Definition", Type: objects.FieldJSON},
	}}
}

func (a *createAction) Available(row map[string]any, sc scope.Current) bool {
	return row == nil && sc.Kind == scope.Team
}

func (a *createAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	objectType := actions.PayloadString(ec.Payload, "object_type")
	if ec.Deps.Objects.Get(objectType) == nil {
		return nil, apperror.UnknownObject(objectType)
	}
	definition := "{}"
	if actions.PayloadHas(ec.Payload, "definition") {
		var err error
		definition, err = normalizeDefinition(ec.Payload["definition"])
		if err != nil {
			return nil, err
		}
	}
	row, err := ec.Deps.Engine.Insert(ctx, ec.Tx, ec.Object, map[string]any{
		"team_id":     ec.Scope.TeamID,
		"user_id":     ec.Actor.UserID,
		"name":        actions.PayloadString(ec.Payload, "name"),
		"object_type": objectType,
		"definition":  definition,
	})
	if err != nil {
		return nil, err
	}
	return &actions.Response{
		Message: "View saved",
		Result:  map[string]any{"id": row["id"]},
	}, nil
}

type updateAction struct{ actions.Base }

func (a *updateAction) Key() string   { return "update" }
func (a *updateAction) Label() string { return "Edit" }
func (a *updateAction) Priority() int { return 10 }
func (a *updateAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapRead}
}

func (a *updateAction) Payload() *actions.PayloadSpec {
	return &actions.PayloadSpec{Fields: []actions.PayloadField{
		{Key: "name", Label: "Name", Type: objects.FieldString},
		{Key: "definition", Label: "Definition", Type: objects.FieldJSON},
		{Key: "expected_version", Label: "Expected Version", Type: objects.FieldInt},
	}}
}

func (a *updateAction) RequiresRow() bool { return true }

func (a *updateAction) Available(row map[string]any, _ scope.Current) bool {
	return row != nil
}

func (a *updateAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	if err := requireOwner(ec); err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if actions.PayloadHas(ec.Payload, "name") {
		fields["name"] = actions.PayloadString(ec.Payload, "name")
	}
	if actions.PayloadHas(ec.Payload, "definition") {
		definition, err := normalizeDefinition(ec.Payload["definition"])
		if err != nil {
			return nil, err
		}
		fields["definition"] = definition
	}
	changes, err := ec.Deps.Engine.Update(ctx, ec.Tx, ec.Object, ec.Row, fields,
		actions.PayloadInt64(ec.Payload, "expected_version"))
	if err != nil {
		return nil, err
	}
	return &actions.Response{Message: "View updated", Changes: changes}, nil
}

type deleteAction struct{ actions.Base }

func (a *deleteAction) Key() string   { return "delete" }
func (a *deleteAction) Label() string { return "Delete" }
func (a *deleteAction) Priority() int { return 90 }
func (a *deleteAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapRead}
}

func (a *deleteAction) RequiresRow() bool { return true }

func (a *deleteAction) Available(row map[string]any, _ scope.Current) bool {
	return row != nil
}

func (a *deleteAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	if err := requireOwner(ec); err != nil {
		return nil, err
	}
	id, _ := ec.Row["id"].(int64)
	if err := ec.Deps.Engine.SoftDelete(ctx, ec.Tx, ec.Object, id); err != nil {
		return nil, err
	}
	return &actions.Response{Message: "View deleted"}, nil
}
