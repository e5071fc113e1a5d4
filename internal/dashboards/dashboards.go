// Package dashboards registers team dashboards: a named list of widgets,
// each widget a time-series query served by the generic data endpoint.
package dashboards

import (
	"context"
	"encoding/json"

	"github.com/Plabrum/arive/internal/actions"
	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/objects"
	"github.com/Plabrum/arive/internal/scope"
)

const ObjectType = "dashboards"

func Descriptor() *objects.Object {
	return &objects.Object{
		Type:       ObjectType,
		Table:      "dashboards",
		SoftDelete: true,
		TeamScoped: true,
		Columns: []objects.ColumnDefinition{
			{Key: "name", Label: "Name", Type: objects.FieldString, Sortable: true, Filterable: true, DefaultVisible: true, Editable: true},
			{Key: "widgets", Label: "Widgets", Type: objects.FieldJSON, Editable: true},
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

// normalizeWidgets checks every widget targets a registered object before
// the JSON is stored, so the data endpoint never renders a dangling type.
func normalizeWidgets(reg *objects.Registry, v any) (string, error) {
	list, ok := v.([]any)
	if !ok {
		return "", apperror.BadRequest("widgets must be an array")
	}
	for _, w := range list {
		widget, ok := w.(map[string]any)
		if !ok {
			return "", apperror.BadRequest("each widget must be an object")
		}
		objectType, _ := widget["object_type"].(string)
		if reg.Get(objectType) == nil {
			return "", apperror.UnknownObject(objectType)
		}
	}
	blob, err := json.Marshal(list)
	if err != nil {
		return "", apperror.BadRequest("widgets are not serializable")
	}
	return string(blob), nil
}

type createAction struct{ actions.Base }

func (a *createAction) Key() string   { return "create" }
func (a *createAction) Label() string { return "Create Dashboard" }
func (a *createAction) Priority() int { return 0 }
func (a *createAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapWrite}
}

func (a *createAction) Payload() *actions.PayloadSpec {
	return &actions.PayloadSpec{Fields: []actions.PayloadField{
		{Key: "name", Label: "Name", Type: objects.FieldString, Required: true},
		{Key: "widgets", Label: "Widgets", Type: objects.FieldJSON},
	}}
}

func (a *createAction) Available(row map[string]any, sc scope.Current) bool {
	return row == nil && sc.Kind == scope.Team
}

func (a *createAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	widgets := "[]"
	if actions.PayloadHas(ec.Payload, "widgets") {
		var err error
		widgets, err = normalizeWidgets(ec.Deps.Objects, ec.Payload["widgets"])
		if err != nil {
			return nil, err
		}
	}
	row, err := ec.Deps.Engine.Insert(ctx, ec.Tx, ec.Object, map[string]any{
		"team_id": ec.Scope.TeamID,
		"name":    actions.PayloadString(ec.Payload, "name"),
		"widgets": widgets,
	})
	if err != nil {
		return nil, err
	}
	return &actions.Response{
		Message: "Dashboard created",
		Result:  map[string]any{"id": row["id"]},
	}, nil
}

type updateAction struct{ actions.Base }

func (a *updateAction) Key() string   { return "update" }
func (a *updateAction) Label() string { return "Edit" }
func (a *updateAction) Priority() int { return 10 }
func (a *updateAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapWrite}
}

func (a *updateAction) Payload() *actions.PayloadSpec {
	return &actions.PayloadSpec{Fields: []actions.PayloadField{
		{Key: "name", Label: "Name", Type: objects.FieldString},
		{Key: "widgets", Label: "Widgets", Type: objects.FieldJSON},
		{Key: "expected_version", Label: "Expected Version", Type: objects.FieldInt},
	}}
}

func (a *updateAction) RequiresRow() bool { return true }

func (a *updateAction) Available(row map[string]any, _ scope.Current) bool {
	return row != nil
}

func (a *updateAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	fields := map[string]any{}
	if actions.PayloadHas(ec.Payload, "name") {
		fields["name"] = actions.PayloadString(ec.Payload, "name")
	}
	if actions.PayloadHas(ec.Payload, "widgets") {
		widgets, err := normalizeWidgets(ec.Deps.Objects, ec.Payload["widgets"])
		if err != nil {
			return nil, err
		}
		fields["widgets"] = widgets
	}
	changes, err := ec.Deps.Engine.Update(ctx, ec.Tx, ec.Object, ec.Row, fields,
		actions.PayloadInt64(ec.Payload, "expected_version"))
	if err != nil {
		return nil, err
	}
	return &actions.Response{Message: "Dashboard updated", Changes: changes}, nil
}

type deleteAction struct{ actions.Base }

func (a *deleteAction) Key() string   { return "delete" }
func (a *deleteAction) Label() string { return "Delete" }
func (a *deleteAction) Priority() int { return 90 }
func (a *deleteAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapDestroy}
}

func (a *deleteAction) RequiresRow() bool { return true }

func (a *deleteAction) Available(row map[string]any, _ scope.Current) bool {
	return row != nil
}

func (a *deleteAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	id, _ := ec.Row["id"].(int64)
	if err := ec.Deps.Engine.SoftDelete(ctx, ec.Tx, ec.Object, id); err != nil {
		return nil, err
	}
	return &actions.Response{Message: "Dashboard deleted"}, nil
}
