// Package brands registers the brand object and its actions. Brands are the
// counterparties campaigns are sold to; they are team-scoped with no
// campaign dimension.
package brands

import (
	"context"

	"github.com/Plabrum/arive/internal/actions"
	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/objects"
	"github.com/Plabrum/arive/internal/scope"
)

const ObjectType = "brands"

var statuses = []string{"Active", "Paused", "Former"}

func Descriptor() *objects.Object {
	return &objects.Object{
		Type:       ObjectType,
		Table:      "brands",
		SoftDelete: true,
		TeamScoped: true,
		Columns: []objects.ColumnDefinition{
			{Key: "name", Label: "Name", Type: objects.FieldString, Sortable: true, Filterable: true, DefaultVisible: true, Editable: true},
			{Key: "contact_email", Label: "Contact Email", Type: objects.FieldEmail, Sortable: true, Filterable: true, DefaultVisible: true, Editable: true},
			{Key: "website", Label: "Website", Type: objects.FieldURL, DefaultVisible: true, Editable: true},
			{Key: "status", Label: "Status", Type: objects.FieldEnum, Sortable: true, Filterable: true, DefaultVisible: true, Editable: true, EnumValues: statuses},
			{Key: "created_at", Label: "Created", Type: objects.FieldDatetime, Sortable: true, Filterable: true},
		},
		DefaultSort:   []objects.Sort{{Column: "name"}},
		TopLevelGroup: ObjectType,
		ObjectGroup:   ObjectType,
	}
}

// Register wires the object descriptor and action group.
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
	group.MustRegister(&archiveAction{})
	group.MustRegister(&deleteAction{}, &actions.Rule{
		Expression: `record.status == "Active"`,
		Message:    "Active brands cannot be deleted; archive them first",
	})
	return nil
}

type createAction struct{ actions.Base }

func (a *createAction) Key() string      { return "create" }
func (a *createAction) Label() string    { return "Create Brand" }
func (a *createAction) Priority() int    { return 0 }
func (a *createAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapWrite}
}

func (a *createAction) Payload() *actions.PayloadSpec {
	return &actions.PayloadSpec{Fields: []actions.PayloadField{
		{Key: "name", Label: "Name", Type: objects.FieldString, Required: true},
		{Key: "contact_email", Label: "Contact Email", Type: objects.FieldEmail},
		{Key: "website", Label: "Website", Type: objects.FieldURL},
	}}
}

func (a *createAction) Available(row map[string]any, sc scope.Current) bool {
	return row == nil && sc.Kind == scope.Team
}

func (a *createAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	name := actions.PayloadString(ec.Payload, "name")
	if name == "" {
		return nil, apperror.BadRequest("name is required")
	}
	row, err := ec.Deps.Engine.Insert(ctx, ec.Tx, ec.Object, map[string]any{
		"team_id":       ec.Scope.TeamID,
		"name":          name,
		"contact_email": actions.PayloadString(ec.Payload, "contact_email"),
		"website":       actions.PayloadString(ec.Payload, "website"),
		"status":        "Active",
	})
	if err != nil {
		return nil, err
	}
	return &actions.Response{
		Message: "Brand created",
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
		{Key: "contact_email", Label: "Contact Email", Type: objects.FieldEmail},
		{Key: "website", Label: "Website", Type: objects.FieldURL},
		{Key: "status", Label: "Status", Type: objects.FieldEnum, EnumValues: statuses},
		{Key: "expected_version", Label: "Expected Version", Type: objects.FieldInt},
	}}
}

func (a *updateAction) RequiresRow() bool { return true }

func (a *updateAction) Available(row map[string]any, _ scope.Current) bool {
	return row != nil
}

func (a *updateAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	fields := map[string]any{}
	for _, key := range []string{"name", "contact_email", "website", "status"} {
		if actions.PayloadHas(ec.Payload, key) {
			fields[key] = actions.PayloadString(ec.Payload, key)
		}
	}
	changes, err := ec.Deps.Engine.Update(ctx, ec.Tx, ec.Object, ec.Row, fields,
		actions.PayloadInt64(ec.Payload, "expected_version"))
	if err != nil {
		return nil, err
	}
	return &actions.Response{Message: "Brand updated", Changes: changes}, nil
}

type archiveAction struct{ actions.Base }

func (a *archiveAction) Key() string   { return "archive" }
func (a *archiveAction) Label() string { return "Archive" }
func (a *archiveAction) Priority() int { return 20 }
func (a *archiveAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapWrite}
}

func (a *archiveAction) RequiresRow() bool { return true }

func (a *archiveAction) Available(row map[string]any, _ scope.Current) bool {
	if row == nil {
		return false
	}
	status, _ := row["status"].(string)
	return status == "Active" || status == "Paused"
}

func (a *archiveAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	before, _ := ec.Row["status"].(string)
	changes, err := ec.Deps.Engine.Update(ctx, ec.Tx, ec.Object, ec.Row,
		map[string]any{"status": "Former"}, 0)
	if err != nil {
		return nil, err
	}
	id, _ := ec.Row["id"].(int64)
	if err := ec.Deps.Audit.LogTransition(ctx, ec.Tx, ec.Scope, ObjectType, id,
		"status", before, "Former", ec.Actor.UserID); err != nil {
		return nil, err
	}
	return &actions.Response{Message: "Brand archived", Changes: changes}, nil
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
	return &actions.Response{Message: "Brand deleted"}, nil
}
