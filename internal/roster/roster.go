// Package roster registers the creator-roster object: the influencers a
// team works with, their platform handles and their base rate.
package roster

import (
	"context"

	"github.com/Plabrum/arive/internal/actions"
	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/objects"
	"github.com/Plabrum/arive/internal/scope"
)

const ObjectType = "roster_members"

func Descriptor() *objects.Object {
	return &objects.Object{
		Type:       ObjectType,
		Table:      "roster_members",
		SoftDelete: true,
		TeamScoped: true,
		Columns: []objects.ColumnDefinition{
			{Key: "name", Label: "Name", Type: objects.FieldString, Sortable: true, Filterable: true, DefaultVisible: true, Editable: true},
			{Key: "email", Label: "Email", Type: objects.FieldEmail, Sortable: true, Filterable: true, DefaultVisible: true, Editable: true},
			{Key: "instagram_handle", Label: "Instagram", Type: objects.FieldString, Filterable: true, DefaultVisible: true, Editable: true},
			{Key: "tiktok_handle", Label: "TikTok", Type: objects.FieldString, Filterable: true, Editable: true},
			{Key: "youtube_handle", Label: "YouTube", Type: objects.FieldString, Filterable: true, Editable: true},
			{Key: "base_rate_cents", Label: "Base Rate", Type: objects.FieldUSD, Sortable: true, Filterable: true, DefaultVisible: true, Editable: true},
			{Key: "created_at", Label: "Added", Type: objects.FieldDatetime, Sortable: true, Filterable: true},
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

var editableKeys = []string{"name", "email", "instagram_handle", "tiktok_handle", "youtube_handle"}

func payloadFields(required bool) []actions.PayloadField {
	return []actions.PayloadField{
		{Key: "name", Label: "Name", Type: objects.FieldString, Required: required},
		{Key: "email", Label: "Email", Type: objects.FieldEmail},
		{Key: "instagram_handle", Label: "Instagram", Type: objects.FieldString},
		{Key: "tiktok_handle", Label: "TikTok", Type: objects.FieldString},
		{Key: "youtube_handle", Label: "YouTube", Type: objects.FieldString},
		{Key: "base_rate_cents", Label: "Base Rate", Type: objects.FieldUSD},
	}
}

type createAction struct{ actions.Base }

func (a *createAction) Key() string   { return "create" }
func (a *createAction) Label() string { return "Add Creator" }
func (a *createAction) Priority() int { return 0 }
func (a *createAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapWrite}
}

func (a *createAction) Payload() *actions.PayloadSpec {
	return &actions.PayloadSpec{Fields: payloadFields(true)}
}

func (a *createAction) Available(row map[string]any, sc scope.Current) bool {
	return row == nil && sc.Kind == scope.Team
}

func (a *createAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	name := actions.PayloadString(ec.Payload, "name")
	if name == "" {
		return nil, apperror.BadRequest("name is required")
	}
	fields := map[string]any{
		"team_id":         ec.Scope.TeamID,
		"base_rate_cents": actions.PayloadInt64(ec.Payload, "base_rate_cents"),
	}
	for _, key := range editableKeys {
		fields[key] = actions.PayloadString(ec.Payload, key)
	}
	row, err := ec.Deps.Engine.Insert(ctx, ec.Tx, ec.Object, fields)
	if err != nil {
		return nil, err
	}
	return &actions.Response{
		Message: "Creator added",
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
	fields := payloadFields(false)
	fields = append(fields, actions.PayloadField{Key: "expected_version", Label: "Expected Version", Type: objects.FieldInt})
	return &actions.PayloadSpec{Fields: fields}
}

func (a *updateAction) RequiresRow() bool { return true }

func (a *updateAction) Available(row map[string]any, _ scope.Current) bool {
	return row != nil
}

func (a *updateAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	fields := map[string]any{}
	for _, key := range editableKeys {
		if actions.PayloadHas(ec.Payload, key) {
			fields[key] = actions.PayloadString(ec.Payload, key)
		}
	}
	if actions.PayloadHas(ec.Payload, "base_rate_cents") {
		fields["base_rate_cents"] = actions.PayloadInt64(ec.Payload, "base_rate_cents")
	}
	changes, err := ec.Deps.Engine.Update(ctx, ec.Tx, ec.Object, ec.Row, fields,
		actions.PayloadInt64(ec.Payload, "expected_version"))
	if err != nil {
		return nil, err
	}
	return &actions.Response{Message: "Creator updated", Changes: changes}, nil
}

type deleteAction struct{ actions.Base }

func (a *deleteAction) Key() string   { return "delete" }
func (a *deleteAction) Label() string { return "Remove" }
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
	return &actions.Response{Message: "Creator removed"}, nil
}
