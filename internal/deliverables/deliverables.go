// Package deliverables registers the deliverable object: a single piece of
// campaign content (a post, a story, a video) with a platform, a due date
// and a negotiated rate.
package deliverables

import (
	"context"

	"github.com/Plabrum/arive/internal/actions"
	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/objects"
	"github.com/Plabrum/arive/internal/scope"
)

const ObjectType = "deliverables"

var (
	platforms = []string{"Instagram", "TikTok", "YouTube", "Other"}
	statuses  = []string{"Planned", "InProgress", "Submitted", "Approved", "Posted"}
)

func Descriptor() *objects.Object {
	return &objects.Object{
		Type:           ObjectType,
		Table:          "deliverables",
		SoftDelete:     true,
		TeamScoped:     true,
		CampaignColumn: "campaign_id",
		Columns: []objects.ColumnDefinition{
			{Key: "title", Label: "Title", Type: objects.FieldString, Sortable: true, Filterable: true, DefaultVisible: true, Editable: true},
			{Key: "campaign_id", Label: "Campaign", Type: objects.FieldObject, Filterable: true, DefaultVisible: true,
				QueryRelationship: "campaigns", QueryColumn: "name", ForeignKey: "campaign_id"},
			{Key: "platform", Label: "Platform", Type: objects.FieldEnum, Sortable: true, Filterable: true, DefaultVisible: true, Editable: true, EnumValues: platforms},
			{Key: "status", Label: "Status", Type: objects.FieldEnum, Sortable: true, Filterable: true, DefaultVisible: true, Editable: true, EnumValues: statuses},
			{Key: "due_at", Label: "Due", Type: objects.FieldDate, Sortable: true, Filterable: true, DefaultVisible: true, Editable: true, Nullable: true},
			{Key: "rate_cents", Label: "Rate", Type: objects.FieldUSD, Sortable: true, Filterable: true, DefaultVisible: true, Editable: true},
			{Key: "created_at", Label: "Created", Type: objects.FieldDatetime, Sortable: true, Filterable: true},
		},
		DefaultSort:   []objects.Sort{{Column: "due_at"}},
		TopLevelGroup: "campaigns",
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
	group.MustRegister(&deleteAction{}, &actions.Rule{
		Expression: `record.status == "Posted"`,
		Message:    "Posted deliverables cannot be deleted",
	})
	return nil
}

type createAction struct{ actions.Base }

func (a *createAction) Key() string   { return "create" }
func (a *createAction) Label() string { return "Add Deliverable" }
func (a *createAction) Priority() int { return 0 }
func (a *createAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapWrite}
}

func (a *createAction) Payload() *actions.PayloadSpec {
	return &actions.PayloadSpec{Fields: []actions.PayloadField{
		{Key: "campaign_id", Label: "Campaign", Type: objects.FieldObject, Required: true},
		{Key: "title", Label: "Title", Type: objects.FieldString, Required: true},
		{Key: "platform", Label: "Platform", Type: objects.FieldEnum, EnumValues: platforms},
		{Key: "due_at", Label: "Due", Type: objects.FieldDate},
		{Key: "rate_cents", Label: "Rate", Type: objects.FieldUSD},
	}}
}

func (a *createAction) Available(row map[string]any, sc scope.Current) bool {
	return row == nil && sc.Kind == scope.Team
}

func (a *createAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	campaignID := actions.PayloadInt64(ec.Payload, "campaign_id")
	if campaignID == 0 {
		return nil, apperror.BadRequest("campaign_id is required")
	}
	// The campaign must be visible in the current scope; GetByID applies
	// the tenant predicate.
	campaignsObj := ec.Deps.Objects.Get("campaigns")
	if _, err := ec.Deps.Engine.GetByID(ctx, ec.Tx, campaignsObj, ec.Scope, campaignID); err != nil {
		return nil, err
	}
	platform := actions.PayloadString(ec.Payload, "platform")
	if platform == "" {
		platform = "Instagram"
	}
	fields := map[string]any{
		"team_id":     ec.Scope.TeamID,
		"campaign_id": campaignID,
		"title":       actions.PayloadString(ec.Payload, "title"),
		"platform":    platform,
		"status":      "Planned",
		"rate_cents":  actions.PayloadInt64(ec.Payload, "rate_cents"),
	}
	if actions.PayloadHas(ec.Payload, "due_at") {
		fields["due_at"] = actions.PayloadTime(ec.Payload, "due_at")
	}
	row, err := ec.Deps.Engine.Insert(ctx, ec.Tx, ec.Object, fields)
	if err != nil {
		return nil, err
	}
	return &actions.Response{
		Message:           "Deliverable added",
		Result:            map[string]any{"id": row["id"]},
		InvalidateQueries: []string{ObjectType, "campaigns"},
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
		{Key: "title", Label: "Title", Type: objects.FieldString},
		{Key: "platform", Label: "Platform", Type: objects.FieldEnum, EnumValues: platforms},
		{Key: "status", Label: "Status", Type: objects.FieldEnum, EnumValues: statuses},
		{Key: "due_at", Label: "Due", Type: objects.FieldDate},
		{Key: "rate_cents", Label: "Rate", Type: objects.FieldUSD},
		{Key: "expected_version", Label: "Expected Version", Type: objects.FieldInt},
	}}
}

func (a *updateAction) RequiresRow() bool { return true }

func (a *updateAction) Available(row map[string]any, _ scope.Current) bool {
	return row != nil
}

func (a *updateAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	fields := map[string]any{}
	for _, key := range []string{"title", "platform", "status"} {
		if actions.PayloadHas(ec.Payload, key) {
			fields[key] = actions.PayloadString(ec.Payload, key)
		}
	}
	if actions.PayloadHas(ec.Payload, "rate_cents") {
		fields["rate_cents"] = actions.PayloadInt64(ec.Payload, "rate_cents")
	}
	if actions.PayloadHas(ec.Payload, "due_at") {
		fields["due_at"] = actions.PayloadTime(ec.Payload, "due_at")
	}
	changes, err := ec.Deps.Engine.Update(ctx, ec.Tx, ec.Object, ec.Row, fields,
		actions.PayloadInt64(ec.Payload, "expected_version"))
	if err != nil {
		return nil, err
	}
	return &actions.Response{Message: "Deliverable updated", Changes: changes}, nil
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
	return &actions.Response{Message: "Deliverable deleted"}, nil
}
