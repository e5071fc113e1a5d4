// Package campaigns registers the campaign object and the status state
// machine. Campaigns are the dual-scope root of the model: team members see
// all of a team's campaigns, campaign guests see exactly one.
package campaigns

import (
	"context"

	"github.com/Plabrum/arive/internal/actions"
	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/objects"
	"github.com/Plabrum/arive/internal/scope"
)

const ObjectType = "campaigns"

const (
	StatusDraft     = "Draft"
	StatusActive    = "Active"
	StatusCompleted = "Completed"
	StatusArchived  = "Archived"
)

var statuses = []string{StatusDraft, StatusActive, StatusCompleted, StatusArchived}

// transitions maps a status to the statuses it may move to. Archived is
// terminal.
var transitions = map[string][]string{
	StatusDraft:     {StatusActive, StatusArchived},
	StatusActive:    {StatusCompleted, StatusArchived},
	StatusCompleted: {StatusArchived},
	StatusArchived:  {},
}

func canTransition(from, to string) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

func Descriptor() *objects.Object {
	return &objects.Object{
		Type:           ObjectType,
		Table:          "campaigns",
		SoftDelete:     true,
		TeamScoped:     true,
		CampaignColumn: "id",
		Columns: []objects.ColumnDefinition{
			{Key: "name", Label: "Name", Type: objects.FieldString, Sortable: true, Filterable: true, DefaultVisible: true, Editable: true},
			{Key: "status", Label: "Status", Type: objects.FieldEnum, Sortable: true, Filterable: true, DefaultVisible: true, EnumValues: statuses},
			{Key: "brand_id", Label: "Brand", Type: objects.FieldObject, Filterable: true, DefaultVisible: true, Editable: true, Nullable: true,
				QueryRelationship: "brands", QueryColumn: "name", ForeignKey: "brand_id"},
			{Key: "budget_cents", Label: "Budget", Type: objects.FieldUSD, Sortable: true, Filterable: true, DefaultVisible: true, Editable: true},
			{Key: "starts_at", Label: "Start Date", Type: objects.FieldDate, Sortable: true, Filterable: true, DefaultVisible: true, Editable: true, Nullable: true},
			{Key: "ends_at", Label: "End Date", Type: objects.FieldDate, Sortable: true, Filterable: true, Editable: true, Nullable: true},
			{Key: "created_at", Label: "Created", Type: objects.FieldDatetime, Sortable: true, Filterable: true},
		},
		DefaultSort:   []objects.Sort{{Column: "created_at", Desc: true}},
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
	group.MustRegister(&transitionAction{key: "activate", label: "Activate", to: StatusActive, priority: 20})
	group.MustRegister(&transitionAction{key: "complete", label: "Mark Completed", to: StatusCompleted, priority: 21})
	group.MustRegister(&transitionAction{key: "archive", label: "Archive", to: StatusArchived, priority: 22})
	group.MustRegister(&deleteAction{}, &actions.Rule{
		Expression: `record.status == "Active"`,
		Message:    "Active campaigns cannot be deleted",
	})
	return nil
}

type createAction struct{ actions.Base }

func (a *createAction) Key() string   { return "create" }
func (a *createAction) Label() string { return "Create Campaign" }
func (a *createAction) Priority() int { return 0 }
func (a *createAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapWrite}
}

func (a *createAction) Payload() *actions.PayloadSpec {
	return &actions.PayloadSpec{Fields: []actions.PayloadField{
		{Key: "name", Label: "Name", Type: objects.FieldString, Required: true},
		{Key: "brand_id", Label: "Brand", Type: objects.FieldObject},
		{Key: "budget_cents", Label: "Budget", Type: objects.FieldUSD},
		{Key: "starts_at", Label: "Start Date", Type: objects.FieldDate},
		{Key: "ends_at", Label: "End Date", Type: objects.FieldDate},
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
	fields := map[string]any{
		"team_id":      ec.Scope.TeamID,
		"name":         name,
		"status":       StatusDraft,
		"budget_cents": actions.PayloadInt64(ec.Payload, "budget_cents"),
	}
	if actions.PayloadHas(ec.Payload, "brand_id") {
		fields["brand_id"] = actions.PayloadInt64(ec.Payload, "brand_id")
	}
	for _, key := range []string{"starts_at", "ends_at"} {
		if actions.PayloadHas(ec.Payload, key) {
			fields[key] = actions.PayloadTime(ec.Payload, key)
		}
	}
	row, err := ec.Deps.Engine.Insert(ctx, ec.Tx, ec.Object, fields)
	if err != nil {
		return nil, err
	}
	return &actions.Response{
		Message: "Campaign created",
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
		{Key: "brand_id", Label: "Brand", Type: objects.FieldObject},
		{Key: "budget_cents", Label: "Budget", Type: objects.FieldUSD},
		{Key: "starts_at", Label: "Start Date", Type: objects.FieldDate},
		{Key: "ends_at", Label: "End Date", Type: objects.FieldDate},
		{Key: "expected_version", Label: "Expected Version", Type: objects.FieldInt},
	}}
}

func (a *updateAction) RequiresRow() bool { return true }

func (a *updateAction) Available(row map[string]any, _ scope.Current) bool {
	if row == nil {
		return false
	}
	status, _ := row["status"].(string)
	return status != StatusArchived
}

func (a *updateAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	fields := map[string]any{}
	if actions.PayloadHas(ec.Payload, "name") {
		fields["name"] = actions.PayloadString(ec.Payload, "name")
	}
	if actions.PayloadHas(ec.Payload, "brand_id") {
		fields["brand_id"] = actions.PayloadInt64(ec.Payload, "brand_id")
	}
	if actions.PayloadHas(ec.Payload, "budget_cents") {
		fields["budget_cents"] = actions.PayloadInt64(ec.Payload, "budget_cents")
	}
	for _, key := range []string{"starts_at", "ends_at"} {
		if actions.PayloadHas(ec.Payload, key) {
			fields[key] = actions.PayloadTime(ec.Payload, key)
		}
	}
	changes, err := ec.Deps.Engine.Update(ctx, ec.Tx, ec.Object, ec.Row, fields,
		actions.PayloadInt64(ec.Payload, "expected_version"))
	if err != nil {
		return nil, err
	}
	return &actions.Response{Message: "Campaign updated", Changes: changes}, nil
}

// transitionAction moves a campaign along the status state machine and logs
// the move to state_transitions.
type transitionAction struct {
	actions.Base
	key      string
	label    string
	to       string
	priority int
}

func (a *transitionAction) Key() string   { return a.key }
func (a *transitionAction) Label() string { return a.label }
func (a *transitionAction) Priority() int { return a.priority }
func (a *transitionAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapWrite}
}

func (a *transitionAction) RequiresRow() bool { return true }

func (a *transitionAction) Available(row map[string]any, _ scope.Current) bool {
	if row == nil {
		return false
	}
	status, _ := row["status"].(string)
	return canTransition(status, a.to)
}

func (a *transitionAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	from, _ := ec.Row["status"].(string)
	if !canTransition(from, a.to) {
		return nil, apperror.Conflict("Campaign cannot move from " + from + " to " + a.to)
	}
	changes, err := ec.Deps.Engine.Update(ctx, ec.Tx, ec.Object, ec.Row,
		map[string]any{"status": a.to}, 0)
	if err != nil {
		return nil, err
	}
	id, _ := ec.Row["id"].(int64)
	if err := ec.Deps.Audit.LogTransition(ctx, ec.Tx, ec.Scope, ObjectType, id,
		"status", from, a.to, ec.Actor.UserID); err != nil {
		return nil, err
	}
	return &actions.Response{Message: "Campaign " + a.to, Changes: changes}, nil
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
	return &actions.Response{Message: "Campaign deleted"}, nil
}
