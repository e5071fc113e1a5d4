// Package invoices registers the invoice object and its lifecycle actions.
// Invoice numbers are unique per team; sending an invoice emails the brand
// contact through the task queue so SMTP failures retry without touching
// the invoice row.
package invoices

import (
	"context"
	"errors"
	"time"

	"github.com/Plabrum/arive/internal/actions"
	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/objects"
	"github.com/Plabrum/arive/internal/scope"
	"github.com/Plabrum/arive/internal/store"
)

const ObjectType = "invoices"

const (
	StatusDraft = "Draft"
	StatusSent  = "Sent"
	StatusPaid  = "Paid"
	StatusVoid  = "Void"
)

var statuses = []string{StatusDraft, StatusSent, StatusPaid, StatusVoid}

func Descriptor() *objects.Object {
	return &objects.Object{
		Type:           ObjectType,
		Table:          "invoices",
		SoftDelete:     true,
		TeamScoped:     true,
		CampaignColumn: "campaign_id",
		Columns: []objects.ColumnDefinition{
			{Key: "number", Label: "Number", Type: objects.FieldString, Sortable: true, Filterable: true, DefaultVisible: true},
			{Key: "campaign_id", Label: "Campaign", Type: objects.FieldObject, Filterable: true, DefaultVisible: true, Nullable: true,
				QueryRelationship: "campaigns", QueryColumn: "name", ForeignKey: "campaign_id"},
			{Key: "brand_id", Label: "Brand", Type: objects.FieldObject, Filterable: true, DefaultVisible: true, Nullable: true,
				QueryRelationship: "brands", QueryColumn: "name", ForeignKey: "brand_id"},
			{Key: "amount_cents", Label: "Amount", Type: objects.FieldUSD, Sortable: true, Filterable: true, DefaultVisible: true, Editable: true},
			{Key: "status", Label: "Status", Type: objects.FieldEnum, Sortable: true, Filterable: true, DefaultVisible: true, EnumValues: statuses},
			{Key: "due_date", Label: "Due", Type: objects.FieldDate, Sortable: true, Filterable: true, DefaultVisible: true, Editable: true, Nullable: true},
			{Key: "sent_at", Label: "Sent", Type: objects.FieldDatetime, Sortable: true, Nullable: true},
			{Key: "paid_at", Label: "Paid", Type: objects.FieldDatetime, Sortable: true, Nullable: true},
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
	group.MustRegister(&updateAction{}, &actions.Rule{
		Expression: `record.status == "Paid" || record.status == "Void"`,
		Message:    "Settled invoices cannot be edited",
	})
	group.MustRegister(&sendAction{})
	group.MustRegister(&markPaidAction{})
	group.MustRegister(&voidAction{})
	group.MustRegister(&deleteAction{}, &actions.Rule{
		Expression: `record.status == "Sent" || record.status == "Paid"`,
		Message:    "Sent invoices cannot be deleted; void them instead",
	})
	return nil
}

type createAction struct{ actions.Base }

func (a *createAction) Key() string   { return "create" }
func (a *createAction) Label() string { return "Create Invoice" }
func (a *createAction) Priority() int { return 0 }
func (a *createAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapBilling}
}

func (a *createAction) Payload() *actions.PayloadSpec {
	return &actions.PayloadSpec{Fields: []actions.PayloadField{
		{Key: "number", Label: "Number", Type: objects.FieldString, Required: true},
		{Key: "amount_cents", Label: "Amount", Type: objects.FieldUSD, Required: true},
		{Key: "campaign_id", Label: "Campaign", Type: objects.FieldObject},
		{Key: "brand_id", Label: "Brand", Type: objects.FieldObject},
		{Key: "due_date", Label: "Due", Type: objects.FieldDate},
	}}
}

func (a *createAction) Available(row map[string]any, sc scope.Current) bool {
	return row == nil && sc.Kind == scope.Team
}

func (a *createAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	number := actions.PayloadString(ec.Payload, "number")
	if number == "" {
		return nil, apperror.BadRequest("number is required")
	}
	fields := map[string]any{
		"team_id":      ec.Scope.TeamID,
		"number":       number,
		"amount_cents": actions.PayloadInt64(ec.Payload, "amount_cents"),
		"status":       StatusDraft,
	}
	if actions.PayloadHas(ec.Payload, "campaign_id") {
		fields["campaign_id"] = actions.PayloadInt64(ec.Payload, "campaign_id")
	}
	if actions.PayloadHas(ec.Payload, "brand_id") {
		fields["brand_id"] = actions.PayloadInt64(ec.Payload, "brand_id")
	}
	if actions.PayloadHas(ec.Payload, "due_date") {
		fields["due_date"] = actions.PayloadTime(ec.Payload, "due_date")
	}
	row, err := ec.Deps.Engine.Insert(ctx, ec.Tx, ec.Object, fields)
	if err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return nil, apperror.Conflict("Invoice number " + number + " already exists")
		}
		return nil, err
	}
	return &actions.Response{
		Message: "Invoice created",
		Result:  map[string]any{"id": row["id"], "number": number},
	}, nil
}

type updateAction struct{ actions.Base }

func (a *updateAction) Key() string   { return "update" }
func (a *updateAction) Label() string { return "Edit" }
func (a *updateAction) Priority() int { return 10 }
func (a *updateAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapBilling}
}

func (a *updateAction) Payload() *actions.PayloadSpec {
	return &actions.PayloadSpec{Fields: []actions.PayloadField{
		{Key: "amount_cents", Label: "Amount", Type: objects.FieldUSD},
		{Key: "due_date", Label: "Due", Type: objects.FieldDate},
		{Key: "expected_version", Label: "Expected Version", Type: objects.FieldInt},
	}}
}

func (a *updateAction) RequiresRow() bool { return true }

func (a *updateAction) Available(row map[string]any, _ scope.Current) bool {
	if row == nil {
		return false
	}
	status, _ := row["status"].(string)
	return status == StatusDraft
}

func (a *updateAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	fields := map[string]any{}
	if actions.PayloadHas(ec.Payload, "amount_cents") {
		fields["amount_cents"] = actions.PayloadInt64(ec.Payload, "amount_cents")
	}
	if actions.PayloadHas(ec.Payload, "due_date") {
		fields["due_date"] = actions.PayloadTime(ec.Payload, "due_date")
	}
	changes, err := ec.Deps.Engine.Update(ctx, ec.Tx, ec.Object, ec.Row, fields,
		actions.PayloadInt64(ec.Payload, "expected_version"))
	if err != nil {
		return nil, err
	}
	return &actions.Response{Message: "Invoice updated", Changes: changes}, nil
}

type sendAction struct{ actions.Base }

func (a *sendAction) Key() string   { return "send" }
func (a *sendAction) Label() string { return "Send" }
func (a *sendAction) Priority() int { return 20 }
func (a *sendAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapBilling}
}

func (a *sendAction) RequiresRow() bool { return true }

func (a *sendAction) Available(row map[string]any, _ scope.Current) bool {
	if row == nil {
		return false
	}
	status, _ := row["status"].(string)
	return status == StatusDraft
}

func (a *sendAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	status, _ := ec.Row["status"].(string)
	if status != StatusDraft {
		return nil, apperror.Conflict("Only draft invoices can be sent")
	}
	changes, err := ec.Deps.Engine.Update(ctx, ec.Tx, ec.Object, ec.Row, map[string]any{
		"status":  StatusSent,
		"sent_at": time.Now().UTC(),
	}, 0)
	if err != nil {
		return nil, err
	}
	id, _ := ec.Row["id"].(int64)
	// The email goes through the queue so a flaky SMTP server retries
	// without rolling back the status change.
	if err := ec.Deps.Tasks.Enqueue(ctx, ec.Tx, TaskSendEmail,
		sendEmailPayload{InvoiceID: id}, time.Now()); err != nil {
		return nil, err
	}
	if err := ec.Deps.Audit.LogTransition(ctx, ec.Tx, ec.Scope, ObjectType, id,
		"status", StatusDraft, StatusSent, ec.Actor.UserID); err != nil {
		return nil, err
	}
	return &actions.Response{Message: "Invoice sent", Changes: changes}, nil
}

type markPaidAction struct{ actions.Base }

func (a *markPaidAction) Key() string   { return "mark_paid" }
func (a *markPaidAction) Label() string { return "Mark Paid" }
func (a *markPaidAction) Priority() int { return 21 }
func (a *markPaidAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapBilling}
}

func (a *markPaidAction) RequiresRow() bool { return true }

func (a *markPaidAction) Available(row map[string]any, _ scope.Current) bool {
	if row == nil {
		return false
	}
	status, _ := row["status"].(string)
	return status == StatusSent
}

func (a *markPaidAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	status, _ := ec.Row["status"].(string)
	if status != StatusSent {
		return nil, apperror.Conflict("Only sent invoices can be marked paid")
	}
	changes, err := ec.Deps.Engine.Update(ctx, ec.Tx, ec.Object, ec.Row, map[string]any{
		"status":  StatusPaid,
		"paid_at": time.Now().UTC(),
	}, 0)
	if err != nil {
		return nil, err
	}
	id, _ := ec.Row["id"].(int64)
	if err := ec.Deps.Audit.LogTransition(ctx, ec.Tx, ec.Scope, ObjectType, id,
		"status", StatusSent, StatusPaid, ec.Actor.UserID); err != nil {
		return nil, err
	}
	return &actions.Response{Message: "Invoice marked paid", Changes: changes}, nil
}

type voidAction struct{ actions.Base }

func (a *voidAction) Key() string   { return "void" }
func (a *voidAction) Label() string { return "Void" }
func (a *voidAction) Priority() int { return 22 }
func (a *voidAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapBilling}
}

func (a *voidAction) RequiresRow() bool { return true }

func (a *voidAction) Available(row map[string]any, _ scope.Current) bool {
	if row == nil {
		return false
	}
	status, _ := row["status"].(string)
	return status == StatusDraft || status == StatusSent
}

func (a *voidAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	from, _ := ec.Row["status"].(string)
	if from == StatusPaid || from == StatusVoid {
		return nil, apperror.Conflict("Invoice is already settled")
	}
	changes, err := ec.Deps.Engine.Update(ctx, ec.Tx, ec.Object, ec.Row,
		map[string]any{"status": StatusVoid}, 0)
	if err != nil {
		return nil, err
	}
	id, _ := ec.Row["id"].(int64)
	if err := ec.Deps.Audit.LogTransition(ctx, ec.Tx, ec.Scope, ObjectType, id,
		"status", from, StatusVoid, ec.Actor.UserID); err != nil {
		return nil, err
	}
	return &actions.Response{Message: "Invoice voided", Changes: changes}, nil
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
	if row == nil {
		return false
	}
	status, _ := row["status"].(string)
	return status == StatusDraft || status == StatusVoid
}

func (a *deleteAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	id, _ := ec.Row["id"].(int64)
	if err := ec.Deps.Engine.SoftDelete(ctx, ec.Tx, ec.Object, id); err != nil {
		return nil, err
	}
	return &actions.Response{Message: "Invoice deleted"}, nil
}
