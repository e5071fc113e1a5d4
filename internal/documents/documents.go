// Package documents registers the contract-document object and its
// extraction pipeline. Extraction runs through the task queue: the action
// only flips extraction_status to Pending and enqueues, the worker talks
// to the LLM.
package documents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Plabrum/arive/internal/actions"
	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/objects"
	"github.com/Plabrum/arive/internal/scope"
)

const ObjectType = "documents"

const (
	ExtractionNone      = "None"
	ExtractionPending   = "Pending"
	ExtractionCompleted = "Completed"
	ExtractionFailed    = "Failed"
)

var extractionStatuses = []string{ExtractionNone, ExtractionPending, ExtractionCompleted, ExtractionFailed}

const presignTTL = 15 * time.Minute

func Descriptor() *objects.Object {
	return &objects.Object{
		Type:           ObjectType,
		Table:          "documents",
		SoftDelete:     true,
		TeamScoped:     true,
		CampaignColumn: "campaign_id",
		Columns: []objects.ColumnDefinition{
			{Key: "title", Label: "Title", Type: objects.FieldString, Sortable: true, Filterable: true, DefaultVisible: true, Editable: true},
			{Key: "campaign_id", Label: "Campaign", Type: objects.FieldObject, Filterable: true, DefaultVisible: true, Nullable: true,
				QueryRelationship: "campaigns", QueryColumn: "name", ForeignKey: "campaign_id"},
			{Key: "extraction_status", Label: "Extraction", Type: objects.FieldEnum, Sortable: true, Filterable: true, DefaultVisible: true, EnumValues: extractionStatuses},
			{Key: "created_at", Label: "Created", Type: objects.FieldDatetime, Sortable: true, Filterable: true, DefaultVisible: true},
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
	group.MustRegister(&uploadAction{})
	group.MustRegister(&extractAction{})
	group.MustRegister(&downloadAction{})
	group.MustRegister(&deleteAction{})
	return nil
}

type uploadAction struct{ actions.Base }

func (a *uploadAction) Key() string   { return "upload" }
func (a *uploadAction) Label() string { return "Upload Contract" }
func (a *uploadAction) Priority() int { return 0 }
func (a *uploadAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapWrite}
}

func (a *uploadAction) Payload() *actions.PayloadSpec {
	return &actions.PayloadSpec{Fields: []actions.PayloadField{
		{Key: "title", Label: "Title", Type: objects.FieldString, Required: true},
		{Key: "campaign_id", Label: "Campaign", Type: objects.FieldObject},
	}}
}

func (a *uploadAction) Available(row map[string]any, sc scope.Current) bool {
	return row == nil && sc.Kind == scope.Team
}

func (a *uploadAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	title := actions.PayloadString(ec.Payload, "title")
	if title == "" {
		return nil, apperror.BadRequest("title is required")
	}
	key := fmt.Sprintf("documents/%d/%s", ec.Scope.TeamID, uuid.NewString())
	fields := map[string]any{
		"team_id":           ec.Scope.TeamID,
		"title":             title,
		"storage_key":       key,
		"extraction_status": ExtractionNone,
	}
	if actions.PayloadHas(ec.Payload, "campaign_id") {
		fields["campaign_id"] = actions.PayloadInt64(ec.Payload, "campaign_id")
	}
	row, err := ec.Deps.Engine.Insert(ctx, ec.Tx, ec.Object, fields)
	if err != nil {
		return nil, err
	}
	url, err := ec.Deps.Storage.PresignUpload(ctx, key, "application/pdf", presignTTL)
	if err != nil {
		return nil, apperror.Integration("presign upload: " + err.Error())
	}
	return &actions.Response{
		Message: "Upload URL issued",
		Result: map[string]any{
			"id":         row["id"],
			"upload_url": url,
			"expires_in": int(presignTTL.Seconds()),
		},
	}, nil
}

type extractAction struct{ actions.Base }

func (a *extractAction) Key() string   { return "extract" }
func (a *extractAction) Label() string { return "Extract Terms" }
func (a *extractAction) Priority() int { return 10 }
func (a *extractAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapWrite}
}

func (a *extractAction) RequiresRow() bool { return true }

func (a *extractAction) Available(row map[string]any, _ scope.Current) bool {
	if row == nil {
		return false
	}
	status, _ := row["extraction_status"].(string)
	return status == ExtractionNone || status == ExtractionFailed
}

func (a *extractAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	if ec.Deps.Extract == nil {
		return nil, apperror.Integration("document extraction is not configured")
	}
	status, _ := ec.Row["extraction_status"].(string)
	if status == ExtractionPending {
		return nil, apperror.Conflict("Extraction is already running")
	}
	changes, err := ec.Deps.Engine.Update(ctx, ec.Tx, ec.Object, ec.Row,
		map[string]any{"extraction_status": ExtractionPending}, 0)
	if err != nil {
		return nil, err
	}
	id, _ := ec.Row["id"].(int64)
	if err := ec.Deps.Tasks.Enqueue(ctx, ec.Tx, TaskExtract,
		extractPayload{DocumentID: id}, time.Now()); err != nil {
		return nil, err
	}
	return &actions.Response{Message: "Extraction queued", Changes: changes}, nil
}

type downloadAction struct{ actions.Base }

func (a *downloadAction) Key() string   { return "download" }
func (a *downloadAction) Label() string { return "Download" }
func (a *downloadAction) Priority() int { return 20 }
func (a *downloadAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapRead}
}

func (a *downloadAction) RequiresRow() bool { return true }

func (a *downloadAction) Available(row map[string]any, _ scope.Current) bool {
	return row != nil
}

func (a *downloadAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	key, _ := ec.Row["storage_key"].(string)
	url, err := ec.Deps.Storage.PresignDownload(ctx, key, presignTTL)
	if err != nil {
		return nil, apperror.Integration("presign download: " + err.Error())
	}
	return &actions.Response{
		Result: map[string]any{
			"download_url": url,
			"expires_in":   int(presignTTL.Seconds()),
		},
	}, nil
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
	if key, _ := ec.Row["storage_key"].(string); key != "" {
		if err := ec.Deps.Storage.Delete(ctx, key); err != nil {
			slog.Warn("document storage cleanup failed", "key", key, "error", err)
		}
	}
	return &actions.Response{Message: "Document deleted"}, nil
}
