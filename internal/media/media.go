// Package media registers the media-asset object. File bytes never pass
// through the API: request_upload hands the client a presigned PUT URL,
// confirm_upload records the result, download hands back a presigned GET.
package media

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

const ObjectType = "media_assets"

const presignTTL = 15 * time.Minute

func Descriptor() *objects.Object {
	return &objects.Object{
		Type:           ObjectType,
		Table:          "media_assets",
		SoftDelete:     true,
		TeamScoped:     true,
		CampaignColumn: "campaign_id",
		Columns: []objects.ColumnDefinition{
			{Key: "file_name", Label: "File", Type: objects.FieldString, Sortable: true, Filterable: true, DefaultVisible: true},
			{Key: "campaign_id", Label: "Campaign", Type: objects.FieldObject, Filterable: true, DefaultVisible: true, Nullable: true,
				QueryRelationship: "campaigns", QueryColumn: "name", ForeignKey: "campaign_id"},
			{Key: "content_type", Label: "Type", Type: objects.FieldString, Filterable: true, DefaultVisible: true},
			{Key: "size_bytes", Label: "Size", Type: objects.FieldInt, Sortable: true, DefaultVisible: true},
			{Key: "uploaded_at", Label: "Uploaded", Type: objects.FieldDatetime, Sortable: true, Nullable: true, DefaultVisible: true},
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
	group.MustRegister(&requestUploadAction{})
	group.MustRegister(&confirmUploadAction{})
	group.MustRegister(&downloadAction{})
	group.MustRegister(&deleteAction{})
	return nil
}

type requestUploadAction struct{ actions.Base }

func (a *requestUploadAction) Key() string   { return "request_upload" }
func (a *requestUploadAction) Label() string { return "Upload" }
func (a *requestUploadAction) Priority() int { return 0 }
func (a *requestUploadAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapWrite}
}

func (a *requestUploadAction) Payload() *actions.PayloadSpec {
	return &actions.PayloadSpec{Fields: []actions.PayloadField{
		{Key: "file_name", Label: "File Name", Type: objects.FieldString, Required: true},
		{Key: "content_type", Label: "Content Type", Type: objects.FieldString},
		{Key: "campaign_id", Label: "Campaign", Type: objects.FieldObject},
	}}
}

func (a *requestUploadAction) Available(row map[string]any, sc scope.Current) bool {
	return row == nil && sc.Kind == scope.Team
}

func (a *requestUploadAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	fileName := actions.PayloadString(ec.Payload, "file_name")
	if fileName == "" {
		return nil, apperror.BadRequest("file_name is required")
	}
	contentType := actions.PayloadString(ec.Payload, "content_type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := fmt.Sprintf("media/%d/%s/%s", ec.Scope.TeamID, uuid.NewString(), fileName)

	fields := map[string]any{
		"team_id":      ec.Scope.TeamID,
		"file_name":    fileName,
		"storage_key":  key,
		"content_type": contentType,
	}
	if actions.PayloadHas(ec.Payload, "campaign_id") {
		fields["campaign_id"] = actions.PayloadInt64(ec.Payload, "campaign_id")
	}
	row, err := ec.Deps.Engine.Insert(ctx, ec.Tx, ec.Object, fields)
	if err != nil {
		return nil, err
	}
	url, err := ec.Deps.Storage.PresignUpload(ctx, key, contentType, presignTTL)
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

type confirmUploadAction struct{ actions.Base }

func (a *confirmUploadAction) Key() string   { return "confirm_upload" }
func (a *confirmUploadAction) Label() string { return "Confirm Upload" }
func (a *confirmUploadAction) Priority() int { return 1 }
func (a *confirmUploadAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapWrite}
}

func (a *confirmUploadAction) Payload() *actions.PayloadSpec {
	return &actions.PayloadSpec{Fields: []actions.PayloadField{
		{Key: "size_bytes", Label: "Size", Type: objects.FieldInt},
	}}
}

func (a *confirmUploadAction) RequiresRow() bool { return true }

func (a *confirmUploadAction) Available(row map[string]any, _ scope.Current) bool {
	return row != nil && row["uploaded_at"] == nil
}

func (a *confirmUploadAction) Execute(ctx context.Context, ec *actions.ExecContext) (*actions.Response, error) {
	if ec.Row["uploaded_at"] != nil {
		return nil, apperror.Conflict("Upload already confirmed")
	}
	changes, err := ec.Deps.Engine.Update(ctx, ec.Tx, ec.Object, ec.Row, map[string]any{
		"uploaded_at": time.Now().UTC(),
		"size_bytes":  actions.PayloadInt64(ec.Payload, "size_bytes"),
	}, 0)
	if err != nil {
		return nil, err
	}
	return &actions.Response{Message: "Upload confirmed", Changes: changes}, nil
}

type downloadAction struct{ actions.Base }

func (a *downloadAction) Key() string   { return "download" }
func (a *downloadAction) Label() string { return "Download" }
func (a *downloadAction) Priority() int { return 10 }
func (a *downloadAction) Requires() []actions.Capability {
	return []actions.Capability{actions.CapRead}
}

func (a *downloadAction) RequiresRow() bool { return true }

func (a *downloadAction) Available(row map[string]any, _ scope.Current) bool {
	return row != nil && row["uploaded_at"] != nil
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
	// Remote cleanup is best effort; orphaned blobs are preferable to a
	// delete that fails because storage hiccuped.
	if key, _ := ec.Row["storage_key"].(string); key != "" {
		if err := ec.Deps.Storage.Delete(ctx, key); err != nil {
			slog.Warn("media storage cleanup failed", "key", key, "error", err)
		}
	}
	return &actions.Response{Message: "Media deleted"}, nil
}
