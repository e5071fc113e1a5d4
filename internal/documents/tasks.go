package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/Plabrum/arive/internal/actions"
	"github.com/Plabrum/arive/internal/store"
	"github.com/Plabrum/arive/internal/tasks"
)

const TaskExtract = "document_extract"

// maxExtractBytes caps how much of a contract is fed to the model.
const maxExtractBytes = 512 << 10

type extractPayload struct {
	DocumentID int64 `json:"document_id"`
}

// RegisterTasks wires the extraction worker into the queue.
func RegisterTasks(q *tasks.Queue, deps *actions.Deps) error {
	return q.RegisterHandler(TaskExtract, func(ctx context.Context, tx *sql.Tx, raw json.RawMessage) error {
		var p extractPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("extract payload: %w", err)
		}
		return runExtraction(ctx, tx, deps, p.DocumentID)
	})
}

func runExtraction(ctx context.Context, tx *sql.Tx, deps *actions.Deps, docID int64) error {
	pb := deps.Store.Dialect.NewParamBuilder()
	doc, err := store.QueryRow(ctx, tx,
		"SELECT storage_key, extraction_status FROM documents WHERE id = "+pb.Add(docID)+" AND deleted_at IS NULL",
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("load document %d: %w", docID, err)
	}

	key, _ := doc["storage_key"].(string)
	terms, extractErr := extractFromStorage(ctx, deps, key)

	status := ExtractionCompleted
	var extracted any
	if extractErr != nil {
		// A failed extraction is a terminal row state, not a task failure;
		// retrying the task would re-bill the same broken document.
		slog.Warn("document extraction failed", "document_id", docID, "error", extractErr)
		status = ExtractionFailed
	} else {
		blob, err := json.Marshal(terms)
		if err != nil {
			return fmt.Errorf("marshal extracted terms: %w", err)
		}
		extracted = string(blob)
	}

	upb := deps.Store.Dialect.NewParamBuilder()
	_, err = store.Exec(ctx, tx,
		"UPDATE documents SET extraction_status = "+upb.Add(status)+
			", extracted = "+upb.Add(extracted)+
			", updated_at = CURRENT_TIMESTAMP WHERE id = "+upb.Add(docID),
		upb.Params()...)
	if err != nil {
		return fmt.Errorf("store extraction result: %w", err)
	}
	return nil
}

func extractFromStorage(ctx context.Context, deps *actions.Deps, key string) (any, error) {
	rc, err := deps.Storage.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	defer rc.Close()

	text, err := io.ReadAll(io.LimitReader(rc, maxExtractBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	terms, err := deps.Extract.ExtractTerms(ctx, string(text))
	if err != nil {
		return nil, err
	}
	return terms, nil
}
