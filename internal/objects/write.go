package objects

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/store"
)

// FieldChange records one before/after pair for the audit trail.
type FieldChange struct {
	Field  string `json:"field"`
	Before any    `json:"before"`
	After  any    `json:"after"`
}

// Insert creates a row from the given field map and returns the fresh row.
func (e *Engine) Insert(ctx context.Context, q store.Querier, obj *Object, fields map[string]any) (map[string]any, error) {
	keys := sortedKeys(fields)
	pb := e.dialect.NewParamBuilder()

	cols := make([]string, 0, len(keys))
	placeholders := make([]string, 0, len(keys))
	for _, k := range keys {
		cols = append(cols, k)
		placeholders = append(placeholders, pb.Add(fields[k]))
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		obj.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	// pgx has no LastInsertId; use RETURNING there and read back by rowid
	// on sqlite.
	if e.dialect.Name() == "postgres" {
		row, err := store.QueryRow(ctx, q, sql+" RETURNING *", pb.Params()...)
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", obj.Table, e.dialect.MapError(err))
		}
		return row, nil
	}

	result, err := q.ExecContext(ctx, sql, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", obj.Table, e.dialect.MapError(err))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert %s: last insert id: %w", obj.Table, err)
	}
	readPB := e.dialect.NewParamBuilder()
	return store.QueryRow(ctx, q,
		fmt.Sprintf("SELECT * FROM %s WHERE id = %s", obj.Table, readPB.Add(id)), readPB.Params()...)
}

// Update applies the field map to one row, bumps object_version and
// returns the before/after diffs of the fields that actually changed.
// When expectedVersion > 0 it is enforced as an optimistic-lock
// precondition; a mismatch is a 409 conflict.
func (e *Engine) Update(ctx context.Context, q store.Querier, obj *Object, current map[string]any, fields map[string]any, expectedVersion int64) ([]FieldChange, error) {
	id, _ := current["id"].(int64)

	if expectedVersion > 0 {
		if v, _ := current["object_version"].(int64); v != expectedVersion {
			return nil, apperror.Conflict(fmt.Sprintf(
				"%s %d was modified by someone else (version %d, expected %d)",
				obj.Type, id, v, expectedVersion))
		}
	}

	var changes []FieldChange
	for _, k := range sortedKeys(fields) {
		if before, ok := current[k]; !ok || fmt.Sprintf("%v", before) != fmt.Sprintf("%v", fields[k]) {
			changes = append(changes, FieldChange{Field: k, Before: current[k], After: fields[k]})
		}
	}
	if len(changes) == 0 {
		return nil, nil
	}

	pb := e.dialect.NewParamBuilder()
	sets := make([]string, 0, len(changes)+2)
	for _, c := range changes {
		sets = append(sets, fmt.Sprintf("%s = %s", c.Field, pb.Add(fields[c.Field])))
	}
	sets = append(sets, "object_version = object_version + 1")
	sets = append(sets, fmt.Sprintf("updated_at = %s", e.dialect.NowExpr()))

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s",
		obj.Table, strings.Join(sets, ", "), pb.Add(id))
	if _, err := store.Exec(ctx, q, sql, pb.Params()...); err != nil {
		return nil, fmt.Errorf("update %s/%d: %w", obj.Table, id, e.dialect.MapError(err))
	}
	return changes, nil
}

// SoftDelete stamps deleted_at; the row stays queryable for audit via
// explicit not-null checks but disappears from default lists.
func (e *Engine) SoftDelete(ctx context.Context, q store.Querier, obj *Object, id int64) error {
	pb := e.dialect.NewParamBuilder()
	sql := fmt.Sprintf("UPDATE %s SET deleted_at = %s WHERE id = %s AND deleted_at IS NULL",
		obj.Table, e.dialect.NowExpr(), pb.Add(id))
	affected, err := store.Exec(ctx, q, sql, pb.Params()...)
	if err != nil {
		return fmt.Errorf("soft delete %s/%d: %w", obj.Table, id, err)
	}
	if affected == 0 {
		return apperror.NotFound(obj.Type, fmt.Sprintf("%d", id))
	}
	return nil
}

// HardDelete removes the row entirely. Used only by objects without
// soft-delete semantics.
func (e *Engine) HardDelete(ctx context.Context, q store.Querier, obj *Object, id int64) error {
	pb := e.dialect.NewParamBuilder()
	sql := fmt.Sprintf("DELETE FROM %s WHERE id = %s", obj.Table, pb.Add(id))
	affected, err := store.Exec(ctx, q, sql, pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete %s/%d: %w", obj.Table, id, err)
	}
	if affected == 0 {
		return apperror.NotFound(obj.Type, fmt.Sprintf("%d", id))
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
