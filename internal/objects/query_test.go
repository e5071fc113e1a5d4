package objects

import (
	"context"
	"errors"
	"testing"

	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/config"
	"github.com/Plabrum/arive/internal/scope"
	"github.com/Plabrum/arive/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		Path:   t.TempDir(),
		Name:   "test",
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func asAppError(err error, target **apperror.AppError) bool {
	return errors.As(err, target)
}

func brandsObject() *Object {
	return &Object{
		Type:       "brands",
		Table:      "brands",
		SoftDelete: true,
		TeamScoped: true,
		Columns: []ColumnDefinition{
			{Key: "name", Label: "Name", Type: FieldString, Sortable: true, Filterable: true},
			{Key: "status", Label: "Status", Type: FieldEnum, Filterable: true, EnumValues: []string{"Active", "Former"}},
		},
		DefaultSort: []Sort{{Column: "name"}},
	}
}

func seedBrand(t *testing.T, s *store.Store, e *Engine, obj *Object, teamID int64, name string) map[string]any {
	t.Helper()
	row, err := e.Insert(context.Background(), s.DB, obj, map[string]any{
		"team_id": teamID,
		"name":    name,
		"status":  "Active",
	})
	if err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
	return row
}

func TestList_TeamIsolation(t *testing.T) {
	s := testStore(t)
	e := NewEngine(s.Dialect)
	obj := brandsObject()

	seedBrand(t, s, e, obj, 1, "Acme")
	seedBrand(t, s, e, obj, 1, "Globex")
	seedBrand(t, s, e, obj, 2, "Initech")

	res, err := e.List(context.Background(), s.DB, obj, scope.TeamScope(1), ListRequest{})
	if err != nil {
		t.Fatalf("list team 1: %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("expected total=2 for team 1, got %d", res.Total)
	}
	for _, row := range res.Rows {
		if teamID, _ := row["team_id"].(int64); teamID != 1 {
			t.Fatalf("leaked row from team %d", teamID)
		}
	}
}

func TestList_UnscopedSeesNothing(t *testing.T) {
	s := testStore(t)
	e := NewEngine(s.Dialect)
	obj := brandsObject()
	seedBrand(t, s, e, obj, 1, "Acme")

	res, err := e.List(context.Background(), s.DB, obj, scope.None(), ListRequest{})
	if err != nil {
		t.Fatalf("list unscoped: %v", err)
	}
	if res.Total != 0 || len(res.Rows) != 0 {
		t.Fatalf("unscoped list must be empty, got total=%d rows=%d", res.Total, len(res.Rows))
	}
}

func TestList_RejectsUnknownFilterColumn(t *testing.T) {
	s := testStore(t)
	e := NewEngine(s.Dialect)
	obj := brandsObject()

	_, err := e.List(context.Background(), s.DB, obj, scope.TeamScope(1), ListRequest{
		Filters: []Filter{{
			Column:     "secret_column",
			Definition: FilterDefinition{Kind: FilterText, Value: "x"},
		}},
	})
	if err == nil {
		t.Fatal("expected error for unknown filter column")
	}
	var appErr *apperror.AppError
	if !asAppError(err, &appErr) || appErr.Status != 400 {
		t.Fatalf("expected 400 app error, got %v", err)
	}
}

func TestList_RejectsMismatchedFilterKind(t *testing.T) {
	s := testStore(t)
	e := NewEngine(s.Dialect)
	obj := brandsObject()

	_, err := e.List(context.Background(), s.DB, obj, scope.TeamScope(1), ListRequest{
		Filters: []Filter{{
			Column:     "name",
			Definition: FilterDefinition{Kind: FilterEnum, Values: []string{"Acme"}},
		}},
	})
	if err == nil {
		t.Fatal("expected error for kind mismatch on text column")
	}
}

func TestList_RejectsUnsortableColumn(t *testing.T) {
	s := testStore(t)
	e := NewEngine(s.Dialect)
	obj := brandsObject()

	_, err := e.List(context.Background(), s.DB, obj, scope.TeamScope(1), ListRequest{
		Sorts: []Sort{{Column: "status"}},
	})
	if err == nil {
		t.Fatal("expected error sorting on non-sortable column")
	}
}

func TestList_TextFilterAndSort(t *testing.T) {
	s := testStore(t)
	e := NewEngine(s.Dialect)
	obj := brandsObject()

	seedBrand(t, s, e, obj, 1, "Acme")
	seedBrand(t, s, e, obj, 1, "Acme Labs")
	seedBrand(t, s, e, obj, 1, "Globex")

	res, err := e.List(context.Background(), s.DB, obj, scope.TeamScope(1), ListRequest{
		Filters: []Filter{{
			Column:     "name",
			Definition: FilterDefinition{Kind: FilterText, Operation: TextStartsWith, Value: "Acme"},
		}},
		Sorts: []Sort{{Column: "name", Desc: true}},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("expected 2 matches, got %d", res.Total)
	}
	if name, _ := res.Rows[0]["name"].(string); name != "Acme Labs" {
		t.Fatalf("expected Acme Labs first under desc sort, got %q", name)
	}
}

func TestSoftDelete_ExcludedFromList(t *testing.T) {
	s := testStore(t)
	e := NewEngine(s.Dialect)
	obj := brandsObject()
	sc := scope.TeamScope(1)

	row := seedBrand(t, s, e, obj, 1, "Acme")
	id, _ := row["id"].(int64)

	if err := e.SoftDelete(context.Background(), s.DB, obj, id); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	res, err := e.List(context.Background(), s.DB, obj, sc, ListRequest{})
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if res.Total != 0 {
		t.Fatalf("deleted row still listed, total=%d", res.Total)
	}

	if _, err := e.GetByID(context.Background(), s.DB, obj, sc, id); err == nil {
		t.Fatal("expected not found for deleted row")
	}

	// Second delete of the same row is a miss, not a no-op.
	if err := e.SoftDelete(context.Background(), s.DB, obj, id); err == nil {
		t.Fatal("expected not found deleting twice")
	}
}

func TestGetByID_CrossTenantMiss(t *testing.T) {
	s := testStore(t)
	e := NewEngine(s.Dialect)
	obj := brandsObject()

	row := seedBrand(t, s, e, obj, 1, "Acme")
	id, _ := row["id"].(int64)

	_, err := e.GetByID(context.Background(), s.DB, obj, scope.TeamScope(2), id)
	if err == nil {
		t.Fatal("expected not found across tenants")
	}
	var appErr *apperror.AppError
	if !asAppError(err, &appErr) || appErr.Status != 404 {
		t.Fatalf("cross-tenant read must 404, got %v", err)
	}
}

func TestUpdate_VersionConflict(t *testing.T) {
	s := testStore(t)
	e := NewEngine(s.Dialect)
	obj := brandsObject()

	row := seedBrand(t, s, e, obj, 1, "Acme")

	changes, err := e.Update(context.Background(), s.DB, obj, row,
		map[string]any{"name": "Acme Corp"}, 1)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(changes) != 1 || changes[0].Field != "name" {
		t.Fatalf("expected one name change, got %v", changes)
	}

	// Stale version precondition fails after the bump.
	_, err = e.Update(context.Background(), s.DB, obj, row,
		map[string]any{"name": "Acme Inc"}, 1)
	if err != nil {
		t.Fatalf("re-read required for second update: %v", err)
	}

	fresh, err := e.GetByID(context.Background(), s.DB, obj, scope.TeamScope(1), row["id"].(int64))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	_, err = e.Update(context.Background(), s.DB, obj, fresh,
		map[string]any{"name": "Acme LLC"}, 1)
	if err == nil {
		t.Fatal("expected version conflict with stale expected_version")
	}
	var appErr *apperror.AppError
	if !asAppError(err, &appErr) || appErr.Status != 409 {
		t.Fatalf("expected 409, got %v", err)
	}
}
