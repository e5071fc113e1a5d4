package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/audit"
	"github.com/Plabrum/arive/internal/config"
	"github.com/Plabrum/arive/internal/objects"
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

func brandsObject() *objects.Object {
	return &objects.Object{
		Type:       "brands",
		Table:      "brands",
		SoftDelete: true,
		TeamScoped: true,
		Columns: []objects.ColumnDefinition{
			{Key: "name", Label: "Name", Type: objects.FieldString, Sortable: true, Filterable: true},
			{Key: "status", Label: "Status", Type: objects.FieldEnum, EnumValues: []string{"Active", "Former"}},
		},
	}
}

// createBrand is a minimal write action used across the dispatcher tests.
type createBrand struct{ Base }

func (a *createBrand) Key() string              { return "create" }
func (a *createBrand) Label() string            { return "Create" }
func (a *createBrand) Priority() int            { return 0 }
func (a *createBrand) Requires() []Capability   { return []Capability{CapWrite} }
func (a *createBrand) Payload() *PayloadSpec {
	return &PayloadSpec{Fields: []PayloadField{
		{Key: "name", Label: "Name", Type: objects.FieldString, Required: true},
	}}
}

func (a *createBrand) Execute(ctx context.Context, ec *ExecContext) (*Response, error) {
	row, err := ec.Deps.Engine.Insert(ctx, ec.Tx, ec.Object, map[string]any{
		"team_id": ec.Scope.TeamID,
		"name":    PayloadString(ec.Payload, "name"),
		"status":  "Active",
	})
	if err != nil {
		return nil, err
	}
	return &Response{Message: "created", Result: map[string]any{"id": row["id"]}}, nil
}

// archiveBrand exists to test rules and row-targeted availability.
type archiveBrand struct{ Base }

func (a *archiveBrand) Key() string            { return "archive" }
func (a *archiveBrand) Label() string          { return "Archive" }
func (a *archiveBrand) Priority() int          { return 10 }
func (a *archiveBrand) Requires() []Capability { return []Capability{CapWrite} }

func (a *archiveBrand) RequiresRow() bool { return true }

func (a *archiveBrand) Available(row map[string]any, _ scope.Current) bool {
	return row != nil
}

func (a *archiveBrand) Execute(ctx context.Context, ec *ExecContext) (*Response, error) {
	changes, err := ec.Deps.Engine.Update(ctx, ec.Tx, ec.Object, ec.Row,
		map[string]any{"status": "Former"}, 0)
	if err != nil {
		return nil, err
	}
	return &Response{Message: "archived", Changes: changes}, nil
}

func testDispatcher(t *testing.T) (*Dispatcher, *Deps) {
	t.Helper()
	s := testStore(t)
	objReg := objects.NewRegistry()
	if err := objReg.Register(brandsObject()); err != nil {
		t.Fatalf("register object: %v", err)
	}
	deps := &Deps{
		Store:   s,
		Objects: objReg,
		Engine:  objects.NewEngine(s.Dialect),
		Audit:   audit.NewRecorder(s),
	}
	reg := NewRegistry()
	group, err := reg.AddGroup("brands", "brands")
	if err != nil {
		t.Fatalf("add group: %v", err)
	}
	group.MustRegister(&createBrand{})
	group.MustRegister(&archiveBrand{}, &Rule{
		Expression: `record.name == "Protected"`,
		Message:    "This brand cannot be archived",
	})
	return NewDispatcher(reg, deps), deps
}

func writerCtx() context.Context {
	return WithActor(context.Background(), Actor{
		UserID:       1,
		Email:        "owner@example.com",
		Capabilities: []Capability{CapRead, CapWrite, CapDestroy},
	})
}

func countActionLogs(t *testing.T, deps *Deps, status string) int64 {
	t.Helper()
	pb := deps.Store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(context.Background(), deps.Store.DB,
		"SELECT COUNT(*) AS n FROM action_logs WHERE status = "+pb.Add(status), pb.Params()...)
	if err != nil {
		t.Fatalf("count logs: %v", err)
	}
	n, _ := row["n"].(int64)
	return n
}

func TestTrigger_IdempotentReplay(t *testing.T) {
	d, deps := testDispatcher(t)
	ctx := writerCtx()
	sc := scope.TeamScope(1)

	req := TriggerRequest{
		Group:          "brands",
		Key:            "create",
		Payload:        map[string]any{"name": "Acme"},
		IdempotencyKey: "idem-1",
	}
	first, err := d.Trigger(ctx, sc, req)
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	second, err := d.Trigger(ctx, sc, req)
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if second.Message != first.Message {
		t.Fatalf("replay message mismatch: %q vs %q", second.Message, first.Message)
	}

	row, err := store.QueryRow(context.Background(), deps.Store.DB,
		"SELECT COUNT(*) AS n FROM brands")
	if err != nil {
		t.Fatalf("count brands: %v", err)
	}
	if n, _ := row["n"].(int64); n != 1 {
		t.Fatalf("idempotent retry created a second row, count=%d", n)
	}
	if n := countActionLogs(t, deps, audit.StatusSuccess); n != 1 {
		t.Fatalf("expected exactly one success log, got %d", n)
	}
}

func TestTrigger_MissingCapability(t *testing.T) {
	d, _ := testDispatcher(t)
	ctx := WithActor(context.Background(), Actor{UserID: 2, Capabilities: []Capability{CapRead}})

	_, err := d.Trigger(ctx, scope.TeamScope(1), TriggerRequest{
		Group:   "brands",
		Key:     "create",
		Payload: map[string]any{"name": "Acme"},
	})
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Status != 403 {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestTrigger_UnknownAction(t *testing.T) {
	d, _ := testDispatcher(t)

	_, err := d.Trigger(writerCtx(), scope.TeamScope(1), TriggerRequest{
		Group: "brands",
		Key:   "explode",
	})
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Status != 404 {
		t.Fatalf("expected 404 for unknown action, got %v", err)
	}
}

func TestTrigger_RejectsUndeclaredPayloadKeys(t *testing.T) {
	d, _ := testDispatcher(t)

	_, err := d.Trigger(writerCtx(), scope.TeamScope(1), TriggerRequest{
		Group:   "brands",
		Key:     "create",
		Payload: map[string]any{"name": "Acme", "role": "owner"},
	})
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Status != 422 {
		t.Fatalf("expected 422 for undeclared key, got %v", err)
	}
}

func TestTrigger_RuleViolationRollsBackAndLogs(t *testing.T) {
	d, deps := testDispatcher(t)
	ctx := writerCtx()
	sc := scope.TeamScope(1)

	created, err := d.Trigger(ctx, sc, TriggerRequest{
		Group:   "brands",
		Key:     "create",
		Payload: map[string]any{"name": "Protected"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	result, _ := created.Result.(map[string]any)
	id, _ := result["id"].(int64)
	if id == 0 {
		t.Fatalf("create returned no id: %v", created.Result)
	}

	_, err = d.Trigger(ctx, sc, TriggerRequest{
		Group:    "brands",
		Key:      "archive",
		ObjectID: id,
	})
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Status != 422 {
		t.Fatalf("expected 422 rule violation, got %v", err)
	}

	row, qErr := store.QueryRow(context.Background(), deps.Store.DB,
		"SELECT status FROM brands WHERE id = 1")
	if qErr != nil {
		t.Fatalf("reload: %v", qErr)
	}
	if status, _ := row["status"].(string); status != "Active" {
		t.Fatalf("rolled-back action mutated the row: %q", status)
	}
	if n := countActionLogs(t, deps, audit.StatusError); n != 1 {
		t.Fatalf("expected one error log, got %d", n)
	}
}

func TestTrigger_ScopedRowLookup(t *testing.T) {
	d, _ := testDispatcher(t)
	ctx := writerCtx()

	created, err := d.Trigger(ctx, scope.TeamScope(1), TriggerRequest{
		Group:   "brands",
		Key:     "create",
		Payload: map[string]any{"name": "Acme"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	result, _ := created.Result.(map[string]any)
	id, _ := result["id"].(int64)

	// Another team cannot even see the row, let alone act on it.
	_, err = d.Trigger(ctx, scope.TeamScope(2), TriggerRequest{
		Group:    "brands",
		Key:      "archive",
		ObjectID: id,
	})
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Status != 404 {
		t.Fatalf("cross-tenant action must 404, got %v", err)
	}
}

func TestAvailableActions_PriorityOrderAndFiltering(t *testing.T) {
	d, _ := testDispatcher(t)
	writer := Actor{UserID: 1, Capabilities: []Capability{CapWrite}}
	reader := Actor{UserID: 2, Capabilities: []Capability{CapRead}}

	// No row: only create is available.
	avail, err := d.AvailableActions("brands", nil, scope.TeamScope(1), writer)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(avail) != 1 || avail[0].Key != "create" {
		t.Fatalf("expected [create] with no row, got %v", avail)
	}

	// With a row: create (Base default availability) and archive, priority order.
	row := map[string]any{"id": int64(1), "name": "Acme", "status": "Active"}
	avail, err = d.AvailableActions("brands", row, scope.TeamScope(1), writer)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(avail) != 2 || avail[0].Key != "create" || avail[1].Key != "archive" {
		t.Fatalf("unexpected order: %v", avail)
	}

	// Readers hold no write capability and see nothing here.
	avail, err = d.AvailableActions("brands", row, scope.TeamScope(1), reader)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(avail) != 0 {
		t.Fatalf("reader should see no write actions, got %v", avail)
	}
}

func TestTrigger_RowActionWithoutID(t *testing.T) {
	d, _ := testDispatcher(t)

	_, err := d.Trigger(writerCtx(), scope.TeamScope(1), TriggerRequest{
		Group: "brands",
		Key:   "archive",
	})
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Status != 400 {
		t.Fatalf("row action without an object id must 400, got %v", err)
	}
}

func createBrandRow(t *testing.T, d *Dispatcher, sc scope.Current, name string) int64 {
	t.Helper()
	created, err := d.Trigger(writerCtx(), sc, TriggerRequest{
		Group:   "brands",
		Key:     "create",
		Payload: map[string]any{"name": name},
	})
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	result, _ := created.Result.(map[string]any)
	id, _ := result["id"].(int64)
	if id == 0 {
		t.Fatalf("create %s returned no id: %v", name, created.Result)
	}
	return id
}

func brandStatus(t *testing.T, deps *Deps, id int64) string {
	t.Helper()
	pb := deps.Store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(context.Background(), deps.Store.DB,
		"SELECT status FROM brands WHERE id = "+pb.Add(id), pb.Params()...)
	if err != nil {
		t.Fatalf("reload brand %d: %v", id, err)
	}
	status, _ := row["status"].(string)
	return status
}

func TestTrigger_IdempotencyScopedToObject(t *testing.T) {
	d, deps := testDispatcher(t)
	sc := scope.TeamScope(1)
	a := createBrandRow(t, d, sc, "Alpha")
	b := createBrandRow(t, d, sc, "Beta")

	if _, err := d.Trigger(writerCtx(), sc, TriggerRequest{
		Group: "brands", Key: "archive", ObjectID: a, IdempotencyKey: "once",
	}); err != nil {
		t.Fatalf("archive a: %v", err)
	}
	// The same key against a different row is a different operation.
	if _, err := d.Trigger(writerCtx(), sc, TriggerRequest{
		Group: "brands", Key: "archive", ObjectID: b, IdempotencyKey: "once",
	}); err != nil {
		t.Fatalf("archive b: %v", err)
	}
	if status := brandStatus(t, deps, b); status != "Former" {
		t.Fatalf("second object's archive was replayed away, status %q", status)
	}
}

func TestTrigger_IdempotencyScopedToTeam(t *testing.T) {
	d, deps := testDispatcher(t)

	req := TriggerRequest{
		Group:          "brands",
		Key:            "create",
		Payload:        map[string]any{"name": "Acme"},
		IdempotencyKey: "shared",
	}
	if _, err := d.Trigger(writerCtx(), scope.TeamScope(1), req); err != nil {
		t.Fatalf("create team 1: %v", err)
	}
	// A colliding key from another tenant must not replay team 1's result.
	if _, err := d.Trigger(writerCtx(), scope.TeamScope(2), req); err != nil {
		t.Fatalf("create team 2: %v", err)
	}

	row, err := store.QueryRow(context.Background(), deps.Store.DB,
		"SELECT COUNT(*) AS n FROM brands")
	if err != nil {
		t.Fatalf("count brands: %v", err)
	}
	if n, _ := row["n"].(int64); n != 2 {
		t.Fatalf("other tenant's create was replayed away, count=%d", n)
	}
}
