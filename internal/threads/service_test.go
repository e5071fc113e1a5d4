package threads

import (
	"context"
	"errors"
	"testing"

	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/config"
	"github.com/Plabrum/arive/internal/objects"
	"github.com/Plabrum/arive/internal/scope"
	"github.com/Plabrum/arive/internal/store"
)

func testThreads(t *testing.T) (*Service, *store.Store) {
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

	reg := objects.NewRegistry()
	err = reg.Register(&objects.Object{
		Type:       "brands",
		Table:      "brands",
		SoftDelete: true,
		TeamScoped: true,
		Columns: []objects.ColumnDefinition{
			{Key: "name", Label: "Name", Type: objects.FieldString},
		},
	})
	if err != nil {
		t.Fatalf("register object: %v", err)
	}
	return NewService(s, reg, objects.NewEngine(s.Dialect)), s
}

func seedBrand(t *testing.T, s *store.Store, teamID int64, name string) int64 {
	t.Helper()
	ctx := context.Background()
	pb := s.Dialect.NewParamBuilder()
	if _, err := store.Exec(ctx, s.DB,
		"INSERT INTO brands (team_id, name, status) VALUES ("+pb.Add(teamID)+", "+pb.Add(name)+", 'Active')",
		pb.Params()...); err != nil {
		t.Fatalf("seed brand: %v", err)
	}
	pb = s.Dialect.NewParamBuilder()
	row, err := store.QueryRow(ctx, s.DB,
		"SELECT id FROM brands WHERE name = "+pb.Add(name), pb.Params()...)
	if err != nil {
		t.Fatalf("read brand: %v", err)
	}
	id, _ := row["id"].(int64)
	return id
}

func TestEnsure_LazyCreateAndReuse(t *testing.T) {
	svc, s := testThreads(t)
	ctx := context.Background()
	sc := scope.TeamScope(1)
	brandID := seedBrand(t, s, 1, "Acme")

	first, err := svc.Ensure(ctx, sc, "brands", brandID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	second, err := svc.Ensure(ctx, sc, "brands", brandID)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if first["id"] != second["id"] {
		t.Fatalf("ensure must reuse the thread: %v vs %v", first["id"], second["id"])
	}
	if teamID, _ := first["team_id"].(int64); teamID != 1 {
		t.Fatalf("thread team_id = %d", teamID)
	}
}

func TestEnsure_CrossTenantObjectHidden(t *testing.T) {
	svc, s := testThreads(t)
	ctx := context.Background()
	brandID := seedBrand(t, s, 1, "Acme")

	_, err := svc.Ensure(ctx, scope.TeamScope(2), "brands", brandID)
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Status != 404 {
		t.Fatalf("expected 404 outside the owning team, got %v", err)
	}
}

func TestAddComment_AndList(t *testing.T) {
	svc, s := testThreads(t)
	ctx := context.Background()
	sc := scope.TeamScope(1)
	brandID := seedBrand(t, s, 1, "Acme")

	c1, err := svc.AddComment(ctx, sc, "brands", brandID, 7, "a@example.com", "first")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if body, _ := c1["body"].(string); body != "first" {
		t.Fatalf("comment body = %q", body)
	}
	if _, err := svc.AddComment(ctx, sc, "brands", brandID, 7, "a@example.com", "second"); err != nil {
		t.Fatalf("add comment: %v", err)
	}

	comments, err := svc.Comments(ctx, sc, "brands", brandID)
	if err != nil {
		t.Fatalf("comments: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(comments))
	}
	if body, _ := comments[0]["body"].(string); body != "first" {
		t.Fatalf("comments must list oldest first, got %q", body)
	}
}

func TestAddComment_EmptyBody(t *testing.T) {
	svc, s := testThreads(t)
	ctx := context.Background()
	brandID := seedBrand(t, s, 1, "Acme")

	_, err := svc.AddComment(ctx, scope.TeamScope(1), "brands", brandID, 7, "a@example.com", "")
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Status != 400 {
		t.Fatalf("expected 400 for empty body, got %v", err)
	}
}

func TestComments_NoThreadYet(t *testing.T) {
	svc, s := testThreads(t)
	ctx := context.Background()
	brandID := seedBrand(t, s, 1, "Acme")

	comments, err := svc.Comments(ctx, scope.TeamScope(1), "brands", brandID)
	if err != nil {
		t.Fatalf("comments: %v", err)
	}
	if len(comments) != 0 {
		t.Fatalf("expected no comments, got %d", len(comments))
	}
}

func TestAddInboundComment(t *testing.T) {
	svc, s := testThreads(t)
	ctx := context.Background()
	sc := scope.TeamScope(1)
	brandID := seedBrand(t, s, 1, "Acme")

	// Inbound mail lands only on existing threads.
	err := svc.AddInboundComment(ctx, "brands", brandID, "out@example.com", "hello")
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Status != 404 {
		t.Fatalf("expected 404 without a thread, got %v", err)
	}

	if _, err := svc.Ensure(ctx, sc, "brands", brandID); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := svc.AddInboundComment(ctx, "brands", brandID, "out@example.com", "hello"); err != nil {
		t.Fatalf("inbound comment: %v", err)
	}

	comments, err := svc.Comments(ctx, sc, "brands", brandID)
	if err != nil {
		t.Fatalf("comments: %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("expected 1 comment, got %d", len(comments))
	}
	if from, _ := comments[0]["author_email"].(string); from != "out@example.com" {
		t.Fatalf("author_email = %q", from)
	}
}
