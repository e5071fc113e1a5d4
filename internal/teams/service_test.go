package teams

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/config"
	"github.com/Plabrum/arive/internal/mail"
	"github.com/Plabrum/arive/internal/scope"
	"github.com/Plabrum/arive/internal/store"
)

type captureMailer struct {
	sent []mail.Message
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

func testService(t *testing.T) (*Service, *store.Store, *captureMailer) {
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

	mailer := &captureMailer{}
	return NewService(s, mailer, "test-secret", "http://localhost:3000"), s, mailer
}

func seedUser(t *testing.T, s *store.Store, email string) int64 {
	t.Helper()
	ctx := context.Background()
	pb := s.Dialect.NewParamBuilder()
	if _, err := store.Exec(ctx, s.DB,
		"INSERT INTO users (email, name) VALUES ("+pb.Add(email)+", '')", pb.Params()...); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	pb = s.Dialect.NewParamBuilder()
	row, err := store.QueryRow(ctx, s.DB,
		"SELECT id FROM users WHERE email = "+pb.Add(email), pb.Params()...)
	if err != nil {
		t.Fatalf("read user: %v", err)
	}
	id, _ := row["id"].(int64)
	return id
}

func inviteToken(t *testing.T, mailer *captureMailer) string {
	t.Helper()
	if len(mailer.sent) == 0 {
		t.Fatal("no invitation mail sent")
	}
	body := mailer.sent[len(mailer.sent)-1].Body
	idx := strings.Index(body, "token=")
	if idx < 0 {
		t.Fatalf("no token in mail body: %q", body)
	}
	return strings.Fields(body[idx+len("token="):])[0]
}

func TestCreateTeam_OwnerMembership(t *testing.T) {
	svc, s, _ := testService(t)
	ctx := context.Background()
	userID := seedUser(t, s, "founder@example.com")

	team, err := svc.CreateTeam(ctx, userID, "Acme")
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	teamID, _ := team["id"].(int64)
	if teamID == 0 {
		t.Fatalf("no team id in %v", team)
	}

	members, err := svc.Members(ctx, scope.TeamScope(teamID))
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(members))
	}
	if role, _ := members[0]["role"].(string); role != "owner" {
		t.Fatalf("creator must be owner, got %q", role)
	}
}

func TestInvitation_AcceptFlow(t *testing.T) {
	svc, s, mailer := testService(t)
	ctx := context.Background()
	owner := seedUser(t, s, "founder@example.com")
	team, err := svc.CreateTeam(ctx, owner, "Acme")
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	sc := scope.TeamScope(team["id"].(int64))

	if err := svc.Invite(ctx, sc, "new@example.com", "member"); err != nil {
		t.Fatalf("invite: %v", err)
	}
	token := inviteToken(t, mailer)

	email, err := svc.Accept(ctx, token)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if email != "new@example.com" {
		t.Fatalf("wrong email: %q", email)
	}

	members, err := svc.Members(ctx, sc)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members after accept, got %d", len(members))
	}

	// The token is single use.
	_, err = svc.Accept(ctx, token)
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Status != 401 {
		t.Fatalf("expected 401 on reuse, got %v", err)
	}
}

func TestInvitation_UnknownRole(t *testing.T) {
	svc, s, _ := testService(t)
	ctx := context.Background()
	owner := seedUser(t, s, "founder@example.com")
	team, _ := svc.CreateTeam(ctx, owner, "Acme")
	sc := scope.TeamScope(team["id"].(int64))

	err := svc.Invite(ctx, sc, "new@example.com", "superuser")
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Status != 400 {
		t.Fatalf("expected 400 for unknown role, got %v", err)
	}
}

func TestRemoveMember_LastOwnerBlocked(t *testing.T) {
	svc, s, _ := testService(t)
	ctx := context.Background()
	owner := seedUser(t, s, "founder@example.com")
	team, _ := svc.CreateTeam(ctx, owner, "Acme")
	sc := scope.TeamScope(team["id"].(int64))

	members, err := svc.Members(ctx, sc)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	membershipID, _ := members[0]["id"].(int64)

	err = svc.RemoveMember(ctx, sc, membershipID)
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Status != 409 {
		t.Fatalf("removing the last owner must 409, got %v", err)
	}
}
