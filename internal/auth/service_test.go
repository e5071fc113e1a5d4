package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

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

func testSessions(t *testing.T) *SessionStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewSessionStore(rdb, time.Hour)
}

func testService(t *testing.T) (*Service, *captureMailer) {
	t.Helper()
	mailer := &captureMailer{}
	svc := NewService(testStore(t), testSessions(t), mailer, config.AuthConfig{
		MagicLinkSecret: "test-secret",
	}, "http://localhost:3000")
	return svc, mailer
}

func TestSessionStore_Roundtrip(t *testing.T) {
	sessions := testSessions(t)
	ctx := context.Background()

	token, err := sessions.Create(ctx, &Session{
		UserID:    7,
		Email:     "user@example.com",
		ScopeKind: scope.Team,
		TeamID:    3,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(token))
	}

	sess, err := sessions.Get(ctx, token)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.UserID != 7 || sess.TeamID != 3 {
		t.Fatalf("session mangled: %+v", sess)
	}
	if sess.Scope().Kind != scope.Team {
		t.Fatalf("expected team scope, got %v", sess.Scope())
	}

	if err := sessions.Destroy(ctx, token); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, err := sessions.Get(ctx, token); err == nil {
		t.Fatal("expected unauthorized after destroy")
	}
}

func TestSessionStore_UnknownToken(t *testing.T) {
	sessions := testSessions(t)
	_, err := sessions.Get(context.Background(), "deadbeef")
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Status != 401 {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestMagicLink_Flow(t *testing.T) {
	svc, mailer := testService(t)
	ctx := context.Background()

	if err := svc.RequestMagicLink(ctx, "new@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected one mail, got %d", len(mailer.sent))
	}

	body := mailer.sent[0].Body
	idx := strings.Index(body, "token=")
	if idx < 0 {
		t.Fatalf("no token in mail body: %q", body)
	}
	token := strings.Fields(body[idx+len("token="):])[0]

	cookie, sess, err := svc.VerifyMagicLink(ctx, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if cookie == "" || sess == nil {
		t.Fatal("expected session after verify")
	}
	if sess.Email != "new@example.com" {
		t.Fatalf("wrong email: %q", sess.Email)
	}
	// First-time address with no memberships lands unscoped.
	if sess.ScopeKind != scope.Unscoped {
		t.Fatalf("expected unscoped first login, got %v", sess.ScopeKind)
	}

	// The token is single use.
	_, _, err = svc.VerifyMagicLink(ctx, token)
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Status != 401 {
		t.Fatalf("expected 401 on reuse, got %v", err)
	}
}

func TestMagicLink_InvalidToken(t *testing.T) {
	svc, _ := testService(t)
	_, _, err := svc.VerifyMagicLink(context.Background(), "not-a-token")
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Status != 401 {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestRequestMagicLink_NoEnumeration(t *testing.T) {
	svc, mailer := testService(t)

	// Known or unknown, the call succeeds the same way.
	if err := svc.RequestMagicLink(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("request must not reveal account state: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("link mail should always send, got %d", len(mailer.sent))
	}
}
