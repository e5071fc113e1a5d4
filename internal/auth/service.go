package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Plabrum/arive/internal/actions"
	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/config"
	"github.com/Plabrum/arive/internal/mail"
	"github.com/Plabrum/arive/internal/scope"
	"github.com/Plabrum/arive/internal/store"
)

const magicLinkTTL = 15 * time.Minute

// roleCapabilities maps a membership role to the capability bundle its
// sessions carry. Guests can read and comment but never mutate records.
var roleCapabilities = map[string][]actions.Capability{
	"owner":  {actions.CapRead, actions.CapWrite, actions.CapDestroy, actions.CapBilling, actions.CapAdmin},
	"admin":  {actions.CapRead, actions.CapWrite, actions.CapDestroy, actions.CapAdmin},
	"member": {actions.CapRead, actions.CapWrite},
	"guest":  {actions.CapRead},
}

// Service implements the sign-in flows. All flows end in the same place:
// resolveScope picks the tenancy for the new session.
type Service struct {
	store    *store.Store
	sessions *SessionStore
	mailer   mail.Mailer
	cfg      config.AuthConfig
	baseURL  string
}

func NewService(s *store.Store, sessions *SessionStore, mailer mail.Mailer, cfg config.AuthConfig, baseURL string) *Service {
	return &Service{store: s, sessions: sessions, mailer: mailer, cfg: cfg, baseURL: baseURL}
}

// RequestMagicLink issues a sign-in link. The response is identical whether
// or not the address is known, so the endpoint cannot be used to probe for
// accounts. Tokens are stored hashed; a database leak does not leak links.
func (s *Service) RequestMagicLink(ctx context.Context, email string) error {
	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("generating magic link token: %w", err)
	}
	hash := s.hashToken(token)

	err = s.store.RunInTx(ctx, scope.System(), func(tx *sql.Tx) error {
		pb := s.store.Dialect.NewParamBuilder()
		sql := fmt.Sprintf(
			`INSERT INTO magic_link_tokens (email, token_hash, expires_at) VALUES (%s, %s, %s)`,
			pb.Add(email), pb.Add(hash), pb.Add(time.Now().UTC().Add(magicLinkTTL)))
		_, err := store.Exec(ctx, tx, sql, pb.Params()...)
		return err
	})
	if err != nil {
		return fmt.Errorf("storing magic link: %w", err)
	}

	link := fmt.Sprintf("%s/auth/verify?token=%s", s.baseURL, token)
	msg := mail.Message{
		To:      []string{email},
		Subject: "Your sign-in link",
		Body:    fmt.Sprintf("Click to sign in: %s\n\nThis link expires in 15 minutes.", link),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		// The generic response still goes out; a mail failure must not
		// reveal whether the address was known.
		slog.Error("magic link mail", "error", err)
	}
	return nil
}

// VerifyMagicLink consumes a token and returns a session cookie value.
// First-time addresses get a user row created on the spot.
func (s *Service) VerifyMagicLink(ctx context.Context, token string) (string, *Session, error) {
	hash := s.hashToken(token)

	var email string
	err := s.store.RunInTx(ctx, scope.System(), func(tx *sql.Tx) error {
		pb := s.store.Dialect.NewParamBuilder()
		query := fmt.Sprintf(
			`SELECT * FROM magic_link_tokens WHERE token_hash = %s AND consumed_at IS NULL AND expires_at > %s`,
			pb.Add(hash), pb.Add(time.Now().UTC()))
		row, err := store.QueryRow(ctx, tx, query, pb.Params()...)
		if err != nil {
			return err
		}
		email, _ = row["email"].(string)
		id := row["id"]

		pb = s.store.Dialect.NewParamBuilder()
		update := fmt.Sprintf(
			`UPDATE magic_link_tokens SET consumed_at = %s WHERE id = %s`,
			pb.Add(time.Now().UTC()), pb.Add(id))
		_, err = store.Exec(ctx, tx, update, pb.Params()...)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return "", nil, apperror.Unauthorized("Invalid or expired sign-in link")
	}
	if err != nil {
		return "", nil, fmt.Errorf("verifying magic link: %w", err)
	}

	return s.establishSession(ctx, email, "", "")
}

// EstablishSessionForEmail signs in an address whose ownership was proven
// elsewhere, such as an accepted team invitation.
func (s *Service) EstablishSessionForEmail(ctx context.Context, email string) (string, *Session, error) {
	return s.establishSession(ctx, email, "", "")
}

// EstablishGoogleSession signs in a verified Google profile, recording the
// stable Google subject on the user row.
func (s *Service) EstablishGoogleSession(ctx context.Context, gu *GoogleUser) (string, *Session, error) {
	return s.establishSession(ctx, gu.Email, gu.Name, gu.Sub)
}

// establishSession loads or creates the user, probes their scope and writes
// the session to Redis.
func (s *Service) establishSession(ctx context.Context, email, name, googleSub string) (string, *Session, error) {
	var sess *Session
	err := s.store.RunInTx(ctx, scope.System(), func(tx *sql.Tx) error {
		user, err := s.findOrCreateUser(ctx, tx, email, name, googleSub)
		if err != nil {
			return err
		}
		sess, err = s.resolveScope(ctx, tx, user)
		return err
	})
	if err != nil {
		return "", nil, err
	}

	token, err := s.sessions.Create(ctx, sess)
	if err != nil {
		return "", nil, err
	}
	return token, sess, nil
}

func (s *Service) findOrCreateUser(ctx context.Context, tx *sql.Tx, email, name, googleSub string) (map[string]any, error) {
	pb := s.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf(`SELECT * FROM users WHERE email = %s`, pb.Add(email))
	user, err := store.QueryRow(ctx, tx, query, pb.Params()...)
	if err == nil {
		if googleSub != "" && user["google_sub"] == nil {
			pb = s.store.Dialect.NewParamBuilder()
			update := fmt.Sprintf(
				`UPDATE users SET google_sub = %s, updated_at = %s WHERE id = %s`,
				pb.Add(googleSub), pb.Add(time.Now().UTC()), pb.Add(user["id"]))
			if _, err := store.Exec(ctx, tx, update, pb.Params()...); err != nil {
				return nil, err
			}
		}
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	var sub any
	if googleSub != "" {
		sub = googleSub
	}
	pb = s.store.Dialect.NewParamBuilder()
	insert := fmt.Sprintf(
		`INSERT INTO users (email, name, google_sub) VALUES (%s, %s, %s)`,
		pb.Add(email), pb.Add(name), pb.Add(sub))
	if _, err := store.Exec(ctx, tx, insert, pb.Params()...); err != nil {
		return nil, fmt.Errorf("creating user %s: %w", email, err)
	}
	pb = s.store.Dialect.NewParamBuilder()
	query = fmt.Sprintf(`SELECT * FROM users WHERE email = %s`, pb.Add(email))
	return store.QueryRow(ctx, tx, query, pb.Params()...)
}

// resolveScope picks the session's tenancy: newest team membership first,
// then campaign guest access, otherwise an unscoped session that sees
// nothing until the user accepts an invitation.
func (s *Service) resolveScope(ctx context.Context, tx *sql.Tx, user map[string]any) (*Session, error) {
	userID, _ := user["id"].(int64)
	email, _ := user["email"].(string)
	name, _ := user["name"].(string)

	sess := &Session{UserID: userID, Email: email, Name: name, ScopeKind: scope.Unscoped}

	pb := s.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf(
		`SELECT * FROM memberships WHERE user_id = %s ORDER BY created_at DESC LIMIT 1`,
		pb.Add(userID))
	membership, err := store.QueryRow(ctx, tx, query, pb.Params()...)
	if err == nil {
		role, _ := membership["role"].(string)
		teamID, _ := membership["team_id"].(int64)
		sess.ScopeKind = scope.Team
		sess.TeamID = teamID
		sess.Role = role
		sess.Capabilities = roleCapabilities[role]
		return sess, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	pb = s.store.Dialect.NewParamBuilder()
	query = fmt.Sprintf(
		`SELECT * FROM campaign_guests WHERE user_id = %s ORDER BY created_at DESC LIMIT 1`,
		pb.Add(userID))
	guest, err := store.QueryRow(ctx, tx, query, pb.Params()...)
	if err == nil {
		campaignID, _ := guest["campaign_id"].(int64)
		sess.ScopeKind = scope.Campaign
		sess.CampaignID = campaignID
		sess.Role = "guest"
		sess.Capabilities = roleCapabilities["guest"]
		return sess, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return sess, nil
}

// SwitchTeam re-scopes an existing session to another team the user belongs
// to. Membership is checked, not trusted from the client.
func (s *Service) SwitchTeam(ctx context.Context, token string, sess *Session, teamID int64) (*Session, error) {
	var membership map[string]any
	err := s.store.RunInTx(ctx, scope.System(), func(tx *sql.Tx) error {
		pb := s.store.Dialect.NewParamBuilder()
		query := fmt.Sprintf(
			`SELECT * FROM memberships WHERE user_id = %s AND team_id = %s`,
			pb.Add(sess.UserID), pb.Add(teamID))
		var err error
		membership, err = store.QueryRow(ctx, tx, query, pb.Params()...)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.Forbidden("Not a member of that team")
	}
	if err != nil {
		return nil, err
	}

	role, _ := membership["role"].(string)
	sess.ScopeKind = scope.Team
	sess.TeamID = teamID
	sess.CampaignID = 0
	sess.Role = role
	sess.Capabilities = roleCapabilities[role]
	if err := s.sessions.Update(ctx, token, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) hashToken(token string) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.MagicLinkSecret))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
