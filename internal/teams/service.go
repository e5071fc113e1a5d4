// Package teams manages teams, memberships and the invitation flow that
// brings new members into a tenant.
package teams

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/mail"
	"github.com/Plabrum/arive/internal/scope"
	"github.com/Plabrum/arive/internal/store"
)

const invitationTTL = 72 * time.Hour

var validRoles = map[string]bool{"owner": true, "admin": true, "member": true}

type Service struct {
	store   *store.Store
	mailer  mail.Mailer
	secret  string
	baseURL string
}

func NewService(s *store.Store, mailer mail.Mailer, secret, baseURL string) *Service {
	return &Service{store: s, mailer: mailer, secret: secret, baseURL: baseURL}
}

// CreateTeam makes a team with the caller as owner.
func (s *Service) CreateTeam(ctx context.Context, userID int64, name string) (map[string]any, error) {
	if name == "" {
		return nil, apperror.BadRequest("name is required")
	}
	var team map[string]any
	err := s.store.RunInTx(ctx, scope.System(), func(tx *sql.Tx) error {
		pb := s.store.Dialect.NewParamBuilder()
		insert := fmt.Sprintf(`INSERT INTO teams (name) VALUES (%s)`, pb.Add(name))
		if _, err := store.Exec(ctx, tx, insert, pb.Params()...); err != nil {
			return err
		}

		pb = s.store.Dialect.NewParamBuilder()
		query := fmt.Sprintf(`SELECT * FROM teams WHERE name = %s ORDER BY id DESC LIMIT 1`, pb.Add(name))
		var err error
		team, err = store.QueryRow(ctx, tx, query, pb.Params()...)
		if err != nil {
			return err
		}

		pb = s.store.Dialect.NewParamBuilder()
		member := fmt.Sprintf(
			`INSERT INTO memberships (team_id, user_id, role) VALUES (%s, %s, 'owner')`,
			pb.Add(team["id"]), pb.Add(userID))
		_, err = store.Exec(ctx, tx, member, pb.Params()...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}
	return team, nil
}

// Members lists the team's memberships joined with user details.
func (s *Service) Members(ctx context.Context, sc scope.Current) ([]map[string]any, error) {
	if sc.Kind != scope.Team {
		return nil, apperror.Forbidden("Team scope required")
	}
	var rows []map[string]any
	err := s.store.RunInTx(ctx, sc, func(tx *sql.Tx) error {
		pb := s.store.Dialect.NewParamBuilder()
		query := fmt.Sprintf(
			`SELECT m.id, m.user_id, m.role, m.created_at, u.email, u.name
			 FROM memberships m JOIN users u ON u.id = m.user_id
			 WHERE m.team_id = %s ORDER BY m.created_at ASC`, pb.Add(sc.TeamID))
		var err error
		rows, err = store.QueryRows(ctx, tx, query, pb.Params()...)
		return err
	})
	return rows, err
}

// Invite issues an invitation and emails the sign-up link. The token is
// stored hashed, like magic links.
func (s *Service) Invite(ctx context.Context, sc scope.Current, email, role string) error {
	if sc.Kind != scope.Team {
		return apperror.Forbidden("Team scope required")
	}
	if email == "" {
		return apperror.BadRequest("email is required")
	}
	if role == "" {
		role = "member"
	}
	if !validRoles[role] {
		return apperror.BadRequest(fmt.Sprintf("Unknown role: %s", role))
	}

	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("generating invitation token: %w", err)
	}

	err = s.store.RunInTx(ctx, sc, func(tx *sql.Tx) error {
		pb := s.store.Dialect.NewParamBuilder()
		insert := fmt.Sprintf(
			`INSERT INTO team_invitations (team_id, email, role, token_hash, expires_at)
			 VALUES (%s, %s, %s, %s, %s)`,
			pb.Add(sc.TeamID), pb.Add(email), pb.Add(role),
			pb.Add(s.hashToken(token)), pb.Add(time.Now().UTC().Add(invitationTTL)))
		_, err := store.Exec(ctx, tx, insert, pb.Params()...)
		return err
	})
	if err != nil {
		return fmt.Errorf("create invitation: %w", err)
	}

	link := fmt.Sprintf("%s/invitations/accept?token=%s", s.baseURL, token)
	msg := mail.Message{
		To:      []string{email},
		Subject: "You have been invited to a team",
		Body:    fmt.Sprintf("Accept your invitation: %s\n\nThis link expires in 72 hours.", link),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		slog.Error("invitation mail", "error", err)
	}
	return nil
}

// Accept consumes an invitation token and creates the membership. The row
// is locked during acceptance so two concurrent accepts of the same token
// cannot both succeed.
func (s *Service) Accept(ctx context.Context, token string) (string, error) {
	hash := s.hashToken(token)

	var email string
	err := s.store.RunInTx(ctx, scope.System(), func(tx *sql.Tx) error {
		pb := s.store.Dialect.NewParamBuilder()
		query := fmt.Sprintf(
			`SELECT * FROM team_invitations
			 WHERE token_hash = %s AND accepted_at IS NULL AND expires_at > %s`,
			pb.Add(hash), pb.Add(time.Now().UTC()))
		if s.store.Dialect.Name() == "postgres" {
			query += " FOR UPDATE"
		}
		inv, err := store.QueryRow(ctx, tx, query, pb.Params()...)
		if err != nil {
			return err
		}

		email, _ = inv["email"].(string)
		teamID := inv["team_id"]
		role, _ := inv["role"].(string)

		pb = s.store.Dialect.NewParamBuilder()
		userQuery := fmt.Sprintf(`SELECT * FROM users WHERE email = %s`, pb.Add(email))
		user, err := store.QueryRow(ctx, tx, userQuery, pb.Params()...)
		if errors.Is(err, store.ErrNotFound) {
			pb = s.store.Dialect.NewParamBuilder()
			insert := fmt.Sprintf(`INSERT INTO users (email, name) VALUES (%s, '')`, pb.Add(email))
			if _, err := store.Exec(ctx, tx, insert, pb.Params()...); err != nil {
				return err
			}
			pb = s.store.Dialect.NewParamBuilder()
			userQuery = fmt.Sprintf(`SELECT * FROM users WHERE email = %s`, pb.Add(email))
			user, err = store.QueryRow(ctx, tx, userQuery, pb.Params()...)
		}
		if err != nil {
			return err
		}

		pb = s.store.Dialect.NewParamBuilder()
		member := fmt.Sprintf(
			`INSERT INTO memberships (team_id, user_id, role) VALUES (%s, %s, %s)`,
			pb.Add(teamID), pb.Add(user["id"]), pb.Add(role))
		if _, err := store.Exec(ctx, tx, member, pb.Params()...); err != nil {
			if errors.Is(s.store.Dialect.MapError(err), store.ErrUniqueViolation) {
				return apperror.Conflict("Already a member of this team")
			}
			return err
		}

		pb = s.store.Dialect.NewParamBuilder()
		update := fmt.Sprintf(
			`UPDATE team_invitations SET accepted_at = %s WHERE id = %s`,
			pb.Add(time.Now().UTC()), pb.Add(inv["id"]))
		_, err = store.Exec(ctx, tx, update, pb.Params()...)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return "", apperror.Unauthorized("Invalid or expired invitation")
	}
	if err != nil {
		return "", err
	}
	return email, nil
}

// Revoke deletes a pending invitation.
func (s *Service) Revoke(ctx context.Context, sc scope.Current, invitationID int64) error {
	if sc.Kind != scope.Team {
		return apperror.Forbidden("Team scope required")
	}
	return s.store.RunInTx(ctx, sc, func(tx *sql.Tx) error {
		pb := s.store.Dialect.NewParamBuilder()
		del := fmt.Sprintf(
			`DELETE FROM team_invitations WHERE id = %s AND team_id = %s AND accepted_at IS NULL`,
			pb.Add(invitationID), pb.Add(sc.TeamID))
		n, err := store.Exec(ctx, tx, del, pb.Params()...)
		if err != nil {
			return err
		}
		if n == 0 {
			return apperror.NotFound("invitation", fmt.Sprint(invitationID))
		}
		return nil
	})
}

// UpdateRole changes a membership's role within the caller's team.
func (s *Service) UpdateRole(ctx context.Context, sc scope.Current, membershipID int64, role string) error {
	if sc.Kind != scope.Team {
		return apperror.Forbidden("Team scope required")
	}
	if !validRoles[role] {
		return apperror.BadRequest(fmt.Sprintf("Unknown role: %s", role))
	}
	return s.store.RunInTx(ctx, sc, func(tx *sql.Tx) error {
		pb := s.store.Dialect.NewParamBuilder()
		update := fmt.Sprintf(
			`UPDATE memberships SET role = %s WHERE id = %s AND team_id = %s`,
			pb.Add(role), pb.Add(membershipID), pb.Add(sc.TeamID))
		n, err := store.Exec(ctx, tx, update, pb.Params()...)
		if err != nil {
			return err
		}
		if n == 0 {
			return apperror.NotFound("membership", fmt.Sprint(membershipID))
		}
		return nil
	})
}

// RemoveMember deletes a membership. The last owner cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, sc scope.Current, membershipID int64) error {
	if sc.Kind != scope.Team {
		return apperror.Forbidden("Team scope required")
	}
	return s.store.RunInTx(ctx, sc, func(tx *sql.Tx) error {
		pb := s.store.Dialect.NewParamBuilder()
		query := fmt.Sprintf(
			`SELECT * FROM memberships WHERE id = %s AND team_id = %s`,
			pb.Add(membershipID), pb.Add(sc.TeamID))
		member, err := store.QueryRow(ctx, tx, query, pb.Params()...)
		if errors.Is(err, store.ErrNotFound) {
			return apperror.NotFound("membership", fmt.Sprint(membershipID))
		}
		if err != nil {
			return err
		}

		if role, _ := member["role"].(string); role == "owner" {
			pb = s.store.Dialect.NewParamBuilder()
			count := fmt.Sprintf(
				`SELECT COUNT(*) AS n FROM memberships WHERE team_id = %s AND role = 'owner'`,
				pb.Add(sc.TeamID))
			row, err := store.QueryRow(ctx, tx, count, pb.Params()...)
			if err != nil {
				return err
			}
			if n, _ := row["n"].(int64); n <= 1 {
				return apperror.Conflict("Cannot remove the last owner")
			}
		}

		pb = s.store.Dialect.NewParamBuilder()
		del := fmt.Sprintf(`DELETE FROM memberships WHERE id = %s`, pb.Add(membershipID))
		_, err = store.Exec(ctx, tx, del, pb.Params()...)
		return err
	})
}

func (s *Service) hashToken(token string) string {
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
