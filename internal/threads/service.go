// Package threads attaches comment threads to any object. A thread is
// keyed by (object_type, object_id) and created lazily on first use;
// comments arrive from the app or from the inbound-email webhook.
package threads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/objects"
	"github.com/Plabrum/arive/internal/scope"
	"github.com/Plabrum/arive/internal/store"
)

type Service struct {
	store    *store.Store
	registry *objects.Registry
	engine   *objects.Engine
}

func NewService(s *store.Store, reg *objects.Registry, eng *objects.Engine) *Service {
	return &Service{store: s, registry: reg, engine: eng}
}

// Ensure returns the thread for the object, creating it on first use. The
// object must exist and be visible in the caller's scope.
func (s *Service) Ensure(ctx context.Context, sc scope.Current, objectType string, objectID int64) (map[string]any, error) {
	obj := s.registry.Get(objectType)
	if obj == nil {
		return nil, apperror.UnknownObject(objectType)
	}
	var thread map[string]any
	err := s.store.RunInTx(ctx, sc, func(tx *sql.Tx) error {
		row, err := s.engine.GetByID(ctx, tx, obj, sc, objectID)
		if err != nil {
			return err
		}
		teamID, _ := row["team_id"].(int64)
		if teamID == 0 && sc.Kind == scope.Team {
			teamID = sc.TeamID
		}

		thread, err = s.find(ctx, tx, objectType, objectID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		pb := s.store.Dialect.NewParamBuilder()
		insert := fmt.Sprintf(
			`INSERT INTO threads (team_id, object_type, object_id) VALUES (%s, %s, %s)`,
			pb.Add(teamID), pb.Add(objectType), pb.Add(objectID))
		if _, err := store.Exec(ctx, tx, insert, pb.Params()...); err != nil {
			// A concurrent ensure may have won the race; re-read either way.
			if !errors.Is(s.store.MapError(err), store.ErrUniqueViolation) {
				return err
			}
		}
		thread, err = s.find(ctx, tx, objectType, objectID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return thread, nil
}

func (s *Service) find(ctx context.Context, tx *sql.Tx, objectType string, objectID int64) (map[string]any, error) {
	pb := s.store.Dialect.NewParamBuilder()
	query := fmt.Sprintf(
		`SELECT * FROM threads WHERE object_type = %s AND object_id = %s`,
		pb.Add(objectType), pb.Add(objectID))
	return store.QueryRow(ctx, tx, query, pb.Params()...)
}

// AddComment appends an authenticated user's comment, creating the thread
// if needed.
func (s *Service) AddComment(ctx context.Context, sc scope.Current, objectType string, objectID, authorID int64, authorEmail, body string) (map[string]any, error) {
	if body == "" {
		return nil, apperror.BadRequest("body is required")
	}
	thread, err := s.Ensure(ctx, sc, objectType, objectID)
	if err != nil {
		return nil, err
	}
	var comment map[string]any
	err = s.store.RunInTx(ctx, sc, func(tx *sql.Tx) error {
		pb := s.store.Dialect.NewParamBuilder()
		insert := fmt.Sprintf(
			`INSERT INTO comments (team_id, thread_id, author_id, author_email, body) VALUES (%s, %s, %s, %s, %s)`,
			pb.Add(thread["team_id"]), pb.Add(thread["id"]), pb.Add(authorID), pb.Add(authorEmail), pb.Add(body))
		if _, err := store.Exec(ctx, tx, insert, pb.Params()...); err != nil {
			return err
		}
		pb = s.store.Dialect.NewParamBuilder()
		query := fmt.Sprintf(
			`SELECT * FROM comments WHERE thread_id = %s ORDER BY id DESC LIMIT 1`,
			pb.Add(thread["id"]))
		var err error
		comment, err = store.QueryRow(ctx, tx, query, pb.Params()...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}
	return comment, nil
}

// AddInboundComment appends a comment on behalf of an email sender. It runs
// in system scope because webhook callers have no session; tenancy comes
// from the thread row itself.
func (s *Service) AddInboundComment(ctx context.Context, objectType string, objectID int64, authorEmail, body string) error {
	if body == "" || authorEmail == "" {
		return apperror.BadRequest("from and body are required")
	}
	return s.store.RunInTx(ctx, scope.System(), func(tx *sql.Tx) error {
		thread, err := s.find(ctx, tx, objectType, objectID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperror.NotFound("threads", fmt.Sprintf("%s/%d", objectType, objectID))
			}
			return err
		}
		pb := s.store.Dialect.NewParamBuilder()
		insert := fmt.Sprintf(
			`INSERT INTO comments (team_id, thread_id, author_email, body) VALUES (%s, %s, %s, %s)`,
			pb.Add(thread["team_id"]), pb.Add(thread["id"]), pb.Add(authorEmail), pb.Add(body))
		_, err = store.Exec(ctx, tx, insert, pb.Params()...)
		return err
	})
}

// Comments lists a thread's comments oldest first.
func (s *Service) Comments(ctx context.Context, sc scope.Current, objectType string, objectID int64) ([]map[string]any, error) {
	obj := s.registry.Get(objectType)
	if obj == nil {
		return nil, apperror.UnknownObject(objectType)
	}
	var rows []map[string]any
	err := s.store.RunInTx(ctx, sc, func(tx *sql.Tx) error {
		if _, err := s.engine.GetByID(ctx, tx, obj, sc, objectID); err != nil {
			return err
		}
		thread, err := s.find(ctx, tx, objectType, objectID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				rows = []map[string]any{}
				return nil
			}
			return err
		}
		pb := s.store.Dialect.NewParamBuilder()
		query := fmt.Sprintf(
			`SELECT * FROM comments WHERE thread_id = %s AND deleted_at IS NULL ORDER BY id ASC`,
			pb.Add(thread["id"]))
		rows, err = store.QueryRows(ctx, tx, query, pb.Params()...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
