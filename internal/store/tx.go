package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Plabrum/arive/internal/scope"
)

// RunInTx runs fn inside one transaction: the per-request (or per-task) unit
// of work. The caller's scope is applied as transaction-local session
// variables before fn runs, so every statement fn issues is confined by the
// row-level-security policies. Commit on success, rollback on error or panic.
func (s *Store) RunInTx(ctx context.Context, sc scope.Current, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()

	// SET LOCAL settings revert automatically on commit/rollback, so pooled
	// connections never carry a tenant into the next transaction.
	for _, stmt := range s.Dialect.SetScopeSQL(sc.TeamID, sc.CampaignID, sc.SystemMode) {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply scope: %w", err)
		}
	}

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
