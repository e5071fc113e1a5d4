package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) NewParamBuilder() ParamBuilder {
	return &pgParamBuilder{}
}

func (d *PostgresDialect) NowExpr() string { return "NOW()" }

func (d *PostgresDialect) ILikeExpr(column string, pb ParamBuilder, needle string) string {
	return fmt.Sprintf("%s ILIKE %s", column, pb.Add("%"+needle+"%"))
}

func (d *PostgresDialect) InExpr(column string, pb ParamBuilder, values []any) string {
	return fmt.Sprintf("%s = ANY(%s)", column, pb.Add(values))
}

func (d *PostgresDialect) TimeBucketExpr(column, granularity string) string {
	return fmt.Sprintf("date_trunc('%s', %s)", granularity, column)
}

func (d *PostgresDialect) SeriesCTE(pb ParamBuilder, start, end any, granularity string) string {
	return fmt.Sprintf(
		"buckets AS (SELECT generate_series(date_trunc('%s', %s::timestamptz), date_trunc('%s', %s::timestamptz), interval '1 %s') AS bucket)",
		granularity, pb.Add(start), granularity, pb.Add(end), granularity)
}

// SetScopeSQL produces transaction-scoped session variables consumed by the
// row-level-security policies. SET LOCAL never outlives the transaction, so
// pooled-connection reuse cannot leak a tenant.
func (d *PostgresDialect) SetScopeSQL(teamID, campaignID int64, systemMode bool) []string {
	stmts := make([]string, 0, 3)
	if systemMode {
		stmts = append(stmts, "SET LOCAL app.system_mode = 'on'")
	}
	if teamID > 0 {
		stmts = append(stmts, fmt.Sprintf("SET LOCAL app.current_team_id = '%d'", teamID))
	}
	if campaignID > 0 {
		stmts = append(stmts, fmt.Sprintf("SET LOCAL app.current_campaign_id = '%d'", campaignID))
	}
	return stmts
}

func (d *PostgresDialect) SchemaSQL() string {
	return pgSchemaSQL
}

func (d *PostgresDialect) MapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrUniqueViolation, pgErr.Detail)
		}
	}
	if strings.Contains(err.Error(), "duplicate key") {
		return ErrUniqueViolation
	}
	return err
}
