package store

import (
	"fmt"
	"strings"
)

// SQLiteDialect implements Dialect for modernc.org/sqlite. Used for
// development and tests. SQLite has no session variables, so SetScopeSQL is
// a no-op: the application-level scope predicate is the only tenant boundary
// there, and it must fail closed on its own.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) NowExpr() string { return "CURRENT_TIMESTAMP" }

func (d *SQLiteDialect) ILikeExpr(column string, pb ParamBuilder, needle string) string {
	// LIKE is case-insensitive for ASCII in SQLite by default.
	return fmt.Sprintf("%s LIKE %s", column, pb.Add("%"+needle+"%"))
}

func (d *SQLiteDialect) InExpr(column string, pb ParamBuilder, values []any) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", "))
}

func (d *SQLiteDialect) TimeBucketExpr(column, granularity string) string {
	switch granularity {
	case "day":
		return fmt.Sprintf("strftime('%%Y-%%m-%%dT00:00:00Z', %s)", column)
	case "week":
		// Monday-start weeks to match date_trunc('week', ...).
		return fmt.Sprintf("strftime('%%Y-%%m-%%dT00:00:00Z', %s, 'weekday 0', '-6 days')", column)
	case "month":
		return fmt.Sprintf("strftime('%%Y-%%m-01T00:00:00Z', %s)", column)
	default: // year
		return fmt.Sprintf("strftime('%%Y-01-01T00:00:00Z', %s)", column)
	}
}

func (d *SQLiteDialect) SeriesCTE(pb ParamBuilder, start, end any, granularity string) string {
	step := map[string]string{
		"day":   "+1 day",
		"week":  "+7 days",
		"month": "+1 month",
		"year":  "+1 year",
	}[granularity]
	bucket := d.TimeBucketExpr(pb.Add(start), granularity)
	endPh := pb.Add(end)
	return fmt.Sprintf(
		"RECURSIVE buckets(bucket) AS (SELECT %s UNION ALL SELECT strftime('%%Y-%%m-%%dT%%H:%%M:%%SZ', bucket, '%s') FROM buckets WHERE bucket < %s)",
		bucket, step, endPh)
}

func (d *SQLiteDialect) SetScopeSQL(_, _ int64, _ bool) []string {
	return nil
}

func (d *SQLiteDialect) SchemaSQL() string {
	return sqliteSchemaSQL
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", ErrUniqueViolation, msg)
	}
	return err
}
