package store

import "fmt"

// Dialect abstracts database-specific SQL generation and behavior.
// PostgreSQL is the production target (row-level security); SQLite backs
// development and tests, where tenant isolation falls entirely on the
// application-level scope predicate.
type Dialect interface {
	// Name returns "postgres" or "sqlite".
	Name() string

	// DriverName returns the database/sql driver name ("pgx" or "sqlite").
	DriverName() string

	// NewParamBuilder creates a dialect-aware parameter builder.
	NewParamBuilder() ParamBuilder

	// NowExpr returns the SQL expression for the current timestamp.
	NowExpr() string

	// ILikeExpr builds a case-insensitive substring match clause.
	ILikeExpr(column string, pb ParamBuilder, needle string) string

	// InExpr builds an IN clause for the given values.
	InExpr(column string, pb ParamBuilder, values []any) string

	// TimeBucketExpr returns the expression truncating a timestamp column to
	// the given granularity ("day", "week", "month", "year").
	TimeBucketExpr(column, granularity string) string

	// SeriesCTE returns a CTE producing one row per bucket between two bound
	// parameters, for gap-filled time series. The CTE must be named "buckets"
	// with a single column "bucket".
	SeriesCTE(pb ParamBuilder, start, end any, granularity string) string

	// SetScopeSQL returns statements applying tenant session variables inside
	// the current transaction, or nil when the database has no session-variable
	// mechanism (SQLite).
	SetScopeSQL(teamID, campaignID int64, systemMode bool) []string

	// SchemaSQL returns the full DDL for all application tables.
	SchemaSQL() string

	// MapError inspects a driver error and returns a sentinel if applicable.
	MapError(err error) error
}

// ParamBuilder accumulates query parameters and generates dialect-specific
// placeholders.
type ParamBuilder interface {
	Add(v any) string
	Params() []any
	Count() int
}

// NewDialect creates a Dialect for the given driver name.
func NewDialect(driver string) Dialect {
	switch driver {
	case "sqlite":
		return &SQLiteDialect{}
	default:
		return &PostgresDialect{}
	}
}

type pgParamBuilder struct {
	params []any
	n      int
}

func (p *pgParamBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("$%d", p.n)
}

func (p *pgParamBuilder) Params() []any { return p.params }
func (p *pgParamBuilder) Count() int    { return p.n }

type sqliteParamBuilder struct {
	params []any
	n      int
}

func (p *sqliteParamBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("?%d", p.n)
}

func (p *sqliteParamBuilder) Params() []any { return p.params }
func (p *sqliteParamBuilder) Count() int    { return p.n }
