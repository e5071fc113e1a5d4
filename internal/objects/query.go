package objects

import (
	"context"
	"fmt"
	"strings"

	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/scope"
	"github.com/Plabrum/arive/internal/store"
)

const (
	defaultLimit = 25
	maxLimit     = 100
)

// Engine executes generic list and detail queries against registered
// objects, always under a tenant scope.
type Engine struct {
	dialect store.Dialect
}

func NewEngine(dialect store.Dialect) *Engine {
	return &Engine{dialect: dialect}
}

// ListResult carries one page of rows plus the exact unpaginated total.
type ListResult struct {
	Rows  []map[string]any
	Total int64
}

// List resolves the structured request into SQL and executes it. Every
// filter is validated against the column metadata before anything runs;
// malformed filters and unknown sort keys fail the whole request.
func (e *Engine) List(ctx context.Context, q store.Querier, obj *Object, sc scope.Current, req ListRequest) (*ListResult, error) {
	where, pb, err := e.buildWhere(obj, sc, req)
	if err != nil {
		return nil, err
	}

	orderBy, err := e.buildOrderBy(obj, req.Sorts)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	sql := fmt.Sprintf("SELECT %s FROM %s%s", e.selectList(obj), e.fromClause(obj), where)
	sql += " ORDER BY " + orderBy
	sql += fmt.Sprintf(" LIMIT %s OFFSET %s", pb.Add(limit), pb.Add(offset))

	rows, err := store.QueryRows(ctx, q, sql, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", obj.Type, err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	// COUNT(*) over the filtered, unpaginated query so pagination metadata
	// is exact.
	countPB, _, cErr := e.rebuildWhere(obj, sc, req)
	if cErr != nil {
		return nil, cErr
	}
	countSQL := fmt.Sprintf("SELECT COUNT(*) AS total FROM %s%s", e.fromClause(obj), countPB.where)
	countRow, err := store.QueryRow(ctx, q, countSQL, countPB.pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", obj.Type, err)
	}
	total, _ := countRow["total"].(int64)

	return &ListResult{Rows: rows, Total: total}, nil
}

// GetByID fetches one row under scope. Returns apperror.NotFound both when
// the row does not exist and when it is outside the caller's tenant; the
// two cases are not distinguishable to the caller.
func (e *Engine) GetByID(ctx context.Context, q store.Querier, obj *Object, sc scope.Current, id int64) (map[string]any, error) {
	pb := e.dialect.NewParamBuilder()
	clauses := []string{fmt.Sprintf("%s.id = %s", obj.Table, pb.Add(id))}
	if obj.SoftDelete {
		clauses = append(clauses, fmt.Sprintf("%s.deleted_at IS NULL", obj.Table))
	}
	if tenant := e.tenantPredicate(obj, sc, pb); tenant != "" {
		clauses = append(clauses, tenant)
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		e.selectList(obj), e.fromClause(obj), strings.Join(clauses, " AND "))

	row, err := store.QueryRow(ctx, q, sql, pb.Params()...)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, apperror.NotFound(obj.Type, fmt.Sprintf("%d", id))
		}
		return nil, fmt.Errorf("get %s/%d: %w", obj.Type, id, err)
	}
	return row, nil
}

// tenantPredicate returns the fail-closed application-level scope clause.
// This duplicates what the database RLS policies enforce so a deployment
// without policy support (SQLite) is still isolated, and a policy mistake
// on PostgreSQL is caught by the second boundary.
func (e *Engine) tenantPredicate(obj *Object, sc scope.Current, pb store.ParamBuilder) string {
	if !obj.TeamScoped || sc.SystemMode {
		return ""
	}
	switch sc.Kind {
	case scope.Team:
		return fmt.Sprintf("%s.team_id = %s", obj.Table, pb.Add(sc.TeamID))
	case scope.Campaign:
		if obj.CampaignColumn == "" {
			// Campaign guests have no standing on team-only tables.
			return "1 = 0"
		}
		return fmt.Sprintf("%s.%s = %s", obj.Table, obj.CampaignColumn, pb.Add(sc.CampaignID))
	default:
		// Unscoped sessions see nothing. Fail closed.
		return "1 = 0"
	}
}

type whereParts struct {
	where string
	pb    store.ParamBuilder
}

func (e *Engine) buildWhere(obj *Object, sc scope.Current, req ListRequest) (string, store.ParamBuilder, error) {
	parts, _, err := e.rebuildWhere(obj, sc, req)
	if err != nil {
		return "", nil, err
	}
	return parts.where, parts.pb, nil
}

// rebuildWhere builds the WHERE clause with a fresh ParamBuilder. Called
// twice per list request: once for the page query, once for the count.
func (e *Engine) rebuildWhere(obj *Object, sc scope.Current, req ListRequest) (*whereParts, []string, error) {
	pb := e.dialect.NewParamBuilder()
	var clauses []string

	if obj.SoftDelete {
		clauses = append(clauses, fmt.Sprintf("%s.deleted_at IS NULL", obj.Table))
	}
	if tenant := e.tenantPredicate(obj, sc, pb); tenant != "" {
		clauses = append(clauses, tenant)
	}

	for _, f := range req.Filters {
		col, err := validateFilter(obj, f)
		if err != nil {
			return nil, nil, err
		}
		clauses = append(clauses, e.filterClause(obj, col, f.Definition, pb))
	}

	if req.Search != "" {
		var matches []string
		for _, col := range obj.SearchableColumns() {
			matches = append(matches, e.dialect.ILikeExpr(e.columnExpr(obj, &col), pb, req.Search))
		}
		if len(matches) > 0 {
			clauses = append(clauses, "("+strings.Join(matches, " OR ")+")")
		}
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	return &whereParts{where: where, pb: pb}, clauses, nil
}

// filterClause translates one validated filter definition into SQL. The
// definition's kind has already been matched against the column, so this is
// a closed pattern match.
func (e *Engine) filterClause(obj *Object, col *ColumnDefinition, def FilterDefinition, pb store.ParamBuilder) string {
	expr := e.columnExpr(obj, col)
	switch def.Kind {
	case FilterText:
		switch def.Operation {
		case TextEquals:
			return fmt.Sprintf("%s = %s", expr, pb.Add(def.Value))
		case TextStartsWith:
			return fmt.Sprintf("%s LIKE %s", expr, pb.Add(def.Value+"%"))
		default: // contains
			return e.dialect.ILikeExpr(expr, pb, def.Value)
		}
	case FilterRange:
		var bounds []string
		if def.Min != nil {
			bounds = append(bounds, fmt.Sprintf("%s >= %s", expr, pb.Add(*def.Min)))
		}
		if def.Max != nil {
			bounds = append(bounds, fmt.Sprintf("%s <= %s", expr, pb.Add(*def.Max)))
		}
		return strings.Join(bounds, " AND ")
	case FilterDate:
		var bounds []string
		if def.Start != nil {
			bounds = append(bounds, fmt.Sprintf("%s >= %s", expr, pb.Add(*def.Start)))
		}
		if def.End != nil {
			bounds = append(bounds, fmt.Sprintf("%s <= %s", expr, pb.Add(*def.End)))
		}
		return strings.Join(bounds, " AND ")
	case FilterBoolean:
		return fmt.Sprintf("%s = %s", expr, pb.Add(*def.Flag))
	default: // FilterEnum, validated upstream
		values := make([]any, len(def.Values))
		for i, v := range def.Values {
			values[i] = v
		}
		return e.dialect.InExpr(expr, pb, values)
	}
}

// buildOrderBy validates sort keys strictly. An unknown sort column is a
// hard failure, the same contract as filters.
func (e *Engine) buildOrderBy(obj *Object, sorts []Sort) (string, error) {
	if len(sorts) == 0 {
		sorts = obj.DefaultSort
	}
	if len(sorts) == 0 {
		// Deterministic fallback: newest first. Callers needing stable
		// pagination across created_at ties must pass an explicit sort.
		return fmt.Sprintf("%s.created_at DESC", obj.Table), nil
	}

	var parts []string
	for _, s := range sorts {
		col := obj.Column(s.Column)
		if col == nil {
			return "", apperror.BadRequest(fmt.Sprintf("Unknown sort column: %s", s.Column))
		}
		if !col.Sortable {
			return "", apperror.BadRequest(fmt.Sprintf("Column is not sortable: %s", s.Column))
		}
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("%s %s", e.columnExpr(obj, col), dir))
	}
	return strings.Join(parts, ", "), nil
}

// selectList produces the projection: every base-table column plus an
// aliased expression per declared relationship column.
func (e *Engine) selectList(obj *Object) string {
	parts := []string{obj.Table + ".*"}
	for _, c := range obj.Columns {
		if c.IsRelationship() {
			parts = append(parts, fmt.Sprintf("%s.%s AS %s", c.QueryRelationship, c.QueryColumn, c.Key))
		}
	}
	return strings.Join(parts, ", ")
}

// fromClause produces the base table plus a LEFT JOIN per relationship the
// object declares. Join paths come from the column metadata; table names
// are never guessed.
func (e *Engine) fromClause(obj *Object) string {
	from := obj.Table
	seen := map[string]bool{}
	for _, c := range obj.Columns {
		if !c.IsRelationship() || seen[c.QueryRelationship] {
			continue
		}
		seen[c.QueryRelationship] = true
		from += fmt.Sprintf(" LEFT JOIN %s ON %s.id = %s.%s",
			c.QueryRelationship, c.QueryRelationship, obj.Table, c.ForeignKey)
	}
	return from
}

func (e *Engine) columnExpr(obj *Object, col *ColumnDefinition) string {
	if col.IsRelationship() {
		return fmt.Sprintf("%s.%s", col.QueryRelationship, col.QueryColumn)
	}
	return fmt.Sprintf("%s.%s", obj.Table, col.Key)
}
