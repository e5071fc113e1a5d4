package objects

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/scope"
	"github.com/Plabrum/arive/internal/store"
)

// Aggregation is the closed set of aggregation kinds.
type Aggregation string

const (
	AggCount Aggregation = "count"
	AggSum   Aggregation = "sum"
	AggAvg   Aggregation = "avg"
)

// Granularity of time buckets.
type Granularity string

const (
	GranDay   Granularity = "day"
	GranWeek  Granularity = "week"
	GranMonth Granularity = "month"
	GranYear  Granularity = "year"
	GranAuto  Granularity = "auto"
)

// SeriesRequest asks for "aggregate Field over TimeRange at Granularity".
type SeriesRequest struct {
	Field       string      `json:"field"`
	Aggregation Aggregation `json:"aggregation,omitempty"`
	Granularity Granularity `json:"granularity,omitempty"`
	TimeRange   string      `json:"time_range,omitempty"` // preset name
	Start       *time.Time  `json:"start,omitempty"`
	End         *time.Time  `json:"end,omitempty"`
	FillMissing bool        `json:"fill_missing,omitempty"`
}

// Bucket is one granularity unit of the series: either a single numeric
// Value, or a categorical breakdown (distinct value -> count) plus total.
type Bucket struct {
	Start      time.Time        `json:"start"`
	Value      float64          `json:"value"`
	Breakdowns map[string]int64 `json:"breakdowns,omitempty"`
	TotalCount int64            `json:"total_count"`
}

// Series answers a time-series aggregation over one registered object field.
func (e *Engine) Series(ctx context.Context, q store.Querier, obj *Object, sc scope.Current, req SeriesRequest) ([]Bucket, error) {
	col := obj.Column(req.Field)
	if col == nil {
		return nil, apperror.BadRequest(fmt.Sprintf("Unknown field: %s", req.Field))
	}

	start, end, err := resolveRange(req)
	if err != nil {
		return nil, err
	}

	gran := req.Granularity
	if gran == "" || gran == GranAuto {
		gran = autoGranularity(start, end)
	}
	switch gran {
	case GranDay, GranWeek, GranMonth, GranYear:
	default:
		return nil, apperror.BadRequest(fmt.Sprintf("Unknown granularity: %s", gran))
	}

	agg := req.Aggregation
	if agg == "" {
		if col.Type.IsNumeric() {
			agg = AggSum
		} else {
			agg = AggCount
		}
	}

	// Numeric aggregations produce one value per bucket; everything else is
	// a categorical breakdown keyed by distinct field value.
	if agg == AggSum || agg == AggAvg {
		if !col.Type.IsNumeric() {
			return nil, apperror.BadRequest(fmt.Sprintf(
				"Aggregation %q requires a numeric field, %s is %s", agg, req.Field, col.Type))
		}
		return e.numericSeries(ctx, q, obj, sc, col, agg, gran, start, end, req.FillMissing)
	}
	if agg != AggCount {
		return nil, apperror.BadRequest(fmt.Sprintf("Unknown aggregation: %s", agg))
	}
	return e.breakdownSeries(ctx, q, obj, sc, col, gran, start, end, req.FillMissing)
}

func (e *Engine) numericSeries(ctx context.Context, q store.Querier, obj *Object, sc scope.Current, col *ColumnDefinition, agg Aggregation, gran Granularity, start, end time.Time, fill bool) ([]Bucket, error) {
	pb := e.dialect.NewParamBuilder()
	where := e.seriesWhere(obj, sc, pb, start, end)
	bucketExpr := e.dialect.TimeBucketExpr(obj.Table+".created_at", string(gran))
	valueExpr := fmt.Sprintf("%s(%s)", strings.ToUpper(string(agg)), e.columnExpr(obj, col))

	var sql string
	if fill {
		// Gap filling happens in the query, not application code, so the
		// bucket set stays correct under concurrent writes.
		cte := e.dialect.SeriesCTE(pb, start, end, string(gran))
		sql = fmt.Sprintf(
			"WITH %s SELECT buckets.bucket AS bucket, COALESCE(agg.value, 0) AS value, COALESCE(agg.n, 0) AS n FROM buckets "+
				"LEFT JOIN (SELECT %s AS bucket, %s AS value, COUNT(*) AS n FROM %s WHERE %s GROUP BY 1) agg "+
				"ON agg.bucket = buckets.bucket ORDER BY buckets.bucket",
			cte, bucketExpr, valueExpr, obj.Table, where)
	} else {
		sql = fmt.Sprintf(
			"SELECT %s AS bucket, %s AS value, COUNT(*) AS n FROM %s WHERE %s GROUP BY 1 ORDER BY 1",
			bucketExpr, valueExpr, obj.Table, where)
	}

	rows, err := store.QueryRows(ctx, q, sql, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("series %s.%s: %w", obj.Type, col.Key, err)
	}

	buckets := make([]Bucket, 0, len(rows))
	for _, row := range rows {
		buckets = append(buckets, Bucket{
			Start:      toBucketTime(row["bucket"]),
			Value:      toFloat(row["value"]),
			TotalCount: toInt64(row["n"]),
		})
	}
	return buckets, nil
}

func (e *Engine) breakdownSeries(ctx context.Context, q store.Querier, obj *Object, sc scope.Current, col *ColumnDefinition, gran Granularity, start, end time.Time, fill bool) ([]Bucket, error) {
	pb := e.dialect.NewParamBuilder()
	where := e.seriesWhere(obj, sc, pb, start, end)
	bucketExpr := e.dialect.TimeBucketExpr(obj.Table+".created_at", string(gran))
	valueExpr := e.columnExpr(obj, col)

	var sql string
	if fill {
		// Same query-level gap filling as the numeric path: empty buckets
		// come back as one row with a NULL value and a zero count.
		cte := e.dialect.SeriesCTE(pb, start, end, string(gran))
		sql = fmt.Sprintf(
			"WITH %s SELECT buckets.bucket AS bucket, agg.value AS value, COALESCE(agg.n, 0) AS n FROM buckets "+
				"LEFT JOIN (SELECT %s AS bucket, %s AS value, COUNT(*) AS n FROM %s WHERE %s GROUP BY 1, 2) agg "+
				"ON agg.bucket = buckets.bucket ORDER BY buckets.bucket, agg.value",
			cte, bucketExpr, valueExpr, e.fromClause(obj), where)
	} else {
		sql = fmt.Sprintf(
			"SELECT %s AS bucket, %s AS value, COUNT(*) AS n FROM %s WHERE %s GROUP BY 1, 2 ORDER BY 1, 2",
			bucketExpr, valueExpr, e.fromClause(obj), where)
	}

	rows, err := store.QueryRows(ctx, q, sql, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("series %s.%s: %w", obj.Type, col.Key, err)
	}

	byBucket := map[time.Time]*Bucket{}
	var order []time.Time
	for _, row := range rows {
		ts := toBucketTime(row["bucket"])
		b, ok := byBucket[ts]
		if !ok {
			b = &Bucket{Start: ts, Breakdowns: map[string]int64{}}
			byBucket[ts] = b
			order = append(order, ts)
		}
		if row["value"] == nil {
			continue
		}
		n := toInt64(row["n"])
		b.Breakdowns[fmt.Sprintf("%v", row["value"])] = n
		b.TotalCount += n
	}

	buckets := make([]Bucket, 0, len(order))
	for _, ts := range order {
		buckets = append(buckets, *byBucket[ts])
	}
	return buckets, nil
}

// seriesWhere confines the aggregation to the requested window and the
// caller's tenant. The same fail-closed predicate as List.
func (e *Engine) seriesWhere(obj *Object, sc scope.Current, pb store.ParamBuilder, start, end time.Time) string {
	clauses := []string{
		fmt.Sprintf("%s.created_at >= %s", obj.Table, pb.Add(start)),
		fmt.Sprintf("%s.created_at < %s", obj.Table, pb.Add(end)),
	}
	if obj.SoftDelete {
		clauses = append(clauses, fmt.Sprintf("%s.deleted_at IS NULL", obj.Table))
	}
	if tenant := e.tenantPredicate(obj, sc, pb); tenant != "" {
		clauses = append(clauses, tenant)
	}
	return strings.Join(clauses, " AND ")
}

func resolveRange(req SeriesRequest) (time.Time, time.Time, error) {
	if req.Start != nil && req.End != nil {
		return *req.Start, *req.End, nil
	}
	now := time.Now().UTC()
	switch req.TimeRange {
	case "last_7_days":
		return now.AddDate(0, 0, -7), now, nil
	case "last_30_days", "":
		return now.AddDate(0, 0, -30), now, nil
	case "last_90_days":
		return now.AddDate(0, 0, -90), now, nil
	case "last_year":
		return now.AddDate(-1, 0, 0), now, nil
	case "all_time":
		return time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), now, nil
	default:
		return time.Time{}, time.Time{}, apperror.BadRequest(
			fmt.Sprintf("Unknown time range: %s", req.TimeRange))
	}
}

// autoGranularity picks the bucket size by range span.
func autoGranularity(start, end time.Time) Granularity {
	span := end.Sub(start)
	switch {
	case span <= 31*24*time.Hour:
		return GranDay
	case span <= 120*24*time.Hour:
		return GranWeek
	case span <= 2*365*24*time.Hour:
		return GranMonth
	default:
		return GranYear
	}
}

func toBucketTime(v any) time.Time {
	switch val := v.(type) {
	case time.Time:
		return val.UTC()
	case string:
		if t, err := time.Parse(time.RFC3339, val); err == nil {
			return t.UTC()
		}
		if t, err := time.Parse("2006-01-02 15:04:05", val); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	}
	return 0
}

func toInt64(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case float64:
		return int64(val)
	}
	return 0
}
