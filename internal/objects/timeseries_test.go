package objects

import (
	"context"
	"testing"

	"github.com/Plabrum/arive/internal/scope"
	"github.com/Plabrum/arive/internal/store"
)

func invoicesObject() *Object {
	return &Object{
		Type:       "invoices",
		Table:      "invoices",
		SoftDelete: true,
		TeamScoped: true,
		Columns: []ColumnDefinition{
			{Key: "number", Label: "Number", Type: FieldString},
			{Key: "amount_cents", Label: "Amount", Type: FieldUSD},
			{Key: "status", Label: "Status", Type: FieldEnum, EnumValues: []string{"Draft", "Sent", "Paid", "Void"}},
		},
	}
}

func seedInvoice(t *testing.T, s *store.Store, e *Engine, obj *Object, teamID int64, number, status string, amount int64) {
	t.Helper()
	_, err := e.Insert(context.Background(), s.DB, obj, map[string]any{
		"team_id":      teamID,
		"number":       number,
		"status":       status,
		"amount_cents": amount,
	})
	if err != nil {
		t.Fatalf("seed invoice %s: %v", number, err)
	}
}

func TestSeries_BreakdownByStatus(t *testing.T) {
	s := testStore(t)
	e := NewEngine(s.Dialect)
	obj := invoicesObject()

	seedInvoice(t, s, e, obj, 1, "INV-1", "Draft", 1000)
	seedInvoice(t, s, e, obj, 1, "INV-2", "Sent", 2000)
	seedInvoice(t, s, e, obj, 1, "INV-3", "Sent", 3000)
	seedInvoice(t, s, e, obj, 2, "INV-4", "Paid", 9000)

	buckets, err := e.Series(context.Background(), s.DB, obj, scope.TeamScope(1), SeriesRequest{
		Field:     "status",
		TimeRange: "last_30_days",
	})
	if err != nil {
		t.Fatalf("series: %v", err)
	}

	counts := map[string]int64{}
	var total int64
	for _, b := range buckets {
		for value, n := range b.Breakdowns {
			counts[value] += n
		}
		total += b.TotalCount
	}
	if total != 3 {
		t.Fatalf("expected 3 rows for team 1, got %d", total)
	}
	if counts["Draft"] != 1 || counts["Sent"] != 2 {
		t.Fatalf("unexpected breakdown: %v", counts)
	}
	if counts["Paid"] != 0 {
		t.Fatalf("row from team 2 leaked into series: %v", counts)
	}
}

func TestSeries_NumericSum(t *testing.T) {
	s := testStore(t)
	e := NewEngine(s.Dialect)
	obj := invoicesObject()

	seedInvoice(t, s, e, obj, 1, "INV-1", "Draft", 1000)
	seedInvoice(t, s, e, obj, 1, "INV-2", "Sent", 2500)

	buckets, err := e.Series(context.Background(), s.DB, obj, scope.TeamScope(1), SeriesRequest{
		Field:       "amount_cents",
		Aggregation: AggSum,
		Granularity: GranDay,
		TimeRange:   "last_7_days",
	})
	if err != nil {
		t.Fatalf("series: %v", err)
	}

	var sum float64
	for _, b := range buckets {
		sum += b.Value
	}
	if sum != 3500 {
		t.Fatalf("expected sum 3500, got %v", sum)
	}
}

func TestSeries_FillMissingProducesContiguousBuckets(t *testing.T) {
	s := testStore(t)
	e := NewEngine(s.Dialect)
	obj := invoicesObject()

	seedInvoice(t, s, e, obj, 1, "INV-1", "Draft", 1000)

	buckets, err := e.Series(context.Background(), s.DB, obj, scope.TeamScope(1), SeriesRequest{
		Field:       "amount_cents",
		Aggregation: AggSum,
		Granularity: GranDay,
		TimeRange:   "last_7_days",
		FillMissing: true,
	})
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if len(buckets) < 7 {
		t.Fatalf("expected at least 7 daily buckets with fill, got %d", len(buckets))
	}
	for i := 1; i < len(buckets); i++ {
		if !buckets[i].Start.After(buckets[i-1].Start) {
			t.Fatalf("buckets out of order at %d: %v then %v", i, buckets[i-1].Start, buckets[i].Start)
		}
	}
}

func TestSeries_FillMissingBreakdownBuckets(t *testing.T) {
	s := testStore(t)
	e := NewEngine(s.Dialect)
	obj := invoicesObject()

	seedInvoice(t, s, e, obj, 1, "INV-1", "Draft", 1000)
	seedInvoice(t, s, e, obj, 1, "INV-2", "Sent", 2000)

	buckets, err := e.Series(context.Background(), s.DB, obj, scope.TeamScope(1), SeriesRequest{
		Field:       "status",
		Granularity: GranDay,
		TimeRange:   "last_7_days",
		FillMissing: true,
	})
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if len(buckets) < 7 {
		t.Fatalf("expected at least 7 daily buckets with fill, got %d", len(buckets))
	}

	var total int64
	for i, b := range buckets {
		if i > 0 && !b.Start.After(buckets[i-1].Start) {
			t.Fatalf("buckets out of order at %d: %v then %v", i, buckets[i-1].Start, b.Start)
		}
		if b.TotalCount == 0 && len(b.Breakdowns) != 0 {
			t.Fatalf("empty bucket carries breakdown keys: %v", b.Breakdowns)
		}
		total += b.TotalCount
	}
	if total != 2 {
		t.Fatalf("expected 2 rows across the filled series, got %d", total)
	}
}

func TestSeries_RejectsSumOverText(t *testing.T) {
	s := testStore(t)
	e := NewEngine(s.Dialect)
	obj := invoicesObject()

	_, err := e.Series(context.Background(), s.DB, obj, scope.TeamScope(1), SeriesRequest{
		Field:       "number",
		Aggregation: AggSum,
	})
	if err == nil {
		t.Fatal("expected error summing a text field")
	}
}

func TestSeries_UnknownField(t *testing.T) {
	s := testStore(t)
	e := NewEngine(s.Dialect)
	obj := invoicesObject()

	_, err := e.Series(context.Background(), s.DB, obj, scope.TeamScope(1), SeriesRequest{Field: "nope"})
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}
