package objects

import (
	"fmt"
	"time"

	"github.com/Plabrum/arive/internal/apperror"
)

// TextOperation is the closed set of operations a text filter supports.
type TextOperation string

const (
	TextContains   TextOperation = "contains"
	TextEquals     TextOperation = "equals"
	TextStartsWith TextOperation = "starts_with"
)

// FilterDefinition is the wire-level tagged union of filter variants. Kind
// is the discriminant; only the fields of the matching variant are read.
//
//	text:    {operation, value}
//	range:   {min, max}          (either bound optional, not both absent)
//	boolean: {flag}
//	date:    {start, end}        (RFC 3339; either bound optional)
//	enum:    {values}
type FilterDefinition struct {
	Kind FilterKind `json:"kind"`

	Operation TextOperation `json:"operation,omitempty"`
	Value     string        `json:"value,omitempty"`

	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`

	Flag *bool `json:"flag,omitempty"`

	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`

	Values []string `json:"values,omitempty"`
}

// Filter pairs a column key with its definition.
type Filter struct {
	Column     string           `json:"column"`
	Definition FilterDefinition `json:"definition"`
}

// Sort orders results by one column.
type Sort struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc"`
}

// ListRequest is the structured list query for the generic object endpoint.
type ListRequest struct {
	Filters []Filter `json:"filters,omitempty"`
	Sorts   []Sort   `json:"sorts,omitempty"`
	Search  string   `json:"search,omitempty"`
	Offset  int      `json:"offset,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// validateFilter checks a filter against the target column. Unknown columns,
// non-filterable columns, unknown kinds and kind/column mismatches are all
// hard failures: a silently dropped filter could widen a result set, which
// is a tenant-safety hazard, not a UX nicety.
func validateFilter(obj *Object, f Filter) (*ColumnDefinition, error) {
	col := obj.Column(f.Column)
	if col == nil {
		return nil, apperror.BadRequest(fmt.Sprintf("Unknown filter column: %s", f.Column))
	}
	if !col.Filterable {
		return nil, apperror.BadRequest(fmt.Sprintf("Column is not filterable: %s", f.Column))
	}

	expected := col.Type.DefaultFilterKind()
	switch f.Definition.Kind {
	case FilterText, FilterRange, FilterDate, FilterBoolean, FilterEnum:
		if f.Definition.Kind != expected {
			return nil, apperror.BadRequest(fmt.Sprintf(
				"Filter kind %q does not match column %s (expected %q)",
				f.Definition.Kind, f.Column, expected))
		}
	default:
		return nil, apperror.BadRequest(fmt.Sprintf(
			"Unknown filter kind %q for column %s", f.Definition.Kind, f.Column))
	}

	switch f.Definition.Kind {
	case FilterText:
		switch f.Definition.Operation {
		case TextContains, TextEquals, TextStartsWith:
		case "":
			// contains is the default operation
		default:
			return nil, apperror.BadRequest(fmt.Sprintf(
				"Unknown text operation %q for column %s", f.Definition.Operation, f.Column))
		}
	case FilterRange:
		if f.Definition.Min == nil && f.Definition.Max == nil {
			return nil, apperror.BadRequest(fmt.Sprintf(
				"Range filter on %s needs at least one bound", f.Column))
		}
	case FilterDate:
		if f.Definition.Start == nil && f.Definition.End == nil {
			return nil, apperror.BadRequest(fmt.Sprintf(
				"Date filter on %s needs at least one bound", f.Column))
		}
	case FilterBoolean:
		if f.Definition.Flag == nil {
			return nil, apperror.BadRequest(fmt.Sprintf(
				"Boolean filter on %s missing flag", f.Column))
		}
	case FilterEnum:
		if len(f.Definition.Values) == 0 {
			return nil, apperror.BadRequest(fmt.Sprintf(
				"Enum filter on %s needs at least one value", f.Column))
		}
	}

	return col, nil
}
