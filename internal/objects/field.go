package objects

// FieldType is the closed enumeration of column kinds. Each kind implies a
// default filter strategy and drives both query building and generic UI
// rendering.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldText     FieldType = "text"
	FieldInt      FieldType = "int"
	FieldFloat    FieldType = "float"
	FieldBool     FieldType = "bool"
	FieldDate     FieldType = "date"
	FieldDatetime FieldType = "datetime"
	FieldEnum     FieldType = "enum"
	FieldUSD      FieldType = "usd"
	FieldObject   FieldType = "object"
	FieldEmail    FieldType = "email"
	FieldURL      FieldType = "url"
	FieldJSON     FieldType = "json"
)

// FilterKind is the closed set of filter strategies a column supports.
type FilterKind string

const (
	FilterText    FilterKind = "text"
	FilterRange   FilterKind = "range"
	FilterDate    FilterKind = "date"
	FilterBoolean FilterKind = "boolean"
	FilterEnum    FilterKind = "enum"
	FilterNone    FilterKind = ""
)

// DefaultFilterKind maps a field type to the filter strategy applied when a
// column declares itself filterable.
func (t FieldType) DefaultFilterKind() FilterKind {
	switch t {
	case FieldString, FieldText, FieldEmail, FieldURL:
		return FilterText
	case FieldInt, FieldFloat, FieldUSD:
		return FilterRange
	case FieldDate, FieldDatetime:
		return FilterDate
	case FieldBool:
		return FilterBoolean
	case FieldEnum, FieldObject:
		return FilterEnum
	default:
		return FilterNone
	}
}

// IsNumeric reports whether the field aggregates as a number (time-series
// aggregation defaults to sum for these, count for everything else).
func (t FieldType) IsNumeric() bool {
	switch t {
	case FieldInt, FieldFloat, FieldUSD:
		return true
	default:
		return false
	}
}

// IsSearchable reports whether the field participates in full-text search.
func (t FieldType) IsSearchable() bool {
	switch t {
	case FieldString, FieldText, FieldEmail, FieldURL:
		return true
	default:
		return false
	}
}
