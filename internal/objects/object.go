// Package objects implements the generic object metadata layer: the
// ObjectType registry, column definitions, the list/filter/sort query engine
// and time-series aggregation. Domain packages declare an Object descriptor
// per entity and the generic HTTP surface serves them all.
package objects

// ColumnDefinition declares one queryable/renderable column of an object.
// Key must resolve to a column on the object's table. For
// relationship-valued columns, QueryRelationship and QueryColumn must
// declare the join path explicitly.
type ColumnDefinition struct {
	Key            string    `json:"key"`
	Label          string    `json:"label"`
	Type           FieldType `json:"type"`
	Sortable       bool      `json:"sortable"`
	Filterable     bool      `json:"filterable"`
	DefaultVisible bool      `json:"default_visible"`
	Editable       bool      `json:"editable"`
	Nullable       bool      `json:"nullable"`
	EnumValues     []string  `json:"enum_values,omitempty"`

	// Declared join path for relationship-valued columns: the column lives
	// on QueryRelationship's table, joined through ForeignKey.
	// e.g. {Key: "brand_name", QueryRelationship: "brands",
	// QueryColumn: "name", ForeignKey: "brand_id"}.
	QueryRelationship string `json:"-"`
	QueryColumn       string `json:"-"`
	ForeignKey        string `json:"-"`
}

// IsRelationship reports whether the column resolves through a join.
func (c ColumnDefinition) IsRelationship() bool {
	return c.QueryRelationship != ""
}

// Object describes one registered entity kind: its table, tenancy shape,
// columns and the action groups operating on it.
type Object struct {
	// Type is the globally unique ObjectType tag, used as registry key and
	// wire-protocol discriminator (e.g. "brands", "campaigns").
	Type string

	Table      string
	SoftDelete bool

	// TeamScoped objects carry a team_id column; CampaignColumn names the
	// column the campaign-level tenancy predicate matches (empty for
	// team-only tables; "id" for campaigns themselves).
	TeamScoped     bool
	CampaignColumn string

	Columns []ColumnDefinition

	// DefaultSort applied when a request carries no sorts. Empty means the
	// engine's created_at DESC fallback.
	DefaultSort []Sort

	// Action group names for the generic action surface.
	TopLevelGroup string
	ObjectGroup   string
}

// Column returns the declared column with the given key, or nil.
func (o *Object) Column(key string) *ColumnDefinition {
	for i := range o.Columns {
		if o.Columns[i].Key == key {
			return &o.Columns[i]
		}
	}
	return nil
}

// SearchableColumns returns the columns participating in full-text search.
func (o *Object) SearchableColumns() []ColumnDefinition {
	var cols []ColumnDefinition
	for _, c := range o.Columns {
		if !c.IsRelationship() && c.Type.IsSearchable() {
			cols = append(cols, c)
		}
	}
	return cols
}
