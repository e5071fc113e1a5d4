package objects

import (
	"database/sql"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/scope"
	"github.com/Plabrum/arive/internal/sqid"
	"github.com/Plabrum/arive/internal/store"
)

type Handler struct {
	store    *store.Store
	registry *Registry
	engine   *Engine
	sqids    *sqid.Codec
}

func NewHandler(s *store.Store, reg *Registry, eng *Engine, codec *sqid.Codec) *Handler {
	return &Handler{store: s, registry: reg, engine: eng, sqids: codec}
}

// RegisterRoutes mounts the generic object endpoints. Routes are registered
// directly on the app to avoid Fiber route-tree conflicts with the static
// groups under /api/auth and /api/actions.
func RegisterRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	wrap := func(fn fiber.Handler) []fiber.Handler {
		all := make([]fiber.Handler, len(middleware)+1)
		copy(all, middleware)
		all[len(middleware)] = fn
		return all
	}

	app.Get("/o", wrap(h.ListObjects)...)
	app.Get("/o/:object_type/schema", wrap(h.Schema)...)
	app.Post("/o/:object_type/list", wrap(h.List)...)
	app.Post("/o/:object_type/data", wrap(h.Series)...)
	app.Get("/o/:object_type/:id", wrap(h.GetByID)...)
}

// ListObjects handles GET /o and returns the registered object catalog.
func (h *Handler) ListObjects(c *fiber.Ctx) error {
	type entry struct {
		Type          string `json:"type"`
		TopLevelGroup string `json:"top_level_group,omitempty"`
		ObjectGroup   string `json:"object_group,omitempty"`
	}
	all := h.registry.All()
	out := make([]entry, 0, len(all))
	for _, obj := range all {
		out = append(out, entry{Type: obj.Type, TopLevelGroup: obj.TopLevelGroup, ObjectGroup: obj.ObjectGroup})
	}
	return c.JSON(fiber.Map{"data": out})
}

// Schema handles GET /o/:object_type/schema and returns the column metadata
// the client needs to render list pages and filter controls.
func (h *Handler) Schema(c *fiber.Ctx) error {
	obj, err := h.resolveObject(c)
	if err != nil {
		return err
	}
	type columnSchema struct {
		ColumnDefinition
		FilterKind FilterKind `json:"filter_kind,omitempty"`
	}
	cols := make([]columnSchema, 0, len(obj.Columns))
	for _, col := range obj.Columns {
		cs := columnSchema{ColumnDefinition: col}
		if col.Filterable {
			cs.FilterKind = col.Type.DefaultFilterKind()
		}
		cols = append(cols, cs)
	}
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"type":         obj.Type,
			"columns":      cols,
			"default_sort": obj.DefaultSort,
		},
	})
}

// List handles POST /o/:object_type/list
func (h *Handler) List(c *fiber.Ctx) error {
	obj, err := h.resolveObject(c)
	if err != nil {
		return err
	}

	var req ListRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperror.BadRequest("Invalid JSON body")
		}
	}

	sc := scope.FromContext(c.UserContext())

	var result *ListResult
	err = h.store.RunInTx(c.UserContext(), sc, func(tx *sql.Tx) error {
		var err error
		result, err = h.engine.List(c.UserContext(), tx, obj, sc, req)
		return err
	})
	if err != nil {
		return err
	}

	rows := result.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	for _, row := range rows {
		h.encodeRow(row)
	}

	return c.JSON(fiber.Map{
		"data": rows,
		"meta": fiber.Map{
			"total":  result.Total,
			"offset": req.Offset,
			"limit":  req.Limit,
		},
	})
}

// GetByID handles GET /o/:object_type/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	obj, err := h.resolveObject(c)
	if err != nil {
		return err
	}

	id, err := h.sqids.Decode(c.Params("id"))
	if err != nil {
		return apperror.NotFound(obj.Type, c.Params("id"))
	}

	sc := scope.FromContext(c.UserContext())

	var row map[string]any
	err = h.store.RunInTx(c.UserContext(), sc, func(tx *sql.Tx) error {
		var err error
		row, err = h.engine.GetByID(c.UserContext(), tx, obj, sc, id)
		return err
	})
	if err != nil {
		return err
	}

	h.encodeRow(row)
	return c.JSON(fiber.Map{"data": row})
}

// Series handles POST /o/:object_type/data
func (h *Handler) Series(c *fiber.Ctx) error {
	obj, err := h.resolveObject(c)
	if err != nil {
		return err
	}

	var req SeriesRequest
	if err := c.BodyParser(&req); err != nil {
		return apperror.BadRequest("Invalid JSON body")
	}

	sc := scope.FromContext(c.UserContext())

	var buckets []Bucket
	err = h.store.RunInTx(c.UserContext(), sc, func(tx *sql.Tx) error {
		var err error
		buckets, err = h.engine.Series(c.UserContext(), tx, obj, sc, req)
		return err
	})
	if err != nil {
		return err
	}

	if buckets == nil {
		buckets = []Bucket{}
	}
	return c.JSON(fiber.Map{"data": buckets})
}

func (h *Handler) resolveObject(c *fiber.Ctx) (*Object, error) {
	tag := c.Params("object_type")
	obj := h.registry.Get(tag)
	if obj == nil {
		return nil, apperror.UnknownObject(tag)
	}
	return obj, nil
}

// encodeRow rewrites numeric identifiers to their public sqid form in place.
// The "id" column and every "*_id" foreign key go over the wire encoded.
func (h *Handler) encodeRow(row map[string]any) {
	for key, val := range row {
		if key != "id" && !strings.HasSuffix(key, "_id") {
			continue
		}
		if n, ok := val.(int64); ok {
			row[key] = h.sqids.Encode(n)
		}
	}
}

// DecodeID converts a public identifier back to its database value.
func (h *Handler) DecodeID(obj *Object, raw string) (int64, error) {
	id, err := h.sqids.Decode(raw)
	if err != nil {
		return 0, apperror.NotFound(obj.Type, raw)
	}
	return id, nil
}
