package actions

import (
	"database/sql"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/objects"
	"github.com/Plabrum/arive/internal/scope"
	"github.com/Plabrum/arive/internal/sqid"
)

type Handler struct {
	dispatcher *Dispatcher
	sqids      *sqid.Codec
}

func NewHandler(d *Dispatcher, codec *sqid.Codec) *Handler {
	return &Handler{dispatcher: d, sqids: codec}
}

func RegisterRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	grp := app.Group("/actions", middleware...)
	grp.Get("/schema", h.Schema)
	grp.Get("/:group/available", h.Available)
	grp.Post("/:group/:id", h.Trigger)
	grp.Post("/:group", h.Trigger)
}

type triggerBody struct {
	Action         string         `json:"action"`
	Data           map[string]any `json:"data,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// Trigger handles POST /actions/:group and POST /actions/:group/:id. The
// action key travels in the body; the optional path segment names the row.
func (h *Handler) Trigger(c *fiber.Ctx) error {
	var body triggerBody
	if err := c.BodyParser(&body); err != nil {
		return apperror.BadRequest("Invalid JSON body")
	}
	if body.Action == "" {
		return apperror.BadRequest("action is required")
	}

	req := TriggerRequest{
		Group:          c.Params("group"),
		Key:            body.Action,
		Payload:        body.Data,
		IdempotencyKey: body.IdempotencyKey,
	}
	if err := h.decodeObjectFields(req.Group, req.Key, req.Payload); err != nil {
		return err
	}
	if raw := c.Params("id"); raw != "" {
		id, err := h.sqids.Decode(raw)
		if err != nil {
			return apperror.BadRequest("Invalid object id")
		}
		req.ObjectID = id
	}

	sc := scope.FromContext(c.UserContext())
	resp, err := h.dispatcher.Trigger(c.UserContext(), sc, req)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": resp})
}

// decodeObjectFields rewrites object-reference payload values to numeric
// ids. Clients only ever see encoded ids, so a string in an object-typed
// field arrives encoded; Execute bodies always work with int64 references.
func (h *Handler) decodeObjectFields(group, key string, payload map[string]any) error {
	if len(payload) == 0 {
		return nil
	}
	_, action, _, ok := h.dispatcher.registry.Resolve(group, key)
	if !ok {
		// The dispatcher reports the unknown action.
		return nil
	}
	spec := action.Payload()
	if spec == nil {
		return nil
	}
	for _, f := range spec.Fields {
		if f.Type != objects.FieldObject {
			continue
		}
		raw, isString := payload[f.Key].(string)
		if !isString {
			continue
		}
		id, err := h.sqids.Decode(raw)
		if err != nil {
			return apperror.BadRequest(fmt.Sprintf("Invalid %s", f.Key))
		}
		payload[f.Key] = id
	}
	return nil
}

// Schema handles GET /actions/schema and exposes the whole action surface
// as declared metadata: every group, its actions, and their payload shapes.
// Clients build their request forms from this instead of guessing.
func (h *Handler) Schema(c *fiber.Ctx) error {
	type actionSchema struct {
		Key         string       `json:"key"`
		Label       string       `json:"label"`
		Priority    int          `json:"priority"`
		BulkAllowed bool         `json:"bulk_allowed"`
		Requires    []Capability `json:"requires,omitempty"`
		Payload     *PayloadSpec `json:"payload,omitempty"`
	}
	out := map[string]any{}
	for _, name := range h.dispatcher.registry.Groups() {
		group, _ := h.dispatcher.registry.Group(name)
		var entries []actionSchema
		for _, reg := range group.sorted() {
			entries = append(entries, actionSchema{
				Key:         reg.action.Key(),
				Label:       reg.action.Label(),
				Priority:    reg.action.Priority(),
				BulkAllowed: reg.action.BulkAllowed(),
				Requires:    reg.action.Requires(),
				Payload:     reg.action.Payload(),
			})
		}
		out[name] = fiber.Map{
			"object_type": group.ObjectType,
			"actions":     entries,
		}
	}
	return c.JSON(fiber.Map{"data": out})
}

// Available handles GET /actions/:group/available. An object_id query
// parameter scopes availability to one row; without it only row-independent
// actions show up.
func (h *Handler) Available(c *fiber.Ctx) error {
	groupName := c.Params("group")
	sc := scope.FromContext(c.UserContext())
	actor := ActorFromContext(c.UserContext())

	group, ok := h.dispatcher.registry.Group(groupName)
	if !ok {
		return apperror.UnknownAction(groupName, "")
	}

	var row map[string]any
	if raw := c.Query("object_id"); raw != "" && group.ObjectType != "" {
		id, err := h.sqids.Decode(raw)
		if err != nil {
			return apperror.NotFound(group.ObjectType, raw)
		}
		obj := h.dispatcher.deps.Objects.Get(group.ObjectType)
		if obj == nil {
			return apperror.UnknownObject(group.ObjectType)
		}
		err = h.dispatcher.deps.Store.RunInTx(c.UserContext(), sc, func(tx *sql.Tx) error {
			var err error
			row, err = h.dispatcher.deps.Engine.GetByID(c.UserContext(), tx, obj, sc, id)
			return err
		})
		if err != nil {
			return err
		}
	}

	out, err := h.dispatcher.AvailableActions(groupName, row, sc, actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": out})
}
