package teams

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Plabrum/arive/internal/actions"
	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/auth"
	"github.com/Plabrum/arive/internal/config"
	"github.com/Plabrum/arive/internal/scope"
	"github.com/Plabrum/arive/internal/sqid"
)

type Handler struct {
	service *Service
	auth    *auth.Service
	sqids   *sqid.Codec
	cfg     config.AuthConfig
}

func NewHandler(svc *Service, authSvc *auth.Service, codec *sqid.Codec, cfg config.AuthConfig) *Handler {
	return &Handler{service: svc, auth: authSvc, sqids: codec, cfg: cfg}
}

// RegisterRoutes mounts team management. Invitation acceptance is the one
// anonymous endpoint; everything else requires a session.
func RegisterRoutes(app *fiber.App, h *Handler, authed fiber.Handler) {
	app.Post("/api/invitations/accept", h.Accept)

	grp := app.Group("/api/teams", authed)
	grp.Post("/", h.Create)
	grp.Get("/members", h.Members)
	grp.Post("/invitations", h.Invite)
	grp.Delete("/invitations/:id", h.Revoke)
	grp.Put("/members/:id/role", h.UpdateRole)
	grp.Delete("/members/:id", h.RemoveMember)
}

type createTeamBody struct {
	Name string `json:"name"`
}

// Create handles POST /api/teams
func (h *Handler) Create(c *fiber.Ctx) error {
	sess := auth.SessionFromCtx(c)
	if sess == nil {
		return apperror.Unauthorized("Sign in required")
	}
	var body createTeamBody
	if err := c.BodyParser(&body); err != nil {
		return apperror.BadRequest("Invalid JSON body")
	}
	team, err := h.service.CreateTeam(c.UserContext(), sess.UserID, body.Name)
	if err != nil {
		return err
	}
	if id, ok := team["id"].(int64); ok {
		team["id"] = h.sqids.Encode(id)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": team})
}

// Members handles GET /api/teams/members
func (h *Handler) Members(c *fiber.Ctx) error {
	sc := scope.FromContext(c.UserContext())
	rows, err := h.service.Members(c.UserContext(), sc)
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	for _, row := range rows {
		for _, key := range []string{"id", "user_id"} {
			if id, ok := row[key].(int64); ok {
				row[key] = h.sqids.Encode(id)
			}
		}
	}
	return c.JSON(fiber.Map{"data": rows})
}

type inviteBody struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// Invite handles POST /api/teams/invitations. Only admins may invite.
func (h *Handler) Invite(c *fiber.Ctx) error {
	actor := actions.ActorFromContext(c.UserContext())
	if !actor.Can([]actions.Capability{actions.CapAdmin}) {
		return apperror.Forbidden("Admin capability required")
	}
	var body inviteBody
	if err := c.BodyParser(&body); err != nil {
		return apperror.BadRequest("Invalid JSON body")
	}
	sc := scope.FromContext(c.UserContext())
	if err := h.service.Invite(c.UserContext(), sc, body.Email, body.Role); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": fiber.Map{
		"message": "Invitation sent",
	}})
}

type acceptBody struct {
	Token string `json:"token"`
}

// Accept handles POST /api/invitations/accept. A successful accept signs
// the invitee in immediately.
func (h *Handler) Accept(c *fiber.Ctx) error {
	var body acceptBody
	if err := c.BodyParser(&body); err != nil || body.Token == "" {
		return apperror.BadRequest("token is required")
	}
	email, err := h.service.Accept(c.UserContext(), body.Token)
	if err != nil {
		return err
	}
	cookie, sess, err := h.auth.EstablishSessionForEmail(c.UserContext(), email)
	if err != nil {
		return err
	}
	c.Cookie(&fiber.Cookie{
		Name:     h.cfg.CookieName,
		Value:    cookie,
		Expires:  time.Now().Add(time.Duration(h.cfg.SessionTTLHours) * time.Hour),
		HTTPOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: "Lax",
	})
	view := fiber.Map{"email": sess.Email, "scope": string(sess.ScopeKind)}
	if sess.TeamID != 0 {
		view["team_id"] = h.sqids.Encode(sess.TeamID)
	}
	return c.JSON(fiber.Map{"data": view})
}

// Revoke handles DELETE /api/teams/invitations/:id
func (h *Handler) Revoke(c *fiber.Ctx) error {
	actor := actions.ActorFromContext(c.UserContext())
	if !actor.Can([]actions.Capability{actions.CapAdmin}) {
		return apperror.Forbidden("Admin capability required")
	}
	id, err := h.sqids.Decode(c.Params("id"))
	if err != nil {
		return apperror.NotFound("invitation", c.Params("id"))
	}
	sc := scope.FromContext(c.UserContext())
	if err := h.service.Revoke(c.UserContext(), sc, id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"message": "Invitation revoked"}})
}

type roleBody struct {
	Role string `json:"role"`
}

// UpdateRole handles PUT /api/teams/members/:id/role
func (h *Handler) UpdateRole(c *fiber.Ctx) error {
	actor := actions.ActorFromContext(c.UserContext())
	if !actor.Can([]actions.Capability{actions.CapAdmin}) {
		return apperror.Forbidden("Admin capability required")
	}
	id, err := h.sqids.Decode(c.Params("id"))
	if err != nil {
		return apperror.NotFound("membership", c.Params("id"))
	}
	var body roleBody
	if err := c.BodyParser(&body); err != nil || body.Role == "" {
		return apperror.BadRequest("role is required")
	}
	sc := scope.FromContext(c.UserContext())
	if err := h.service.UpdateRole(c.UserContext(), sc, id, body.Role); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"message": "Role updated"}})
}

// RemoveMember handles DELETE /api/teams/members/:id
func (h *Handler) RemoveMember(c *fiber.Ctx) error {
	actor := actions.ActorFromContext(c.UserContext())
	if !actor.Can([]actions.Capability{actions.CapAdmin}) {
		return apperror.Forbidden("Admin capability required")
	}
	id, err := h.sqids.Decode(c.Params("id"))
	if err != nil {
		return apperror.NotFound("membership", c.Params("id"))
	}
	sc := scope.FromContext(c.UserContext())
	if err := h.service.RemoveMember(c.UserContext(), sc, id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"message": "Member removed"}})
}
