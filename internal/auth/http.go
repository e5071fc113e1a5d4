package auth

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/config"
	"github.com/Plabrum/arive/internal/sqid"
)

type Handler struct {
	service  *Service
	sessions *SessionStore
	google   *GoogleFlow
	sqids    *sqid.Codec
	cfg      config.AuthConfig
}

func NewHandler(svc *Service, sessions *SessionStore, google *GoogleFlow, codec *sqid.Codec, cfg config.AuthConfig) *Handler {
	return &Handler{service: svc, sessions: sessions, google: google, sqids: codec, cfg: cfg}
}

// RegisterRoutes mounts the anonymous sign-in endpoints plus the
// session-bound ones, which take the auth middleware explicitly.
func RegisterRoutes(app *fiber.App, h *Handler, authed fiber.Handler) {
	grp := app.Group("/api/auth")
	grp.Post("/magic-link", h.RequestMagicLink)
	grp.Get("/verify", h.VerifyMagicLink)
	grp.Get("/google", h.GoogleRedirect)
	grp.Get("/google/callback", h.GoogleCallback)

	grp.Get("/me", authed, h.Me)
	grp.Post("/switch-team", authed, h.SwitchTeam)
	grp.Post("/logout", authed, h.Logout)
}

type magicLinkBody struct {
	Email string `json:"email"`
}

// RequestMagicLink handles POST /api/auth/magic-link. The response is the
// same for known and unknown addresses.
func (h *Handler) RequestMagicLink(c *fiber.Ctx) error {
	var body magicLinkBody
	if err := c.BodyParser(&body); err != nil || body.Email == "" {
		return apperror.BadRequest("email is required")
	}
	if err := h.service.RequestMagicLink(c.UserContext(), body.Email); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"message": "If that address exists, a sign-in link is on its way.",
	}})
}

// VerifyMagicLink handles GET /api/auth/verify?token=...
func (h *Handler) VerifyMagicLink(c *fiber.Ctx) error {
	token := c.Query("token")
	if token == "" {
		return apperror.BadRequest("token is required")
	}
	cookie, sess, err := h.service.VerifyMagicLink(c.UserContext(), token)
	if err != nil {
		return err
	}
	h.setCookie(c, cookie)
	return c.JSON(fiber.Map{"data": h.sessionView(sess)})
}

// GoogleRedirect handles GET /api/auth/google
func (h *Handler) GoogleRedirect(c *fiber.Ctx) error {
	if h.google == nil {
		return apperror.BadRequest("Google sign-in is not configured")
	}
	url, err := h.google.AuthURL()
	if err != nil {
		return err
	}
	return c.Redirect(url, fiber.StatusTemporaryRedirect)
}

// GoogleCallback handles GET /api/auth/google/callback
func (h *Handler) GoogleCallback(c *fiber.Ctx) error {
	if h.google == nil {
		return apperror.BadRequest("Google sign-in is not configured")
	}
	gu, err := h.google.Callback(c.UserContext(), c.Query("state"), c.Query("code"))
	if err != nil {
		return err
	}
	cookie, sess, err := h.service.EstablishGoogleSession(c.UserContext(), gu)
	if err != nil {
		return err
	}
	h.setCookie(c, cookie)
	return c.JSON(fiber.Map{"data": h.sessionView(sess)})
}

// Me handles GET /api/auth/me
func (h *Handler) Me(c *fiber.Ctx) error {
	sess := SessionFromCtx(c)
	if sess == nil {
		return apperror.Unauthorized("Sign in required")
	}
	return c.JSON(fiber.Map{"data": h.sessionView(sess)})
}

type switchTeamBody struct {
	TeamID string `json:"team_id"`
}

// SwitchTeam handles POST /api/auth/switch-team
func (h *Handler) SwitchTeam(c *fiber.Ctx) error {
	sess := SessionFromCtx(c)
	if sess == nil {
		return apperror.Unauthorized("Sign in required")
	}
	var body switchTeamBody
	if err := c.BodyParser(&body); err != nil || body.TeamID == "" {
		return apperror.BadRequest("team_id is required")
	}
	teamID, err := h.sqids.Decode(body.TeamID)
	if err != nil {
		return apperror.BadRequest("Invalid team_id")
	}
	updated, err := h.service.SwitchTeam(c.UserContext(), TokenFromCtx(c), sess, teamID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.sessionView(updated)})
}

// Logout handles POST /api/auth/logout
func (h *Handler) Logout(c *fiber.Ctx) error {
	if token := TokenFromCtx(c); token != "" {
		if err := h.sessions.Destroy(c.UserContext(), token); err != nil {
			return err
		}
	}
	c.Cookie(&fiber.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: "Lax",
	})
	return c.JSON(fiber.Map{"data": fiber.Map{"message": "Signed out"}})
}

func (h *Handler) setCookie(c *fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     h.cfg.CookieName,
		Value:    token,
		Expires:  time.Now().Add(time.Duration(h.cfg.SessionTTLHours) * time.Hour),
		HTTPOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: "Lax",
	})
}

// sessionView is the wire shape of a session; ids go out sqid-encoded.
func (h *Handler) sessionView(sess *Session) fiber.Map {
	view := fiber.Map{
		"user_id":      h.sqids.Encode(sess.UserID),
		"email":        sess.Email,
		"name":         sess.Name,
		"scope":        string(sess.ScopeKind),
		"role":         sess.Role,
		"capabilities": sess.Capabilities,
	}
	if sess.TeamID != 0 {
		view["team_id"] = h.sqids.Encode(sess.TeamID)
	}
	if sess.CampaignID != 0 {
		view["campaign_id"] = h.sqids.Encode(sess.CampaignID)
	}
	return view
}
