package threads

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/auth"
	"github.com/Plabrum/arive/internal/scope"
	"github.com/Plabrum/arive/internal/sqid"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Arive-Signature"

type Handler struct {
	service       *Service
	sqids         *sqid.Codec
	webhookSecret string
}

func NewHandler(svc *Service, codec *sqid.Codec, webhookSecret string) *Handler {
	return &Handler{service: svc, sqids: codec, webhookSecret: webhookSecret}
}

func RegisterRoutes(app *fiber.App, h *Handler, authed fiber.Handler) {
	app.Post("/api/webhooks/inbound-email", h.InboundEmail)

	grp := app.Group("/api/threads", authed)
	grp.Get("/:object_type/:id/comments", h.List)
	grp.Post("/:object_type/:id/comments", h.Add)
}

func (h *Handler) target(c *fiber.Ctx) (string, int64, error) {
	objectType := c.Params("object_type")
	id, err := h.sqids.Decode(c.Params("id"))
	if err != nil {
		return "", 0, apperror.BadRequest("Invalid id")
	}
	return objectType, id, nil
}

// List handles GET /api/threads/:object_type/:id/comments
func (h *Handler) List(c *fiber.Ctx) error {
	objectType, id, err := h.target(c)
	if err != nil {
		return err
	}
	sc := scope.FromContext(c.UserContext())
	rows, err := h.service.Comments(c.UserContext(), sc, objectType, id)
	if err != nil {
		return err
	}
	for _, row := range rows {
		h.encodeIDs(row)
	}
	return c.JSON(fiber.Map{"data": rows})
}

type addCommentBody struct {
	Body string `json:"body"`
}

// Add handles POST /api/threads/:object_type/:id/comments
func (h *Handler) Add(c *fiber.Ctx) error {
	sess := auth.SessionFromCtx(c)
	if sess == nil {
		return apperror.Unauthorized("Sign in required")
	}
	objectType, id, err := h.target(c)
	if err != nil {
		return err
	}
	var body addCommentBody
	if err := c.BodyParser(&body); err != nil {
		return apperror.BadRequest("Invalid JSON body")
	}
	sc := scope.FromContext(c.UserContext())
	comment, err := h.service.AddComment(c.UserContext(), sc, objectType, id,
		sess.UserID, sess.Email, body.Body)
	if err != nil {
		return err
	}
	h.encodeIDs(comment)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": comment})
}

type inboundEmailBody struct {
	ObjectType string `json:"object_type"`
	ObjectID   string `json:"object_id"`
	From       string `json:"from"`
	Body       string `json:"body"`
}

// InboundEmail handles POST /api/webhooks/inbound-email. The caller signs
// the raw body with the shared secret; sessions play no part here.
func (h *Handler) InboundEmail(c *fiber.Ctx) error {
	if h.webhookSecret == "" {
		return apperror.NotFound("webhooks", "inbound-email")
	}
	raw := c.Body()
	if !verifySignature(raw, c.Get(SignatureHeader), h.webhookSecret) {
		return apperror.Unauthorized("Invalid webhook signature")
	}
	var body inboundEmailBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return apperror.BadRequest("Invalid JSON body")
	}
	id, err := h.sqids.Decode(body.ObjectID)
	if err != nil {
		return apperror.BadRequest("Invalid object_id")
	}
	if err := h.service.AddInboundComment(c.UserContext(), body.ObjectType, id, body.From, body.Body); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

func verifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (h *Handler) encodeIDs(row map[string]any) {
	for _, key := range []string{"id", "thread_id", "author_id"} {
		if id, ok := row[key].(int64); ok {
			row[key] = h.sqids.Encode(id)
		}
	}
}
