package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Plabrum/arive/internal/actions"
	"github.com/Plabrum/arive/internal/apperror"
	"github.com/Plabrum/arive/internal/scope"
)

const sessionLocalKey = "auth.session"
const tokenLocalKey = "auth.token"

// Middleware resolves the session cookie and attaches the caller's scope
// and actor to the request context. Requests without a valid session are
// rejected; routes that allow anonymous access are mounted before this.
func Middleware(sessions *SessionStore, cookieName string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Cookies(cookieName)
		if token == "" {
			return apperror.Unauthorized("Sign in required")
		}

		sess, err := sessions.Get(c.UserContext(), token)
		if err != nil {
			return err
		}

		ctx := scope.WithScope(c.UserContext(), sess.Scope())
		ctx = actions.WithActor(ctx, actions.Actor{
			UserID:       sess.UserID,
			Email:        sess.Email,
			Capabilities: sess.Capabilities,
		})
		c.SetUserContext(ctx)
		c.Locals(sessionLocalKey, sess)
		c.Locals(tokenLocalKey, token)
		return c.Next()
	}
}

// SessionFromCtx returns the session the middleware stored, or nil.
func SessionFromCtx(c *fiber.Ctx) *Session {
	if sess, ok := c.Locals(sessionLocalKey).(*Session); ok {
		return sess
	}
	return nil
}

// TokenFromCtx returns the raw cookie token for the current request.
func TokenFromCtx(c *fiber.Ctx) string {
	if token, ok := c.Locals(tokenLocalKey).(string); ok {
		return token
	}
	return ""
}
