package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/agentpay/internal/auth"
)

// PrincipalLocal is the fiber local holding the authenticated subject.
const PrincipalLocal = "principal"

// Authenticator verifies bearer credentials.
type Authenticator interface {
	Enabled() bool
	Authenticate(ctx context.Context, credential string) (auth.Principal, error)
}

// BearerAuth requires a valid API key or access token in the Authorization
// header. When the authenticator has nothing configured every request passes
// as "anonymous"; configuration refuses that outside development.
func BearerAuth(authn Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !authn.Enabled() {
			c.Locals(PrincipalLocal, "anonymous")
			return c.Next()
		}
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		p, err := authn.Authenticate(c.UserContext(), authz[len("bearer "):])
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid credentials")
		}
		c.Locals(PrincipalLocal, p.Subject)
		c.Locals("auth_method", string(p.Method))
		return c.Next()
	}
}

// Principal returns the subject set by BearerAuth.
func Principal(c *fiber.Ctx) string {
	p, _ := c.Locals(PrincipalLocal).(string)
	return p
}
