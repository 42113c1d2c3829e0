package permissions

import (
	"github.com/gofiber/fiber/v2"
	"github.com/lexdesk/portal-backend/pkg/apperr"
)

// LocalsKey is where the auth middleware stores the resolved Actor.
const LocalsKey = "actor"

// ActorFrom returns the actor resolved by the auth middleware.
func ActorFrom(c *fiber.Ctx) (Actor, bool) {
	a, ok := c.Locals(LocalsKey).(Actor)
	return a, ok
}

// Guard rejects requests whose actor does not satisfy p.
// It must run after the auth middleware.
func Guard(p Policy) fiber.Handler {
	return func(c *fiber.Ctx) error {
		a, ok := ActorFrom(c)
		if !ok {
			return apperr.Unauthenticated("Unauthorized")
		}
		if !p.Allows(a) {
			return apperr.Forbidden("Forbidden")
		}
		return c.Next()
	}
}
