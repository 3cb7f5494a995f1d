package adminapi

import (
	"slices"

	"github.com/gofiber/fiber/v2"

	"github.com/go-oidfed/frontdoor/middleware/basicauth"
	"github.com/go-oidfed/frontdoor/storage/model"
)

const adminRealm = `Basic realm="admin", charset="UTF-8"`

// authMiddleware enforces optional authentication for admin API routes.
// If there are no users in storage, all requests are allowed.
// If there is at least one user, it requires HTTP Basic authentication,
// validates credentials using UsersStore and checks that the user holds the
// passed role.
func authMiddleware(users model.UsersStore, role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		count, err := users.Count()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(errorResponse("server_error", err.Error()))
		}
		if count == 0 {
			return c.Next()
		}

		username, password, ok := basicauth.ParseBasicAuth(c)
		if !ok {
			c.Set(fiber.HeaderWWWAuthenticate, adminRealm)
			return c.Status(fiber.StatusUnauthorized).JSON(errorResponse("invalid_client", "missing credentials"))
		}
		u, err := users.Authenticate(username, password)
		if err != nil {
			c.Set(fiber.HeaderWWWAuthenticate, adminRealm)
			return c.Status(fiber.StatusUnauthorized).JSON(errorResponse("invalid_client", "invalid credentials"))
		}
		if role != "" && !slices.Contains(u.Roles, role) {
			return c.Status(fiber.StatusForbidden).JSON(
				errorResponse("forbidden", "user does not have the required role"),
			)
		}
		return c.Next()
	}
}
