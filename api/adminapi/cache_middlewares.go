package adminapi

import (
	"github.com/gofiber/fiber/v2"
)

// userChangeMiddleware calls onChange with the username of the request path
// for requests that successfully modify a user, so that cached
// authentications of that user are dropped.
// It should be attached only to non-GET routes.
func userChangeMiddleware(onChange func(username string)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := c.Next(); err != nil {
			return err
		}
		if onChange == nil {
			return nil
		}
		status := c.Response().StatusCode()
		if status >= 200 && status < 400 {
			if username := c.Params("username"); username != "" {
				onChange(username)
			}
		}
		return nil
	}
}
