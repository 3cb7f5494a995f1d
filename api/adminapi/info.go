package adminapi

import (
	"github.com/gofiber/fiber/v2"
)

func registerInfo(r fiber.Router, container Describer) {
	r.Get(
		"/info", func(c *fiber.Ctx) error {
			if container == nil {
				return c.Status(fiber.StatusNotFound).JSON(errorResponse("not_found", "no container information"))
			}
			return c.JSON(container.Describe())
		},
	)
}
