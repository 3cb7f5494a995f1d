package adminapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"github.com/go-oidfed/frontdoor/storage/model"
)

func userError(c *fiber.Ctx, err error) error {
	var notFound model.NotFoundError
	if errors.As(err, &notFound) {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse("not_found", "user not found"))
	}
	var exists model.AlreadyExistsError
	if errors.As(err, &exists) {
		return c.Status(fiber.StatusConflict).JSON(errorResponse("invalid_request", "user already exists"))
	}
	return c.Status(fiber.StatusInternalServerError).JSON(errorResponse("server_error", err.Error()))
}

// registerUsers wires handlers using a UsersStore abstraction.
func registerUsers(r fiber.Router, users model.UsersStore, onChange func(username string)) {
	g := r.Group("/users")
	changed := userChangeMiddleware(onChange)

	g.Get(
		"", func(c *fiber.Ctx) error {
			list, err := users.List()
			if err != nil {
				return userError(c, err)
			}
			return c.JSON(list)
		},
	)

	type createReq struct {
		Username    string   `json:"username"`
		Password    string   `json:"password"`
		DisplayName string   `json:"display_name"`
		Roles       []string `json:"roles"`
	}
	g.Post(
		"", func(c *fiber.Ctx) error {
			var req createReq
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(errorResponse("invalid_request", "invalid body"))
			}
			if req.Username == "" || req.Password == "" {
				return c.Status(fiber.StatusBadRequest).JSON(
					errorResponse("invalid_request", "username and password are required"),
				)
			}
			u, err := users.Create(req.Username, req.Password, req.DisplayName, req.Roles)
			if err != nil {
				return userError(c, err)
			}
			return c.Status(fiber.StatusCreated).JSON(u)
		},
	)

	type updateReq struct {
		DisplayName *string `json:"display_name"`
		Password    *string `json:"password"`
		Disabled    *bool   `json:"disabled"`
	}
	g.Put(
		"/:username", changed, func(c *fiber.Ctx) error {
			var req updateReq
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(errorResponse("invalid_request", "invalid body"))
			}
			u, err := users.Update(c.Params("username"), req.DisplayName, req.Password, req.Disabled)
			if err != nil {
				return userError(c, err)
			}
			return c.JSON(u)
		},
	)

	type rolesReq struct {
		Roles []string `json:"roles"`
	}
	g.Put(
		"/:username/roles", changed, func(c *fiber.Ctx) error {
			var req rolesReq
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(errorResponse("invalid_request", "invalid body"))
			}
			u, err := users.SetRoles(c.Params("username"), req.Roles)
			if err != nil {
				return userError(c, err)
			}
			return c.JSON(u)
		},
	)

	g.Get(
		"/:username", func(c *fiber.Ctx) error {
			u, err := users.Get(c.Params("username"))
			if err != nil {
				return userError(c, err)
			}
			return c.JSON(u)
		},
	)

	g.Delete(
		"/:username", changed, func(c *fiber.Ctx) error {
			if err := users.Delete(c.Params("username")); err != nil {
				return userError(c, err)
			}
			return c.SendStatus(fiber.StatusNoContent)
		},
	)
}
