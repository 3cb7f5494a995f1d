package frontdoor

import (
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func handleError(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	errorCode := "server_error"
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		errorCode = errorCodeFor(code)
	}
	if code >= fiber.StatusInternalServerError {
		log.WithError(err).WithField("path", ctx.Path()).Error("error while handling request")
	}
	return ctx.Status(code).JSON(
		fiber.Map{
			"error":             errorCode,
			"error_description": err.Error(),
		},
	)
}

func errorCodeFor(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "invalid_request"
	case fiber.StatusUnauthorized:
		return "unauthorized"
	case fiber.StatusForbidden:
		return "forbidden"
	case fiber.StatusNotFound:
		return "not_found"
	case fiber.StatusMethodNotAllowed:
		return "method_not_allowed"
	case fiber.StatusGone:
		return "gone"
	case fiber.StatusRequestEntityTooLarge:
		return "request_too_large"
	default:
		if status >= fiber.StatusInternalServerError {
			return "server_error"
		}
		return "invalid_request"
	}
}
