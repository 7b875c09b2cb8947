package handlers

import (
	"errors"
	"log/slog"

	"dukaan/internal/apperr"

	"github.com/gofiber/fiber/v2"
)

// respondError writes the error body used by every endpoint:
// {"message": ..., "error": ..., "code": ...}. Internal details are logged, not returned.
func respondError(c *fiber.Ctx, logger *slog.Logger, message string, err error) error {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	detail := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		detail = appErr.Message
	}
	if status >= fiber.StatusInternalServerError {
		logger.ErrorContext(c.UserContext(), message, "path", c.Path(), "error", err)
		if kind == apperr.KindInternal {
			detail = "internal error"
		}
	} else {
		logger.DebugContext(c.UserContext(), message, "path", c.Path(), "kind", kind, "error", err)
	}

	return c.Status(status).JSON(fiber.Map{
		"message": message,
		"error":   detail,
		"code":    kind,
	})
}

// badRequest reports a body that could not be parsed.
func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"message": "Invalid request body",
		"error":   err.Error(),
		"code":    apperr.KindValidation,
	})
}
