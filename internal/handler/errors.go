package handler

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/middleware"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

// errorStatus maps port sentinels onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, port.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, port.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, port.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, port.ErrUnauthorized),
		errors.Is(err, port.ErrTokenInvalid),
		errors.Is(err, port.ErrTokenExpired):
		return fiber.StatusUnauthorized
	default:
		return fiber.StatusInternalServerError
	}
}

func sendError(c fiber.Ctx, err error) error {
	status := errorStatus(err)
	if status >= fiber.StatusInternalServerError {
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// requireUser returns the session of the request or writes a 401.
func requireUser(c fiber.Ctx) (*domain.UserContext, error) {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return nil, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	return uc, nil
}
