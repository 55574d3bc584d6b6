package handler

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

// AuditHandler handles audit log endpoints.
type AuditHandler struct {
	store port.AuditStore
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(store port.AuditStore) *AuditHandler {
	return &AuditHandler{store: store}
}

// Register sets up audit routes.
func (h *AuditHandler) Register(router fiber.Router) {
	audit := router.Group("/audit")
	audit.Get("/logs", h.ListLogs)
	audit.Get("/stream", h.StreamLogs)
}

// ListLogs returns audit logs with optional filtering.
func (h *AuditHandler) ListLogs(c fiber.Ctx) error {
	limitStr := c.Query("limit", "100")
	limit, _ := strconv.Atoi(limitStr)
	action := c.Query("action", "")

	logs, err := h.store.ListAuditLogs(c.Context(), limit, action)
	if err != nil {
		return sendError(c, err)
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"count": len(logs),
	})
}

// StreamLogs returns a compact feed of the latest audit entries for polling dashboards.
func (h *AuditHandler) StreamLogs(c fiber.Ctx) error {
	c.Set("Cache-Control", "no-cache")

	logs, err := h.store.ListAuditLogs(c.Context(), 50, c.Query("action", ""))
	if err != nil {
		return sendError(c, err)
	}

	type logEntry struct {
		Timestamp string `json:"timestamp"`
		Action    string `json:"action"`
		Resource  string `json:"resource"`
		UserID    string `json:"user_id"`
	}

	entries := make([]logEntry, len(logs))
	for i, l := range logs {
		entries[i] = logEntry{
			Timestamp: l.CreatedAt.Format(time.RFC3339),
			Action:    l.Action,
			Resource:  l.Resource,
			UserID:    l.UserID,
		}
	}

	return c.JSON(fiber.Map{
		"logs":  entries,
		"count": len(entries),
	})
}
