package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/middleware"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/service"
)

// SessionHandler issues anonymous sessions.
type SessionHandler struct {
	sessions *service.SessionService
	audit    middleware.AuditWriter
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessions *service.SessionService, audit middleware.AuditWriter) *SessionHandler {
	return &SessionHandler{sessions: sessions, audit: audit}
}

// Register sets up the public session route.
func (h *SessionHandler) Register(router fiber.Router) {
	router.Post("/session", h.Create)
}

// Create mints a session and its bearer token.
func (h *SessionHandler) Create(c fiber.Ctx) error {
	sess, err := h.sessions.NewSession()
	if err != nil {
		return sendError(c, err)
	}
	middleware.Audit(c, h.audit, domain.AuditActionSession, "session", sess.ID, nil)
	return c.Status(fiber.StatusCreated).JSON(sess)
}
