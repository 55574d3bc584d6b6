package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/middleware"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/service"
)

// ChatHandler serves conversation turns.
type ChatHandler struct {
	chat  *service.ChatService
	audit middleware.AuditWriter
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chat *service.ChatService, audit middleware.AuditWriter) *ChatHandler {
	return &ChatHandler{chat: chat, audit: audit}
}

// Register sets up chat routes.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Post("/chat", h.Chat)
}

// Chat runs one turn. Synchronous turns answer 200 with the response;
// asynchronous turns answer 202 with a job id to poll.
func (h *ChatHandler) Chat(c fiber.Ctx) error {
	uc, err := requireUser(c)
	if uc == nil {
		return err
	}

	var req service.ChatRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	req.OwnerID = uc.UserID

	resp, err := h.chat.Chat(c.Context(), req)
	if err != nil {
		return sendError(c, err)
	}

	if resp.Job != nil {
		middleware.Audit(c, h.audit, domain.AuditActionJobSubmitted, "job", resp.Job.ID, map[string]any{"chat_id": resp.ChatID})
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"job_id":  resp.Job.ID,
			"chat_id": resp.ChatID,
		})
	}

	middleware.Audit(c, h.audit, domain.AuditActionChatTurn, "chat", resp.ChatID, map[string]any{"sources": len(resp.Sources)})
	return c.JSON(resp)
}
