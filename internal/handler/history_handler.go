package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/service"
)

// HistoryHandler lists a session's past conversations.
type HistoryHandler struct {
	chat *service.ChatService
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(chat *service.ChatService) *HistoryHandler {
	return &HistoryHandler{chat: chat}
}

// Register sets up history routes.
func (h *HistoryHandler) Register(router fiber.Router) {
	history := router.Group("/history")
	history.Get("/", h.List)
	history.Get("/:id", h.Get)
}

// List returns the session's chats, newest first.
func (h *HistoryHandler) List(c fiber.Ctx) error {
	uc, err := requireUser(c)
	if uc == nil {
		return err
	}
	chats, err := h.chat.History(c.Context(), uc.UserID)
	if err != nil {
		return sendError(c, err)
	}
	if chats == nil {
		chats = []domain.Chat{}
	}
	return c.JSON(fiber.Map{"chats": chats, "count": len(chats)})
}

// Get returns one chat transcript.
func (h *HistoryHandler) Get(c fiber.Ctx) error {
	uc, err := requireUser(c)
	if uc == nil {
		return err
	}
	chat, err := h.chat.GetChat(c.Context(), uc.UserID, c.Params("id"))
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(chat)
}
