package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/middleware"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/service"
)

// RAGHandler exposes the retrieval engine for inspection.
type RAGHandler struct {
	engine *service.RetrievalEngine
	audit  middleware.AuditWriter
}

// NewRAGHandler creates a new RAG handler.
func NewRAGHandler(engine *service.RetrievalEngine, audit middleware.AuditWriter) *RAGHandler {
	return &RAGHandler{engine: engine, audit: audit}
}

// Register sets up RAG routes.
func (h *RAGHandler) Register(router fiber.Router) {
	rag := router.Group("/rag")
	rag.Post("/retrieve", h.Retrieve)
}

// Retrieve ranks the session's fragments against a query.
func (h *RAGHandler) Retrieve(c fiber.Ctx) error {
	uc, err := requireUser(c)
	if uc == nil {
		return err
	}

	var body struct {
		Query         string   `json:"query"`
		SelectedFiles []string `json:"selected_files"`
		K             int      `json:"k"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	scope := domain.RetrievalScope{OwnerID: uc.UserID}
	for _, name := range body.SelectedFiles {
		scope.Paths = append(scope.Paths, domain.DocumentPath(uc.UserID, name))
	}

	ranked, err := h.engine.Retrieve(c.Context(), body.Query, scope, body.K)
	if err != nil {
		return sendError(c, err)
	}
	middleware.Audit(c, h.audit, domain.AuditActionRAGQuery, "rag", "", map[string]any{"results": len(ranked)})

	return c.JSON(fiber.Map{
		"policy":  h.engine.Policy(),
		"results": ranked,
		"count":   len(ranked),
	})
}
