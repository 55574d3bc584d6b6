package handler

import (
	"bytes"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/middleware"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/service"
)

// FilesHandler manages uploaded documents.
type FilesHandler struct {
	ingest *service.IngestService
	audit  middleware.AuditWriter
}

// NewFilesHandler creates a new files handler.
func NewFilesHandler(ingest *service.IngestService, audit middleware.AuditWriter) *FilesHandler {
	return &FilesHandler{ingest: ingest, audit: audit}
}

// Register sets up file routes.
func (h *FilesHandler) Register(router fiber.Router) {
	files := router.Group("/files")
	files.Post("/upload", h.Upload)
	files.Get("/", h.List)
	files.Delete("/", h.Delete)
}

// Upload stores the raw request body under ?filename= and indexes it.
func (h *FilesHandler) Upload(c fiber.Ctx) error {
	uc, err := requireUser(c)
	if uc == nil {
		return err
	}
	filename := c.Query("filename")
	if filename == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "filename is required"})
	}
	body := bytes.Clone(c.Body())
	if len(body) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "empty body"})
	}

	res, err := h.ingest.Upload(c.Context(), uc.UserID, filename, body)
	if err != nil {
		return sendError(c, err)
	}
	middleware.Audit(c, h.audit, domain.AuditActionUpload, "file", res.Pathname, map[string]any{
		"bytes":     len(body),
		"fragments": res.Fragments,
	})
	return c.Status(fiber.StatusCreated).JSON(res)
}

// List returns the session's documents.
func (h *FilesHandler) List(c fiber.Ctx) error {
	uc, err := requireUser(c)
	if uc == nil {
		return err
	}
	files, err := h.ingest.List(c.Context(), uc.UserID)
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(fiber.Map{"files": files, "count": len(files)})
}

// Delete removes the document named by ?filename=.
func (h *FilesHandler) Delete(c fiber.Ctx) error {
	uc, err := requireUser(c)
	if uc == nil {
		return err
	}
	name := c.Query("filename")
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "filename is required"})
	}
	if err := h.ingest.Delete(c.Context(), uc.UserID, name); err != nil {
		return sendError(c, err)
	}
	middleware.Audit(c, h.audit, domain.AuditActionDelete, "file", name, nil)
	return c.JSON(fiber.Map{"ok": true})
}
