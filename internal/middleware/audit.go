package middleware

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
)

// AuditWriter defines how audit records are persisted.
type AuditWriter interface {
	WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error
}

// AuditMiddleware records every request that passes through it.
func AuditMiddleware(writer AuditWriter) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		// Capture request data BEFORE handler execution (Fiber reuses context objects)
		method := c.Method()
		path := c.Path()
		ip := c.IP()
		userAgent := c.Get("User-Agent")

		err := c.Next()

		userID := "anonymous"
		if uc := GetUserContext(c); uc != nil {
			userID = uc.UserID
		}

		details := map[string]any{
			"method":      method,
			"path":        path,
			"status":      c.Response().StatusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		writeAsync(writer, userID, domain.AuditActionHTTPRequest, "api", path, details, ip, userAgent)

		return err
	}
}

// Audit records a domain action performed by the request's session.
func Audit(c fiber.Ctx, writer AuditWriter, action, resource, resourceID string, details map[string]any) {
	if writer == nil {
		return
	}
	userID := "anonymous"
	if uc := GetUserContext(c); uc != nil {
		userID = uc.UserID
	}
	writeAsync(writer, userID, action, resource, resourceID, details, c.IP(), c.Get("User-Agent"))
}

// writeAsync persists off the request path. Strings are cloned because
// Fiber reuses request buffers once the handler returns.
func writeAsync(writer AuditWriter, userID, action, resource, resourceID string, details map[string]any, ip, userAgent string) {
	detailsJSON, _ := json.Marshal(details)
	userID, resourceID = strings.Clone(userID), strings.Clone(resourceID)
	ip, userAgent = strings.Clone(ip), strings.Clone(userAgent)
	go func() {
		if err := writer.WriteAudit(userID, action, resource, resourceID, string(detailsJSON), ip, userAgent); err != nil {
			slog.Error("failed to write audit log", "action", action, "error", err)
		}
	}()
}
