package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/service"
)

// DefaultStreamTimeout caps how long an SSE client waits for a job.
const DefaultStreamTimeout = 5 * time.Minute

// JobsHandler exposes job polling and terminal-state streaming.
type JobsHandler struct {
	jobs          *service.JobCoordinator
	streamTimeout time.Duration
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(jobs *service.JobCoordinator, streamTimeout time.Duration) *JobsHandler {
	if streamTimeout <= 0 {
		streamTimeout = DefaultStreamTimeout
	}
	return &JobsHandler{jobs: jobs, streamTimeout: streamTimeout}
}

// Register sets up job routes.
func (h *JobsHandler) Register(router fiber.Router) {
	jobs := router.Group("/chat/jobs")
	jobs.Get("/:id", h.GetStatus)
	jobs.Get("/:id/stream", h.StreamSSE)
}

// GetStatus returns the current job status.
func (h *JobsHandler) GetStatus(c fiber.Ctx) error {
	uc, err := requireUser(c)
	if uc == nil {
		return err
	}
	st, err := h.jobs.Poll(c.Context(), uc.UserID, c.Params("id"))
	if err != nil {
		return sendError(c, err)
	}
	return c.JSON(st)
}

// StreamSSE sends the current status, then the terminal status once the
// job resolves, via Server-Sent Events.
func (h *JobsHandler) StreamSSE(c fiber.Ctx) error {
	uc, err := requireUser(c)
	if uc == nil {
		return err
	}
	id := strings.Clone(c.Params("id"))
	owner := strings.Clone(uc.UserID)

	// Subscribe before reading so a resolution in between is not missed.
	updates, unsubscribe := h.jobs.Subscribe(id)
	st, err := h.jobs.Poll(c.Context(), owner, id)
	if err != nil {
		unsubscribe()
		return sendError(c, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	if st.State.Terminal() {
		unsubscribe()
		return c.SendString(sseEvent(string(st.State), st))
	}

	timeout := h.streamTimeout
	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		fmt.Fprint(w, sseEvent(string(st.State), st))
		w.Flush()

		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			fmt.Fprint(w, sseEvent(string(update.State), update))
		case <-time.After(timeout):
			slog.Warn("SSE timeout", "job_id", id)
			latest, err := h.jobs.Poll(context.Background(), owner, id)
			if err != nil {
				latest = st
			}
			fmt.Fprint(w, sseEvent("timeout", latest))
		}
		w.Flush()
	})
}

func sseEvent(event string, st domain.JobStatus) string {
	data, _ := json.Marshal(st)
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}
