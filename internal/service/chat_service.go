package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

// DefaultSystemPrompt is sent ahead of every conversation.
const DefaultSystemPrompt = "You are a helpful assistant that provides accurate and relevant information. " +
	"All user messages are being recorded and can be retrieved for context. " +
	"You can confidently refer to information from previous conversations when it is relevant."

// Submitter hands an augmented prompt to background execution.
type Submitter interface {
	Submit(ctx context.Context, ownerID string, payload domain.JobPayload) (domain.JobHandle, error)
}

// ChatRequest is one conversation turn.
type ChatRequest struct {
	ChatID        string           `json:"id"`
	OwnerID       string           `json:"-"`
	Messages      []domain.Message `json:"messages"`
	SelectedFiles []string         `json:"selected_files"`
	Async         *bool            `json:"async,omitempty"`
}

// ChatResponse is the outcome of a turn: an answer when run synchronously,
// a job handle otherwise.
type ChatResponse struct {
	ChatID   string             `json:"chat_id"`
	Response string             `json:"response,omitempty"`
	Sources  []domain.SourceRef `json:"sources,omitempty"`
	Job      *domain.JobHandle  `json:"job,omitempty"`
}

// ChatServiceConfig tunes ChatService.
type ChatServiceConfig struct {
	SystemPrompt string
	TopK         int
	Async        bool // default mode when a request does not choose
}

// ChatService runs a conversation turn: it records the user message,
// retrieves context, assembles the prompt and completes it inline or
// through the job coordinator.
type ChatService struct {
	chats     port.ChatStore
	fragments port.FragmentStore
	embedder  port.Embedder
	model     port.ChatModel
	retrieval *RetrievalEngine
	jobs      Submitter
	cfg       ChatServiceConfig
}

// NewChatService creates a chat service. jobs may be nil when only
// synchronous turns are served.
func NewChatService(
	chats port.ChatStore,
	fragments port.FragmentStore,
	embedder port.Embedder,
	model port.ChatModel,
	retrieval *RetrievalEngine,
	jobs Submitter,
	cfg ChatServiceConfig,
) *ChatService {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &ChatService{
		chats:     chats,
		fragments: fragments,
		embedder:  embedder,
		model:     model,
		retrieval: retrieval,
		jobs:      jobs,
		cfg:       cfg,
	}
}

// Chat runs one turn. The user message is persisted before retrieval so a
// chat-history fragment exists even if generation later fails.
func (s *ChatService) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.OwnerID == "" {
		return nil, fmt.Errorf("chat: missing owner: %w", port.ErrUnauthorized)
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("chat: no messages: %w", port.ErrValidation)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != domain.RoleUser {
		return nil, fmt.Errorf("chat: last message must come from the user: %w", port.ErrValidation)
	}
	if req.ChatID == "" {
		req.ChatID = uuid.NewString()
	}

	if err := s.record(ctx, req.ChatID, req.OwnerID, req.Messages); err != nil {
		return nil, err
	}

	scope := domain.RetrievalScope{OwnerID: req.OwnerID}
	for _, name := range req.SelectedFiles {
		scope.Paths = append(scope.Paths, domain.DocumentPath(req.OwnerID, name))
	}
	ranked, err := s.retrieval.Retrieve(ctx, last.Content.Text(), scope, s.cfg.TopK)
	if err != nil {
		slog.Warn("retrieval unavailable, answering without context", "chat_id", req.ChatID, "error", err)
		ranked = nil
	}

	payload := domain.JobPayload{
		ChatID:   req.ChatID,
		System:   s.cfg.SystemPrompt,
		Messages: Assemble(req.Messages, ranked),
		Sources:  SourceRefs(ranked),
	}

	async := s.cfg.Async
	if req.Async != nil {
		async = *req.Async
	}
	if async && s.jobs != nil {
		handle, err := s.jobs.Submit(ctx, req.OwnerID, payload)
		if err != nil {
			return nil, fmt.Errorf("submit chat job: %w", err)
		}
		return &ChatResponse{ChatID: req.ChatID, Job: &handle}, nil
	}

	result, err := s.Run(ctx, domain.Job{OwnerID: req.OwnerID, ChatID: req.ChatID}, payload)
	if err != nil {
		return nil, err
	}
	return &ChatResponse{ChatID: req.ChatID, Response: result.Response, Sources: result.Sources}, nil
}

// Run completes an assembled prompt and records the assistant reply. It is
// the worker of asynchronous turns.
func (s *ChatService) Run(ctx context.Context, job domain.Job, payload domain.JobPayload) (*domain.JobResult, error) {
	start := time.Now()
	answer, err := s.model.Complete(ctx, payload.System, payload.Messages)
	if err != nil {
		return nil, fmt.Errorf("complete chat: %w", err)
	}
	slog.Info("chat completed", "chat_id", payload.ChatID, "model", s.model.ModelName(), "duration", time.Since(start))

	chat, err := s.chats.GetChat(ctx, payload.ChatID)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	transcript := append(chat.Messages, domain.Message{Role: domain.RoleAssistant, Content: domain.TextContent(answer)})
	if err := s.record(ctx, payload.ChatID, job.OwnerID, transcript); err != nil {
		return nil, err
	}

	return &domain.JobResult{Response: answer, ChatID: payload.ChatID, Sources: payload.Sources}, nil
}

// record saves the transcript and indexes its last message as a
// chat-history fragment. An embedding failure stores a zero vector so the
// fragment stays reachable by lexical retrieval.
func (s *ChatService) record(ctx context.Context, chatID, ownerID string, messages []domain.Message) error {
	existing, err := s.chats.GetChat(ctx, chatID)
	switch {
	case err == nil && existing.Author != ownerID:
		return fmt.Errorf("chat %s: %w", chatID, port.ErrNotFound)
	case err != nil && !errors.Is(err, port.ErrNotFound):
		return fmt.Errorf("load chat: %w", err)
	}

	chat := &domain.Chat{ID: chatID, Author: ownerID, Messages: messages, CreatedAt: time.Now().UTC()}
	if existing != nil {
		chat.CreatedAt = existing.CreatedAt
	}
	if err := s.chats.SaveChat(ctx, chat); err != nil {
		return fmt.Errorf("save chat: %w", err)
	}

	text := messages[len(messages)-1].Content.Text()
	if text == "" {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		dim := s.embedder.Dimension()
		if dim == 0 {
			slog.Warn("skipping history fragment, embedding unavailable", "chat_id", chatID, "error", err)
			return nil
		}
		slog.Warn("embedding failed, storing zero vector", "chat_id", chatID, "error", err)
		vec = make([]float32, dim)
	}

	frag := domain.Fragment{
		ID:        domain.HistoryFragmentID(chatID, len(messages)),
		Content:   text,
		Embedding: vec,
		OwnerID:   ownerID,
	}
	if err := s.fragments.Put(ctx, []domain.Fragment{frag}); err != nil {
		slog.Warn("store history fragment failed", "chat_id", chatID, "error", err)
	}
	return nil
}

// History lists the owner's chats, newest first.
func (s *ChatService) History(ctx context.Context, ownerID string) ([]domain.Chat, error) {
	chats, err := s.chats.ListChatsByAuthor(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// GetChat returns one of the owner's chats.
func (s *ChatService) GetChat(ctx context.Context, ownerID, chatID string) (*domain.Chat, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.Author != ownerID {
		return nil, fmt.Errorf("chat %s: %w", chatID, port.ErrNotFound)
	}
	return chat, nil
}
