package port

import (
	"context"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
)

// Embedder turns text into fixed-length vectors. Output has the same length
// as the input, is deterministic for identical input and always has
// Dimension() components.
type Embedder interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the length of every produced vector.
	Dimension() int
}

// ChatModel is the opaque text-completion capability.
type ChatModel interface {
	// ModelName returns the identifier of the model being used.
	ModelName() string

	// Complete answers the conversation and returns the assistant text.
	Complete(ctx context.Context, systemPrompt string, messages []domain.Message) (string, error)
}

// AIProvider abstracts a backend that can both embed and complete.
// Implementations can target Ollama or any compatible API.
type AIProvider interface {
	Embedder
	ChatModel
}
