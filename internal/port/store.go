package port

import (
	"context"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
)

// FragmentStore is the durable repository of text fragments.
// Every read returns fragments in store insertion order.
type FragmentStore interface {
	// Put upserts fragments by id. It fails with ErrValidation if any
	// fragment has empty content, a vector whose length disagrees with the
	// store's dimensionality, or neither a source path nor an owner.
	Put(ctx context.Context, fragments []domain.Fragment) error

	// GetByPaths returns fragments whose source path is in paths, unioned
	// with the owner's chat-history fragments when ownerID is not empty.
	GetByPaths(ctx context.Context, paths []string, ownerID string) ([]domain.Fragment, error)

	// GetByOwner returns every fragment, document or chat, owned by ownerID.
	GetByOwner(ctx context.Context, ownerID string) ([]domain.Fragment, error)

	// DeleteBySourcePath removes all fragments with exactly that source path.
	DeleteBySourcePath(ctx context.Context, path string) error

	// ReplaceBySourcePath atomically swaps every fragment of path for
	// fragments, which must all carry that source path. On error the
	// previous fragments are left in place.
	ReplaceBySourcePath(ctx context.Context, path string, fragments []domain.Fragment) error
}

// ChatStore persists conversation transcripts.
type ChatStore interface {
	SaveChat(ctx context.Context, chat *domain.Chat) error
	GetChat(ctx context.Context, id string) (*domain.Chat, error)
	ListChatsByAuthor(ctx context.Context, author string) ([]domain.Chat, error)
}

// AuditStore persists and lists audit records.
type AuditStore interface {
	WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error
	ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error)
}

// PurgeStats reports what a Purge removed (or would remove on a dry run).
type PurgeStats struct {
	Fragments int `json:"fragments"`
	Chats     int `json:"chats"`
}

// Backend bundles the stores a deployment runs on.
type Backend interface {
	FragmentStore
	ChatStore
	AuditStore

	// Purge deletes all fragments and, unless keepChats is set, all chats.
	Purge(ctx context.Context, keepChats, dryRun bool) (PurgeStats, error)

	Close() error
}
