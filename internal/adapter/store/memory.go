package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

// MemoryStore keeps fragments, chats and audit records in process memory.
// Reads return fragments in insertion order; an upsert keeps the original
// position of the id.
type MemoryStore struct {
	guard *writeGuard

	mu        sync.RWMutex
	fragments map[string]domain.Fragment
	order     []string
	chats     map[string]domain.Chat
	audit     []domain.AuditLog
}

var _ port.Backend = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. A dimension of 0 is learned from
// the first write.
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{
		guard:     newWriteGuard(dimension),
		fragments: make(map[string]domain.Fragment),
		chats:     make(map[string]domain.Chat),
	}
}

// Put upserts fragments by id.
func (s *MemoryStore) Put(_ context.Context, fragments []domain.Fragment) error {
	admitted, settle, err := s.guard.admit(fragments)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.insert(admitted)
	settle(nil)
	return nil
}

// ReplaceBySourcePath swaps the fragments of a document in one step.
func (s *MemoryStore) ReplaceBySourcePath(_ context.Context, path string, fragments []domain.Fragment) error {
	if err := sameSource(path, fragments); err != nil {
		return err
	}
	admitted, settle, err := s.guard.admit(fragments)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removePath(path)
	s.insert(admitted)
	settle(nil)
	return nil
}

func (s *MemoryStore) insert(admitted []domain.Fragment) {
	for _, f := range admitted {
		if _, exists := s.fragments[f.ID]; !exists {
			s.order = append(s.order, f.ID)
		}
		s.fragments[f.ID] = f
	}
}

// GetByPaths returns document fragments under paths plus the owner's chat fragments.
func (s *MemoryStore) GetByPaths(_ context.Context, paths []string, ownerID string) ([]domain.Fragment, error) {
	set := pathSet(paths)
	return s.collect(func(f domain.Fragment) bool { return inScope(f, set, ownerID) }), nil
}

// GetByOwner returns every fragment owned by ownerID.
func (s *MemoryStore) GetByOwner(_ context.Context, ownerID string) ([]domain.Fragment, error) {
	return s.collect(func(f domain.Fragment) bool { return f.OwnerID == ownerID }), nil
}

// DeleteBySourcePath removes all fragments of a document.
func (s *MemoryStore) DeleteBySourcePath(_ context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("delete fragments: empty path: %w", port.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removePath(path)
	return nil
}

func (s *MemoryStore) removePath(path string) {
	kept := s.order[:0]
	for _, id := range s.order {
		if s.fragments[id].SourcePath == path {
			delete(s.fragments, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func (s *MemoryStore) collect(match func(domain.Fragment) bool) []domain.Fragment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Fragment
	for _, id := range s.order {
		f := s.fragments[id]
		if match(f) {
			out = append(out, f)
		}
	}
	return out
}

// --- Chats ---

// SaveChat inserts or replaces a chat transcript.
func (s *MemoryStore) SaveChat(_ context.Context, chat *domain.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *chat
	c.Messages = domain.CloneMessages(chat.Messages)
	c.UpdatedAt = time.Now().UTC()
	if prev, ok := s.chats[c.ID]; ok {
		c.CreatedAt = prev.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = c.UpdatedAt
	}
	s.chats[c.ID] = c
	return nil
}

// GetChat returns a chat by id.
func (s *MemoryStore) GetChat(_ context.Context, id string) (*domain.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[id]
	if !ok {
		return nil, fmt.Errorf("get chat %s: %w", id, port.ErrNotFound)
	}
	c.Messages = domain.CloneMessages(c.Messages)
	return &c, nil
}

// ListChatsByAuthor returns the author's chats, newest first.
func (s *MemoryStore) ListChatsByAuthor(_ context.Context, author string) ([]domain.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chats []domain.Chat
	for _, c := range s.chats {
		if c.Author == author {
			c.Messages = domain.CloneMessages(c.Messages)
			chats = append(chats, c)
		}
	}
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].CreatedAt.After(chats[j].CreatedAt)
	})
	return chats, nil
}

// --- Audit Logs ---

// WriteAudit implements middleware.AuditWriter.
func (s *MemoryStore) WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, domain.AuditLog{
		ID:         strconv.Itoa(len(s.audit) + 1),
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    details,
		IP:         ip,
		UserAgent:  userAgent,
		CreatedAt:  time.Now().UTC(),
	})
	return nil
}

// ListAuditLogs returns recent audit logs, newest first.
func (s *MemoryStore) ListAuditLogs(_ context.Context, limit int, action string) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var logs []domain.AuditLog
	for i := len(s.audit) - 1; i >= 0; i-- {
		if action != "" && s.audit[i].Action != action {
			continue
		}
		logs = append(logs, s.audit[i])
		if limit > 0 && len(logs) == limit {
			break
		}
	}
	return logs, nil
}

// Purge drops all fragments and, unless keepChats is set, all chats.
func (s *MemoryStore) Purge(_ context.Context, keepChats, dryRun bool) (port.PurgeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := port.PurgeStats{Fragments: len(s.fragments)}
	if !keepChats {
		stats.Chats = len(s.chats)
	}
	if dryRun {
		return stats, nil
	}
	s.fragments = make(map[string]domain.Fragment)
	s.order = nil
	if !keepChats {
		s.chats = make(map[string]domain.Chat)
	}
	return stats, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
