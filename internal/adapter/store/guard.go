package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

// writeGuard enforces the write-time fragment invariants shared by every
// backend: non-empty content, one dimensionality per store, attribution of
// chat-history fragments and non-decreasing creation times.
//
// A dimension learned from a write only becomes fixed once that write
// commits. Until then it is claimed, so concurrent writes agree on it, and
// it is released if every claiming write fails.
type writeGuard struct {
	mu     sync.Mutex
	dim    int
	fixed  bool
	claims int
	last   time.Time
	now    func() time.Time
}

func newWriteGuard(dim int) *writeGuard {
	return &writeGuard{dim: dim, fixed: dim > 0, now: time.Now}
}

// Dimension returns the established vector length, 0 while unknown.
func (g *writeGuard) Dimension() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.fixed {
		return 0
	}
	return g.dim
}

// admit validates the whole batch and returns stamped copies. Nothing is
// admitted when any fragment is invalid. The caller must pass the outcome
// of the write to settle.
func (g *writeGuard) admit(fragments []domain.Fragment) ([]domain.Fragment, func(error), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	dim := g.dim
	for i, f := range fragments {
		if f.ID == "" {
			return nil, nil, fmt.Errorf("fragment %d: empty id: %w", i, port.ErrValidation)
		}
		if f.Content == "" {
			return nil, nil, fmt.Errorf("fragment %s: empty content: %w", f.ID, port.ErrValidation)
		}
		if f.SourcePath == "" && f.OwnerID == "" {
			return nil, nil, fmt.Errorf("fragment %s: chat fragment without owner: %w", f.ID, port.ErrValidation)
		}
		if len(f.Embedding) == 0 {
			return nil, nil, fmt.Errorf("fragment %s: missing embedding: %w", f.ID, port.ErrValidation)
		}
		if dim == 0 {
			dim = len(f.Embedding)
		}
		if len(f.Embedding) != dim {
			return nil, nil, fmt.Errorf("fragment %s: dimension %d, store holds %d: %w",
				f.ID, len(f.Embedding), dim, port.ErrValidation)
		}
	}

	settle := func(error) {}
	if !g.fixed && len(fragments) > 0 {
		g.dim = dim
		g.claims++
		settle = g.settle
	}
	out := make([]domain.Fragment, len(fragments))
	for i, f := range fragments {
		f.Embedding = append([]float32(nil), f.Embedding...)
		f.CreatedAt = g.stamp()
		out[i] = f
	}
	return out, settle, nil
}

// settle records the outcome of a write that claimed the dimension.
func (g *writeGuard) settle(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.claims--
	switch {
	case err == nil:
		g.fixed = true
	case g.claims == 0 && !g.fixed:
		g.dim = 0
	}
}

// sameSource checks that every fragment belongs to the document at path.
func sameSource(path string, fragments []domain.Fragment) error {
	if path == "" {
		return fmt.Errorf("replace fragments: empty path: %w", port.ErrValidation)
	}
	for _, f := range fragments {
		if f.SourcePath != path {
			return fmt.Errorf("fragment %s: source %q outside %q: %w", f.ID, f.SourcePath, path, port.ErrValidation)
		}
	}
	return nil
}

func (g *writeGuard) stamp() time.Time {
	t := g.now().UTC()
	if t.Before(g.last) {
		t = g.last
	}
	g.last = t
	return t
}

// inScope reports whether f is selected by paths or is a chat-history
// fragment of ownerID.
func inScope(f domain.Fragment, paths map[string]struct{}, ownerID string) bool {
	if f.SourcePath != "" {
		_, ok := paths[f.SourcePath]
		return ok
	}
	return ownerID != "" && f.OwnerID == ownerID
}

func pathSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}

func marshalMessages(msgs []domain.Message) (string, error) {
	if msgs == nil {
		msgs = []domain.Message{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return "", fmt.Errorf("marshal messages: %w", err)
	}
	return string(b), nil
}

func unmarshalMessages(data string) ([]domain.Message, error) {
	var msgs []domain.Message
	if err := json.Unmarshal([]byte(data), &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}
