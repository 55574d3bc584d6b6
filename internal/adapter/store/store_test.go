package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

// backends returns every backend available in this environment. Postgres
// joins only when TEST_DATABASE_URL is set.
func backends(t *testing.T) map[string]func(t *testing.T) port.Backend {
	t.Helper()

	b := map[string]func(t *testing.T) port.Backend{
		"memory": func(t *testing.T) port.Backend {
			return NewMemoryStore(0)
		},
		"sqlite": func(t *testing.T) port.Backend {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "rag.db"), 0)
			require.NoError(t, err)
			return s
		},
	}
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		b["postgres"] = func(t *testing.T) port.Backend {
			s, err := NewPostgresStore(url, 0)
			require.NoError(t, err)
			_, err = s.Purge(context.Background(), false, false)
			require.NoError(t, err)
			return s
		}
	}
	return b
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s port.Backend)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { assert.NoError(t, s.Close()) })
			fn(t, s)
		})
	}
}

func doc(path string, i int, content string) domain.Fragment {
	return domain.Fragment{
		ID:         domain.DocumentFragmentID(path, i),
		Content:    content,
		Embedding:  []float32{1, 0, 0},
		SourcePath: path,
		OwnerID:    "u1",
	}
}

func history(chatID string, n int, owner, content string) domain.Fragment {
	return domain.Fragment{
		ID:        domain.HistoryFragmentID(chatID, n),
		Content:   content,
		Embedding: []float32{0, 1, 0},
		OwnerID:   owner,
	}
}

func ids(frags []domain.Fragment) []string {
	out := make([]string, len(frags))
	for i, f := range frags {
		out[i] = f.ID
	}
	return out
}

func TestPut_Validation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Backend) {
		ctx := context.Background()

		err := s.Put(ctx, []domain.Fragment{{ID: "x", Embedding: []float32{1, 0, 0}, SourcePath: "u1/a"}})
		assert.ErrorIs(t, err, port.ErrValidation, "empty content")

		err = s.Put(ctx, []domain.Fragment{{ID: "x", Content: "orphan", Embedding: []float32{1, 0, 0}}})
		assert.ErrorIs(t, err, port.ErrValidation, "chat fragment without owner")

		require.NoError(t, s.Put(ctx, []domain.Fragment{doc("u1/a.txt", 0, "alpha")}))

		bad := doc("u1/a.txt", 1, "beta")
		bad.Embedding = []float32{1, 0}
		err = s.Put(ctx, []domain.Fragment{bad})
		assert.ErrorIs(t, err, port.ErrValidation, "dimension mismatch")

		got, err := s.GetByPaths(ctx, []string{"u1/a.txt"}, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"u1/a.txt/0"}, ids(got))
	})
}

func TestPut_BatchIsAllOrNothing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Backend) {
		ctx := context.Background()
		batch := []domain.Fragment{doc("u1/a.txt", 0, "alpha"), doc("u1/a.txt", 1, "")}

		assert.ErrorIs(t, s.Put(ctx, batch), port.ErrValidation)

		got, err := s.GetByPaths(ctx, []string{"u1/a.txt"}, "")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestGetByPaths_UnionsOwnerHistory(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Backend) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, []domain.Fragment{
			doc("u1/a.txt", 0, "alpha"),
			history("c1", 1, "u1", "my question"),
			doc("u1/b.txt", 0, "bravo"),
			history("c2", 1, "u2", "someone else"),
		}))

		got, err := s.GetByPaths(ctx, []string{"u1/a.txt"}, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"u1/a.txt/0", "chat-c1-1"}, ids(got))

		got, err = s.GetByPaths(ctx, nil, "u2")
		require.NoError(t, err)
		assert.Equal(t, []string{"chat-c2-1"}, ids(got))

		got, err = s.GetByPaths(ctx, nil, "")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestPut_UpsertKeepsInsertionOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Backend) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, []domain.Fragment{doc("u1/a.txt", 0, "one"), doc("u1/a.txt", 1, "two")}))
		require.NoError(t, s.Put(ctx, []domain.Fragment{doc("u1/a.txt", 0, "one again")}))

		got, err := s.GetByPaths(ctx, []string{"u1/a.txt"}, "")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "u1/a.txt/0", got[0].ID)
		assert.Equal(t, "one again", got[0].Content)
		assert.Equal(t, []float32{1, 0, 0}, got[0].Embedding)
		assert.False(t, got[1].CreatedAt.Before(got[0].CreatedAt))
	})
}

func TestGetByOwnerAndDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Backend) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, []domain.Fragment{
			doc("u1/a.txt", 0, "alpha"),
			doc("u1/a.txt", 1, "alpha two"),
			history("c1", 1, "u1", "hello"),
		}))

		got, err := s.GetByOwner(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, got, 3)

		require.NoError(t, s.DeleteBySourcePath(ctx, "u1/a.txt"))
		got, err = s.GetByOwner(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{"chat-c1-1"}, ids(got))

		assert.ErrorIs(t, s.DeleteBySourcePath(ctx, ""), port.ErrValidation)
	})
}

func TestChats(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Backend) {
		ctx := context.Background()

		_, err := s.GetChat(ctx, "missing")
		assert.ErrorIs(t, err, port.ErrNotFound)

		chat := &domain.Chat{
			ID:        "c1",
			Author:    "u1",
			CreatedAt: time.Now().UTC(),
			Messages: []domain.Message{
				{Role: domain.RoleUser, Content: domain.TextContent("hi")},
				{Role: domain.RoleAssistant, Content: domain.PartsContent(domain.ContentPart{Type: domain.PartTypeText, Text: "hello"})},
			},
		}
		require.NoError(t, s.SaveChat(ctx, chat))

		got, err := s.GetChat(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.Author)
		require.Len(t, got.Messages, 2)
		assert.Equal(t, "hi", got.Messages[0].Content.Text())
		assert.True(t, got.Messages[1].Content.IsParts())

		list, err := s.ListChatsByAuthor(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, list, 1)

		list, err = s.ListChatsByAuthor(ctx, "u2")
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

func TestAuditLogs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Backend) {
		ctx := context.Background()
		require.NoError(t, s.WriteAudit("u1", domain.AuditActionSession, "session", "u1", `{}`, "127.0.0.1", "test"))
		require.NoError(t, s.WriteAudit("u1", domain.AuditActionChatTurn, "chat", "c1", `{}`, "127.0.0.1", "test"))

		logs, err := s.ListAuditLogs(ctx, 10, "")
		require.NoError(t, err)
		assert.Len(t, logs, 2)

		logs, err = s.ListAuditLogs(ctx, 10, domain.AuditActionChatTurn)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, "c1", logs[0].ResourceID)
	})
}

func TestPurge(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Backend) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, []domain.Fragment{doc("u1/a.txt", 0, "alpha"), history("c1", 1, "u1", "q")}))
		require.NoError(t, s.SaveChat(ctx, &domain.Chat{ID: "c1", Author: "u1"}))

		stats, err := s.Purge(ctx, false, true)
		require.NoError(t, err)
		assert.Equal(t, port.PurgeStats{Fragments: 2, Chats: 1}, stats)

		got, err := s.GetByOwner(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, got, 2, "dry run deletes nothing")

		stats, err = s.Purge(ctx, true, false)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Fragments)

		got, err = s.GetByOwner(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, got)

		_, err = s.GetChat(ctx, "c1")
		assert.NoError(t, err, "chats kept")
	})
}

func TestReplaceBySourcePath(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Backend) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, []domain.Fragment{
			doc("u1/a.txt", 0, "alpha"), doc("u1/a.txt", 1, "beta"), doc("u1/b.txt", 0, "bravo"),
		}))

		require.NoError(t, s.ReplaceBySourcePath(ctx, "u1/a.txt", []domain.Fragment{doc("u1/a.txt", 0, "gamma")}))
		got, err := s.GetByPaths(ctx, []string{"u1/a.txt", "u1/b.txt"}, "")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"u1/b.txt/0", "u1/a.txt/0"}, ids(got))

		narrow := doc("u1/a.txt", 0, "delta")
		narrow.Embedding = []float32{1, 0}
		assert.ErrorIs(t, s.ReplaceBySourcePath(ctx, "u1/a.txt", []domain.Fragment{narrow}), port.ErrValidation)
		assert.ErrorIs(t, s.ReplaceBySourcePath(ctx, "u1/a.txt", []domain.Fragment{doc("u1/b.txt", 3, "stray")}), port.ErrValidation)
		assert.ErrorIs(t, s.ReplaceBySourcePath(ctx, "", nil), port.ErrValidation)

		got, err = s.GetByPaths(ctx, []string{"u1/a.txt"}, "")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "gamma", got[0].Content, "failed replace keeps the previous fragments")

		require.NoError(t, s.ReplaceBySourcePath(ctx, "u1/a.txt", nil))
		got, err = s.GetByPaths(ctx, []string{"u1/a.txt", "u1/b.txt"}, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"u1/b.txt/0"}, ids(got))
	})
}

func TestSQLiteStore_FailedFirstWriteReleasesDimension(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "rag.db"), 0)
	require.NoError(t, err)
	defer s.Close()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, s.Put(cancelled, []domain.Fragment{doc("u1/a.txt", 0, "alpha")}))
	assert.Zero(t, s.guard.Dimension())

	wide := doc("u1/a.txt", 0, "alpha")
	wide.Embedding = []float32{1, 0, 0, 0, 0}
	require.NoError(t, s.Put(context.Background(), []domain.Fragment{wide}))
	assert.Equal(t, 5, s.guard.Dimension())
}

func TestWriteGuard_Claims(t *testing.T) {
	g := newWriteGuard(0)
	three := []domain.Fragment{doc("u1/a.txt", 0, "alpha")}
	two := []domain.Fragment{{ID: "x", Content: "x", Embedding: []float32{1, 0}, SourcePath: "u1/x"}}

	_, settleA, err := g.admit(three)
	require.NoError(t, err)
	_, settleB, err := g.admit(three)
	require.NoError(t, err)
	_, _, err = g.admit(two)
	assert.ErrorIs(t, err, port.ErrValidation, "a pending write holds its dimension")

	settleA(errors.New("disk full"))
	_, _, err = g.admit(two)
	assert.ErrorIs(t, err, port.ErrValidation, "another claim is still pending")
	assert.Zero(t, g.Dimension())

	settleB(nil)
	assert.Equal(t, 3, g.Dimension())

	g = newWriteGuard(0)
	_, settle, err := g.admit(three)
	require.NoError(t, err)
	settle(errors.New("disk full"))
	_, settle, err = g.admit(two)
	require.NoError(t, err, "released once the only claim failed")
	settle(nil)
	assert.Equal(t, 2, g.Dimension())
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rag.db")
	s, err := NewSQLiteStore(path, 0)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), []domain.Fragment{doc("u1/a.txt", 0, "alpha")}))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path, 0)
	require.NoError(t, err)
	defer s.Close()

	bad := doc("u1/a.txt", 1, "beta")
	bad.Embedding = []float32{1, 2}
	assert.ErrorIs(t, s.Put(context.Background(), []domain.Fragment{bad}), port.ErrValidation)
}

func TestFloat32Encoding(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	assert.Equal(t, in, bytesToFloat32Slice(float32SliceToBytes(in)))
	assert.Nil(t, bytesToFloat32Slice(nil))
}
