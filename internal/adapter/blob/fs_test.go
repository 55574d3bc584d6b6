package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

func TestFSStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "u1/notes.txt", []byte("hello")))
	require.NoError(t, s.Put(ctx, "u1/a.md", []byte("# a")))
	require.NoError(t, s.Put(ctx, "u2/other.txt", []byte("x")))

	data, err := s.Get(ctx, "u1/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	list, err := s.List(ctx, "u1/")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "u1/a.md", list[0].Pathname)
	assert.Equal(t, int64(5), list[1].Size)

	require.NoError(t, s.Delete(ctx, "u1/notes.txt"))
	_, err = s.Get(ctx, "u1/notes.txt")
	assert.ErrorIs(t, err, port.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "u1/notes.txt"), port.ErrNotFound)
}

func TestFSStore_RejectsTraversal(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	for _, p := range []string{"", "../escape", "/etc/passwd", "u1/../../x"} {
		assert.ErrorIs(t, s.Put(context.Background(), p, nil), port.ErrValidation, p)
	}
}
