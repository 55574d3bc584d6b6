package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/adapter/ai"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/adapter/blob"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/adapter/extract"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/adapter/store"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

type ingestFixture struct {
	blobs *blob.FSStore
	store *store.MemoryStore
	svc   *IngestService
}

func newIngestFixture(t *testing.T, embedder port.Embedder) *ingestFixture {
	t.Helper()
	blobs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)
	if embedder == nil {
		embedder = ai.NewHashEmbedder(16)
	}
	f := &ingestFixture{blobs: blobs, store: store.NewMemoryStore(0)}
	f.svc = NewIngestService(blobs, f.store, embedder, extract.Default(), NewTextSplitter(40, 0))
	return f
}

func (f *ingestFixture) fragments(t *testing.T, path string) []domain.Fragment {
	t.Helper()
	frags, err := f.store.GetByPaths(context.Background(), []string{path}, "")
	require.NoError(t, err)
	return frags
}

func TestUploadIndexesDocument(t *testing.T) {
	f := newIngestFixture(t, nil)
	ctx := context.Background()

	text := "The invoice was dated March 3.\n\nPayment is due within thirty days.\n\nLate fees apply."
	res, err := f.svc.Upload(ctx, "u1", "invoice.txt", []byte(text))
	require.NoError(t, err)
	assert.Equal(t, "u1/invoice.txt", res.Pathname)
	assert.Equal(t, 3, res.Fragments)

	frags := f.fragments(t, "u1/invoice.txt")
	require.Len(t, frags, 3)
	for i, fr := range frags {
		assert.Equal(t, domain.DocumentFragmentID("u1/invoice.txt", i), fr.ID)
		assert.Equal(t, "u1/invoice.txt", fr.SourcePath)
		assert.Equal(t, "u1", fr.OwnerID)
		assert.Len(t, fr.Embedding, 16)
	}

	files, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "u1/invoice.txt", files[0].Pathname)
	assert.Equal(t, int64(len(text)), files[0].Size)

	stored, err := f.blobs.Get(ctx, "u1/invoice.txt")
	require.NoError(t, err)
	assert.Equal(t, text, string(stored))
}

func TestUploadReplacesPreviousFragments(t *testing.T) {
	f := newIngestFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, "u1", "notes.md", []byte(strings.Repeat("line of notes\n", 10)))
	require.NoError(t, err)
	require.Greater(t, len(f.fragments(t, "u1/notes.md")), 1)

	res, err := f.svc.Upload(ctx, "u1", "notes.md", []byte("short now"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fragments)
	frags := f.fragments(t, "u1/notes.md")
	require.Len(t, frags, 1)
	assert.Equal(t, "short now", frags[0].Content)
}

func TestUploadRejects(t *testing.T) {
	f := newIngestFixture(t, nil)
	ctx := context.Background()

	for name, tc := range map[string]struct {
		filename string
		data     []byte
	}{
		"unsupported type": {"tool.exe", []byte("MZ")},
		"path traversal":   {"../escape.txt", []byte("x")},
		"nested path":      {"a/b.txt", []byte("x")},
		"empty name":       {"", []byte("x")},
		"blank content":    {"blank.txt", []byte("  \n\n ")},
		"invalid utf-8":    {"bin.txt", []byte{0xff, 0xfe, 0xfd}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Upload(ctx, "u1", tc.filename, tc.data)
			require.ErrorIs(t, err, port.ErrValidation)
		})
	}

	files, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, files, "rejected uploads leave nothing behind")
}

func TestUploadEmbeddingFailureStoresNothing(t *testing.T) {
	f := newIngestFixture(t, &fakeEmbedder{dim: 2, err: errBoom})
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, "u1", "a.txt", []byte("some text"))
	require.ErrorIs(t, err, errBoom)

	files, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Empty(t, f.fragments(t, "u1/a.txt"))
}

func TestDeleteDocument(t *testing.T) {
	f := newIngestFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, "u1", "a.txt", []byte("alpha"))
	require.NoError(t, err)
	_, err = f.svc.Upload(ctx, "u1", "b.txt", []byte("bravo"))
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, "u1", "a.txt"))
	require.NoError(t, f.svc.Delete(ctx, "u1", "u1/b.txt"), "full pathnames are accepted")

	files, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Empty(t, f.fragments(t, "u1/a.txt"))
	assert.Empty(t, f.fragments(t, "u1/b.txt"))

	require.NoError(t, f.svc.Delete(ctx, "u1", "missing.txt"), "deleting twice is harmless")
}

func TestDeleteForeignDocument(t *testing.T) {
	f := newIngestFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, "u2", "private.txt", []byte("secret"))
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.Delete(ctx, "u1", "u2/private.txt"), port.ErrForbidden)
	assert.Len(t, f.fragments(t, "u2/private.txt"), 1)
}

func TestReuploadWithOtherDimensionKeepsDocument(t *testing.T) {
	f := newIngestFixture(t, ai.NewHashEmbedder(16))
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, "u1", "a.txt", []byte("original text"))
	require.NoError(t, err)

	narrow := NewIngestService(f.blobs, f.store, ai.NewHashEmbedder(8), extract.Default(), NewTextSplitter(40, 0))
	_, err = narrow.Upload(ctx, "u1", "a.txt", []byte("replacement text"))
	require.ErrorIs(t, err, port.ErrValidation)

	frags := f.fragments(t, "u1/a.txt")
	require.Len(t, frags, 1)
	assert.Equal(t, "original text", frags[0].Content)
	assert.Len(t, frags[0].Embedding, 16)

	stored, err := f.blobs.Get(ctx, "u1/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "original text", string(stored))
}

// failingBlobs rejects every write.
type failingBlobs struct {
	port.BlobStore
}

func (failingBlobs) Put(context.Context, string, []byte) error { return errBoom }

func TestUploadBlobFailureRestoresFragments(t *testing.T) {
	f := newIngestFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, "u1", "a.txt", []byte("original text"))
	require.NoError(t, err)

	broken := NewIngestService(failingBlobs{f.blobs}, f.store, ai.NewHashEmbedder(16), extract.Default(), NewTextSplitter(40, 0))
	_, err = broken.Upload(ctx, "u1", "a.txt", []byte("replacement text"))
	require.ErrorIs(t, err, errBoom)
	frags := f.fragments(t, "u1/a.txt")
	require.Len(t, frags, 1)
	assert.Equal(t, "original text", frags[0].Content)

	_, err = broken.Upload(ctx, "u1", "fresh.txt", []byte("never stored"))
	require.ErrorIs(t, err, errBoom)
	assert.Empty(t, f.fragments(t, "u1/fresh.txt"))
}
