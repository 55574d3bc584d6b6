package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

// UploadResult describes an indexed document.
type UploadResult struct {
	Pathname  string `json:"pathname"`
	Fragments int    `json:"fragments"`
}

// IngestService stores uploaded documents and indexes them as fragments.
type IngestService struct {
	blobs     port.BlobStore
	fragments port.FragmentStore
	embedder  port.Embedder
	extractor port.DocumentExtractor
	splitter  *TextSplitter
}

// NewIngestService creates an ingest service.
func NewIngestService(blobs port.BlobStore, fragments port.FragmentStore, embedder port.Embedder, extractor port.DocumentExtractor, splitter *TextSplitter) *IngestService {
	if splitter == nil {
		splitter = NewTextSplitter(DefaultChunkSize, DefaultChunkOverlap)
	}
	return &IngestService{
		blobs:     blobs,
		fragments: fragments,
		embedder:  embedder,
		extractor: extractor,
		splitter:  splitter,
	}
}

// Upload stores data as <owner>/<filename> and replaces the document's
// fragments with freshly embedded chunks. The fragments are swapped before
// the blob is written; a failed blob write puts the previous fragments
// back, so an error leaves the document as it was.
func (s *IngestService) Upload(ctx context.Context, ownerID, filename string, data []byte) (*UploadResult, error) {
	if err := validFilename(filename); err != nil {
		return nil, err
	}
	if !s.extractor.Supports(filename) {
		return nil, fmt.Errorf("upload %s: unsupported file type: %w", filename, port.ErrValidation)
	}

	text, err := s.extractor.Extract(ctx, filename, data)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	chunks := s.splitter.Split(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("upload %s: no text content: %w", filename, port.ErrValidation)
	}

	vectors, err := s.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}

	path := domain.DocumentPath(ownerID, filename)
	fragments := make([]domain.Fragment, len(chunks))
	for i, chunk := range chunks {
		fragments[i] = domain.Fragment{
			ID:         domain.DocumentFragmentID(path, i),
			Content:    chunk,
			Embedding:  vectors[i],
			SourcePath: path,
			OwnerID:    ownerID,
		}
	}

	previous, err := s.fragments.GetByPaths(ctx, []string{path}, "")
	if err != nil {
		return nil, fmt.Errorf("read previous fragments: %w", err)
	}
	if err := s.fragments.ReplaceBySourcePath(ctx, path, fragments); err != nil {
		return nil, fmt.Errorf("store fragments: %w", err)
	}
	if err := s.blobs.Put(ctx, path, data); err != nil {
		if rerr := s.fragments.ReplaceBySourcePath(ctx, path, previous); rerr != nil {
			slog.Error("restore fragments failed", "path", path, "error", rerr)
		}
		return nil, fmt.Errorf("store blob: %w", err)
	}

	slog.Info("document indexed", "path", path, "bytes", len(data), "fragments", len(fragments))
	return &UploadResult{Pathname: path, Fragments: len(fragments)}, nil
}

// List returns the owner's uploaded documents.
func (s *IngestService) List(ctx context.Context, ownerID string) ([]port.BlobInfo, error) {
	files, err := s.blobs.List(ctx, ownerID+"/")
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

// Delete removes a document and its fragments. name is a bare filename or
// a full pathname, which must lie under the owner's prefix.
func (s *IngestService) Delete(ctx context.Context, ownerID, name string) error {
	path := name
	if !strings.Contains(name, "/") {
		path = domain.DocumentPath(ownerID, name)
	} else if !strings.HasPrefix(name, ownerID+"/") {
		return fmt.Errorf("delete %s: %w", name, port.ErrForbidden)
	}
	if err := validFilename(strings.TrimPrefix(path, ownerID+"/")); err != nil {
		return err
	}

	if err := s.blobs.Delete(ctx, path); err != nil && !errors.Is(err, port.ErrNotFound) {
		return fmt.Errorf("delete blob: %w", err)
	}
	if err := s.fragments.DeleteBySourcePath(ctx, path); err != nil {
		return fmt.Errorf("delete fragments: %w", err)
	}
	slog.Info("document deleted", "path", path)
	return nil
}

func validFilename(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid filename %q: %w", name, port.ErrValidation)
	}
	return nil
}
