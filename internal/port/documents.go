package port

import (
	"context"
	"time"
)

// BlobInfo describes a stored upload.
type BlobInfo struct {
	Pathname   string    `json:"pathname"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// BlobStore keeps the raw bytes of uploaded documents.
type BlobStore interface {
	Put(ctx context.Context, pathname string, data []byte) error
	Get(ctx context.Context, pathname string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Delete(ctx context.Context, pathname string) error
}

// DocumentExtractor turns an uploaded document into plain text.
type DocumentExtractor interface {
	// Supports reports whether the extractor handles the file name.
	Supports(filename string) bool

	// Extract returns the document text.
	Extract(ctx context.Context, filename string, data []byte) (string, error)
}
