// Package blob stores uploaded document bytes on the local filesystem.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

// FSStore keeps each blob as a file below a root directory. Pathnames use
// forward slashes, e.g. "<owner>/<filename>".
type FSStore struct {
	root string
}

var _ port.BlobStore = (*FSStore)(nil)

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Put writes data at pathname, replacing any previous blob.
func (s *FSStore) Put(_ context.Context, pathname string, data []byte) error {
	full, err := s.resolve(pathname)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return fmt.Errorf("commit blob: %w", err)
	}
	return nil
}

// Get reads the blob at pathname.
func (s *FSStore) Get(_ context.Context, pathname string) ([]byte, error) {
	full, err := s.resolve(pathname)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("get blob %s: %w", pathname, port.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return data, nil
}

// List returns the blobs whose pathname starts with prefix, sorted by pathname.
func (s *FSStore) List(_ context.Context, prefix string) ([]port.BlobInfo, error) {
	var out []port.BlobInfo
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, port.BlobInfo{Pathname: name, Size: info.Size(), UploadedAt: info.ModTime().UTC()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pathname < out[j].Pathname })
	return out, nil
}

// Delete removes the blob at pathname.
func (s *FSStore) Delete(_ context.Context, pathname string) error {
	full, err := s.resolve(pathname)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete blob %s: %w", pathname, port.ErrNotFound)
		}
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// resolve maps pathname below root and rejects traversal.
func (s *FSStore) resolve(pathname string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(pathname))
	if pathname == "" || filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("blob path %q: %w", pathname, port.ErrValidation)
	}
	return filepath.Join(s.root, clean), nil
}
