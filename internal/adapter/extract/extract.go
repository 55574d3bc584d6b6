// Package extract turns uploaded documents into plain text.
package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true, ".json": true,
	".yaml": true, ".yml": true, ".html": true, ".xml": true, ".log": true,
	"": true,
}

// Text accepts UTF-8 text files.
type Text struct{}

var _ port.DocumentExtractor = Text{}

// Supports reports whether filename has a known text extension.
func (Text) Supports(filename string) bool {
	return textExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Extract returns data as a string after checking it is valid UTF-8.
func (Text) Extract(_ context.Context, filename string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("extract %s: not valid UTF-8: %w", filename, port.ErrValidation)
	}
	return string(data), nil
}

// Chain dispatches to the first extractor that supports a file.
type Chain []port.DocumentExtractor

var _ port.DocumentExtractor = Chain(nil)

// Default returns the text and PDF extractors.
func Default() Chain {
	return Chain{Text{}, NewPDF("")}
}

// Supports reports whether any extractor handles filename.
func (c Chain) Supports(filename string) bool {
	for _, e := range c {
		if e.Supports(filename) {
			return true
		}
	}
	return false
}

// Extract runs the first supporting extractor.
func (c Chain) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	for _, e := range c {
		if e.Supports(filename) {
			return e.Extract(ctx, filename, data)
		}
	}
	return "", fmt.Errorf("extract %s: unsupported file type: %w", filename, port.ErrValidation)
}
