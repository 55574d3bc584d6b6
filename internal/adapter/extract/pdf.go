package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

// PDF extracts page text with pdfcpu. pdfcpu writes raw page content
// streams; the text-showing operators are decoded from those.
type PDF struct {
	tempDir string
}

var _ port.DocumentExtractor = (*PDF)(nil)

// NewPDF creates an extractor working below tempDir (os.TempDir when empty).
func NewPDF(tempDir string) *PDF {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &PDF{tempDir: tempDir}
}

// Supports reports whether filename is a PDF.
func (p *PDF) Supports(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".pdf")
}

// Extract returns the text of all pages separated by blank lines.
func (p *PDF) Extract(ctx context.Context, filename string, data []byte) (string, error) {
	work, err := os.MkdirTemp(p.tempDir, "rag-pdf-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(work)

	in := filepath.Join(work, "in.pdf")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return "", fmt.Errorf("write temp pdf: %w", err)
	}

	pdfCtx, err := api.ReadContextFile(in)
	if err != nil {
		return "", fmt.Errorf("read pdf %s: %w", filename, port.ErrValidation)
	}

	outDir := filepath.Join(work, "pages")
	if err := os.MkdirAll(outDir, 0o700); err != nil {
		return "", fmt.Errorf("create page dir: %w", err)
	}
	if err := api.ExtractContentFile(in, outDir, nil, model.NewDefaultConfiguration()); err != nil {
		return "", fmt.Errorf("extract pdf content: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	files, err := os.ReadDir(outDir)
	if err != nil {
		return "", fmt.Errorf("read page dir: %w", err)
	}
	pageTexts := make(map[int]string, pdfCtx.PageCount)
	for _, f := range files {
		page, ok := pageNumber(f.Name())
		if !ok {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(outDir, f.Name()))
		if err != nil {
			return "", fmt.Errorf("read page %d: %w", page, err)
		}
		pageTexts[page] += contentText(string(raw))
	}

	pages := make([]int, 0, len(pageTexts))
	for n := range pageTexts {
		pages = append(pages, n)
	}
	sort.Ints(pages)

	var b strings.Builder
	for _, n := range pages {
		text := strings.TrimSpace(pageTexts[n])
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// pageNumber parses the page from pdfcpu's "<name>_Content_page_<n>.txt".
func pageNumber(name string) (int, bool) {
	i := strings.LastIndex(name, "page_")
	if i < 0 {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(name[i:], "page_%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// contentText collects the string operands of the Tj, TJ, ' and "
// operators of a content stream. T* and ET end a line.
func contentText(stream string) string {
	var (
		out     strings.Builder
		pending strings.Builder
	)
	for i := 0; i < len(stream); i++ {
		switch c := stream[i]; c {
		case '(':
			s, end := literalString(stream, i)
			pending.WriteString(s)
			i = end
		case 'T':
			if i+1 < len(stream) {
				switch stream[i+1] {
				case 'j', 'J':
					out.WriteString(pending.String())
					pending.Reset()
				case '*':
					out.WriteByte('\n')
				case 'd', 'D':
					if out.Len() > 0 && !strings.HasSuffix(out.String(), " ") {
						out.WriteByte(' ')
					}
				}
				i++
			}
		case '\'', '"':
			out.WriteByte('\n')
			out.WriteString(pending.String())
			pending.Reset()
		case 'E':
			if i+1 < len(stream) && stream[i+1] == 'T' {
				out.WriteByte('\n')
				i++
			}
		}
	}
	return out.String()
}

// literalString decodes a PDF literal string starting at s[start] == '('
// and returns it with the index of the closing parenthesis.
func literalString(s string, start int) (string, int) {
	var b strings.Builder
	depth := 0
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case '(', ')', '\\':
				b.WriteByte(s[i])
			default:
				if s[i] >= '0' && s[i] <= '7' {
					v, j := 0, i
					for ; j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7'; j++ {
						v = v*8 + int(s[j]-'0')
					}
					b.WriteByte(byte(v))
					i = j - 1
				}
			}
		case c == '(':
			if depth > 0 {
				b.WriteByte(c)
			}
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return b.String(), i
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), len(s) - 1
}
