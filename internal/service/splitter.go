package service

import "strings"

// Default splitter settings for uploaded documents.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// TextSplitter cuts text into chunks of at most Size runes, trying
// paragraph, line and word boundaries before splitting inside a word.
// Consecutive chunks share up to Overlap runes.
type TextSplitter struct {
	Size       int
	Overlap    int
	Separators []string
}

// NewTextSplitter returns a splitter with the given size and overlap.
func NewTextSplitter(size, overlap int) *TextSplitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &TextSplitter{Size: size, Overlap: overlap, Separators: defaultSeparators}
}

// Split returns the non-blank chunks of text in document order.
func (s *TextSplitter) Split(text string) []string {
	var chunks []string
	for _, c := range s.split(text, s.Separators) {
		if strings.TrimSpace(c) != "" {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

func (s *TextSplitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, candidate := range separators {
		if candidate == "" || strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = splitRunes(text)
	} else {
		pieces = strings.Split(text, sep)
	}

	var (
		out  []string
		good []string
	)
	for _, p := range pieces {
		if runeLen(p) <= s.Size {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good, sep)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, p)
		} else {
			out = append(out, s.split(p, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good, sep)...)
	}
	return out
}

// merge packs pieces into chunks no longer than Size, carrying a tail of at
// most Overlap runes into the next chunk.
func (s *TextSplitter) merge(pieces []string, sep string) []string {
	sepLen := runeLen(sep)
	var (
		out     []string
		current []string
		total   int
	)
	for _, p := range pieces {
		plen := runeLen(p)
		extra := 0
		if len(current) > 0 {
			extra = sepLen
		}
		if total+plen+extra > s.Size && len(current) > 0 {
			out = append(out, strings.Join(current, sep))
			for len(current) > 0 && (total > s.Overlap || (total+plen+sepLen > s.Size && total > 0)) {
				total -= runeLen(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}
		if len(current) > 0 {
			total += sepLen
		}
		current = append(current, p)
		total += plen
	}
	if len(current) > 0 {
		out = append(out, strings.Join(current, sep))
	}
	return out
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}
