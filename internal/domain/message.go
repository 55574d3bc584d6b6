package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the author of a conversation message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// PartTypeText is the only content part type the prompt pipeline produces.
const PartTypeText = "text"

// ContentPart is one segment of a multi-part message.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Content is the tagged union Text(string) | Parts([]ContentPart).
// Wire messages may carry either shape; both decode into Content so the
// rest of the pipeline sees one canonical type.
type Content struct {
	text    string
	parts   []ContentPart
	isParts bool
}

// TextContent builds a plain-text content value.
func TextContent(s string) Content {
	return Content{text: s}
}

// PartsContent builds a multi-part content value. The parts are copied.
func PartsContent(parts ...ContentPart) Content {
	cp := make([]ContentPart, len(parts))
	copy(cp, parts)
	return Content{parts: cp, isParts: true}
}

// IsParts reports whether the content is the list-of-parts variant.
func (c Content) IsParts() bool {
	return c.isParts
}

// Parts returns the content as a fresh slice of segments. Plain text becomes
// a single text segment; empty plain text yields no segments.
func (c Content) Parts() []ContentPart {
	if !c.isParts {
		if c.text == "" {
			return nil
		}
		return []ContentPart{{Type: PartTypeText, Text: c.text}}
	}
	cp := make([]ContentPart, len(c.parts))
	copy(cp, c.parts)
	return cp
}

// Text flattens the text segments, newline separated.
func (c Content) Text() string {
	if !c.isParts {
		return c.text
	}
	texts := make([]string, 0, len(c.parts))
	for _, p := range c.parts {
		if p.Type == PartTypeText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Equal reports whether both values hold the same variant and segments.
func (c Content) Equal(o Content) bool {
	if c.isParts != o.isParts {
		return false
	}
	if !c.isParts {
		return c.text == o.text
	}
	if len(c.parts) != len(o.parts) {
		return false
	}
	for i := range c.parts {
		if c.parts[i] != o.parts[i] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes Text as a JSON string and Parts as an array.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.isParts {
		parts := c.parts
		if parts == nil {
			parts = []ContentPart{}
		}
		return json.Marshal(parts)
	}
	return json.Marshal(c.text)
}

// UnmarshalJSON accepts either a string or a list of {type, text} parts.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = Content{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("decode text content: %w", err)
		}
		*c = TextContent(s)
		return nil
	case '[':
		var parts []ContentPart
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return fmt.Errorf("decode content parts: %w", err)
		}
		*c = Content{parts: parts, isParts: true}
		return nil
	default:
		return fmt.Errorf("decode content: expected string or array, got %q", trimmed[0])
	}
}

// Message is one conversation turn.
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// CloneMessages returns a copy of msgs that shares no mutable state with it.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{Role: m.Role, Content: m.Content.clone()}
	}
	return out
}

func (c Content) clone() Content {
	if !c.isParts {
		return c
	}
	return PartsContent(c.parts...)
}
