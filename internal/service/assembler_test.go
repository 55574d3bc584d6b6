package service

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
)

func rankedOf(contents ...string) []domain.RankedFragment {
	out := make([]domain.RankedFragment, len(contents))
	for i, c := range contents {
		out[i] = domain.RankedFragment{Fragment: domain.Fragment{ID: c, Content: c}, Score: float64(len(contents) - i), Policy: domain.PolicyLexical}
	}
	return out
}

func TestAssembleNoop(t *testing.T) {
	conv := []domain.Message{userMsg("hello")}
	assert.Empty(t, cmp.Diff(conv, Assemble(conv, nil)))
	assert.Empty(t, cmp.Diff(conv, Assemble(conv, []domain.RankedFragment{})))

	endsWithAssistant := []domain.Message{
		userMsg("hello"),
		{Role: domain.RoleAssistant, Content: domain.TextContent("hi")},
	}
	assert.Empty(t, cmp.Diff(endsWithAssistant, Assemble(endsWithAssistant, rankedOf("ctx"))))

	assert.Empty(t, Assemble(nil, rankedOf("ctx")))
}

func TestAssemblePreservesPrefix(t *testing.T) {
	original := domain.PartsContent(
		domain.ContentPart{Type: domain.PartTypeText, Text: "what does the contract say"},
		domain.ContentPart{Type: domain.PartTypeText, Text: "about renewals?"},
	)
	conv := []domain.Message{
		userMsg("earlier"),
		{Role: domain.RoleAssistant, Content: domain.TextContent("reply")},
		{Role: domain.RoleUser, Content: original},
	}
	before := domain.CloneMessages(conv)

	out := Assemble(conv, rankedOf("clause 4", "clause 9"))

	require.Len(t, out, 3)
	assert.Empty(t, cmp.Diff(before[:2], out[:2]))
	parts := out[2].Content.Parts()
	require.Len(t, parts, 5)
	assert.Equal(t, original.Parts(), parts[:2])
	assert.Equal(t, ContextMarker, parts[2].Text)
	assert.Equal(t, "clause 4", parts[3].Text)
	assert.Equal(t, "clause 9", parts[4].Text)
	assert.Equal(t, domain.RoleUser, out[2].Role)

	assert.Empty(t, cmp.Diff(before, conv), "input must not be mutated")
}

func TestAssemblePlainTextBecomesParts(t *testing.T) {
	out := Assemble([]domain.Message{userMsg("question")}, rankedOf("answer source"))
	require.Len(t, out, 1)
	assert.True(t, out[0].Content.IsParts())
	parts := out[0].Content.Parts()
	require.Len(t, parts, 3)
	assert.Equal(t, "question", parts[0].Text)
}
