package service

import "github.com/arturoeanton/go-rag-chat-ollama/internal/domain"

// ContextMarker introduces the retrieved fragments in the augmented user turn.
const ContextMarker = "Here is some relevant information that you can use to answer the question:"

// Assemble injects ranked fragment contents into the final user turn of a
// conversation. The conversation is returned as is when ranked is empty or
// when the last message is not from the user. Inputs are never mutated.
func Assemble(conversation []domain.Message, ranked []domain.RankedFragment) []domain.Message {
	if len(ranked) == 0 || len(conversation) == 0 {
		return conversation
	}
	last := conversation[len(conversation)-1]
	if last.Role != domain.RoleUser {
		return conversation
	}

	parts := last.Content.Parts()
	parts = append(parts, domain.ContentPart{Type: domain.PartTypeText, Text: ContextMarker})
	for _, r := range ranked {
		parts = append(parts, domain.ContentPart{Type: domain.PartTypeText, Text: r.Content})
	}

	out := domain.CloneMessages(conversation)
	out[len(out)-1] = domain.Message{Role: domain.RoleUser, Content: domain.PartsContent(parts...)}
	return out
}
