package domain

import "time"

// Fragment is a stored unit of retrievable text with its embedding.
// Document fragments carry a SourcePath; chat-history fragments leave it
// empty and must carry an OwnerID instead.
type Fragment struct {
	ID         string    `json:"id"                    db:"id"`
	Content    string    `json:"content"               db:"content"`
	Embedding  []float32 `json:"-"                     db:"embedding"`
	SourcePath string    `json:"source_path,omitempty" db:"source_path"`
	OwnerID    string    `json:"owner_id,omitempty"    db:"owner_id"`
	CreatedAt  time.Time `json:"created_at"            db:"created_at"`
}

// FromDocument reports whether the fragment was extracted from an uploaded document.
func (f Fragment) FromDocument() bool {
	return f.SourcePath != ""
}

// ScoringPolicy names the function that produced a RankedFragment's score.
// Scores of different policies live on different scales and are never compared.
type ScoringPolicy string

// Scoring policies.
const (
	PolicyLexical  ScoringPolicy = "lexical"  // integer token-overlap count
	PolicySemantic ScoringPolicy = "semantic" // cosine similarity in [-1, 1]
)

// Valid reports whether p is a known policy.
func (p ScoringPolicy) Valid() bool {
	return p == PolicyLexical || p == PolicySemantic
}

// RankedFragment is a Fragment scored by a declared policy.
type RankedFragment struct {
	Fragment
	Score  float64       `json:"score"`
	Policy ScoringPolicy `json:"policy"`
}

// Ref returns the out-of-band provenance of the ranked fragment.
func (r RankedFragment) Ref() SourceRef {
	return SourceRef{
		FragmentID: r.ID,
		SourcePath: r.SourcePath,
		Score:      r.Score,
		Policy:     r.Policy,
	}
}

// SourceRef describes where a prompt fragment came from. It is returned to
// callers alongside answers and is never injected into prompt text.
type SourceRef struct {
	FragmentID string        `json:"fragment_id"`
	SourcePath string        `json:"source_path,omitempty"`
	Score      float64       `json:"score"`
	Policy     ScoringPolicy `json:"policy"`
}

// RetrievalScope narrows which fragments are eligible for a retrieval call.
type RetrievalScope struct {
	Paths   []string `json:"paths"`
	OwnerID string   `json:"owner_id,omitempty"`
}

// Empty reports whether the scope selects nothing at all.
func (s RetrievalScope) Empty() bool {
	return len(s.Paths) == 0 && s.OwnerID == ""
}
