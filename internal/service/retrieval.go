package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
)

// DefaultTopK is the number of fragments returned when the caller asks for none.
const DefaultTopK = 5

// minLexicalTokenLen is the rune length a query token must exceed to count.
const minLexicalTokenLen = 3

// RetrievalEngine selects and ranks fragments for a query. An engine scores
// with exactly one policy so that a ranking never mixes scales.
type RetrievalEngine struct {
	store    port.FragmentStore
	embedder port.Embedder
	policy   domain.ScoringPolicy
	topK     int
}

// NewRetrievalEngine creates an engine. The semantic policy needs an embedder.
func NewRetrievalEngine(store port.FragmentStore, embedder port.Embedder, policy domain.ScoringPolicy, topK int) (*RetrievalEngine, error) {
	if !policy.Valid() {
		return nil, fmt.Errorf("unknown scoring policy %q", policy)
	}
	if policy == domain.PolicySemantic && embedder == nil {
		return nil, fmt.Errorf("semantic policy requires an embedder")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &RetrievalEngine{store: store, embedder: embedder, policy: policy, topK: topK}, nil
}

// Policy returns the scoring policy of every ranking this engine produces.
func (e *RetrievalEngine) Policy() domain.ScoringPolicy {
	return e.policy
}

// Retrieve returns at most k fragments of scope ranked by relevance to query.
// k <= 0 selects the engine default. An empty scope or candidate set yields
// an empty ranking. Store and embedder failures wrap ErrRetrievalUnavailable.
func (e *RetrievalEngine) Retrieve(ctx context.Context, query string, scope domain.RetrievalScope, k int) ([]domain.RankedFragment, error) {
	rankings, err := e.RetrieveMany(ctx, []string{query}, scope, k)
	if err != nil {
		return nil, err
	}
	return rankings[0], nil
}

// RetrieveMany ranks the same candidate set for several queries. Under the
// semantic policy all queries are embedded with a single batch call.
func (e *RetrievalEngine) RetrieveMany(ctx context.Context, queries []string, scope domain.RetrievalScope, k int) ([][]domain.RankedFragment, error) {
	if k <= 0 {
		k = e.topK
	}
	out := make([][]domain.RankedFragment, len(queries))

	candidates, err := e.candidates(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w: %w", port.ErrRetrievalUnavailable, err)
	}
	if len(candidates) == 0 || len(queries) == 0 {
		for i := range out {
			out[i] = []domain.RankedFragment{}
		}
		return out, nil
	}

	switch e.policy {
	case domain.PolicyLexical:
		for i, q := range queries {
			out[i] = e.rank(candidates, lexicalScores(q, candidates), k)
		}
	case domain.PolicySemantic:
		vecs, err := e.embedder.EmbedBatch(ctx, queries)
		if err != nil {
			return nil, fmt.Errorf("embed queries: %w: %w", port.ErrRetrievalUnavailable, err)
		}
		if len(vecs) != len(queries) {
			return nil, fmt.Errorf("embed queries: got %d vectors for %d queries: %w",
				len(vecs), len(queries), port.ErrRetrievalUnavailable)
		}
		for i, v := range vecs {
			scores, err := semanticScores(v, candidates)
			if err != nil {
				return nil, err
			}
			out[i] = e.rank(candidates, scores, k)
		}
	}
	return out, nil
}

func (e *RetrievalEngine) candidates(ctx context.Context, scope domain.RetrievalScope) ([]domain.Fragment, error) {
	switch {
	case len(scope.Paths) > 0:
		return e.store.GetByPaths(ctx, scope.Paths, scope.OwnerID)
	case scope.OwnerID != "":
		return e.store.GetByOwner(ctx, scope.OwnerID)
	default:
		return nil, nil
	}
}

// rank orders candidates by descending score, keeping store order on ties.
func (e *RetrievalEngine) rank(candidates []domain.Fragment, scores []float64, k int) []domain.RankedFragment {
	ranked := make([]domain.RankedFragment, len(candidates))
	for i, f := range candidates {
		ranked[i] = domain.RankedFragment{Fragment: f, Score: scores[i], Policy: e.policy}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if k < len(ranked) {
		ranked = ranked[:k]
	}
	return ranked
}

// lexicalScores counts, per candidate, the query tokens longer than three
// runes that occur in the lower-cased content. Surrounding punctuation is
// not part of a token.
func lexicalScores(query string, candidates []domain.Fragment) []float64 {
	var tokens []string
	for _, t := range strings.Fields(strings.ToLower(query)) {
		t = strings.TrimFunc(t, unicode.IsPunct)
		if utf8.RuneCountInString(t) > minLexicalTokenLen {
			tokens = append(tokens, t)
		}
	}

	scores := make([]float64, len(candidates))
	for i, f := range candidates {
		content := strings.ToLower(f.Content)
		for _, t := range tokens {
			if strings.Contains(content, t) {
				scores[i]++
			}
		}
	}
	return scores
}

func semanticScores(query []float32, candidates []domain.Fragment) ([]float64, error) {
	scores := make([]float64, len(candidates))
	for i, f := range candidates {
		if len(f.Embedding) != len(query) {
			return nil, fmt.Errorf("fragment %s has dimension %d, query has %d: %w",
				f.ID, len(f.Embedding), len(query), port.ErrRetrievalUnavailable)
		}
		scores[i] = CosineSimilarity(query, f.Embedding)
	}
	return scores, nil
}

// CosineSimilarity returns the cosine of the angle between a and b. A zero
// vector on either side scores 0. Vectors must have equal length.
func CosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ValidateRanking checks that a ranking was produced by a single policy and
// that its scores never increase.
func ValidateRanking(ranked []domain.RankedFragment) error {
	for i := 1; i < len(ranked); i++ {
		if ranked[i].Policy != ranked[0].Policy {
			return fmt.Errorf("fragment %s scored by %s, ranking uses %s: %w",
				ranked[i].ID, ranked[i].Policy, ranked[0].Policy, port.ErrMixedPolicy)
		}
		if ranked[i].Score > ranked[i-1].Score {
			return fmt.Errorf("score increases at position %d", i)
		}
	}
	return nil
}

// SourceRefs returns the out-of-band provenance of a ranking.
func SourceRefs(ranked []domain.RankedFragment) []domain.SourceRef {
	if len(ranked) == 0 {
		return nil
	}
	refs := make([]domain.SourceRef, len(ranked))
	for i, r := range ranked {
		refs[i] = r.Ref()
	}
	return refs
}
