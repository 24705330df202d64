package matching

import (
	"context"

	"github.com/hotelbook/concierge/internal/knowledge"
	"github.com/hotelbook/concierge/internal/retrieval"
)

// Default semantic matching parameters.
const (
	DefaultThreshold = 0.6
	DefaultTopK      = 5
)

// Retriever returns the best-scoring indexed phrases for a query, at most one
// per FAQ entry, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.Candidate, error)
}

// Semantic matches an utterance to the FAQ entry whose topic or alias
// embedding is most similar to it.
type Semantic struct {
	retriever Retriever
	threshold float32
	topK      int
}

// NewSemantic returns a Semantic matcher. Non-positive parameters fall back
// to DefaultThreshold and DefaultTopK.
func NewSemantic(r Retriever, threshold float64, topK int) *Semantic {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Semantic{retriever: r, threshold: float32(threshold), topK: topK}
}

// Match embeds the normalized utterance and returns the highest scoring
// candidate at or above the threshold that is still a matchable corpus
// entry. A nil error with ok=false means no match; a non-nil error means the
// embedding or vector search failed and the caller must not treat it as a
// miss.
func (s *Semantic) Match(ctx context.Context, utterance string, corpus knowledge.Corpus) (Match, bool, error) {
	u := knowledge.Normalize(utterance)
	if u == "" {
		return Match{}, false, nil
	}
	candidates, err := s.retriever.Retrieve(ctx, u, s.topK)
	if err != nil {
		return Match{}, false, err
	}
	for _, c := range candidates {
		if c.Score < s.threshold {
			// Best first, so nothing later clears the bar either.
			break
		}
		f, found := corpus.Lookup(c.FAQID)
		if !found {
			continue
		}
		m := Match{FAQ: f, Source: SourceSemantic, Score: c.Score}
		if c.Kind == retrieval.KindAlias {
			m.Alias = c.Text
		}
		return m, true, nil
	}
	return Match{}, false, nil
}
