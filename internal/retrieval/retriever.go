package retrieval

import (
	"context"
)

// Candidate is the best-scoring indexed phrase of one FAQ entry.
type Candidate struct {
	FAQID string
	Kind  string
	Text  string
	Score float32
}

// QueryEmbedder turns a query into a vector.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever combines embedding and vector search to find similar FAQ entries.
type Retriever struct {
	embedder QueryEmbedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given embedder and VectorStore.
func NewRetriever(embedder QueryEmbedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds the query and returns up to topK candidates, best first,
// with at most one candidate per FAQ entry. Embedding and search errors are
// returned unchanged so callers can treat them as provider failures.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]Candidate, error) {
	if topK <= 0 {
		return nil, nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, err
	}
	return collapseByFAQ(scored, topK), nil
}

// collapseByFAQ keeps the highest-scoring record of each FAQ entry.
// scored must already be ordered best first.
func collapseByFAQ(scored []ScoredRecord, topK int) []Candidate {
	seen := make(map[string]bool, len(scored))
	out := make([]Candidate, 0, len(scored))
	for _, s := range scored {
		if seen[s.FAQID] {
			continue
		}
		seen[s.FAQID] = true
		out = append(out, Candidate{FAQID: s.FAQID, Kind: s.Kind, Text: s.Text, Score: s.Score})
		if len(out) == topK {
			break
		}
	}
	return out
}
