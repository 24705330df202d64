package retrieval

import (
	"context"
	"time"
)

// Kinds of text indexed for an FAQ entry.
const (
	KindTopic = "topic"
	KindAlias = "alias"
)

// VectorStore holds one embedding per FAQ topic and per alias, and answers
// cosine similarity queries over them. SQLiteStore is the embedded backend;
// the postgres package provides a pgvector-backed one.
type VectorStore interface {
	// Replace atomically swaps every vector of faqID for records.
	Replace(ctx context.Context, faqID string, records []Record) error

	// Search returns the top-K most similar records, best first.
	Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error)

	// DeleteByFAQ removes every vector belonging to faqID.
	DeleteByFAQ(ctx context.Context, faqID string) error

	// Count returns the number of stored vectors.
	Count(ctx context.Context) (int, error)
}

// Record is one indexed phrase.
type Record struct {
	ID        string
	FAQID     string
	Kind      string
	Text      string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with a similarity score attached. Embedding is
// not populated on search results.
type ScoredRecord struct {
	Record
	Score float32
}
