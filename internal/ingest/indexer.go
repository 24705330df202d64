// Package ingest keeps the semantic index in step with the FAQ table and
// turns uploaded documents into context snippets.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hotelbook/concierge/internal/knowledge"
	"github.com/hotelbook/concierge/internal/retrieval"
	"github.com/hotelbook/concierge/internal/storage"
)

// Source reads the entries and aliases to index.
type Source interface {
	GetFAQ(ctx context.Context, id string) (knowledge.FAQ, error)
	AliasesForFAQ(ctx context.Context, faqID string) ([]knowledge.Alias, error)
	ListFAQs(ctx context.Context) ([]knowledge.FAQ, error)
}

// BatchEmbedder generates embeddings for several texts at once.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Indexer embeds the topic and aliases of an FAQ entry and replaces its
// vectors in the store.
type Indexer struct {
	src      Source
	embedder BatchEmbedder
	vectors  retrieval.VectorStore
}

func NewIndexer(src Source, embedder BatchEmbedder, vectors retrieval.VectorStore) *Indexer {
	return &Indexer{src: src, embedder: embedder, vectors: vectors}
}

// IndexFAQ rebuilds the vectors of one entry. Deleted entries and sentinels
// have their vectors removed instead.
func (ix *Indexer) IndexFAQ(ctx context.Context, faqID string) error {
	f, err := ix.src.GetFAQ(ctx, faqID)
	if errors.Is(err, storage.ErrNotFound) {
		return ix.vectors.DeleteByFAQ(ctx, faqID)
	}
	if err != nil {
		return fmt.Errorf("loading faq %s: %w", faqID, err)
	}
	if knowledge.IsSentinel(f.Topic) {
		return ix.vectors.DeleteByFAQ(ctx, faqID)
	}

	aliases, err := ix.src.AliasesForFAQ(ctx, faqID)
	if err != nil {
		return fmt.Errorf("loading aliases of %s: %w", faqID, err)
	}

	texts, kinds := phrases(f, aliases)
	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding faq %s: %w", faqID, err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("embedding faq %s: got %d vectors for %d phrases", faqID, len(vecs), len(texts))
	}

	now := time.Now().UTC()
	records := make([]retrieval.Record, len(texts))
	for i := range texts {
		records[i] = retrieval.Record{
			ID:        uuid.New().String(),
			FAQID:     faqID,
			Kind:      kinds[i],
			Text:      texts[i],
			Embedding: vecs[i],
			CreatedAt: now,
		}
	}
	if err := ix.vectors.Replace(ctx, faqID, records); err != nil {
		return fmt.Errorf("storing vectors of %s: %w", faqID, err)
	}
	return nil
}

// IndexAll rebuilds every matchable entry and returns how many were indexed.
func (ix *Indexer) IndexAll(ctx context.Context) (int, error) {
	faqs, err := ix.src.ListFAQs(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing faqs: %w", err)
	}
	n := 0
	for _, f := range faqs {
		if knowledge.IsSentinel(f.Topic) {
			continue
		}
		if err := ix.IndexFAQ(ctx, f.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// phrases returns the normalized topic followed by each distinct normalized
// alias that differs from it.
func phrases(f knowledge.FAQ, aliases []knowledge.Alias) (texts, kinds []string) {
	topic := knowledge.Normalize(f.Topic)
	seen := map[string]bool{topic: true}
	texts = append(texts, topic)
	kinds = append(kinds, retrieval.KindTopic)
	for _, a := range aliases {
		n := knowledge.Normalize(a.Alias)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		texts = append(texts, n)
		kinds = append(kinds, retrieval.KindAlias)
	}
	return texts, kinds
}
