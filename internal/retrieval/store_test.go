package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// openTestDB creates an in-memory SQLite database with the faq_vectors table.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`
		CREATE TABLE faq_vectors (
			id TEXT PRIMARY KEY,
			faq_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		t.Fatalf("creating table: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func makeTestVector(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v
}

// axis returns a unit vector along dimension i.
func axis(dim, i int) []float32 {
	v := make([]float32, dim)
	v[i] = 1
	return v
}

func TestReplaceAndSearch(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))

	vec := makeTestVector(768, 0.1)
	err := s.Replace(ctx, "faq-1", []Record{{
		ID:        "v1",
		Kind:      KindTopic,
		Text:      "check-in time",
		Embedding: vec,
		CreatedAt: time.Now().UTC(),
	}})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}

	results, err := s.Search(ctx, vec, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Score < 0.99 {
		t.Errorf("score = %f, want > 0.99", results[0].Score)
	}
	if results[0].FAQID != "faq-1" || results[0].Kind != KindTopic {
		t.Errorf("got %+v", results[0].Record)
	}
}

func TestReplace_SwapsPreviousVectors(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))

	if err := s.Replace(ctx, "faq-1", []Record{
		{ID: "a", Kind: KindTopic, Text: "old", Embedding: axis(4, 0)},
		{ID: "b", Kind: KindAlias, Text: "older", Embedding: axis(4, 1)},
	}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := s.Replace(ctx, "faq-1", []Record{
		{ID: "c", Kind: KindTopic, Text: "new", Embedding: axis(4, 2)},
	}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestSearch_TopKOrdered(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))

	for i := 0; i < 10; i++ {
		if err := s.Replace(ctx, fmt.Sprintf("faq-%d", i), []Record{{
			ID:        fmt.Sprintf("v%d", i),
			Kind:      KindTopic,
			Text:      "text",
			Embedding: makeTestVector(64, float32(i)*0.01),
		}}); err != nil {
			t.Fatalf("Replace: %v", err)
		}
	}

	results, err := s.Search(ctx, makeTestVector(64, 0.05), 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted: %f after %f", results[i].Score, results[i-1].Score)
		}
	}
}

func TestSearch_DimensionMismatchScoresZero(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))

	if err := s.Replace(ctx, "faq-1", []Record{{ID: "v1", Kind: KindTopic, Text: "t", Embedding: axis(3, 0)}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	results, err := s.Search(ctx, axis(4, 0), 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Score != 0 {
		t.Errorf("got %+v, want one zero-score result", results)
	}
}

func TestSearch_EmptyTable(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t))

	results, err := s.Search(context.Background(), makeTestVector(768, 0.1), 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestSearch_TopKZero(t *testing.T) {
	s := NewSQLiteStore(openTestDB(t))

	results, err := s.Search(context.Background(), makeTestVector(768, 0.1), 0)
	if err != nil {
		t.Fatalf("Search with topK=0: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results for topK=0, got %d", len(results))
	}
}

func TestDeleteByFAQ(t *testing.T) {
	ctx := context.Background()
	s := NewSQLiteStore(openTestDB(t))

	vec := makeTestVector(16, 0.1)
	if err := s.Replace(ctx, "faq-1", []Record{{ID: "v1", Kind: KindTopic, Text: "gone", Embedding: vec}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := s.DeleteByFAQ(ctx, "faq-1"); err != nil {
		t.Fatalf("DeleteByFAQ: %v", err)
	}
	if err := s.DeleteByFAQ(ctx, "faq-1"); err != nil {
		t.Errorf("second DeleteByFAQ: %v", err)
	}

	results, err := s.Search(ctx, vec, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results after delete, want 0", len(results))
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity(axis(3, 0), axis(3, 0)); got < 0.999 {
		t.Errorf("identical vectors = %f", got)
	}
	if got := CosineSimilarity(axis(3, 0), axis(3, 1)); got != 0 {
		t.Errorf("orthogonal vectors = %f", got)
	}
	if got := CosineSimilarity(make([]float32, 3), axis(3, 1)); got != 0 {
		t.Errorf("zero vector = %f", got)
	}
}
