package knowledge

import (
	"errors"
	"testing"
	"time"
)

func TestSplitCorpus(t *testing.T) {
	faqs := []FAQ{
		{ID: "1", Topic: "::greeting::", ReplyMessage: "Welcome!"},
		{ID: "2", Topic: "check-in time", ReplyMessage: "3pm"},
		{ID: "3", Topic: " ::FALLBACK:: ", ReplyMessage: "Sorry, ask the front desk."},
		{ID: "4", Topic: "parking", ReplyMessage: "Free"},
	}
	c, err := SplitCorpus(faqs)
	if err != nil {
		t.Fatalf("SplitCorpus: %v", err)
	}
	if c.Greeting == nil || c.Greeting.ReplyMessage != "Welcome!" {
		t.Errorf("Greeting = %+v", c.Greeting)
	}
	if c.Fallback == nil || c.Fallback.ID != "3" {
		t.Errorf("Fallback = %+v", c.Fallback)
	}
	if len(c.Entries) != 2 {
		t.Fatalf("Entries = %d, want 2", len(c.Entries))
	}
	if f, ok := c.Lookup("4"); !ok || f.Topic != "parking" {
		t.Errorf("Lookup(4) = %+v, %v", f, ok)
	}
	if _, ok := c.Lookup("1"); ok {
		t.Error("sentinel entries must not be matchable")
	}
}

func TestSplitCorpus_DuplicateSentinel(t *testing.T) {
	_, err := SplitCorpus([]FAQ{
		{ID: "a", Topic: "::fallback::"},
		{ID: "b", Topic: "::Fallback::"},
	})
	if !errors.Is(err, ErrDuplicateSentinel) {
		t.Errorf("err = %v, want ErrDuplicateSentinel", err)
	}
}

func TestSplitCorpus_NoSentinels(t *testing.T) {
	c, err := SplitCorpus([]FAQ{{ID: "a", Topic: "pool"}})
	if err != nil {
		t.Fatal(err)
	}
	if c.Greeting != nil || c.Fallback != nil {
		t.Error("expected no sentinels")
	}
}

func TestIsSentinel(t *testing.T) {
	if !IsSentinel(" ::Greeting:: ") {
		t.Error("greeting not detected")
	}
	if IsSentinel("greeting") {
		t.Error("plain topic detected as sentinel")
	}
}

func TestSortAliases(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	aliases := []Alias{
		{ID: "old", UpdatedAt: base},
		{ID: "b", UpdatedAt: base.Add(time.Hour)},
		{ID: "a", UpdatedAt: base.Add(time.Hour)},
		{ID: "new", UpdatedAt: base.Add(2 * time.Hour)},
	}
	SortAliases(aliases)
	want := []string{"new", "a", "b", "old"}
	for i, id := range want {
		if aliases[i].ID != id {
			t.Fatalf("order = %v, want %v", ids(aliases), want)
		}
	}
}

func ids(as []Alias) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.ID
	}
	return out
}
