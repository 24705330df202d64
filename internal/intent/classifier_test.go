package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/hotelbook/concierge/internal/knowledge"
)

// mockCompleter implements Completer for testing.
type mockCompleter struct {
	response   string
	err        error
	gotPrompt  string
	gotHistory []knowledge.Turn
	calls      int
}

func (m *mockCompleter) Complete(_ context.Context, prompt string, history []knowledge.Turn) (string, error) {
	m.calls++
	m.gotPrompt = prompt
	m.gotHistory = history
	return m.response, m.err
}

func TestClassify_ValidLabels(t *testing.T) {
	for _, l := range Labels {
		mock := &mockCompleter{response: string(l)}
		got, err := NewClassifier(mock, 3).Classify(context.Background(), "hello", nil)
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if got != l {
			t.Errorf("Classify() = %q, want %q", got, l)
		}
	}
}

func TestClassify_NormalizesCompletion(t *testing.T) {
	mock := &mockCompleter{response: "  Rooms.\n"}
	got, _ := NewClassifier(mock, 3).Classify(context.Background(), "do you have suites", nil)
	if got != Rooms {
		t.Errorf("Classify() = %q, want rooms", got)
	}
}

func TestClassify_GarbageBecomesOther(t *testing.T) {
	for _, raw := range []string{"", "   ", "I think this is about rooms", "ROOMS AND PROMO", "promo codes", "{\"label\":\"faq\"}"} {
		mock := &mockCompleter{response: raw}
		got, err := NewClassifier(mock, 3).Classify(context.Background(), "q", nil)
		if err != nil {
			t.Fatalf("Classify(%q): %v", raw, err)
		}
		if got != Other {
			t.Errorf("Classify(%q) = %q, want other", raw, got)
		}
	}
}

func FuzzCoerceClosedSet(f *testing.F) {
	for _, seed := range []string{"", "faq", "Promo_Codes", "'other'", "rooms?", "\x00"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		got := Coerce(raw)
		switch got {
		case FAQ, Rooms, PromoCodes, Other:
		default:
			t.Errorf("Coerce(%q) = %q, outside the label set", raw, got)
		}
	})
}

func TestClassify_ProviderError(t *testing.T) {
	boom := errors.New("connection refused")
	mock := &mockCompleter{err: boom}
	_, err := NewClassifier(mock, 3).Classify(context.Background(), "hello", nil)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped provider error", err)
	}
}

func TestClassify_TrimsHistory(t *testing.T) {
	history := []knowledge.Turn{
		{Text: "one"}, {Text: "two", IsBot: true}, {Text: "three"}, {Text: "four", IsBot: true}, {Text: "five"},
	}
	mock := &mockCompleter{response: "faq"}
	if _, err := NewClassifier(mock, 3).Classify(context.Background(), "six", history); err != nil {
		t.Fatal(err)
	}
	if len(mock.gotHistory) != 3 || mock.gotHistory[0].Text != "three" || mock.gotHistory[2].Text != "five" {
		t.Errorf("history = %+v, want last three turns", mock.gotHistory)
	}
}

func TestNewClassifier_DefaultHistory(t *testing.T) {
	c := NewClassifier(&mockCompleter{}, 0)
	if c.historyTurns != DefaultHistoryTurns {
		t.Errorf("historyTurns = %d", c.historyTurns)
	}
}
