package confidence

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hotelbook/concierge/internal/knowledge"
)

type mockCompleter struct {
	response  string
	err       error
	calls     int
	gotPrompt string
}

func (m *mockCompleter) Complete(_ context.Context, prompt string, _ []knowledge.Turn) (string, error) {
	m.calls++
	m.gotPrompt = prompt
	return m.response, m.err
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		resp   string
		want   int
		wantOK bool
	}{
		{`{"score": 7}`, 7, true},
		{`{"score": 3}`, 3, true},
		{"```json\n{\"score\": 9}\n```", 9, true},
		{`Sure! Here is my rating: {"score": 8}`, 8, true},
		{"7", 7, true},
		{"Score: 6/10", 6, true},
		{"6.6", 7, true},
		{`{"score": 0}`, 0, false},
		{`{"score": 11}`, 0, false},
		{"not sure", 0, false},
		{"", 0, false},
		{`{"rating": "high"}`, 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseScore(tt.resp)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseScore(%q) = %d, %v; want %d, %v", tt.resp, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestEvaluate_AcceptsAtOrAboveFloor(t *testing.T) {
	for _, tc := range []struct {
		resp     string
		accepted bool
	}{
		{`{"score": 7}`, true},
		{`{"score": 5}`, true},
		{`{"score": 4}`, false},
		{`{"score": 3}`, false},
		{`{"score": 1}`, false},
	} {
		g := NewGate(&mockCompleter{response: tc.resp}, 5)
		v, err := g.Evaluate(context.Background(), "Do you have suites?", "Yes, the Ocean Suite sleeps four.")
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if v.Accepted != tc.accepted {
			t.Errorf("resp %s: Accepted = %v, want %v", tc.resp, v.Accepted, tc.accepted)
		}
	}
}

func TestEvaluate_UnparsableDefaultsToPass(t *testing.T) {
	g := NewGate(&mockCompleter{response: "I would rate it quite good"}, 5)
	v, err := g.Evaluate(context.Background(), "q", "a")
	if err != nil {
		t.Fatal(err)
	}
	if v.Score != NeutralScore || v.Parsed || !v.Accepted {
		t.Errorf("verdict = %+v, want neutral pass", v)
	}
}

func TestEvaluate_BlankAnswerRejectedWithoutCall(t *testing.T) {
	m := &mockCompleter{response: `{"score": 10}`}
	v, err := NewGate(m, 5).Evaluate(context.Background(), "q", "   ")
	if err != nil {
		t.Fatal(err)
	}
	if v.Accepted || m.calls != 0 {
		t.Errorf("verdict = %+v, calls = %d", v, m.calls)
	}
}

func TestEvaluate_ProviderError(t *testing.T) {
	boom := errors.New("timeout")
	_, err := NewGate(&mockCompleter{err: boom}, 5).Evaluate(context.Background(), "q", "a")
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestEvaluate_PromptCarriesQuestionAndAnswer(t *testing.T) {
	m := &mockCompleter{response: "8"}
	if _, err := NewGate(m, 0).Evaluate(context.Background(), "Is breakfast included?", "Breakfast is included for suites."); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Question: Is breakfast included?", "Answer: Breakfast is included for suites.", "cannot help"} {
		if !strings.Contains(m.gotPrompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
