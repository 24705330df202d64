// Package intent routes an utterance that no FAQ entry matched to one of a
// fixed set of handler categories.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hotelbook/concierge/internal/knowledge"
)

// Label is one of the closed set of intents.
type Label string

const (
	FAQ        Label = "faq"
	Rooms      Label = "rooms"
	PromoCodes Label = "promo_codes"
	Other      Label = "other"
)

// Labels lists every valid label in prompt order.
var Labels = []Label{FAQ, Rooms, PromoCodes, Other}

// DefaultHistoryTurns is how many recent turns the classifier sees.
const DefaultHistoryTurns = 3

// Completer is the single language-model capability the classifier needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, history []knowledge.Turn) (string, error)
}

// Classifier asks a language model to label an utterance.
type Classifier struct {
	llm          Completer
	historyTurns int
}

// NewClassifier returns a Classifier that conditions on the last
// historyTurns turns (DefaultHistoryTurns when <= 0).
func NewClassifier(llm Completer, historyTurns int) *Classifier {
	if historyTurns <= 0 {
		historyTurns = DefaultHistoryTurns
	}
	return &Classifier{llm: llm, historyTurns: historyTurns}
}

// Classify returns the intent of utterance. Any completion that is not a
// valid label becomes Other; only a failed model call returns an error.
func (c *Classifier) Classify(ctx context.Context, utterance string, history []knowledge.Turn) (Label, error) {
	if len(history) > c.historyTurns {
		history = history[len(history)-c.historyTurns:]
	}
	raw, err := c.llm.Complete(ctx, BuildPrompt(utterance), history)
	if err != nil {
		return Other, fmt.Errorf("classifying utterance: %w", err)
	}
	label := Coerce(raw)
	if string(label) != strings.TrimSpace(strings.ToLower(raw)) {
		slog.Debug("intent label coerced", "raw", raw, "label", label)
	}
	return label, nil
}

// Coerce maps a raw completion onto the closed label set. Surrounding
// whitespace, quotes and a trailing period are ignored; anything else that
// is not exactly a label yields Other.
func Coerce(raw string) Label {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, "\"'`.")
	s = strings.TrimSpace(s)
	for _, l := range Labels {
		if s == string(l) {
			return l
		}
	}
	return Other
}
