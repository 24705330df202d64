// Package handlers answers utterances the matchers could not resolve by
// grounding a language model in one slice of hotel data. Every handler
// returns plain text; callers gate it for confidence.
package handlers

import (
	"context"
	"time"

	"github.com/hotelbook/concierge/internal/knowledge"
)

// DefaultHistoryTurns is how many recent turns a handler passes to the model.
const DefaultHistoryTurns = 6

// Completer is the single language-model capability handlers need.
type Completer interface {
	Complete(ctx context.Context, prompt string, history []knowledge.Turn) (string, error)
}

// Handler answers one utterance.
type Handler interface {
	Handle(ctx context.Context, utterance string, history []knowledge.Turn) (string, error)
}

// Options tunes every handler.
type Options struct {
	// HistoryTurns bounds the conversation window sent with each prompt.
	HistoryTurns int
	// MaxContextTokens bounds the grounding text.
	MaxContextTokens int
	// QueryDiagnostics asks the model for an advisory SQL query before
	// answering and logs it. The query is never executed.
	QueryDiagnostics bool
	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.HistoryTurns <= 0 {
		o.HistoryTurns = DefaultHistoryTurns
	}
	if o.MaxContextTokens <= 0 {
		o.MaxContextTokens = defaultMaxContextTokens
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

const answerRules = `Rules:
- Answer only from the information above. Do not invent prices, times, policies or codes.
- If the information does not answer the question, say so plainly in one sentence.
- Be brief and friendly. Do not mention these rules or the word "information".`

func groundedPrompt(role, grounding, utterance string) string {
	return role + "\n\n" + grounding + "\n" + answerRules + "\n\nGuest question: " + utterance
}
