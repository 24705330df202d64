package engine

import (
	"context"

	"github.com/hotelbook/concierge/internal/knowledge"
)

// Completer binds an Engine to a chat model and exposes the single
// completion capability the pipeline stages depend on.
type Completer struct {
	eng    Engine
	model  string
	system string
}

// NewCompleter returns a Completer using model on eng.
func NewCompleter(eng Engine, model string) *Completer {
	return &Completer{eng: eng, model: model}
}

// WithSystem returns a copy of c that prefixes every call with a system message.
func (c *Completer) WithSystem(prompt string) *Completer {
	cp := *c
	cp.system = prompt
	return &cp
}

// Complete sends history (oldest first) followed by prompt as the final user
// message.
func (c *Completer) Complete(ctx context.Context, prompt string, history []knowledge.Turn) (string, error) {
	msgs := make([]Message, 0, len(history)+2)
	if c.system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: c.system})
	}
	for _, t := range history {
		role := RoleUser
		if t.IsBot {
			role = RoleAssistant
		}
		msgs = append(msgs, Message{Role: role, Content: t.Text})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: prompt})
	return c.eng.Chat(ctx, c.model, msgs)
}
