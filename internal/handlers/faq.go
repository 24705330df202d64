package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hotelbook/concierge/internal/knowledge"
)

// FAQSource reads the FAQ corpus and the context snippets.
type FAQSource interface {
	ListFAQs(ctx context.Context) ([]knowledge.FAQ, error)
	ListSnippets(ctx context.Context) ([]knowledge.Snippet, error)
}

// FAQHandler answers from every non-sentinel FAQ entry plus every snippet.
type FAQHandler struct {
	src  FAQSource
	llm  Completer
	opts Options
}

func NewFAQ(src FAQSource, llm Completer, opts Options) *FAQHandler {
	return &FAQHandler{src: src, llm: llm, opts: opts.withDefaults()}
}

func (h *FAQHandler) Handle(ctx context.Context, utterance string, history []knowledge.Turn) (string, error) {
	faqs, err := h.src.ListFAQs(ctx)
	if err != nil {
		return "", fmt.Errorf("loading faq corpus: %w", err)
	}
	snippets, err := h.src.ListSnippets(ctx)
	if err != nil {
		return "", fmt.Errorf("loading snippets: %w", err)
	}

	b := newContextBuilder(h.opts.MaxContextTokens)
	entries := make([]string, 0, len(faqs))
	for _, f := range faqs {
		if knowledge.IsSentinel(f.Topic) {
			continue
		}
		entries = append(entries, formatFAQ(f))
	}
	b.section("Frequently Asked Questions", entries)

	texts := make([]string, len(snippets))
	for i, s := range snippets {
		texts[i] = formatSnippet(s)
	}
	b.section("Additional Hotel Information", texts)

	if b.dropped > 0 {
		slog.Debug("faq handler: context over budget", "dropped_entries", b.dropped)
	}

	prompt := groundedPrompt("You are the hotel's guest assistant.", b.String(), utterance)
	answer, err := h.llm.Complete(ctx, prompt, lastTurns(history, h.opts.HistoryTurns))
	if err != nil {
		return "", fmt.Errorf("generating faq answer: %w", err)
	}
	return answer, nil
}
