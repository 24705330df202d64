package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/hotelbook/concierge/internal/knowledge"
)

// PromotionSource reads the promotions valid at a point in time.
type PromotionSource interface {
	ActivePromotions(ctx context.Context, now time.Time) ([]knowledge.Promotion, error)
}

const promotionsSchema = `promotions(
  id uuid primary key,
  code text unique,
  description text,
  discount_percent numeric,
  valid_from timestamptz,
  valid_until timestamptz,
  active boolean
)`

// PromotionsHandler answers from the active, unexpired promotion codes.
type PromotionsHandler struct {
	src  PromotionSource
	llm  Completer
	opts Options
}

func NewPromotions(src PromotionSource, llm Completer, opts Options) *PromotionsHandler {
	return &PromotionsHandler{src: src, llm: llm, opts: opts.withDefaults()}
}

func (h *PromotionsHandler) Handle(ctx context.Context, utterance string, history []knowledge.Turn) (string, error) {
	if h.opts.QueryDiagnostics {
		logAdvisoryQuery(ctx, h.llm, "promotions", promotionsSchema, utterance)
	}

	now := h.opts.Now()
	promos, err := h.src.ActivePromotions(ctx, now)
	if err != nil {
		return "", fmt.Errorf("loading promotions: %w", err)
	}
	entries := make([]string, len(promos))
	for i, p := range promos {
		entries[i] = formatPromotion(p)
	}

	b := newContextBuilder(h.opts.MaxContextTokens)
	b.section("Current Promotions (today is "+now.Format(time.DateOnly)+")", entries)
	grounding := b.String()
	if grounding == "" {
		grounding = "[Current Promotions]\nThere are no active promotion codes right now.\n"
	}

	prompt := groundedPrompt("You are the hotel's reservations assistant.", grounding, utterance)
	answer, err := h.llm.Complete(ctx, prompt, lastTurns(history, h.opts.HistoryTurns))
	if err != nil {
		return "", fmt.Errorf("generating promotions answer: %w", err)
	}
	return answer, nil
}
