package handlers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hotelbook/concierge/internal/knowledge"
)

const defaultMaxContextTokens = 6000

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// contextBuilder accumulates grounding sections under a token budget.
// Entries that no longer fit are skipped, not truncated.
type contextBuilder struct {
	sb        strings.Builder
	remaining int
	dropped   int
}

func newContextBuilder(maxTokens int) *contextBuilder {
	if maxTokens <= 0 {
		maxTokens = defaultMaxContextTokens
	}
	return &contextBuilder{remaining: maxTokens}
}

// section writes header followed by every entry that fits. The header is
// only written when at least one entry does.
func (b *contextBuilder) section(header string, entries []string) {
	head := "[" + header + "]\n"
	if b.sb.Len() > 0 {
		head = "\n" + head
	}
	budget := b.remaining - EstimateTokens(head)

	var selected []string
	for _, e := range entries {
		tokens := EstimateTokens(e)
		if tokens > budget {
			b.dropped++
			continue
		}
		selected = append(selected, e)
		budget -= tokens
	}
	if len(selected) == 0 {
		return
	}
	b.sb.WriteString(head)
	for _, e := range selected {
		b.sb.WriteString(e)
	}
	b.remaining = budget
}

func (b *contextBuilder) String() string { return b.sb.String() }

func formatFAQ(f knowledge.FAQ) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Q: %s\nA: %s\n", f.Topic, f.ReplyMessage)
	switch r := f.Reply.(type) {
	case knowledge.OptionsReply:
		for _, o := range r.Options {
			fmt.Fprintf(&sb, "  - %s: %s\n", o.Option, o.Detail)
		}
	case knowledge.RoomsReply:
		if len(r.Rooms) > 0 {
			fmt.Fprintf(&sb, "  Room types: %s\n", strings.Join(r.Rooms, ", "))
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

func formatSnippet(s knowledge.Snippet) string {
	return strings.TrimSpace(s.Content) + "\n\n"
}

func formatRoom(r knowledge.Room) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "- %s: %s per night", r.Type, money(r.Price, r.Currency))
	if r.PromoPrice != nil {
		fmt.Fprintf(&sb, " (promotional %s)", money(*r.PromoPrice, r.Currency))
	}
	if r.Capacity > 0 {
		fmt.Fprintf(&sb, "; up to %d guests", r.Capacity)
	}
	for _, attr := range []struct{ label, value string }{
		{"size", r.Size}, {"bed", r.BedType}, {"view", r.View},
	} {
		if attr.value != "" {
			fmt.Fprintf(&sb, "; %s: %s", attr.label, attr.value)
		}
	}
	if len(r.Amenities) > 0 {
		fmt.Fprintf(&sb, "; amenities: %s", strings.Join(r.Amenities, ", "))
	}
	if r.Description != "" {
		fmt.Fprintf(&sb, ". %s", r.Description)
	}
	sb.WriteString("\n")
	return sb.String()
}

func formatPromotion(p knowledge.Promotion) string {
	line := fmt.Sprintf("- Code %s: %s%% off, valid %s to %s",
		p.Code, trimFloat(p.DiscountPercent), p.ValidFrom.Format(time.DateOnly), p.ValidUntil.Format(time.DateOnly))
	if p.Description != "" {
		line += ". " + p.Description
	}
	return line + "\n"
}

func money(v float64, currency string) string {
	if currency == "" {
		currency = "USD"
	}
	return fmt.Sprintf("%.2f %s", v, currency)
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// lastTurns returns at most n of the newest turns.
func lastTurns(history []knowledge.Turn, n int) []knowledge.Turn {
	if n <= 0 {
		return nil
	}
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}
