package intent

import (
	"strings"
)

const classifyPrompt = `You route messages sent to a hotel's chat assistant. Reply with exactly one label and nothing else.

Labels:
- faq: general hotel questions (check-in, amenities, policies, location, services)
- rooms: room types, prices, capacity, beds, views, availability
- promo_codes: discounts, promotion codes, special offers
- other: anything else

Guest message: `

// BuildPrompt returns the classification prompt for utterance. Recent turns
// are passed to the model separately as chat history.
func BuildPrompt(utterance string) string {
	var sb strings.Builder
	sb.WriteString(classifyPrompt)
	sb.WriteString(strings.TrimSpace(utterance))
	sb.WriteString("\nLabel:")
	return sb.String()
}
