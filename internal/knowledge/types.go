// Package knowledge holds the read-only domain model the chatbot resolves
// utterances against: FAQ entries, aliases, context snippets, the room and
// promotion tables, and session turns.
package knowledge

import (
	"time"
)

// FAQ is an administrator-authored trigger phrase plus its canonical reply.
type FAQ struct {
	ID           string
	Topic        string
	ReplyMessage string
	Reply        Reply
	UpdatedAt    time.Time
}

// Format reports the reply format of the entry. A nil Reply is a plain message.
func (f FAQ) Format() ReplyFormat {
	if f.Reply == nil {
		return FormatMessage
	}
	return f.Reply.Format()
}

// Alias is an alternate phrasing that resolves to its owning FAQ entry.
type Alias struct {
	ID        string
	FAQID     string
	Alias     string
	UpdatedAt time.Time
}

// Snippet is free text used only as grounding for LLM-backed handlers.
type Snippet struct {
	ID        string
	Content   string
	Source    string
	CreatedAt time.Time
}

// Room is one row of the room-type table.
type Room struct {
	ID          string
	Type        string
	Price       float64
	PromoPrice  *float64
	Currency    string
	Capacity    int
	Active      bool
	Size        string
	Amenities   []string
	BedType     string
	View        string
	Description string
	Images      []string
}

// Promotion is one row of the promotion-code table.
type Promotion struct {
	ID              string
	Code            string
	Description     string
	DiscountPercent float64
	ValidFrom       time.Time
	ValidUntil      time.Time
	Active          bool
}

// Turn is one message of a chat session, oldest first when in a slice.
type Turn struct {
	Text      string
	IsBot     bool
	CreatedAt time.Time
}
