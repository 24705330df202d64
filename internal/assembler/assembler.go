// Package assembler turns matched FAQ entries and generated text into the
// Response shapes the chat client renders.
package assembler

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hotelbook/concierge/internal/knowledge"
)

// RoomLookup fetches current room rows by type name.
type RoomLookup interface {
	RoomsByType(ctx context.Context, names []string) ([]knowledge.Room, error)
}

// Assembler builds Responses. Room details are looked up on every call.
type Assembler struct {
	rooms RoomLookup
}

func New(rooms RoomLookup) *Assembler {
	return &Assembler{rooms: rooms}
}

// FromFAQ renders f in its stored reply format.
func (a *Assembler) FromFAQ(ctx context.Context, f knowledge.FAQ) knowledge.Response {
	switch r := f.Reply.(type) {
	case knowledge.OptionsReply:
		opts := make([]knowledge.OptionDetail, len(r.Options))
		copy(opts, r.Options)
		return knowledge.Response{Text: f.ReplyMessage, Body: knowledge.OptionsBody{Options: opts}}
	case knowledge.RoomsReply:
		names := RoomNames(r.Rooms)
		return knowledge.Response{Text: f.ReplyMessage, Body: knowledge.RoomsBody{
			Rooms:      names,
			ButtonName: r.ButtonName,
			Details:    a.roomDetails(ctx, names),
		}}
	default:
		return knowledge.Message(f.ReplyMessage)
	}
}

// FromOption answers with the detail text of a single option.
func FromOption(o knowledge.OptionDetail) knowledge.Response {
	return knowledge.Message(o.Detail)
}

// Text wraps generated or fallback text as a plain message.
func Text(s string) knowledge.Response {
	return knowledge.Message(s)
}

// RoomNames drops blank and placeholder names ("null", "undefined") that
// leak into stored payloads from upstream editors. Order is kept.
func RoomNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		t := strings.TrimSpace(n)
		switch strings.ToLower(t) {
		case "", "null", "undefined":
			continue
		}
		out = append(out, t)
	}
	return out
}

// roomDetails returns a lookup keyed by room name for the names that exist.
// A failed lookup is logged and yields an empty map.
func (a *Assembler) roomDetails(ctx context.Context, names []string) map[string]knowledge.RoomDetail {
	details := make(map[string]knowledge.RoomDetail, len(names))
	if len(names) == 0 || a.rooms == nil {
		return details
	}
	rooms, err := a.rooms.RoomsByType(ctx, names)
	if err != nil {
		slog.Warn("assembler: room lookup failed, returning empty details", "error", err, "rooms", names)
		return details
	}
	for _, r := range rooms {
		details[r.Type] = Detail(r)
	}
	return details
}

// Detail projects a room row onto the card fields.
func Detail(r knowledge.Room) knowledge.RoomDetail {
	d := knowledge.RoomDetail{
		ID:          r.ID,
		BasePrice:   r.Price,
		Description: r.Description,
	}
	if len(r.Images) > 0 {
		d.Image = r.Images[0]
	}
	if r.PromoPrice != nil {
		p := *r.PromoPrice
		d.PromoPrice = &p
	}
	return d
}
