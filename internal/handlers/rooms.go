package handlers

import (
	"context"
	"fmt"

	"github.com/hotelbook/concierge/internal/knowledge"
)

// RoomSource reads the room table.
type RoomSource interface {
	ListRooms(ctx context.Context, activeOnly bool) ([]knowledge.Room, error)
}

const roomsSchema = `rooms(
  id uuid primary key,
  type text unique,          -- room type name, e.g. 'Deluxe King'
  price numeric,             -- nightly base price
  promo_price numeric null,  -- nightly promotional price
  currency text,
  capacity int,              -- maximum guests
  active boolean,
  size text,
  amenities text[],
  bed_type text,
  view text,
  description text,
  images text[]
)`

// RoomsHandler answers from a snapshot of every active room type.
type RoomsHandler struct {
	src  RoomSource
	llm  Completer
	opts Options
}

func NewRooms(src RoomSource, llm Completer, opts Options) *RoomsHandler {
	return &RoomsHandler{src: src, llm: llm, opts: opts.withDefaults()}
}

func (h *RoomsHandler) Handle(ctx context.Context, utterance string, history []knowledge.Turn) (string, error) {
	if h.opts.QueryDiagnostics {
		logAdvisoryQuery(ctx, h.llm, "rooms", roomsSchema, utterance)
	}

	rooms, err := h.src.ListRooms(ctx, true)
	if err != nil {
		return "", fmt.Errorf("loading rooms: %w", err)
	}
	entries := make([]string, len(rooms))
	for i, r := range rooms {
		entries[i] = formatRoom(r)
	}

	b := newContextBuilder(h.opts.MaxContextTokens)
	b.section("Available Room Types", entries)
	grounding := b.String()
	if grounding == "" {
		grounding = "[Available Room Types]\nNo room types are currently listed.\n"
	}

	prompt := groundedPrompt("You are the hotel's reservations assistant.", grounding, utterance)
	answer, err := h.llm.Complete(ctx, prompt, lastTurns(history, h.opts.HistoryTurns))
	if err != nil {
		return "", fmt.Errorf("generating rooms answer: %w", err)
	}
	return answer, nil
}
