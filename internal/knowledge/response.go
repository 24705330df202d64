package knowledge

import (
	"encoding/json"
)

// Response is the resolved answer to one utterance. It is built once per
// request and never persisted by the resolver itself.
type Response struct {
	Text string
	Body Body
}

// Body is the format-specific part of a Response: MessageBody, OptionsBody
// or RoomsBody.
type Body interface {
	Format() ReplyFormat
	isBody()
}

// MessageBody is a plain text answer.
type MessageBody struct{}

// OptionsBody is an option list; Response.Text is its title.
type OptionsBody struct {
	Options []OptionDetail
}

// RoomsBody is a room-card list with details looked up at response time.
type RoomsBody struct {
	Rooms      []string
	ButtonName string
	Details    map[string]RoomDetail
}

// RoomDetail is the per-room card data keyed by room name in RoomsBody.
type RoomDetail struct {
	ID          string   `json:"id"`
	Image       string   `json:"image"`
	BasePrice   float64  `json:"basePrice"`
	PromoPrice  *float64 `json:"promoPrice,omitempty"`
	Description string   `json:"description"`
}

func (MessageBody) Format() ReplyFormat { return FormatMessage }
func (OptionsBody) Format() ReplyFormat { return FormatOptionDetails }
func (RoomsBody) Format() ReplyFormat   { return FormatRoomType }

func (MessageBody) isBody() {}
func (OptionsBody) isBody() {}
func (RoomsBody) isBody()   {}

// Message builds a plain text Response.
func Message(text string) Response {
	return Response{Text: text, Body: MessageBody{}}
}

// Format reports the response format. A nil Body is a plain message.
func (r Response) Format() ReplyFormat {
	if r.Body == nil {
		return FormatMessage
	}
	return r.Body.Format()
}

// IsStructured reports whether the response needs more than its text to render.
func (r Response) IsStructured() bool {
	return r.Format() != FormatMessage
}

type roomsBodyJSON struct {
	Rooms       []string              `json:"rooms"`
	ButtonName  string                `json:"buttonName"`
	RoomDetails map[string]RoomDetail `json:"roomDetails"`
}

type responseJSON struct {
	Text    string          `json:"text"`
	Format  ReplyFormat     `json:"format"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON renders {text, format, payload} where payload is null for
// message, the option list for option_details, and rooms plus the detail
// lookup for room_type.
func (r Response) MarshalJSON() ([]byte, error) {
	var payload any
	switch b := r.Body.(type) {
	case OptionsBody:
		payload = b.Options
	case RoomsBody:
		details := b.Details
		if details == nil {
			details = map[string]RoomDetail{}
		}
		rooms := b.Rooms
		if rooms == nil {
			rooms = []string{}
		}
		payload = roomsBodyJSON{Rooms: rooms, ButtonName: b.ButtonName, RoomDetails: details}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(responseJSON{Text: r.Text, Format: r.Format(), Payload: raw})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw responseJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Text = raw.Text
	switch raw.Format {
	case FormatOptionDetails:
		var opts []OptionDetail
		if err := json.Unmarshal(raw.Payload, &opts); err != nil {
			return err
		}
		r.Body = OptionsBody{Options: opts}
	case FormatRoomType:
		var rb roomsBodyJSON
		if err := json.Unmarshal(raw.Payload, &rb); err != nil {
			return err
		}
		r.Body = RoomsBody{Rooms: rb.Rooms, ButtonName: rb.ButtonName, Details: rb.RoomDetails}
	default:
		r.Body = MessageBody{}
	}
	return nil
}
