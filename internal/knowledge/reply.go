package knowledge

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ReplyFormat tags the shape of a reply payload.
type ReplyFormat string

const (
	FormatMessage       ReplyFormat = "message"
	FormatOptionDetails ReplyFormat = "option_details"
	FormatRoomType      ReplyFormat = "room_type"
)

// ErrPayloadShape is returned when a stored payload does not match its format.
var ErrPayloadShape = errors.New("reply payload does not match reply format")

// ParseFormat validates a stored format string.
func ParseFormat(s string) (ReplyFormat, error) {
	switch f := ReplyFormat(s); f {
	case FormatMessage, FormatOptionDetails, FormatRoomType:
		return f, nil
	default:
		return "", fmt.Errorf("unknown reply format %q", s)
	}
}

// Reply is the format-specific part of an FAQ entry. The set of variants is
// closed: MessageReply, OptionsReply and RoomsReply.
type Reply interface {
	Format() ReplyFormat
	isReply()
}

// MessageReply carries no payload; the entry's ReplyMessage is the answer.
type MessageReply struct{}

// OptionDetail is one selectable option inside an option list.
type OptionDetail struct {
	Option string `json:"option"`
	Detail string `json:"detail"`
}

// OptionsReply is an ordered option list; ReplyMessage is used as its title.
type OptionsReply struct {
	Options []OptionDetail
}

// RoomsReply references room types by name; details are resolved per request.
type RoomsReply struct {
	Rooms      []string
	ButtonName string
}

func (MessageReply) Format() ReplyFormat { return FormatMessage }
func (OptionsReply) Format() ReplyFormat { return FormatOptionDetails }
func (RoomsReply) Format() ReplyFormat   { return FormatRoomType }

func (MessageReply) isReply() {}
func (OptionsReply) isReply() {}
func (RoomsReply) isReply()   {}

type roomsPayload struct {
	Rooms      []string `json:"rooms"`
	ButtonName string   `json:"buttonName"`
}

// EncodeReply returns the stored representation of r. Message replies encode
// to a nil payload.
func EncodeReply(r Reply) (ReplyFormat, []byte, error) {
	switch v := r.(type) {
	case nil, MessageReply:
		return FormatMessage, nil, nil
	case OptionsReply:
		if len(v.Options) == 0 {
			return "", nil, fmt.Errorf("%w: option_details needs at least one option", ErrPayloadShape)
		}
		b, err := json.Marshal(v.Options)
		return FormatOptionDetails, b, err
	case RoomsReply:
		rooms := v.Rooms
		if rooms == nil {
			rooms = []string{}
		}
		b, err := json.Marshal(roomsPayload{Rooms: rooms, ButtonName: v.ButtonName})
		return FormatRoomType, b, err
	default:
		return "", nil, fmt.Errorf("unsupported reply type %T", r)
	}
}

// DecodeReply rebuilds a Reply from its stored format and payload, enforcing
// that message entries carry no payload and structured entries always do.
func DecodeReply(format ReplyFormat, payload []byte) (Reply, error) {
	empty := len(payload) == 0 || string(payload) == "null"
	switch format {
	case FormatMessage:
		if !empty {
			return nil, fmt.Errorf("%w: message format with payload", ErrPayloadShape)
		}
		return MessageReply{}, nil
	case FormatOptionDetails:
		if empty {
			return nil, fmt.Errorf("%w: option_details without payload", ErrPayloadShape)
		}
		var opts []OptionDetail
		if err := json.Unmarshal(payload, &opts); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPayloadShape, err)
		}
		return OptionsReply{Options: opts}, nil
	case FormatRoomType:
		if empty {
			return nil, fmt.Errorf("%w: room_type without payload", ErrPayloadShape)
		}
		var p roomsPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPayloadShape, err)
		}
		return RoomsReply{Rooms: p.Rooms, ButtonName: p.ButtonName}, nil
	default:
		return nil, fmt.Errorf("unknown reply format %q", format)
	}
}
