// Package protocol defines the JSON wire contract: inbound frames sent by
// clients over the socket and outbound events pushed by the server.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
)

// Frame parse failures. ErrMalformed means the bytes were not a JSON
// object; ErrInvalid means well-formed JSON that fails the frame schema.
// Both are recoverable: the dispatcher answers with an error event and
// keeps the connection open.
var (
	ErrMalformed = errors.New("malformed frame")
	ErrInvalid   = errors.New("invalid frame")
)

// FrameKind enumerates inbound frame intents.
type FrameKind string

const (
	FrameSend   FrameKind = "send"
	FrameTyping FrameKind = "typing"
	FrameRead   FrameKind = "read"
)

const (
	actionTyping = "typing"
	actionRead   = "read"
)

// Frame is one decoded inbound message. Only the fields matching Kind
// are meaningful.
type Frame struct {
	Kind       FrameKind
	Text       string
	IsTyping   bool
	MessageIDs []uint
}

type rawFrame struct {
	Action     string  `json:"action"`
	IsTyping   *bool   `json:"is_typing"`
	MessageIDs []int   `json:"message_ids"`
	Text       *string `json:"text"`
}

type sendFrame struct {
	Text string `validate:"required,max=4096"`
}

var validate = validator.New()

// ParseFrame decodes one inbound frame. Any frame outside the typing
// and read actions that carries a text field is a send; an unrecognized
// action without text is invalid.
func ParseFrame(data []byte) (Frame, error) {
	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return Frame{}, ErrMalformed
	}

	switch raw.Action {
	case actionTyping:
		if raw.IsTyping == nil {
			return Frame{}, ErrInvalid
		}
		return Frame{Kind: FrameTyping, IsTyping: *raw.IsTyping}, nil
	case actionRead:
		if len(raw.MessageIDs) == 0 {
			return Frame{}, ErrInvalid
		}
		ids := make([]uint, 0, len(raw.MessageIDs))
		for _, id := range raw.MessageIDs {
			if id <= 0 {
				return Frame{}, ErrInvalid
			}
			ids = append(ids, uint(id))
		}
		return Frame{Kind: FrameRead, MessageIDs: ids}, nil
	default:
		if raw.Text == nil {
			return Frame{}, ErrInvalid
		}
		if err := validate.Struct(sendFrame{Text: *raw.Text}); err != nil {
			return Frame{}, ErrInvalid
		}
		return Frame{Kind: FrameSend, Text: *raw.Text}, nil
	}
}
