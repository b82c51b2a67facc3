package protocol

import (
	"encoding/json"
	"time"
)

const (
	eventTyping        = "typing"
	eventUpdateMessage = "update_message"
	eventDeleteMessage = "delete_message"
)

// MessageEvent announces a newly persisted message to room peers.
type MessageEvent struct {
	ID        uint      `json:"id"`
	Text      string    `json:"text"`
	Sender    string    `json:"sender"`
	RoomID    uint      `json:"room_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TypingEvent relays a peer's typing indicator.
type TypingEvent struct {
	Action   string `json:"action"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// UpdateEvent announces an edit to an existing message.
type UpdateEvent struct {
	Action    string    `json:"action"`
	MessageID uint      `json:"message_id"`
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeleteEvent announces a message removal.
type DeleteEvent struct {
	Action    string `json:"action"`
	MessageID uint   `json:"message_id"`
}

// ErrorEvent answers a frame the server could not act on.
type ErrorEvent struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func NewTypingEvent(username string, isTyping bool) TypingEvent {
	return TypingEvent{Action: eventTyping, Username: username, IsTyping: isTyping}
}

func NewUpdateEvent(messageID uint, text string, updatedAt time.Time) UpdateEvent {
	return UpdateEvent{Action: eventUpdateMessage, MessageID: messageID, Text: text, UpdatedAt: updatedAt}
}

func NewDeleteEvent(messageID uint) DeleteEvent {
	return DeleteEvent{Action: eventDeleteMessage, MessageID: messageID}
}

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Status: "error", Message: message}
}

// EncodeEvent marshals an outbound event. Event payloads are plain
// structs, so a marshal failure indicates a programming error.
func EncodeEvent(event interface{}) ([]byte, error) {
	return json.Marshal(event)
}
