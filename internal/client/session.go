// Package client implements the terminal chat client used for manual
// testing against a running server.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/campuslink/campuschat/internal/config"
)

// Event is the union of outbound server frames the client renders.
type Event struct {
	Action    string `json:"action"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	ID        uint   `json:"id"`
	Text      string `json:"text"`
	Sender    string `json:"sender"`
	RoomID    uint   `json:"room_id"`
	Username  string `json:"username"`
	IsTyping  bool   `json:"is_typing"`
	MessageID uint   `json:"message_id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Session holds the authenticated socket to one room.
type Session struct {
	conn *websocket.Conn
}

type loginResponse struct {
	Token  string `json:"token"`
	UserID uint   `json:"user_id"`
}

// Dial logs in over REST and opens the websocket for roomPath, e.g.
// "/ws/private/2" or "/ws/group/7".
func Dial(cfg config.ClientConfig, roomPath string) (*Session, error) {
	body, err := json.Marshal(map[string]string{
		"username": cfg.Username,
		"password": cfg.Password,
	})
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Post(cfg.ServerURL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login: unexpected status %d", resp.StatusCode)
	}

	var login loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	wsURL := strings.Replace(cfg.ServerURL, "http", "ws", 1) + roomPath + "?token=" + login.Token
	conn, handshake, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		if handshake != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, handshake.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &Session{conn: conn}, nil
}

// ReadEvent blocks for the next server frame.
func (s *Session) ReadEvent() (Event, error) {
	var event Event
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return event, err
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return event, err
	}
	return event, nil
}

// SendText sends a chat message frame.
func (s *Session) SendText(text string) error {
	return s.conn.WriteJSON(map[string]string{"text": text})
}

// SendTyping sends a typing indicator frame.
func (s *Session) SendTyping(isTyping bool) error {
	return s.conn.WriteJSON(map[string]interface{}{"action": "typing", "is_typing": isTyping})
}

// SendRead marks the listed messages read.
func (s *Session) SendRead(messageIDs []uint) error {
	return s.conn.WriteJSON(map[string]interface{}{"action": "read", "message_ids": messageIDs})
}

// Close shuts the socket down.
func (s *Session) Close() error {
	return s.conn.Close()
}
