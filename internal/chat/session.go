package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/campuslink/campuschat/internal/protocol"
	"github.com/campuslink/campuschat/internal/storage"
)

const sendBufferSize = 64

// SessionConfig carries the socket policy: write deadline, heartbeat
// interval, pong deadline, and the inbound frame size cap.
type SessionConfig struct {
	WriteTimeout  time.Duration
	PingInterval  time.Duration
	PongTimeout   time.Duration
	MaxFrameBytes int64
}

// Session binds one authenticated socket to a room. Its read loop is
// the protocol dispatcher; its write loop serializes outbound frames
// and heartbeats. Session implements Conn, so the registry can hand it
// payloads from any goroutine.
type Session struct {
	id       string
	conn     *websocket.Conn
	room     *storage.Room
	user     *storage.User
	svc      *Service
	registry *Registry
	presence *PresenceTracker
	cfg      SessionConfig
	log      *slog.Logger

	sendCh chan []byte
	mu     sync.Mutex
	closed bool
}

// NewSession wraps an upgraded connection for the given room and user.
func NewSession(conn *websocket.Conn, room *storage.Room, user *storage.User, svc *Service, registry *Registry, presence *PresenceTracker, cfg SessionConfig, log *slog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		conn:     conn,
		room:     room,
		user:     user,
		svc:      svc,
		registry: registry,
		presence: presence,
		cfg:      cfg,
		log:      log.With("session_id", id, "room_id", room.ID, "user", user.Username),
		sendCh:   make(chan []byte, sendBufferSize),
	}
}

// Send enqueues a payload for the write loop without blocking. A full
// buffer or a closed session is reported as an error so the registry
// prunes the handle.
func (s *Session) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	select {
	case s.sendCh <- payload:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Close tears the socket down out of band. It is used on the superseded
// handle when the same identity reconnects to the room.
func (s *Session) Close(reason string) {
	s.markClosed()
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = s.conn.Close()
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Run registers the session, pumps frames until the socket closes, and
// unwinds registration and presence on the way out. It blocks for the
// connection lifetime.
func (s *Session) Run(ctx context.Context) {
	if prev := s.registry.Connect(s.room.ID, s.user.ID, s); prev != nil {
		// Last-connect-wins: the replaced socket is told to go away.
		prev.Close("superseded by a newer connection")
	}
	s.presence.SetOnline(s.user.ID)
	s.log.Info("session connected")

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.registry.DisconnectConn(s.room.ID, s.user.ID, s)
		s.presence.SetOffline(s.user.ID)
		s.markClosed()
		_ = s.conn.Close()
		s.log.Info("session closed")
	}()

	go s.writeLoop(ctx)
	s.readLoop(ctx)
}

// readLoop is the dispatcher: block for a frame, decode, route, repeat.
// Malformed or invalid frames answer with an error event and keep the
// connection open; only socket-level errors end the loop.
func (s *Session) readLoop(ctx context.Context) {
	s.conn.SetReadLimit(s.cfg.MaxFrameBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("read", "error", err)
			}
			return
		}

		frame, err := protocol.ParseFrame(data)
		switch {
		case errors.Is(err, protocol.ErrMalformed):
			s.sendError("Wrong message format")
			continue
		case errors.Is(err, protocol.ErrInvalid):
			s.sendError("Could not validate incoming message")
			continue
		case err != nil:
			s.sendError("Wrong message format")
			continue
		}

		s.dispatch(ctx, frame)
	}
}

func (s *Session) dispatch(ctx context.Context, frame protocol.Frame) {
	switch frame.Kind {
	case protocol.FrameTyping:
		s.svc.BroadcastTyping(s.room, s.user, frame.IsTyping)
	case protocol.FrameRead:
		if err := s.svc.MarkRead(ctx, s.room, s.user.ID, frame.MessageIDs); err != nil {
			s.log.Error("mark read", "error", err)
			s.sendError("Could not mark messages as read")
		}
	case protocol.FrameSend:
		if _, err := s.svc.SendMessage(ctx, s.room, s.user, frame.Text); err != nil {
			s.log.Error("send message", "error", err)
			if errors.Is(err, ErrUnauthorized) {
				s.sendError("Not a member of this room")
				return
			}
			s.sendError("Could not deliver the message")
		}
	}
}

func (s *Session) sendError(message string) {
	payload, err := protocol.EncodeEvent(protocol.NewErrorEvent(message))
	if err != nil {
		s.log.Error("encode error event", "error", err)
		return
	}
	if err := s.Send(payload); err != nil {
		s.log.Warn("deliver error event", "error", err)
	}
}

// writeLoop serializes outbound frames and keeps the connection alive
// with periodic pings.
func (s *Session) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		case payload := <-s.sendCh:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Warn("write", "error", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
