package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"github.com/campuslink/campuschat/internal/protocol"
	"github.com/campuslink/campuschat/internal/storage"
)

// Service owns the message lifecycle. Every mutation persists first and
// broadcasts strictly after the store call returns, so peers observe a
// sender's messages in persisted order.
type Service struct {
	store    storage.Store
	registry *Registry
	presence *PresenceTracker
	resolver *Resolver
	sink     NotificationSink
	log      *slog.Logger
}

// NewService wires the message lifecycle over its collaborators.
func NewService(store storage.Store, registry *Registry, presence *PresenceTracker, resolver *Resolver, sink NotificationSink, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		registry: registry,
		presence: presence,
		resolver: resolver,
		sink:     sink,
		log:      log,
	}
}

// Resolver exposes room resolution to the transport layer.
func (s *Service) Resolver() *Resolver { return s.resolver }

// SendMessage validates membership, persists the message, broadcasts it
// to the room excluding the sender, and hands offline members to the
// notification sink.
func (s *Service) SendMessage(ctx context.Context, room *storage.Room, sender *storage.User, text string) (*storage.Message, error) {
	member, err := s.resolver.IsMember(ctx, room, sender.ID)
	if err != nil {
		return nil, fmt.Errorf("membership check: %w", err)
	}
	if !member {
		return nil, fmt.Errorf("%w: user %d is not in room %d", ErrUnauthorized, sender.ID, room.ID)
	}

	msg := &storage.Message{
		RoomID:     room.ID,
		SenderID:   sender.ID,
		SenderName: sender.Username,
		Text:       text,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	payload, err := protocol.EncodeEvent(protocol.MessageEvent{
		ID:        msg.ID,
		Text:      msg.Text,
		Sender:    msg.SenderName,
		RoomID:    msg.RoomID,
		CreatedAt: msg.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode message event: %w", err)
	}
	s.registry.Broadcast(room.ID, payload, sender.ID)

	s.notifyOffline(ctx, room, *msg, sender.ID)
	return msg, nil
}

// notifyOffline invokes the sink for room members without a live
// connection, detached from the sender's socket loop.
func (s *Service) notifyOffline(ctx context.Context, room *storage.Room, msg storage.Message, senderID uint) {
	members, err := s.resolver.Members(ctx, room)
	if err != nil {
		s.log.Error("resolve members for notification", "room_id", room.ID, "error", err)
		return
	}
	offline := lo.Filter(members, func(m storage.User, _ int) bool {
		return m.ID != senderID && !s.presence.Online(m.ID)
	})
	if len(offline) == 0 {
		return
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		if err := s.sink.Notify(bg, msg, offline); err != nil {
			s.log.Error("notification sink", "message_id", msg.ID, "error", err)
		}
	}()
}

// EditMessage mutates text and updated_at. Only the original sender may
// edit; the update event goes to the whole room, the sender's own other
// sessions included.
func (s *Service) EditMessage(ctx context.Context, editorID, messageID uint, text string) (*storage.Message, error) {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != editorID {
		return nil, fmt.Errorf("%w: message %d belongs to another sender", ErrUnauthorized, messageID)
	}

	updated, err := s.store.UpdateMessageText(ctx, messageID, text)
	if err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}

	payload, err := protocol.EncodeEvent(protocol.NewUpdateEvent(updated.ID, updated.Text, updated.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("encode update event: %w", err)
	}
	s.registry.Broadcast(msg.RoomID, payload, 0)
	return updated, nil
}

// DeleteMessage removes a message. Only the original sender may delete.
func (s *Service) DeleteMessage(ctx context.Context, requesterID, messageID uint) error {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != requesterID {
		return fmt.Errorf("%w: message %d belongs to another sender", ErrUnauthorized, messageID)
	}

	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete message: %w", err)
	}

	payload, err := protocol.EncodeEvent(protocol.NewDeleteEvent(messageID))
	if err != nil {
		return fmt.Errorf("encode delete event: %w", err)
	}
	s.registry.Broadcast(msg.RoomID, payload, 0)
	return nil
}

// History returns a page of room messages, newest first, and marks the
// fetched messages from other senders as read by the requester.
func (s *Service) History(ctx context.Context, room *storage.Room, requester *storage.User, skip, limit int) ([]storage.Message, error) {
	member, err := s.resolver.IsMember(ctx, room, requester.ID)
	if err != nil {
		return nil, fmt.Errorf("membership check: %w", err)
	}
	if !member {
		return nil, fmt.Errorf("%w: user %d is not in room %d", ErrUnauthorized, requester.ID, room.ID)
	}

	messages, err := s.store.ListMessages(ctx, room.ID, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	unread := make([]uint, 0, len(messages))
	for _, msg := range messages {
		if msg.SenderID != requester.ID {
			unread = append(unread, msg.ID)
		}
	}
	if len(unread) > 0 {
		if err := s.MarkRead(ctx, room, requester.ID, unread); err != nil {
			s.log.Error("implicit read marking", "room_id", room.ID, "reader", requester.ID, "error", err)
		}
	}
	return messages, nil
}

// MarkRead records that the reader has seen the listed messages:
// receipts for group rooms, the boolean flag for private rooms. Marking
// is idempotent; already-seen pairs are skipped silently.
func (s *Service) MarkRead(ctx context.Context, room *storage.Room, readerID uint, messageIDs []uint) error {
	if len(messageIDs) == 0 {
		return nil
	}
	switch room.Kind {
	case storage.RoomGroup:
		if err := s.store.CreateReceipts(ctx, room.ID, readerID, messageIDs); err != nil {
			return fmt.Errorf("create receipts: %w", err)
		}
	case storage.RoomPrivate:
		if err := s.store.SetReadFlags(ctx, room.ID, readerID, messageIDs); err != nil {
			return fmt.Errorf("set read flags: %w", err)
		}
	default:
		return fmt.Errorf("unknown room kind %q", room.Kind)
	}
	return nil
}

// Receipts returns who has seen the message. Read receipts are a
// sender-only view; for private rooms the peer's read flag is rendered
// as a single synthetic receipt.
func (s *Service) Receipts(ctx context.Context, requesterID, messageID uint) ([]storage.ReadReceipt, error) {
	msg, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requesterID {
		return nil, fmt.Errorf("%w: receipts are visible to the sender only", ErrUnauthorized)
	}

	room, err := s.store.GetRoom(ctx, msg.RoomID)
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	if room.Kind == storage.RoomPrivate {
		if !msg.Read {
			return []storage.ReadReceipt{}, nil
		}
		peerID := room.MemberLowID
		if peerID == msg.SenderID {
			peerID = room.MemberHighID
		}
		peer, err := s.store.GetUser(ctx, peerID)
		if err != nil {
			return nil, fmt.Errorf("load peer: %w", err)
		}
		return []storage.ReadReceipt{{
			MessageID:  msg.ID,
			ReaderID:   peer.ID,
			ReaderName: peer.Username,
			CreatedAt:  msg.UpdatedAt,
		}}, nil
	}
	return s.store.ListReceipts(ctx, messageID)
}

// BroadcastTyping relays a typing indicator to room peers. Nothing is
// persisted; the typist's own sockets are excluded.
func (s *Service) BroadcastTyping(room *storage.Room, user *storage.User, isTyping bool) {
	payload, err := protocol.EncodeEvent(protocol.NewTypingEvent(user.Username, isTyping))
	if err != nil {
		s.log.Error("encode typing event", "error", err)
		return
	}
	s.registry.Broadcast(room.ID, payload, user.ID)
}

func (s *Service) getMessage(ctx context.Context, id uint) (*storage.Message, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: message %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("load message: %w", err)
	}
	return msg, nil
}
