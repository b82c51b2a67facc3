package chat

import (
	"context"
	"log/slog"

	"github.com/campuslink/campuschat/internal/storage"
)

// NotificationSink receives a persisted message together with the room
// members who were offline when it arrived. Delivery mechanics (push,
// email, digest) live behind this interface.
type NotificationSink interface {
	Notify(ctx context.Context, msg storage.Message, recipients []storage.User) error
}

// LogSink records undelivered-recipient notifications in the log. It is
// the default sink when no external delivery channel is configured.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink constructs a sink writing to the given logger.
func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

// Notify logs one line per offline recipient.
func (s *LogSink) Notify(_ context.Context, msg storage.Message, recipients []storage.User) error {
	for _, recipient := range recipients {
		s.log.Info("offline notification",
			"message_id", msg.ID,
			"room_id", msg.RoomID,
			"sender", msg.SenderName,
			"recipient", recipient.Username,
		)
	}
	return nil
}
