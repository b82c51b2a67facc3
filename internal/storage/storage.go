package storage

import (
	"context"
	"errors"
	"time"
)

// Lookup failures and uniqueness violations are translated to these
// sentinels by every Store implementation.
var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// User represents a persisted account record.
type User struct {
	ID          uint
	Username    string
	DisplayName string
	Password    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Group is the external membership entity group rooms mirror.
type Group struct {
	ID        uint
	Name      string
	CreatedAt time.Time
}

// RoomKind distinguishes the two conversation shapes.
type RoomKind string

const (
	RoomPrivate RoomKind = "private"
	RoomGroup   RoomKind = "group"
)

// Room is a conversation scope: either a private pair or a group.
// For private rooms MemberLowID < MemberHighID always holds; for group
// rooms GroupID is set and the member fields are zero.
type Room struct {
	ID           uint
	Kind         RoomKind
	MemberLowID  uint
	MemberHighID uint
	GroupID      uint
	CreatedAt    time.Time
}

// Message is a chat entry. SenderName is populated on reads by joining
// the users table; it is never written directly. Read is the private-room
// read flag and stays false for group rooms, which use receipts instead.
type Message struct {
	ID         uint
	RoomID     uint
	SenderID   uint
	SenderName string
	Text       string
	Read       bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ReadReceipt records that a reader has seen a group message.
type ReadReceipt struct {
	MessageID  uint
	ReaderID   uint
	ReaderName string
	CreatedAt  time.Time
}

// Store defines the persistence operations used by the chat core and the
// HTTP layer.
type Store interface {
	Close() error
	Migrate(ctx context.Context) error

	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id uint) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	CreateGroup(ctx context.Context, group *Group, memberIDs []uint) error
	GroupMembers(ctx context.Context, groupID uint) ([]User, error)
	IsGroupMember(ctx context.Context, groupID, userID uint) (bool, error)

	GetRoom(ctx context.Context, id uint) (*Room, error)
	GetPrivateRoom(ctx context.Context, lowID, highID uint) (*Room, error)
	CreatePrivateRoom(ctx context.Context, lowID, highID uint) (*Room, error)
	GetGroupRoom(ctx context.Context, groupID uint) (*Room, error)
	CreateGroupRoom(ctx context.Context, groupID uint) (*Room, error)

	CreateMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id uint) (*Message, error)
	UpdateMessageText(ctx context.Context, id uint, text string) (*Message, error)
	DeleteMessage(ctx context.Context, id uint) error
	ListMessages(ctx context.Context, roomID uint, skip, limit int) ([]Message, error)

	CreateReceipts(ctx context.Context, roomID, readerID uint, messageIDs []uint) error
	SetReadFlags(ctx context.Context, roomID, readerID uint, messageIDs []uint) error
	ListReceipts(ctx context.Context, messageID uint) ([]ReadReceipt, error)
}
