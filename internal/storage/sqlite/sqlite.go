package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/campuslink/campuschat/internal/storage"
)

// Store is a GORM-backed SQLite implementation of storage.Store.
type Store struct {
	db *gorm.DB
}

type userModel struct {
	ID          uint   `gorm:"primaryKey"`
	Username    string `gorm:"uniqueIndex;size:64"`
	DisplayName string `gorm:"size:128"`
	Password    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type groupModel struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:128"`
	CreatedAt time.Time
}

type groupMemberModel struct {
	GroupID uint `gorm:"primaryKey;autoIncrement:false"`
	UserID  uint `gorm:"primaryKey;autoIncrement:false"`
}

// roomModel stores both room kinds in one table. The nullable pair
// columns carry the normalized private pair (low < high) and back the
// uniqueness constraint that settles concurrent first contact; group
// rooms leave them NULL and hold a unique group id instead.
type roomModel struct {
	ID           uint   `gorm:"primaryKey"`
	Kind         string `gorm:"size:16;index"`
	MemberLowID  *uint  `gorm:"uniqueIndex:idx_rooms_pair"`
	MemberHighID *uint  `gorm:"uniqueIndex:idx_rooms_pair"`
	GroupID      *uint  `gorm:"uniqueIndex"`
	CreatedAt    time.Time
}

type messageModel struct {
	ID        uint `gorm:"primaryKey"`
	RoomID    uint `gorm:"index"`
	SenderID  uint `gorm:"index"`
	Text      string
	Read      bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type readReceiptModel struct {
	MessageID uint `gorm:"primaryKey;autoIncrement:false"`
	ReaderID  uint `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time
}

func (userModel) TableName() string        { return "users" }
func (groupModel) TableName() string       { return "groups" }
func (groupMemberModel) TableName() string { return "group_members" }
func (roomModel) TableName() string        { return "rooms" }
func (messageModel) TableName() string     { return "messages" }
func (readReceiptModel) TableName() string { return "read_receipts" }

// NewStore opens a SQLite database at the provided path.
func NewStore(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers anyway; a single connection also keeps
	// ":memory:" databases coherent across the pool.
	sqlDB.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate applies schema updates.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&userModel{},
		&groupModel{},
		&groupMemberModel{},
		&roomModel{},
		&messageModel{},
		&readReceiptModel{},
	)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return storage.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey),
		strings.Contains(err.Error(), "UNIQUE constraint"):
		return storage.ErrDuplicate
	default:
		return err
	}
}

// CreateUser stores a new account record.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	model := userModel{
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Password:    user.Password,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return translate(err)
	}
	user.ID = model.ID
	user.CreatedAt = model.CreatedAt
	user.UpdatedAt = model.UpdatedAt
	return nil
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(ctx context.Context, id uint) (*storage.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).First(&model, id).Error; err != nil {
		return nil, translate(err)
	}
	return toUser(model), nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error; err != nil {
		return nil, translate(err)
	}
	return toUser(model), nil
}

// CreateGroup stores a group together with its member set.
func (s *Store) CreateGroup(ctx context.Context, group *storage.Group, memberIDs []uint) error {
	if group == nil {
		return errors.New("nil group")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := groupModel{Name: group.Name}
		if err := tx.Create(&model).Error; err != nil {
			return translate(err)
		}
		for _, id := range memberIDs {
			member := groupMemberModel{GroupID: model.ID, UserID: id}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error; err != nil {
				return translate(err)
			}
		}
		group.ID = model.ID
		group.CreatedAt = model.CreatedAt
		return nil
	})
}

// GroupMembers returns the users belonging to the group.
func (s *Store) GroupMembers(ctx context.Context, groupID uint) ([]storage.User, error) {
	var models []userModel
	err := s.db.WithContext(ctx).
		Joins("JOIN group_members ON group_members.user_id = users.id").
		Where("group_members.group_id = ?", groupID).
		Order("users.id").
		Find(&models).Error
	if err != nil {
		return nil, translate(err)
	}
	users := make([]storage.User, 0, len(models))
	for _, m := range models {
		users = append(users, *toUser(m))
	}
	return users, nil
}

// IsGroupMember reports whether the user belongs to the group.
func (s *Store) IsGroupMember(ctx context.Context, groupID, userID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&groupMemberModel{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	if err != nil {
		return false, translate(err)
	}
	return count > 0, nil
}

// GetRoom retrieves a room by id.
func (s *Store) GetRoom(ctx context.Context, id uint) (*storage.Room, error) {
	var model roomModel
	if err := s.db.WithContext(ctx).First(&model, id).Error; err != nil {
		return nil, translate(err)
	}
	return toRoom(model), nil
}

// GetPrivateRoom looks up the room for a normalized member pair.
func (s *Store) GetPrivateRoom(ctx context.Context, lowID, highID uint) (*storage.Room, error) {
	var model roomModel
	err := s.db.WithContext(ctx).
		Where("kind = ? AND member_low_id = ? AND member_high_id = ?", storage.RoomPrivate, lowID, highID).
		First(&model).Error
	if err != nil {
		return nil, translate(err)
	}
	return toRoom(model), nil
}

// CreatePrivateRoom inserts a private room for the pair. A concurrent
// insert for the same pair surfaces as storage.ErrDuplicate.
func (s *Store) CreatePrivateRoom(ctx context.Context, lowID, highID uint) (*storage.Room, error) {
	if lowID >= highID {
		return nil, fmt.Errorf("member pair not normalized: %d >= %d", lowID, highID)
	}
	model := roomModel{
		Kind:         string(storage.RoomPrivate),
		MemberLowID:  &lowID,
		MemberHighID: &highID,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return nil, translate(err)
	}
	return toRoom(model), nil
}

// GetGroupRoom looks up the room mirroring a group.
func (s *Store) GetGroupRoom(ctx context.Context, groupID uint) (*storage.Room, error) {
	var model roomModel
	err := s.db.WithContext(ctx).
		Where("kind = ? AND group_id = ?", storage.RoomGroup, groupID).
		First(&model).Error
	if err != nil {
		return nil, translate(err)
	}
	return toRoom(model), nil
}

// CreateGroupRoom inserts the room row for a group.
func (s *Store) CreateGroupRoom(ctx context.Context, groupID uint) (*storage.Room, error) {
	model := roomModel{
		Kind:    string(storage.RoomGroup),
		GroupID: &groupID,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return nil, translate(err)
	}
	return toRoom(model), nil
}

// CreateMessage persists a message and fills in id and timestamps.
func (s *Store) CreateMessage(ctx context.Context, msg *storage.Message) error {
	if msg == nil {
		return errors.New("nil message")
	}
	model := messageModel{
		RoomID:   msg.RoomID,
		SenderID: msg.SenderID,
		Text:     msg.Text,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return translate(err)
	}
	msg.ID = model.ID
	msg.CreatedAt = model.CreatedAt
	msg.UpdatedAt = model.UpdatedAt
	return nil
}

// GetMessage retrieves a message with its sender's username.
func (s *Store) GetMessage(ctx context.Context, id uint) (*storage.Message, error) {
	var row messageRow
	err := s.db.WithContext(ctx).Model(&messageModel{}).
		Select("messages.*, users.username AS sender_name").
		Joins("JOIN users ON users.id = messages.sender_id").
		Where("messages.id = ?", id).
		First(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	msg := row.toMessage()
	return &msg, nil
}

// UpdateMessageText mutates the text and bumps updated_at.
func (s *Store) UpdateMessageText(ctx context.Context, id uint, text string) (*storage.Message, error) {
	res := s.db.WithContext(ctx).Model(&messageModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"text": text, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, storage.ErrNotFound
	}
	return s.GetMessage(ctx, id)
}

// DeleteMessage removes a message row.
func (s *Store) DeleteMessage(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&messageModel{}, id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListMessages returns a page of room history, newest first.
func (s *Store) ListMessages(ctx context.Context, roomID uint, skip, limit int) ([]storage.Message, error) {
	var rows []messageRow
	err := s.db.WithContext(ctx).Model(&messageModel{}).
		Select("messages.*, users.username AS sender_name").
		Joins("JOIN users ON users.id = messages.sender_id").
		Where("messages.room_id = ?", roomID).
		Order("messages.id DESC").
		Offset(skip).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	messages := make([]storage.Message, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, r.toMessage())
	}
	return messages, nil
}

// CreateReceipts records that the reader has seen the listed messages.
// Messages outside the room are skipped, as are pairs that already exist.
func (s *Store) CreateReceipts(ctx context.Context, roomID, readerID uint, messageIDs []uint) error {
	if len(messageIDs) == 0 {
		return nil
	}
	var valid []uint
	err := s.db.WithContext(ctx).Model(&messageModel{}).
		Where("id IN ? AND room_id = ?", messageIDs, roomID).
		Pluck("id", &valid).Error
	if err != nil {
		return translate(err)
	}
	for _, id := range valid {
		receipt := readReceiptModel{MessageID: id, ReaderID: readerID}
		err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&receipt).Error
		if err != nil {
			return translate(err)
		}
	}
	return nil
}

// SetReadFlags marks private-room messages read, excluding the reader's own.
func (s *Store) SetReadFlags(ctx context.Context, roomID, readerID uint, messageIDs []uint) error {
	if len(messageIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&messageModel{}).
		Where("id IN ? AND room_id = ? AND sender_id <> ?", messageIDs, roomID, readerID).
		Update("read", true).Error
	return translate(err)
}

// ListReceipts returns the receipts for a message with reader usernames.
func (s *Store) ListReceipts(ctx context.Context, messageID uint) ([]storage.ReadReceipt, error) {
	var rows []receiptRow
	err := s.db.WithContext(ctx).Model(&readReceiptModel{}).
		Select("read_receipts.*, users.username AS reader_name").
		Joins("JOIN users ON users.id = read_receipts.reader_id").
		Where("read_receipts.message_id = ?", messageID).
		Order("read_receipts.created_at").
		Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	receipts := make([]storage.ReadReceipt, 0, len(rows))
	for _, r := range rows {
		receipts = append(receipts, storage.ReadReceipt{
			MessageID:  r.MessageID,
			ReaderID:   r.ReaderID,
			ReaderName: r.ReaderName,
			CreatedAt:  r.CreatedAt,
		})
	}
	return receipts, nil
}

type messageRow struct {
	ID         uint
	RoomID     uint
	SenderID   uint
	SenderName string
	Text       string
	Read       bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r messageRow) toMessage() storage.Message {
	return storage.Message{
		ID:         r.ID,
		RoomID:     r.RoomID,
		SenderID:   r.SenderID,
		SenderName: r.SenderName,
		Text:       r.Text,
		Read:       r.Read,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

type receiptRow struct {
	MessageID  uint
	ReaderID   uint
	ReaderName string
	CreatedAt  time.Time
}

func toUser(m userModel) *storage.User {
	return &storage.User{
		ID:          m.ID,
		Username:    m.Username,
		DisplayName: m.DisplayName,
		Password:    m.Password,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toRoom(m roomModel) *storage.Room {
	room := &storage.Room{
		ID:        m.ID,
		Kind:      storage.RoomKind(m.Kind),
		CreatedAt: m.CreatedAt,
	}
	if m.MemberLowID != nil {
		room.MemberLowID = *m.MemberLowID
	}
	if m.MemberHighID != nil {
		room.MemberHighID = *m.MemberHighID
	}
	if m.GroupID != nil {
		room.GroupID = *m.GroupID
	}
	return room
}
