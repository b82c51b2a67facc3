package sqlite

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuslink/campuschat/internal/storage"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedUser(t *testing.T, store *Store, username string) *storage.User {
	t.Helper()
	user := &storage.User{Username: username, DisplayName: username, Password: "hash"}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

func TestUserUniqueness(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	seedUser(t, store, "alice")
	err := store.CreateUser(ctx, &storage.User{Username: "alice", Password: "hash"})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	_, err = store.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPrivateRoomPairUniqueness(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	a := seedUser(t, store, "alice")
	b := seedUser(t, store, "bob")

	room, err := store.CreatePrivateRoom(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.RoomPrivate, room.Kind)

	_, err = store.CreatePrivateRoom(ctx, a.ID, b.ID)
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	found, err := store.GetPrivateRoom(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, room.ID, found.ID)
}

func TestCreatePrivateRoomRejectsUnnormalizedPair(t *testing.T) {
	store := newStore(t)
	a := seedUser(t, store, "alice")
	b := seedUser(t, store, "bob")

	_, err := store.CreatePrivateRoom(context.Background(), b.ID, a.ID)
	assert.Error(t, err)
}

func TestGroupRoomUniqueness(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	a := seedUser(t, store, "alice")
	group := &storage.Group{Name: "seminar"}
	require.NoError(t, store.CreateGroup(ctx, group, []uint{a.ID}))

	room, err := store.CreateGroupRoom(ctx, group.ID)
	require.NoError(t, err)

	_, err = store.CreateGroupRoom(ctx, group.ID)
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	found, err := store.GetGroupRoom(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, room.ID, found.ID)

	// Two group rooms must not collide on the NULL pair columns.
	other := &storage.Group{Name: "lab"}
	require.NoError(t, store.CreateGroup(ctx, other, []uint{a.ID}))
	_, err = store.CreateGroupRoom(ctx, other.ID)
	require.NoError(t, err)
}

func TestGroupMembership(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	a := seedUser(t, store, "alice")
	b := seedUser(t, store, "bob")
	c := seedUser(t, store, "carol")

	group := &storage.Group{Name: "seminar"}
	require.NoError(t, store.CreateGroup(ctx, group, []uint{a.ID, b.ID}))

	members, err := store.GroupMembers(ctx, group.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	ok, err := store.IsGroupMember(ctx, group.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.IsGroupMember(ctx, group.ID, c.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMessageCRUD(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	a := seedUser(t, store, "alice")
	b := seedUser(t, store, "bob")
	room, err := store.CreatePrivateRoom(ctx, a.ID, b.ID)
	require.NoError(t, err)

	msg := &storage.Message{RoomID: room.ID, SenderID: a.ID, Text: "hello"}
	require.NoError(t, store.CreateMessage(ctx, msg))
	require.NotZero(t, msg.ID)

	got, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, "alice", got.SenderName)
	assert.False(t, got.Read)

	updated, err := store.UpdateMessageText(ctx, msg.ID, "edited")
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Text)
	assert.False(t, updated.UpdatedAt.Before(got.UpdatedAt))

	require.NoError(t, store.DeleteMessage(ctx, msg.ID))
	_, err = store.GetMessage(ctx, msg.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.DeleteMessage(ctx, msg.ID), storage.ErrNotFound)

	_, err = store.UpdateMessageText(ctx, msg.ID, "gone")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListMessagesPagination(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	a := seedUser(t, store, "alice")
	b := seedUser(t, store, "bob")
	room, err := store.CreatePrivateRoom(ctx, a.ID, b.ID)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		msg := &storage.Message{RoomID: room.ID, SenderID: a.ID, Text: fmt.Sprintf("msg %d", i)}
		require.NoError(t, store.CreateMessage(ctx, msg))
	}

	page, err := store.ListMessages(ctx, room.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	// Newest first.
	assert.Equal(t, "msg 4", page[0].Text)
	assert.Equal(t, "msg 3", page[1].Text)

	page, err = store.ListMessages(ctx, room.ID, 4, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "msg 0", page[0].Text)
}

func TestReceiptsIdempotentAndScoped(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	a := seedUser(t, store, "alice")
	b := seedUser(t, store, "bob")
	group := &storage.Group{Name: "seminar"}
	require.NoError(t, store.CreateGroup(ctx, group, []uint{a.ID, b.ID}))
	room, err := store.CreateGroupRoom(ctx, group.ID)
	require.NoError(t, err)
	otherRoom, err := store.CreatePrivateRoom(ctx, a.ID, b.ID)
	require.NoError(t, err)

	msg := &storage.Message{RoomID: room.ID, SenderID: a.ID, Text: "hi"}
	require.NoError(t, store.CreateMessage(ctx, msg))
	foreign := &storage.Message{RoomID: otherRoom.ID, SenderID: a.ID, Text: "elsewhere"}
	require.NoError(t, store.CreateMessage(ctx, foreign))

	// Repeat marking and a foreign-room id leave exactly one receipt.
	ids := []uint{msg.ID, foreign.ID}
	require.NoError(t, store.CreateReceipts(ctx, room.ID, b.ID, ids))
	require.NoError(t, store.CreateReceipts(ctx, room.ID, b.ID, ids))

	receipts, err := store.ListReceipts(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, b.ID, receipts[0].ReaderID)
	assert.Equal(t, "bob", receipts[0].ReaderName)

	receipts, err = store.ListReceipts(ctx, foreign.ID)
	require.NoError(t, err)
	assert.Empty(t, receipts)
}

func TestSetReadFlagsExcludesReaderOwnMessages(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	a := seedUser(t, store, "alice")
	b := seedUser(t, store, "bob")
	room, err := store.CreatePrivateRoom(ctx, a.ID, b.ID)
	require.NoError(t, err)

	fromA := &storage.Message{RoomID: room.ID, SenderID: a.ID, Text: "from a"}
	require.NoError(t, store.CreateMessage(ctx, fromA))
	fromB := &storage.Message{RoomID: room.ID, SenderID: b.ID, Text: "from b"}
	require.NoError(t, store.CreateMessage(ctx, fromB))

	require.NoError(t, store.SetReadFlags(ctx, room.ID, a.ID, []uint{fromA.ID, fromB.ID}))

	got, err := store.GetMessage(ctx, fromA.ID)
	require.NoError(t, err)
	assert.False(t, got.Read)

	got, err = store.GetMessage(ctx, fromB.ID)
	require.NoError(t, err)
	assert.True(t, got.Read)
}
