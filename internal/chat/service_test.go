package chat

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuslink/campuschat/internal/storage"
)

type sinkCall struct {
	message    storage.Message
	recipients []storage.User
}

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
	ch    chan sinkCall
}

func newFakeSink() *fakeSink {
	return &fakeSink{ch: make(chan sinkCall, 16)}
}

func (s *fakeSink) Notify(_ context.Context, msg storage.Message, recipients []storage.User) error {
	call := sinkCall{message: msg, recipients: recipients}
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	s.ch <- call
	return nil
}

func (s *fakeSink) wait(t *testing.T) sinkCall {
	t.Helper()
	select {
	case call := <-s.ch:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("notification sink was not invoked")
		return sinkCall{}
	}
}

type fixture struct {
	store    storage.Store
	registry *Registry
	presence *PresenceTracker
	resolver *Resolver
	sink     *fakeSink
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newTestStore(t)
	registry := NewRegistry()
	presence := NewPresenceTracker()
	resolver := NewResolver(store)
	sink := newFakeSink()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		store:    store,
		registry: registry,
		presence: presence,
		resolver: resolver,
		sink:     sink,
		svc:      NewService(store, registry, presence, resolver, sink, log),
	}
}

func TestSendMessageGroupBroadcast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := createUser(t, f.store, "xavier")
	y := createUser(t, f.store, "yann")
	z := createUser(t, f.store, "zoe")
	group := createGroup(t, f.store, "systems", x.ID, y.ID, z.ID)
	room, err := f.resolver.ResolveGroup(ctx, group.ID, x.ID)
	require.NoError(t, err)

	connX := &fakeConn{}
	connY := &fakeConn{}
	connZ := &fakeConn{}
	f.registry.Connect(room.ID, x.ID, connX)
	f.registry.Connect(room.ID, y.ID, connY)
	f.registry.Connect(room.ID, z.ID, connZ)
	f.presence.SetOnline(x.ID)
	f.presence.SetOnline(y.ID)
	f.presence.SetOnline(z.ID)

	msg, err := f.svc.SendMessage(ctx, room, x, "hi")
	require.NoError(t, err)
	require.NotZero(t, msg.ID)

	// Exactly one row persisted, authored by the sender.
	stored, err := f.store.ListMessages(ctx, room.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, x.ID, stored[0].SenderID)

	// Each connected peer got exactly one frame; the sender got none.
	assert.Equal(t, 0, connX.received())
	assert.Equal(t, 1, connY.received())
	assert.Equal(t, 1, connZ.received())
}

func TestSendMessageRejectsNonMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := createUser(t, f.store, "xavier")
	y := createUser(t, f.store, "yann")
	outsider := createUser(t, f.store, "oscar")
	group := createGroup(t, f.store, "systems", x.ID, y.ID)
	room, err := f.resolver.ResolveGroup(ctx, group.ID, x.ID)
	require.NoError(t, err)

	_, err = f.svc.SendMessage(ctx, room, outsider, "let me in")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSendMessageNotifiesOfflineMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := createUser(t, f.store, "xavier")
	y := createUser(t, f.store, "yann")
	z := createUser(t, f.store, "zoe")
	group := createGroup(t, f.store, "systems", x.ID, y.ID, z.ID)
	room, err := f.resolver.ResolveGroup(ctx, group.ID, x.ID)
	require.NoError(t, err)

	// Only Y is online; Z should be handed to the sink.
	f.presence.SetOnline(x.ID)
	f.presence.SetOnline(y.ID)

	_, err = f.svc.SendMessage(ctx, room, x, "hi")
	require.NoError(t, err)

	call := f.sink.wait(t)
	require.Len(t, call.recipients, 1)
	assert.Equal(t, z.ID, call.recipients[0].ID)
}

func TestEditMessageOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := createUser(t, f.store, "xavier")
	y := createUser(t, f.store, "yann")
	room, err := f.resolver.ResolvePrivate(ctx, x.ID, y.ID)
	require.NoError(t, err)

	msg, err := f.svc.SendMessage(ctx, room, x, "original")
	require.NoError(t, err)

	// A non-sender may not edit; the row stays untouched.
	_, err = f.svc.EditMessage(ctx, y.ID, msg.ID, "hijacked")
	assert.ErrorIs(t, err, ErrUnauthorized)

	unchanged, err := f.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", unchanged.Text)

	// The sender may.
	peer := &fakeConn{}
	f.registry.Connect(room.ID, y.ID, peer)

	updated, err := f.svc.EditMessage(ctx, x.ID, msg.ID, "revised")
	require.NoError(t, err)
	assert.Equal(t, "revised", updated.Text)
	assert.Equal(t, 1, peer.received())
}

func TestDeleteMessageOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := createUser(t, f.store, "xavier")
	y := createUser(t, f.store, "yann")
	room, err := f.resolver.ResolvePrivate(ctx, x.ID, y.ID)
	require.NoError(t, err)

	msg, err := f.svc.SendMessage(ctx, room, x, "to be removed")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteMessage(ctx, y.ID, msg.ID), ErrUnauthorized)
	require.NoError(t, f.svc.DeleteMessage(ctx, x.ID, msg.ID))

	_, err = f.store.GetMessage(ctx, msg.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.ErrorIs(t, f.svc.DeleteMessage(ctx, x.ID, msg.ID), ErrNotFound)
}

func TestMarkReadGroupIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := createUser(t, f.store, "xavier")
	y := createUser(t, f.store, "yann")
	group := createGroup(t, f.store, "systems", x.ID, y.ID)
	room, err := f.resolver.ResolveGroup(ctx, group.ID, x.ID)
	require.NoError(t, err)

	ids := make([]uint, 0, 5)
	for i := 0; i < 5; i++ {
		msg, err := f.svc.SendMessage(ctx, room, x, "msg")
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	require.NoError(t, f.svc.MarkRead(ctx, room, y.ID, ids))
	require.NoError(t, f.svc.MarkRead(ctx, room, y.ID, ids))

	for _, id := range ids {
		receipts, err := f.store.ListReceipts(ctx, id)
		require.NoError(t, err)
		assert.Len(t, receipts, 1)
	}
}

func TestMarkReadPrivateSkipsOwnMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := createUser(t, f.store, "xavier")
	y := createUser(t, f.store, "yann")
	room, err := f.resolver.ResolvePrivate(ctx, x.ID, y.ID)
	require.NoError(t, err)

	mine, err := f.svc.SendMessage(ctx, room, x, "from x")
	require.NoError(t, err)
	theirs, err := f.svc.SendMessage(ctx, room, y, "from y")
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkRead(ctx, room, x.ID, []uint{mine.ID, theirs.ID}))

	got, err := f.store.GetMessage(ctx, mine.ID)
	require.NoError(t, err)
	assert.False(t, got.Read, "reader must not mark their own message")

	got, err = f.store.GetMessage(ctx, theirs.ID)
	require.NoError(t, err)
	assert.True(t, got.Read)
}

func TestHistoryMarksFetchedAsRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := createUser(t, f.store, "xavier")
	y := createUser(t, f.store, "yann")
	room, err := f.resolver.ResolvePrivate(ctx, x.ID, y.ID)
	require.NoError(t, err)

	sent, err := f.svc.SendMessage(ctx, room, x, "unread until fetched")
	require.NoError(t, err)

	messages, err := f.svc.History(ctx, room, y, 0, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	got, err := f.store.GetMessage(ctx, sent.ID)
	require.NoError(t, err)
	assert.True(t, got.Read)
}

func TestReceiptsSenderOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := createUser(t, f.store, "xavier")
	y := createUser(t, f.store, "yann")
	room, err := f.resolver.ResolvePrivate(ctx, x.ID, y.ID)
	require.NoError(t, err)

	msg, err := f.svc.SendMessage(ctx, room, x, "seen yet?")
	require.NoError(t, err)

	_, err = f.svc.Receipts(ctx, y.ID, msg.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	receipts, err := f.svc.Receipts(ctx, x.ID, msg.ID)
	require.NoError(t, err)
	assert.Empty(t, receipts)

	require.NoError(t, f.svc.MarkRead(ctx, room, y.ID, []uint{msg.ID}))

	receipts, err = f.svc.Receipts(ctx, x.ID, msg.ID)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, y.ID, receipts[0].ReaderID)
}

func TestBroadcastTypingExcludesTypist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	x := createUser(t, f.store, "xavier")
	y := createUser(t, f.store, "yann")
	room, err := f.resolver.ResolvePrivate(ctx, x.ID, y.ID)
	require.NoError(t, err)

	connX := &fakeConn{}
	connY := &fakeConn{}
	f.registry.Connect(room.ID, x.ID, connX)
	f.registry.Connect(room.ID, y.ID, connY)

	f.svc.BroadcastTyping(room, x, true)

	assert.Equal(t, 0, connX.received())
	assert.Equal(t, 1, connY.received())
}
