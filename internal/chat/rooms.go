package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/campuslink/campuschat/internal/storage"
)

// Resolver maps identities and group references to rooms, creating them
// lazily. Private-pair uniqueness is enforced by the store's composite
// unique index; a lost creation race falls back to the winner's row.
type Resolver struct {
	store storage.Store
}

// NewResolver constructs a resolver over the given store.
func NewResolver(store storage.Store) *Resolver {
	return &Resolver{store: store}
}

// ResolvePrivate returns the room for the unordered pair (a, b),
// creating it on first contact. Calls with the arguments swapped, or
// racing calls from both sides, settle on the same room.
func (r *Resolver) ResolvePrivate(ctx context.Context, a, b uint) (*storage.Room, error) {
	if a == b {
		return nil, fmt.Errorf("%w: cannot open a private room with yourself", ErrValidation)
	}
	low, high := a, b
	if low > high {
		low, high = high, low
	}

	room, err := r.store.GetPrivateRoom(ctx, low, high)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup private room: %w", err)
	}

	room, err = r.store.CreatePrivateRoom(ctx, low, high)
	if err == nil {
		return room, nil
	}
	if errors.Is(err, storage.ErrDuplicate) {
		return r.store.GetPrivateRoom(ctx, low, high)
	}
	return nil, fmt.Errorf("create private room: %w", err)
}

// ResolveGroup returns the room mirroring the group, creating it
// lazily. Requesters outside the group are rejected.
func (r *Resolver) ResolveGroup(ctx context.Context, groupID, requesterID uint) (*storage.Room, error) {
	member, err := r.store.IsGroupMember(ctx, groupID, requesterID)
	if err != nil {
		return nil, fmt.Errorf("check group membership: %w", err)
	}
	if !member {
		return nil, fmt.Errorf("%w: user %d is not in group %d", ErrUnauthorized, requesterID, groupID)
	}

	room, err := r.store.GetGroupRoom(ctx, groupID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup group room: %w", err)
	}

	room, err = r.store.CreateGroupRoom(ctx, groupID)
	if err == nil {
		return room, nil
	}
	if errors.Is(err, storage.ErrDuplicate) {
		return r.store.GetGroupRoom(ctx, groupID)
	}
	return nil, fmt.Errorf("create group room: %w", err)
}

// IsMember reports whether the identity belongs to the room.
func (r *Resolver) IsMember(ctx context.Context, room *storage.Room, userID uint) (bool, error) {
	switch room.Kind {
	case storage.RoomPrivate:
		return userID == room.MemberLowID || userID == room.MemberHighID, nil
	case storage.RoomGroup:
		return r.store.IsGroupMember(ctx, room.GroupID, userID)
	default:
		return false, fmt.Errorf("unknown room kind %q", room.Kind)
	}
}

// Members returns the identities belonging to the room.
func (r *Resolver) Members(ctx context.Context, room *storage.Room) ([]storage.User, error) {
	switch room.Kind {
	case storage.RoomPrivate:
		low, err := r.store.GetUser(ctx, room.MemberLowID)
		if err != nil {
			return nil, err
		}
		high, err := r.store.GetUser(ctx, room.MemberHighID)
		if err != nil {
			return nil, err
		}
		return []storage.User{*low, *high}, nil
	case storage.RoomGroup:
		return r.store.GroupMembers(ctx, room.GroupID)
	default:
		return nil, fmt.Errorf("unknown room kind %q", room.Kind)
	}
}
