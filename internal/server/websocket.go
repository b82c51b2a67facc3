package server

import (
	"errors"
	"net/http"

	"github.com/campuslink/campuschat/internal/chat"
	"github.com/campuslink/campuschat/internal/storage"
)

// handlePrivateSocket opens a socket into the private room shared with
// the peer in the path, creating the room on first contact. The token
// is verified before the upgrade; the registry sees only verified
// identities.
func (a *App) handlePrivateSocket(w http.ResponseWriter, r *http.Request) {
	user, ok := a.socketUser(w, r)
	if !ok {
		return
	}

	peerID, err := pathID(r, "peerID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid peer id")
		return
	}
	if _, err := a.store.GetUser(r.Context(), peerID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "peer not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	room, err := a.service.Resolver().ResolvePrivate(r.Context(), user.ID, peerID)
	if err != nil {
		respondChatError(w, err)
		return
	}

	a.serveSocket(w, r, room, user)
}

// handleGroupSocket opens a socket into a group's room. Non-members are
// rejected before any registry mutation happens.
func (a *App) handleGroupSocket(w http.ResponseWriter, r *http.Request) {
	user, ok := a.socketUser(w, r)
	if !ok {
		return
	}

	groupID, err := pathID(r, "groupID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid group id")
		return
	}

	room, err := a.service.Resolver().ResolveGroup(r.Context(), groupID, user.ID)
	if err != nil {
		respondChatError(w, err)
		return
	}

	a.serveSocket(w, r, room, user)
}

// socketUser authenticates the upgrade request via its token query
// parameter. Browsers cannot set headers on websocket dials.
func (a *App) socketUser(w http.ResponseWriter, r *http.Request) (*storage.User, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return nil, false
	}
	user, err := a.authenticate(r.Context(), token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return nil, false
	}
	return user, true
}

func (a *App) serveSocket(w http.ResponseWriter, r *http.Request, room *storage.Room, user *storage.User) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("websocket upgrade", "error", err)
		return
	}

	session := chat.NewSession(conn, room, user, a.service, a.registry, a.presence, chat.SessionConfig{
		WriteTimeout:  a.cfg.WriteTimeout,
		PingInterval:  a.cfg.PingInterval,
		PongTimeout:   a.cfg.PongTimeout,
		MaxFrameBytes: a.cfg.MaxFrameBytes,
	}, a.log)
	session.Run(r.Context())
}
