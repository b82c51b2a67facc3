package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campuslink/campuschat/internal/auth"
	"github.com/campuslink/campuschat/internal/chat"
	"github.com/campuslink/campuschat/internal/storage"
)

type contextKey string

const userContextKey contextKey = "user"

type registerRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=32"`
	DisplayName string `json:"display_name" validate:"max=128"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type createGroupRequest struct {
	Name      string `json:"name" validate:"required,max=128"`
	MemberIDs []uint `json:"member_ids" validate:"required,min=1"`
}

type editMessageRequest struct {
	Text string `json:"text" validate:"required,max=4096"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	UserID    uint   `json:"user_id"`
}

type userResponse struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type messageResponse struct {
	ID        uint      `json:"id"`
	RoomID    uint      `json:"room_id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type receiptResponse struct {
	MessageID uint      `json:"message_id"`
	ReaderID  uint      `json:"reader_id"`
	Reader    string    `json:"reader"`
	CreatedAt time.Time `json:"created_at"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Status: "error", Message: message})
}

// respondChatError maps the chat error taxonomy onto HTTP statuses.
func respondChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrUnauthorized):
		respondError(w, http.StatusForbidden, "operation not allowed")
	case errors.Is(err, chat.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *App) decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return a.validate.Struct(dst)
}

// requireUser authenticates the Bearer token and stores the account on
// the request context.
func (a *App) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := a.authenticate(r.Context(), token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}

// authenticate resolves a token string to the verified account.
func (a *App) authenticate(ctx context.Context, token string) (*storage.User, error) {
	claims, err := auth.ParseToken(a.cfg.JWT, token)
	if err != nil {
		return nil, err
	}
	return a.store.GetUser(ctx, claims.UserID)
}

func requestUser(r *http.Request) *storage.User {
	user, _ := r.Context().Value(userContextKey).(*storage.User)
	return user
}

func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := a.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid registration payload")
		return
	}

	username := strings.TrimSpace(req.Username)
	if _, err := a.store.GetUserByUsername(r.Context(), username); err == nil {
		respondError(w, http.StatusConflict, "username already exists")
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user := &storage.User{
		Username:    username,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Password:    hashed,
	}
	if err := a.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			respondError(w, http.StatusConflict, "username already exists")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusCreated, userResponse{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
	})
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := a.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid login payload")
		return
	}

	user, err := a.store.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := auth.ComparePassword(user.Password, req.Password); err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	expiresAt := time.Now().Add(a.cfg.JWT.Expiration)
	token, err := auth.NewToken(a.cfg.JWT, user.ID, user.Username)
	if err != nil {
		a.log.Error("token issue", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
		UserID:    user.ID,
	})
}

func (a *App) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := a.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid group payload")
		return
	}

	// The creator is always a member.
	user := requestUser(r)
	memberIDs := req.MemberIDs
	found := false
	for _, id := range memberIDs {
		if id == user.ID {
			found = true
			break
		}
	}
	if !found {
		memberIDs = append(memberIDs, user.ID)
	}

	group := &storage.Group{Name: strings.TrimSpace(req.Name)}
	if err := a.store.CreateGroup(r.Context(), group, memberIDs); err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"id":         group.ID,
		"name":       group.Name,
		"created_at": group.CreatedAt,
	})
}

func (a *App) handleGroupMembers(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathID(r, "groupID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid group id")
		return
	}

	user := requestUser(r)
	member, err := a.store.IsGroupMember(r.Context(), groupID, user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !member {
		respondError(w, http.StatusForbidden, "not a group member")
		return
	}

	members, err := a.store.GroupMembers(r.Context(), groupID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]userResponse, 0, len(members))
	for _, m := range members {
		out = append(out, userResponse{ID: m.ID, Username: m.Username, DisplayName: m.DisplayName})
	}
	respondJSON(w, http.StatusOK, out)
}

// handleHistory serves a page of room history. Fetching marks the
// returned messages from other senders as read for the requester.
func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	roomID, err := pathID(r, "roomID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid room id")
		return
	}

	room, err := a.store.GetRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "room not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", a.cfg.HistoryPageSize)
	if limit <= 0 || limit > a.cfg.HistoryPageSize {
		limit = a.cfg.HistoryPageSize
	}
	if skip < 0 {
		skip = 0
	}

	messages, err := a.service.History(r.Context(), room, requestUser(r), skip, limit)
	if err != nil {
		respondChatError(w, err)
		return
	}

	out := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, toMessageResponse(m))
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *App) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	messageID, err := pathID(r, "messageID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	var req editMessageRequest
	if err := a.decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid edit payload")
		return
	}

	msg, err := a.service.EditMessage(r.Context(), requestUser(r).ID, messageID, req.Text)
	if err != nil {
		respondChatError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toMessageResponse(*msg))
}

func (a *App) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID, err := pathID(r, "messageID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	if err := a.service.DeleteMessage(r.Context(), requestUser(r).ID, messageID); err != nil {
		respondChatError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleReceipts(w http.ResponseWriter, r *http.Request) {
	messageID, err := pathID(r, "messageID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid message id")
		return
	}

	receipts, err := a.service.Receipts(r.Context(), requestUser(r).ID, messageID)
	if err != nil {
		respondChatError(w, err)
		return
	}

	out := make([]receiptResponse, 0, len(receipts))
	for _, receipt := range receipts {
		out = append(out, receiptResponse{
			MessageID: receipt.MessageID,
			ReaderID:  receipt.ReaderID,
			Reader:    receipt.ReaderName,
			CreatedAt: receipt.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func toMessageResponse(m storage.Message) messageResponse {
	return messageResponse{
		ID:        m.ID,
		RoomID:    m.RoomID,
		Sender:    m.SenderName,
		Text:      m.Text,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func pathID(r *http.Request, name string) (uint, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
