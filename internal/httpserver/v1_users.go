package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"vartasetu-backend/internal/bus"
	"vartasetu-backend/internal/storage"
)

func (api *v1API) handleUserSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	parts := splitPath(rest)

	switch {
	case len(parts) == 1 && parts[0] == "status":
		if r.Method != http.MethodPut {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleUpdateStatus(w, r)
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleGetUser(w, r, parts[0])
	default:
		writeAPIError(w, ErrCodeNotFound, "not found")
	}
}

func (api *v1API) handleGetUser(w http.ResponseWriter, r *http.Request, targetID string) {
	if api.requireUser(w, r) == "" {
		return
	}

	user, err := api.store.GetUserByID(r.Context(), targetID)
	if errors.Is(err, storage.ErrNotFound) {
		writeAPIError(w, ErrCodeUserNotFound, "user not found")
		return
	}
	if err != nil {
		api.logger.Error("get user failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]userItem{"user": toUserItem(user)})
}

func (api *v1API) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, ErrCodeValidation, "invalid JSON body")
		return
	}

	err := api.store.UpdateUserStatus(r.Context(), userID, req.Status, nowMs())
	switch {
	case errors.Is(err, storage.ErrInvalidState):
		writeAPIError(w, ErrCodeValidation, "invalid status")
		return
	case errors.Is(err, storage.ErrNotFound):
		writeAPIError(w, ErrCodeUserNotFound, "user not found")
		return
	case err != nil:
		api.logger.Error("update status failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	user, err := api.store.GetUserByID(r.Context(), userID)
	if err != nil {
		api.logger.Error("get user failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	api.events.Publish(bus.New(bus.KindPresenceUpdated, toUserItem(user)))
	writeJSON(w, http.StatusOK, map[string]userItem{"user": toUserItem(user)})
}

func (api *v1API) handleSetTyping(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
		return
	}
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	var req struct {
		PeerID string `json:"peerId"`
		Typing bool   `json:"typing"`
	}
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.PeerID) == "" {
		writeAPIError(w, ErrCodeValidation, "peerId is required")
		return
	}

	now := nowMs()
	if err := api.store.SetTyping(r.Context(), userID, req.PeerID, req.Typing, now); err != nil {
		api.logger.Error("set typing failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	api.events.Publish(bus.New(bus.KindPresenceTyping, storage.TypingStateRow{
		UserID:      userID,
		PeerID:      req.PeerID,
		Typing:      req.Typing,
		UpdatedAtMs: now,
	}, req.PeerID))

	writeJSON(w, http.StatusOK, map[string]bool{"typing": req.Typing})
}

func (api *v1API) handleGetTyping(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
		return
	}
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	parts := splitPath(strings.TrimPrefix(r.URL.Path, "/v1/typing/"))
	if len(parts) != 1 {
		writeAPIError(w, ErrCodeNotFound, "not found")
		return
	}

	// Whether the peer is typing toward the caller.
	typing, err := api.store.IsTyping(r.Context(), parts[0], userID)
	if err != nil {
		api.logger.Error("get typing failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"typing": typing})
}
