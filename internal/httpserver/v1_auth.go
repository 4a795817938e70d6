package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"vartasetu-backend/internal/identity"
	"vartasetu-backend/internal/storage"
)

func (api *v1API) handleAuth(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/auth/")
	parts := splitPath(rest)
	if len(parts) != 1 {
		writeAPIError(w, ErrCodeNotFound, "not found")
		return
	}

	switch parts[0] {
	case "register":
		api.requirePost(w, r, api.handleRegister)
	case "login":
		api.requirePost(w, r, api.handleLogin)
	case "logout":
		api.requirePost(w, r, api.handleLogout)
	case "exchange":
		api.requirePost(w, r, api.handleExchange)
	case "me":
		if r.Method != http.MethodGet {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleMe(w, r)
	default:
		writeAPIError(w, ErrCodeNotFound, "not found")
	}
}

func (api *v1API) requirePost(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request)) {
	if r.Method != http.MethodPost {
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
		return
	}
	next(w, r)
}

type authResponse struct {
	Token       string   `json:"token"`
	ExpiresAtMs int64    `json:"expiresAtMs"`
	User        userItem `json:"user"`
}

func (api *v1API) issueToken(w http.ResponseWriter, r *http.Request, user storage.UserRow) {
	now := nowMs()
	var deviceInfo *string
	if ua := r.Header.Get("User-Agent"); ua != "" {
		deviceInfo = &ua
	}

	token, err := api.store.CreateAuthToken(r.Context(), user.ID, deviceInfo, now, now+api.tokenTTL.Milliseconds())
	if err != nil {
		api.logger.Error("create auth token failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}
	if err := api.store.SetUserOnline(r.Context(), user.ID, true, now); err != nil {
		api.logger.Warn("set online failed", "userID", user.ID, "error", err)
	}
	user.Online = true

	writeJSON(w, http.StatusOK, authResponse{
		Token:       token.Token,
		ExpiresAtMs: token.ExpiresAtMs,
		User:        toUserItem(user),
	})
}

func (api *v1API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, ErrCodeValidation, "invalid JSON body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	switch {
	case req.Name == "":
		writeAPIError(w, ErrCodeValidation, "name is required")
		return
	case !strings.Contains(req.Email, "@"):
		writeAPIError(w, ErrCodeValidation, "a valid email is required")
		return
	case len(req.Password) < 8:
		writeAPIError(w, ErrCodeValidation, "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		api.logger.Error("hash password failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	user, err := api.store.CreateUser(r.Context(), req.Name, req.Email, string(hash), nowMs())
	if errors.Is(err, storage.ErrEmailExists) {
		writeAPIError(w, ErrCodeEmailExists, "email is already registered")
		return
	}
	if err != nil {
		api.logger.Error("create user failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	api.issueToken(w, r, user)
}

func (api *v1API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, ErrCodeValidation, "invalid JSON body")
		return
	}

	user, err := api.store.GetUserByEmail(r.Context(), req.Email)
	if errors.Is(err, storage.ErrNotFound) {
		writeAPIError(w, ErrCodeInvalidCredentials, "invalid email or password")
		return
	}
	if err != nil {
		api.logger.Error("get user failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	// Accounts provisioned through an identity exchange have no password.
	if user.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeAPIError(w, ErrCodeInvalidCredentials, "invalid email or password")
		return
	}

	api.issueToken(w, r, user)
}

func (api *v1API) handleExchange(w http.ResponseWriter, r *http.Request) {
	if api.provider == nil {
		writeAPIError(w, ErrCodeCredentialInvalid, "identity exchange is not configured")
		return
	}

	var req struct {
		Credential string `json:"credential"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, ErrCodeValidation, "invalid JSON body")
		return
	}

	profile, err := api.provider.Exchange(req.Credential)
	if errors.Is(err, identity.ErrInvalidCredential) {
		writeAPIError(w, ErrCodeCredentialInvalid, "invalid credential")
		return
	}
	if err != nil {
		api.logger.Error("identity exchange failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	var avatarURL *string
	if profile.Picture != "" {
		avatarURL = &profile.Picture
	}
	user, err := api.store.UpsertUserByEmail(r.Context(), profile.Name, profile.Email, avatarURL, nowMs())
	if err != nil {
		api.logger.Error("upsert user failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	api.issueToken(w, r, user)
}

func (api *v1API) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	if token := extractTokenFromHeader(r); token != "" {
		if err := api.store.DeleteToken(r.Context(), token); err != nil && !errors.Is(err, storage.ErrTokenInvalid) {
			api.logger.Warn("delete token failed", "error", err)
		}
	}
	if err := api.store.SetUserOnline(r.Context(), userID, false, nowMs()); err != nil {
		api.logger.Warn("set offline failed", "userID", userID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (api *v1API) handleMe(w http.ResponseWriter, r *http.Request) {
	userID := api.requireUser(w, r)
	if userID == "" {
		return
	}

	user, err := api.store.GetUserByID(r.Context(), userID)
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
