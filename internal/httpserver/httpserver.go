package httpserver

import (
	"context"
	"net/http"
	"time"

	"log/slog"

	"vartasetu-backend/internal/bus"
	"vartasetu-backend/internal/identity"
	"vartasetu-backend/internal/storage"
	"vartasetu-backend/internal/ws"
)

type Store interface {
	Ready(ctx context.Context) error

	CreateUser(ctx context.Context, name, email, passwordHash string, nowMs int64) (storage.UserRow, error)
	UpsertUserByEmail(ctx context.Context, name, email string, avatarURL *string, nowMs int64) (storage.UserRow, error)
	GetUserByID(ctx context.Context, id string) (storage.UserRow, error)
	GetUserByEmail(ctx context.Context, email string) (storage.UserRow, error)
	SetUserOnline(ctx context.Context, userID string, online bool, nowMs int64) error
	UpdateUserStatus(ctx context.Context, userID, status string, nowMs int64) error
	SetTyping(ctx context.Context, userID, peerID string, typing bool, nowMs int64) error
	IsTyping(ctx context.Context, userID, peerID string) (bool, error)

	CreateAuthToken(ctx context.Context, userID string, deviceInfo *string, nowMs, expiresAtMs int64) (storage.AuthTokenRow, error)
	ValidateToken(ctx context.Context, token string, nowMs int64) (string, error)
	DeleteToken(ctx context.Context, token string) error

	SendContactRequest(ctx context.Context, fromUserID, toEmail string, nowMs int64) (storage.ContactRow, storage.ContactRow, error)
	AcceptContact(ctx context.Context, userID, contactID string, nowMs int64) error
	RemoveContactPair(ctx context.Context, userID, contactID string) error
	BlockContact(ctx context.Context, userID, contactID string, nowMs int64) error
	UnblockContact(ctx context.Context, userID, contactID string, nowMs int64) error
	DeleteContact(ctx context.Context, userID, contactID string) error
	ListContacts(ctx context.Context, userID, status string) ([]storage.ContactRow, error)
	GetContact(ctx context.Context, userID, contactID string) (storage.ContactRow, error)

	CreateMessage(ctx context.Context, msg storage.MessageRow) (storage.MessageRow, error)
	GetMessageByID(ctx context.Context, id string) (storage.MessageRow, error)
	ListConversation(ctx context.Context, userA, userB string) ([]storage.MessageRow, error)
	ReactionsForConversation(ctx context.Context, userA, userB string) ([]storage.ReactionRow, error)
	EditMessage(ctx context.Context, messageID, editorID, text string, nowMs int64) (storage.MessageRow, error)
	DeleteMessage(ctx context.Context, messageID, requesterID string, nowMs int64) (storage.MessageRow, error)
	DeleteConversation(ctx context.Context, userID, peerID string, nowMs int64) error
	MarkConversationRead(ctx context.Context, userID, peerID string, nowMs int64) (int64, error)
	ToggleReaction(ctx context.Context, messageID, userID, emoji string, nowMs int64) (bool, error)

	CreateCall(ctx context.Context, callerID, receiverID, callType, offer string, nowMs int64) (storage.CallRow, error)
	GetCallByID(ctx context.Context, id string) (storage.CallRow, error)
	AnswerCall(ctx context.Context, callID, userID, answer string, nowMs int64) (storage.CallRow, error)
	DeclineCall(ctx context.Context, callID, userID string, nowMs int64) (storage.CallRow, error)
	EndCall(ctx context.Context, callID, userID string, nowMs int64) (storage.CallRow, error)
	AppendIceCandidate(ctx context.Context, callID, senderID, candidate string, nowMs int64) (storage.IceCandidateRow, error)
	ListIceCandidatesAfter(ctx context.Context, callID string, afterSeq int64, forUserID string) ([]storage.IceCandidateRow, error)
}

type HandlerOptions struct {
	IdentityProvider identity.Provider
	TokenTTL         time.Duration
}

func NewHandler(logger *slog.Logger, store Store, wsManager *ws.Manager, events *bus.Bus, opts HandlerOptions) http.Handler {
	mux := http.NewServeMux()
	api := newV1API(logger, store, events, opts)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := store.Ready(r.Context()); err != nil {
			logger.Warn("ready check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.Handle("/v1/ws", wsManager.Handler())
	mux.HandleFunc("/v1/auth/", api.handleAuth)
	mux.HandleFunc("/v1/users/", api.handleUserSubroutes)
	mux.HandleFunc("/v1/typing", api.handleSetTyping)
	mux.HandleFunc("/v1/typing/", api.handleGetTyping)
	mux.HandleFunc("/v1/contacts", api.handleContacts)
	mux.HandleFunc("/v1/contacts/", api.handleContactSubroutes)
	mux.HandleFunc("/v1/conversations/", api.handleConversationSubroutes)
	mux.HandleFunc("/v1/messages", api.handleMessages)
	mux.HandleFunc("/v1/messages/", api.handleMessageSubroutes)
	mux.HandleFunc("/v1/calls", api.handleCalls)
	mux.HandleFunc("/v1/calls/", api.handleCallSubroutes)

	return chain(
		mux,
		recoverMiddleware(logger),
		requestLogMiddleware(logger),
		corsMiddleware(),
		authMiddleware(store),
	)
}
