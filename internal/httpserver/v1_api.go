package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"vartasetu-backend/internal/bus"
	"vartasetu-backend/internal/identity"
	"vartasetu-backend/internal/storage"
)

type v1API struct {
	logger   *slog.Logger
	store    Store
	events   *bus.Bus
	provider identity.Provider
	tokenTTL time.Duration
}

func newV1API(logger *slog.Logger, store Store, events *bus.Bus, opts HandlerOptions) *v1API {
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &v1API{
		logger:   logger.With("component", "v1"),
		store:    store,
		events:   events,
		provider: opts.IdentityProvider,
		tokenTTL: ttl,
	}
}

type apiErrorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeAPIError(w http.ResponseWriter, code ErrorCode, message string) {
	writeJSON(w, httpStatusForCode(code), apiErrorEnvelope{
		Error: apiError{
			Code:    string(code),
			Message: message,
		},
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected extra JSON input")
	}
	return nil
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// requireUser writes the auth error itself and returns "" when the request
// carries no valid identity.
func (api *v1API) requireUser(w http.ResponseWriter, r *http.Request) string {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
	}
	return userID
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

type userItem struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	AvatarURL  *string `json:"avatarUrl,omitempty"`
	Online     bool    `json:"online"`
	LastSeenMs *int64  `json:"lastSeenMs,omitempty"`
	Status     string  `json:"status"`
}

func toUserItem(u storage.UserRow) userItem {
	return userItem{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		AvatarURL:  u.AvatarURL,
		Online:     u.Online,
		LastSeenMs: u.LastSeenMs,
		Status:     u.Status,
	}
}

type contactItem struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	ContactID       string    `json:"contactId"`
	Status          string    `json:"status"`
	LastMessage     string    `json:"lastMessage"`
	LastMessageAtMs *int64    `json:"lastMessageAtMs,omitempty"`
	Unread          int       `json:"unread"`
	UpdatedAtMs     int64     `json:"updatedAtMs"`
	Peer            *userItem `json:"peer,omitempty"`
}

func toContactItem(c storage.ContactRow, peer *storage.UserRow) contactItem {
	item := contactItem{
		ID:              c.ID,
		UserID:          c.UserID,
		ContactID:       c.ContactID,
		Status:          c.Status,
		LastMessage:     c.LastMessage,
		LastMessageAtMs: c.LastMessageAtMs,
		Unread:          c.Unread,
		UpdatedAtMs:     c.UpdatedAtMs,
	}
	if peer != nil {
		p := toUserItem(*peer)
		item.Peer = &p
	}
	return item
}

type fileItem struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Mime string `json:"mime"`
}

type reactionItem struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

type messageItem struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	SenderID       string         `json:"senderId"`
	ReceiverID     string         `json:"receiverId"`
	Type           string         `json:"type"`
	Text           string         `json:"text"`
	File           *fileItem      `json:"file,omitempty"`
	Read           bool           `json:"read"`
	Delivered      bool           `json:"delivered"`
	Edited         bool           `json:"edited"`
	CreatedAtMs    int64          `json:"createdAtMs"`
	Reactions      []reactionItem `json:"reactions,omitempty"`
}

func toMessageItem(m storage.MessageRow) messageItem {
	item := messageItem{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Type:           m.Type,
		Text:           m.Text,
		Read:           m.Read,
		Delivered:      m.Delivered,
		Edited:         m.Edited,
		CreatedAtMs:    m.CreatedAtMs,
	}
	if m.File != nil {
		item.File = &fileItem{URL: m.File.URL, Name: m.File.Name, Size: m.File.Size, Mime: m.File.Mime}
	}
	return item
}

type callItem struct {
	ID         string  `json:"id"`
	CallerID   string  `json:"callerId"`
	ReceiverID string  `json:"receiverId"`
	Type       string  `json:"type"`
	Status     string  `json:"status"`
	Offer      string  `json:"offer"`
	Answer     *string `json:"answer,omitempty"`
	StartMs    int64   `json:"startMs"`
	EndMs      *int64  `json:"endMs,omitempty"`
}

func toCallItem(c storage.CallRow) callItem {
	return callItem{
		ID:         c.ID,
		CallerID:   c.CallerID,
		ReceiverID: c.ReceiverID,
		Type:       c.Type,
		Status:     c.Status,
		Offer:      c.Offer,
		Answer:     c.Answer,
		StartMs:    c.StartMs,
		EndMs:      c.EndMs,
	}
}

type candidateItem struct {
	Seq       int64  `json:"seq"`
	CallID    string `json:"callId"`
	SenderID  string `json:"senderId"`
	Candidate string `json:"candidate"`
}

func toCandidateItem(c storage.IceCandidateRow) candidateItem {
	return candidateItem{
		Seq:       c.Seq,
		CallID:    c.CallID,
		SenderID:  c.SenderID,
		Candidate: c.Candidate,
	}
}
