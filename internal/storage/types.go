package storage

import "errors"

const (
	UserStatusAvailable = "available"
	UserStatusBusy      = "busy"
	UserStatusAway      = "away"
	UserStatusOffline   = "offline"
)

const (
	ContactStatusSent     = "sent"
	ContactStatusPending  = "pending"
	ContactStatusAccepted = "accepted"
	ContactStatusBlocked  = "blocked"
)

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVideo = "video"
	MessageTypeAudio = "audio"
	MessageTypeFile  = "file"
)

const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

const (
	CallStatusRinging  = "ringing"
	CallStatusOngoing  = "ongoing"
	CallStatusEnded    = "ended"
	CallStatusMissed   = "missed"
	CallStatusRejected = "rejected"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrEmailExists   = errors.New("email exists")
	ErrSelfReference = errors.New("self reference")
	ErrContactExists = errors.New("contact exists")
	ErrAccessDenied  = errors.New("access denied")
	ErrInvalidState  = errors.New("invalid state")
	ErrTokenInvalid  = errors.New("token invalid")
	ErrTokenExpired  = errors.New("token expired")
)

type UserRow struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	AvatarURL    *string
	Online       bool
	LastSeenMs   *int64
	Status       string
	CreatedAtMs  int64
	UpdatedAtMs  int64
}

type AuthTokenRow struct {
	Token       string
	UserID      string
	DeviceInfo  *string
	CreatedAtMs int64
	ExpiresAtMs int64
}

// ContactRow is one directed edge of a relationship. Every relationship is
// stored as two directed rows, one per participant. LastMessage, LastMessageAtMs
// and Unread are a cached projection of message state, not a source of truth.
type ContactRow struct {
	ID              string
	UserID          string
	ContactID       string
	Status          string
	LastMessage     string
	LastMessageAtMs *int64
	Unread          int
	CreatedAtMs     int64
	UpdatedAtMs     int64
}

type FileMeta struct {
	URL  string
	Name string
	Size int64
	Mime string
}

type MessageRow struct {
	ID             string
	ConversationID string
	SenderID       string
	ReceiverID     string
	Type           string
	Text           string
	File           *FileMeta
	Read           bool
	Delivered      bool
	Edited         bool
	CreatedAtMs    int64
}

type ReactionRow struct {
	MessageID   string
	UserID      string
	Emoji       string
	CreatedAtMs int64
}

type CallRow struct {
	ID          string
	CallerID    string
	ReceiverID  string
	Type        string
	Status      string
	Offer       string
	Answer      *string
	StartMs     int64
	EndMs       *int64
	UpdatedAtMs int64
}

// IceCandidateRow is one entry of the append-only candidate log for a call.
// Seq is assigned by the store and strictly increases per call, so readers can
// drain with a cursor and apply each candidate exactly once.
type IceCandidateRow struct {
	Seq         int64
	CallID      string
	SenderID    string
	Candidate   string
	CreatedAtMs int64
}

type TypingStateRow struct {
	UserID      string
	PeerID      string
	Typing      bool
	UpdatedAtMs int64
}
