package bus

import "time"

// Event kinds. Subscribers match by prefix, so "contact." receives every
// contact event.
const (
	KindContactRequested = "contact.requested"
	KindContactUpdated   = "contact.updated"
	KindMessageSent      = "message.sent"
	KindMessageUpdated   = "message.updated"
	KindCallIncoming     = "call.incoming"
	KindCallState        = "call.state"
	KindPresenceTyping   = "presence.typing"
	KindPresenceUpdated  = "presence.updated"
)

// Event is one state change flowing through the bus. UserIDs names the users
// the change is addressed to; an empty slice means broadcast.
type Event struct {
	Kind      string    `json:"kind"`
	UserIDs   []string  `json:"-"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

func New(kind string, payload any, userIDs ...string) Event {
	return Event{
		Kind:      kind,
		UserIDs:   userIDs,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}
