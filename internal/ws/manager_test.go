package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"vartasetu-backend/internal/bus"
)

type fakeValidator struct{ tokens map[string]string }

func (v fakeValidator) ValidateToken(_ context.Context, token string, _ int64) (string, error) {
	userID, ok := v.tokens[token]
	if !ok {
		return "", errors.New("invalid token")
	}
	return userID, nil
}

func newTestManager(t *testing.T) (*Manager, *bus.Bus, *httptest.Server) {
	t.Helper()
	events := bus.NewBus()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(logger, fakeValidator{tokens: map[string]string{
		"token-a": "user-a",
		"token-b": "user-b",
	}}, events)

	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Run(ctx)

	return m, events, srv
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func TestHandle_RejectsBadToken(t *testing.T) {
	_, _, srv := newTestManager(t)

	resp, err := http.Get(srv.URL + "?token=wrong")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no-token status = %d, want 401", resp.StatusCode)
	}
}

func TestRun_RoutesEventsToAddressedUsers(t *testing.T) {
	m, events, srv := newTestManager(t)

	connA := dial(t, srv, "token-a")
	connB := dial(t, srv, "token-b")

	waitForUsers(t, m, 2)

	events.Publish(bus.New(bus.KindMessageSent, map[string]string{"id": "m1"}, "user-b"))

	env := readEnvelope(t, connB)
	if env.Type != bus.KindMessageSent {
		t.Fatalf("envelope type = %q", env.Type)
	}

	// user-a must not receive it.
	_ = connA.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, msg, err := connA.ReadMessage(); err == nil {
		t.Fatalf("unexpected delivery to user-a: %s", msg)
	}
}

func TestRun_BroadcastsUnaddressedEvents(t *testing.T) {
	m, events, srv := newTestManager(t)

	connA := dial(t, srv, "token-a")
	connB := dial(t, srv, "token-b")
	waitForUsers(t, m, 2)

	events.Publish(bus.New(bus.KindPresenceUpdated, "payload"))

	for _, conn := range []*websocket.Conn{connA, connB} {
		env := readEnvelope(t, conn)
		if env.Type != bus.KindPresenceUpdated {
			t.Fatalf("envelope type = %q", env.Type)
		}
	}
}

func TestConnectedUserIDs_Distinct(t *testing.T) {
	m, _, srv := newTestManager(t)

	dial(t, srv, "token-a")
	dial(t, srv, "token-a")
	dial(t, srv, "token-b")
	waitForUsers(t, m, 2)

	ids := m.ConnectedUserIDs()
	if len(ids) != 2 {
		t.Fatalf("ConnectedUserIDs() = %v, want 2 distinct users", ids)
	}
}

func waitForUsers(t *testing.T, m *Manager, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(m.ConnectedUserIDs()) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d connected users, have %v", want, m.ConnectedUserIDs())
}
