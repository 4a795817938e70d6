package storage

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	store, err := Open(context.Background(), "sqlite::memory:", logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func mustCreateUser(t *testing.T, store *Store, name, email string) UserRow {
	t.Helper()
	user, err := store.CreateUser(context.Background(), name, email, "x", 1000)
	if err != nil {
		t.Fatalf("CreateUser(%q) error = %v", email, err)
	}
	return user
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	if _, err := Open(context.Background(), "mysql://localhost/db", logger); err == nil {
		t.Fatal("Open() expected error for unsupported scheme")
	}
}

func TestReady(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ready(context.Background()); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreateUser(t, store, "Asha", "asha@example.com")
	if _, err := store.CreateUser(ctx, "Other", "ASHA@example.com", "x", 2000); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("CreateUser duplicate error = %v, want ErrEmailExists", err)
	}
}

func TestGetUserByEmail_NormalizesCase(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := mustCreateUser(t, store, "Asha", "Asha@Example.com")
	got, err := store.GetUserByEmail(ctx, "asha@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail() error = %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("GetUserByEmail() ID = %q, want %q", got.ID, created.ID)
	}
}

func TestSetUserOnline_OfflineStampsLastSeen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := mustCreateUser(t, store, "Asha", "asha@example.com")
	if err := store.SetUserOnline(ctx, user.ID, true, 2000); err != nil {
		t.Fatalf("SetUserOnline(true) error = %v", err)
	}
	got, _ := store.GetUserByID(ctx, user.ID)
	if !got.Online {
		t.Fatal("user should be online")
	}
	if got.LastSeenMs != nil {
		t.Fatal("last_seen should be unset while online")
	}

	if err := store.SetUserOnline(ctx, user.ID, false, 3000); err != nil {
		t.Fatalf("SetUserOnline(false) error = %v", err)
	}
	got, _ = store.GetUserByID(ctx, user.ID)
	if got.Online {
		t.Fatal("user should be offline")
	}
	if got.LastSeenMs == nil || *got.LastSeenMs != 3000 {
		t.Fatalf("LastSeenMs = %v, want 3000", got.LastSeenMs)
	}
}

func TestUpdateUserStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := mustCreateUser(t, store, "Asha", "asha@example.com")
	if err := store.UpdateUserStatus(ctx, user.ID, UserStatusBusy, 2000); err != nil {
		t.Fatalf("UpdateUserStatus() error = %v", err)
	}
	got, _ := store.GetUserByID(ctx, user.ID)
	if got.Status != UserStatusBusy {
		t.Fatalf("Status = %q, want %q", got.Status, UserStatusBusy)
	}

	if err := store.UpdateUserStatus(ctx, user.ID, "invisible", 2000); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("UpdateUserStatus invalid error = %v, want ErrInvalidState", err)
	}
	if err := store.UpdateUserStatus(ctx, "missing", UserStatusAway, 2000); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateUserStatus missing error = %v, want ErrNotFound", err)
	}
}

func TestUpsertUserByEmail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	avatar := "https://cdn.example.com/a.png"
	created, err := store.UpsertUserByEmail(ctx, "Asha", "asha@example.com", &avatar, 1000)
	if err != nil {
		t.Fatalf("UpsertUserByEmail() error = %v", err)
	}

	updated, err := store.UpsertUserByEmail(ctx, "Asha K", "asha@example.com", nil, 2000)
	if err != nil {
		t.Fatalf("UpsertUserByEmail() second error = %v", err)
	}
	if updated.ID != created.ID {
		t.Fatalf("upsert created a new user: %q vs %q", updated.ID, created.ID)
	}
	if updated.Name != "Asha K" {
		t.Fatalf("Name = %q, want %q", updated.Name, "Asha K")
	}
}

func TestAuthTokens(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := mustCreateUser(t, store, "Asha", "asha@example.com")
	token, err := store.CreateAuthToken(ctx, user.ID, nil, 1000, 10000)
	if err != nil {
		t.Fatalf("CreateAuthToken() error = %v", err)
	}

	userID, err := store.ValidateToken(ctx, token.Token, 5000)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if userID != user.ID {
		t.Fatalf("ValidateToken() userID = %q, want %q", userID, user.ID)
	}

	if _, err := store.ValidateToken(ctx, token.Token, 10000); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("ValidateToken expired error = %v, want ErrTokenExpired", err)
	}
	// Expired tokens are deleted on validation.
	if _, err := store.ValidateToken(ctx, token.Token, 5000); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("ValidateToken after expiry error = %v, want ErrTokenInvalid", err)
	}

	token2, _ := store.CreateAuthToken(ctx, user.ID, nil, 1000, 10000)
	if err := store.DeleteToken(ctx, token2.Token); err != nil {
		t.Fatalf("DeleteToken() error = %v", err)
	}
	if err := store.DeleteToken(ctx, token2.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("DeleteToken twice error = %v, want ErrTokenInvalid", err)
	}
}

func TestTyping_UpsertAndStaleSweep(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustCreateUser(t, store, "A", "a@example.com")
	b := mustCreateUser(t, store, "B", "b@example.com")

	if err := store.SetTyping(ctx, a.ID, b.ID, true, 1000); err != nil {
		t.Fatalf("SetTyping() error = %v", err)
	}
	typing, err := store.IsTyping(ctx, a.ID, b.ID)
	if err != nil || !typing {
		t.Fatalf("IsTyping() = %v, %v, want true", typing, err)
	}

	// Refresh keeps it alive past the first cutoff.
	if err := store.SetTyping(ctx, a.ID, b.ID, true, 2500); err != nil {
		t.Fatalf("SetTyping() refresh error = %v", err)
	}
	cleared, err := store.ClearStaleTyping(ctx, 2000, 3000)
	if err != nil {
		t.Fatalf("ClearStaleTyping() error = %v", err)
	}
	if len(cleared) != 0 {
		t.Fatalf("ClearStaleTyping() cleared %d rows, want 0", len(cleared))
	}

	cleared, err = store.ClearStaleTyping(ctx, 5000, 5000)
	if err != nil {
		t.Fatalf("ClearStaleTyping() error = %v", err)
	}
	if len(cleared) != 1 || cleared[0].UserID != a.ID || cleared[0].PeerID != b.ID {
		t.Fatalf("ClearStaleTyping() = %+v, want single (a,b) row", cleared)
	}
	typing, _ = store.IsTyping(ctx, a.ID, b.ID)
	if typing {
		t.Fatal("typing flag should be cleared after sweep")
	}
}
