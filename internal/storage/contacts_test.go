package storage

import (
	"context"
	"errors"
	"testing"
)

func mustRequest(t *testing.T, store *Store, from UserRow, toEmail string) (ContactRow, ContactRow) {
	t.Helper()
	sent, pending, err := store.SendContactRequest(context.Background(), from.ID, toEmail, 1000)
	if err != nil {
		t.Fatalf("SendContactRequest() error = %v", err)
	}
	return sent, pending
}

func TestSendContactRequest_CreatesBothEdges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustCreateUser(t, store, "A", "a@example.com")
	b := mustCreateUser(t, store, "B", "b@example.com")

	sent, pending := mustRequest(t, store, a, "b@example.com")
	if sent.Status != ContactStatusSent || sent.UserID != a.ID || sent.ContactID != b.ID {
		t.Fatalf("sent edge = %+v", sent)
	}
	if pending.Status != ContactStatusPending || pending.UserID != b.ID || pending.ContactID != a.ID {
		t.Fatalf("pending edge = %+v", pending)
	}
	if pending.LastMessage != contactRequestPreview || pending.Unread != 1 {
		t.Fatalf("pending edge not seeded with request preview: %+v", pending)
	}

	got, err := store.GetContact(ctx, b.ID, a.ID)
	if err != nil {
		t.Fatalf("GetContact() error = %v", err)
	}
	if got.Status != ContactStatusPending {
		t.Fatalf("stored pending edge status = %q", got.Status)
	}
}

func TestSendContactRequest_Rejections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustCreateUser(t, store, "A", "a@example.com")
	mustCreateUser(t, store, "B", "b@example.com")

	if _, _, err := store.SendContactRequest(ctx, a.ID, "nobody@example.com", 1000); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown email error = %v, want ErrNotFound", err)
	}
	if _, _, err := store.SendContactRequest(ctx, a.ID, "a@example.com", 1000); !errors.Is(err, ErrSelfReference) {
		t.Fatalf("self request error = %v, want ErrSelfReference", err)
	}

	mustRequest(t, store, a, "b@example.com")
	if _, _, err := store.SendContactRequest(ctx, a.ID, "b@example.com", 2000); !errors.Is(err, ErrContactExists) {
		t.Fatalf("duplicate request error = %v, want ErrContactExists", err)
	}
}

func TestSendContactRequest_ReverseDirectionBlocked(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustCreateUser(t, store, "A", "a@example.com")
	b := mustCreateUser(t, store, "B", "b@example.com")

	mustRequest(t, store, a, "b@example.com")
	if _, _, err := store.SendContactRequest(ctx, b.ID, "a@example.com", 2000); !errors.Is(err, ErrContactExists) {
		t.Fatalf("reverse request error = %v, want ErrContactExists", err)
	}
}

func TestAcceptContact_FlipsBothEdges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustCreateUser(t, store, "A", "a@example.com")
	b := mustCreateUser(t, store, "B", "b@example.com")
	mustRequest(t, store, a, "b@example.com")

	if err := store.AcceptContact(ctx, b.ID, a.ID, 2000); err != nil {
		t.Fatalf("AcceptContact() error = %v", err)
	}

	for _, pair := range [][2]string{{a.ID, b.ID}, {b.ID, a.ID}} {
		edge, err := store.GetContact(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("GetContact(%q,%q) error = %v", pair[0], pair[1], err)
		}
		if edge.Status != ContactStatusAccepted {
			t.Fatalf("edge (%q,%q) status = %q, want accepted", pair[0], pair[1], edge.Status)
		}
	}

	// Accepting clears the request preview from the pending edge.
	edge, _ := store.GetContact(ctx, b.ID, a.ID)
	if edge.LastMessage != "" || edge.Unread != 0 {
		t.Fatalf("accepted edge keeps request seed: %+v", edge)
	}
}

func TestAcceptContact_OnlyPendingSide(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustCreateUser(t, store, "A", "a@example.com")
	b := mustCreateUser(t, store, "B", "b@example.com")
	mustRequest(t, store, a, "b@example.com")

	// The requester holds the 'sent' edge and cannot accept.
	if err := store.AcceptContact(ctx, a.ID, b.ID, 2000); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("requester accept error = %v, want ErrInvalidState", err)
	}
	if err := store.AcceptContact(ctx, b.ID, "missing", 2000); !errors.Is(err, ErrNotFound) {
		t.Fatalf("accept unknown error = %v, want ErrNotFound", err)
	}
}

func TestRemoveContactPair(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustCreateUser(t, store, "A", "a@example.com")
	b := mustCreateUser(t, store, "B", "b@example.com")
	mustRequest(t, store, a, "b@example.com")

	if err := store.RemoveContactPair(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("RemoveContactPair() error = %v", err)
	}
	if _, err := store.GetContact(ctx, a.ID, b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("sent edge should be gone, got %v", err)
	}
	if _, err := store.GetContact(ctx, b.ID, a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("pending edge should be gone, got %v", err)
	}

	// After teardown a fresh request is allowed again.
	mustRequest(t, store, a, "b@example.com")
}

func TestBlockUnblock_OneSided(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustCreateUser(t, store, "A", "a@example.com")
	b := mustCreateUser(t, store, "B", "b@example.com")
	mustRequest(t, store, a, "b@example.com")
	if err := store.AcceptContact(ctx, b.ID, a.ID, 2000); err != nil {
		t.Fatalf("AcceptContact() error = %v", err)
	}

	if err := store.BlockContact(ctx, a.ID, b.ID, 3000); err != nil {
		t.Fatalf("BlockContact() error = %v", err)
	}
	edge, _ := store.GetContact(ctx, a.ID, b.ID)
	if edge.Status != ContactStatusBlocked {
		t.Fatalf("blocker edge status = %q, want blocked", edge.Status)
	}
	other, _ := store.GetContact(ctx, b.ID, a.ID)
	if other.Status != ContactStatusAccepted {
		t.Fatalf("peer edge status = %q, want accepted (block is one-sided)", other.Status)
	}

	if err := store.UnblockContact(ctx, a.ID, b.ID, 4000); err != nil {
		t.Fatalf("UnblockContact() error = %v", err)
	}
	edge, _ = store.GetContact(ctx, a.ID, b.ID)
	if edge.Status != ContactStatusAccepted {
		t.Fatalf("unblocked edge status = %q, want accepted", edge.Status)
	}

	// Unblocking a non-blocked edge is rejected.
	if err := store.UnblockContact(ctx, a.ID, b.ID, 5000); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double unblock error = %v, want ErrInvalidState", err)
	}
}

func TestDeleteContact_OneSided(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustCreateUser(t, store, "A", "a@example.com")
	b := mustCreateUser(t, store, "B", "b@example.com")
	mustRequest(t, store, a, "b@example.com")
	if err := store.AcceptContact(ctx, b.ID, a.ID, 2000); err != nil {
		t.Fatalf("AcceptContact() error = %v", err)
	}

	if err := store.DeleteContact(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("DeleteContact() error = %v", err)
	}
	if _, err := store.GetContact(ctx, a.ID, b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted edge should be gone, got %v", err)
	}
	if _, err := store.GetContact(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("peer edge should survive, got %v", err)
	}
}

func TestListContacts_StatusFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := mustCreateUser(t, store, "A", "a@example.com")
	mustCreateUser(t, store, "B", "b@example.com")
	c := mustCreateUser(t, store, "C", "c@example.com")
	mustRequest(t, store, a, "b@example.com")
	mustRequest(t, store, c, "a@example.com")

	all, err := store.ListContacts(ctx, a.ID, "")
	if err != nil {
		t.Fatalf("ListContacts() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListContacts() len = %d, want 2", len(all))
	}

	pending, err := store.ListContacts(ctx, a.ID, ContactStatusPending)
	if err != nil {
		t.Fatalf("ListContacts(pending) error = %v", err)
	}
	if len(pending) != 1 || pending[0].ContactID != c.ID {
		t.Fatalf("ListContacts(pending) = %+v", pending)
	}
}
