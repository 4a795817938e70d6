package storage

import (
	"context"
	"errors"
	"testing"
)

func ringingCall(t *testing.T, store *Store, caller, receiver UserRow) CallRow {
	t.Helper()
	call, err := store.CreateCall(context.Background(), caller.ID, receiver.ID, CallTypeVideo, "offer-sdp", 2000)
	if err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}
	return call
}

func TestCreateCall(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a, b := acceptedPair(t, store)

	call := ringingCall(t, store, a, b)
	if call.Status != CallStatusRinging || call.Offer != "offer-sdp" || call.Answer != nil {
		t.Fatalf("new call = %+v", call)
	}

	if _, err := store.CreateCall(ctx, a.ID, a.ID, CallTypeAudio, "x", 2000); !errors.Is(err, ErrSelfReference) {
		t.Fatalf("self call error = %v, want ErrSelfReference", err)
	}
	if _, err := store.CreateCall(ctx, a.ID, b.ID, "hologram", "x", 2000); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("bad type error = %v, want ErrInvalidState", err)
	}
}

func TestAnswerCall(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a, b := acceptedPair(t, store)
	call := ringingCall(t, store, a, b)

	// Only the receiver may answer.
	if _, err := store.AnswerCall(ctx, call.ID, a.ID, "answer-sdp", 3000); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("caller answer error = %v, want ErrAccessDenied", err)
	}

	answered, err := store.AnswerCall(ctx, call.ID, b.ID, "answer-sdp", 3000)
	if err != nil {
		t.Fatalf("AnswerCall() error = %v", err)
	}
	if answered.Status != CallStatusOngoing || answered.Answer == nil || *answered.Answer != "answer-sdp" {
		t.Fatalf("answered call = %+v", answered)
	}

	// Answering twice fails the ringing guard.
	if _, err := store.AnswerCall(ctx, call.ID, b.ID, "again", 4000); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double answer error = %v, want ErrInvalidState", err)
	}
}

func TestDeclineCall(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a, b := acceptedPair(t, store)
	call := ringingCall(t, store, a, b)

	declined, err := store.DeclineCall(ctx, call.ID, b.ID, 3000)
	if err != nil {
		t.Fatalf("DeclineCall() error = %v", err)
	}
	if declined.Status != CallStatusRejected || declined.Answer != nil || declined.EndMs == nil {
		t.Fatalf("declined call = %+v", declined)
	}

	if _, err := store.AnswerCall(ctx, call.ID, b.ID, "late", 4000); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("answer after decline error = %v, want ErrInvalidState", err)
	}
}

func TestEndCall(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a, b := acceptedPair(t, store)

	// The caller may end while still ringing (cancel).
	call := ringingCall(t, store, a, b)
	ended, err := store.EndCall(ctx, call.ID, a.ID, 3000)
	if err != nil {
		t.Fatalf("EndCall(ringing) error = %v", err)
	}
	if ended.Status != CallStatusEnded {
		t.Fatalf("ended call status = %q", ended.Status)
	}

	// Either side may end an ongoing call.
	call2 := ringingCall(t, store, a, b)
	if _, err := store.AnswerCall(ctx, call2.ID, b.ID, "sdp", 3000); err != nil {
		t.Fatalf("AnswerCall() error = %v", err)
	}
	if _, err := store.EndCall(ctx, call2.ID, b.ID, 4000); err != nil {
		t.Fatalf("EndCall(ongoing) error = %v", err)
	}
	if _, err := store.EndCall(ctx, call2.ID, b.ID, 5000); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double end error = %v, want ErrInvalidState", err)
	}

	call3 := ringingCall(t, store, a, b)
	outsider := mustCreateUser(t, store, "C", "c@example.com")
	if _, err := store.EndCall(ctx, call3.ID, outsider.ID, 4000); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("outsider end error = %v, want ErrAccessDenied", err)
	}
}

func TestExpireRingingCalls(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a, b := acceptedPair(t, store)

	stale := ringingCall(t, store, a, b)
	fresh, err := store.CreateCall(ctx, b.ID, a.ID, CallTypeAudio, "sdp", 9000)
	if err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}

	expired, err := store.ExpireRingingCalls(ctx, 5000, 10000)
	if err != nil {
		t.Fatalf("ExpireRingingCalls() error = %v", err)
	}
	if len(expired) != 1 || expired[0].ID != stale.ID {
		t.Fatalf("expired = %+v, want only the stale call", expired)
	}
	got, _ := store.GetCallByID(ctx, stale.ID)
	if got.Status != CallStatusMissed {
		t.Fatalf("stale call status = %q, want missed", got.Status)
	}
	got, _ = store.GetCallByID(ctx, fresh.ID)
	if got.Status != CallStatusRinging {
		t.Fatalf("fresh call status = %q, want ringing", got.Status)
	}
}

func TestNextRingingCallForUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a, b := acceptedPair(t, store)

	if _, err := store.NextRingingCallForUser(ctx, b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("no ringing call error = %v, want ErrNotFound", err)
	}

	call := ringingCall(t, store, a, b)
	got, err := store.NextRingingCallForUser(ctx, b.ID)
	if err != nil {
		t.Fatalf("NextRingingCallForUser() error = %v", err)
	}
	if got.ID != call.ID {
		t.Fatalf("ringing call ID = %q, want %q", got.ID, call.ID)
	}

	// The caller has no incoming ring.
	if _, err := store.NextRingingCallForUser(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("caller ringing error = %v, want ErrNotFound", err)
	}
}

func TestIceCandidates_CursorDrain(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a, b := acceptedPair(t, store)
	call := ringingCall(t, store, a, b)

	c1, err := store.AppendIceCandidate(ctx, call.ID, a.ID, "cand-a1", 3000)
	if err != nil {
		t.Fatalf("AppendIceCandidate() error = %v", err)
	}
	c2, err := store.AppendIceCandidate(ctx, call.ID, a.ID, "cand-a2", 3100)
	if err != nil {
		t.Fatalf("AppendIceCandidate() error = %v", err)
	}
	if c2.Seq <= c1.Seq {
		t.Fatalf("seq not increasing: %d then %d", c1.Seq, c2.Seq)
	}
	if _, err := store.AppendIceCandidate(ctx, call.ID, b.ID, "cand-b1", 3200); err != nil {
		t.Fatalf("AppendIceCandidate() error = %v", err)
	}

	// The receiver drains only the caller's candidates.
	got, err := store.ListIceCandidatesAfter(ctx, call.ID, 0, b.ID)
	if err != nil {
		t.Fatalf("ListIceCandidatesAfter() error = %v", err)
	}
	if len(got) != 2 || got[0].Candidate != "cand-a1" || got[1].Candidate != "cand-a2" {
		t.Fatalf("receiver drain = %+v", got)
	}

	// Advancing the cursor skips what was already applied.
	got, err = store.ListIceCandidatesAfter(ctx, call.ID, got[len(got)-1].Seq, b.ID)
	if err != nil {
		t.Fatalf("ListIceCandidatesAfter(cursor) error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("drain after cursor = %+v, want empty", got)
	}

	outsider := mustCreateUser(t, store, "C", "c@example.com")
	if _, err := store.AppendIceCandidate(ctx, call.ID, outsider.ID, "x", 4000); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("outsider append error = %v, want ErrAccessDenied", err)
	}
	if _, err := store.ListIceCandidatesAfter(ctx, call.ID, 0, outsider.ID); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("outsider list error = %v, want ErrAccessDenied", err)
	}

	// No appends once the call is settled.
	if _, err := store.DeclineCall(ctx, call.ID, b.ID, 5000); err != nil {
		t.Fatalf("DeclineCall() error = %v", err)
	}
	if _, err := store.AppendIceCandidate(ctx, call.ID, a.ID, "late", 6000); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("append after decline error = %v, want ErrInvalidState", err)
	}
}
