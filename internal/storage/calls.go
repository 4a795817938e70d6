package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateCall opens a ringing call carrying the caller's SDP offer.
func (s *Store) CreateCall(ctx context.Context, callerID, receiverID, callType, offer string, nowMs int64) (CallRow, error) {
	if s == nil || s.db == nil {
		return CallRow{}, errors.New("db not initialized")
	}
	if callerID == receiverID {
		return CallRow{}, ErrSelfReference
	}
	switch callType {
	case CallTypeAudio, CallTypeVideo:
	default:
		return CallRow{}, ErrInvalidState
	}

	call := CallRow{
		ID:          uuid.NewString(),
		CallerID:    callerID,
		ReceiverID:  receiverID,
		Type:        callType,
		Status:      CallStatusRinging,
		Offer:       offer,
		StartMs:     nowMs,
		UpdatedAtMs: nowMs,
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO calls (id, caller_id, receiver_id, type, status, offer, start_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		call.ID, call.CallerID, call.ReceiverID, call.Type, call.Status, call.Offer, call.StartMs, call.UpdatedAtMs,
	)
	if err != nil {
		return CallRow{}, fmt.Errorf("create call: %w", err)
	}
	return call, nil
}

func (s *Store) GetCallByID(ctx context.Context, id string) (CallRow, error) {
	if s == nil || s.db == nil {
		return CallRow{}, errors.New("db not initialized")
	}
	row := s.db.QueryRowContext(ctx, s.rebind(selectCall+` WHERE id = ?`), id)
	return scanCall(row.Scan)
}

// AnswerCall records the receiver's SDP answer and moves the call to ongoing.
// Only the receiver of a still-ringing call may answer.
func (s *Store) AnswerCall(ctx context.Context, callID, userID, answer string, nowMs int64) (CallRow, error) {
	if s == nil || s.db == nil {
		return CallRow{}, errors.New("db not initialized")
	}

	call, err := s.GetCallByID(ctx, callID)
	if err != nil {
		return CallRow{}, err
	}
	if call.ReceiverID != userID {
		return CallRow{}, ErrAccessDenied
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE calls SET status = ?, answer = ?, updated_at_ms = ?
		WHERE id = ? AND status = ?`),
		CallStatusOngoing, answer, nowMs, callID, CallStatusRinging,
	)
	if err != nil {
		return CallRow{}, fmt.Errorf("answer call: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return CallRow{}, err
	}
	if affected == 0 {
		return CallRow{}, ErrInvalidState
	}

	call.Status = CallStatusOngoing
	call.Answer = &answer
	call.UpdatedAtMs = nowMs
	return call, nil
}

// DeclineCall moves a ringing call to rejected. Receiver only.
func (s *Store) DeclineCall(ctx context.Context, callID, userID string, nowMs int64) (CallRow, error) {
	if s == nil || s.db == nil {
		return CallRow{}, errors.New("db not initialized")
	}

	call, err := s.GetCallByID(ctx, callID)
	if err != nil {
		return CallRow{}, err
	}
	if call.ReceiverID != userID {
		return CallRow{}, ErrAccessDenied
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE calls SET status = ?, end_ms = ?, updated_at_ms = ?
		WHERE id = ? AND status = ?`),
		CallStatusRejected, nowMs, nowMs, callID, CallStatusRinging,
	)
	if err != nil {
		return CallRow{}, fmt.Errorf("decline call: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return CallRow{}, err
	}
	if affected == 0 {
		return CallRow{}, ErrInvalidState
	}

	call.Status = CallStatusRejected
	call.EndMs = &nowMs
	call.UpdatedAtMs = nowMs
	return call, nil
}

// EndCall finishes a ringing or ongoing call. Either participant may end.
func (s *Store) EndCall(ctx context.Context, callID, userID string, nowMs int64) (CallRow, error) {
	if s == nil || s.db == nil {
		return CallRow{}, errors.New("db not initialized")
	}

	call, err := s.GetCallByID(ctx, callID)
	if err != nil {
		return CallRow{}, err
	}
	if call.CallerID != userID && call.ReceiverID != userID {
		return CallRow{}, ErrAccessDenied
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE calls SET status = ?, end_ms = ?, updated_at_ms = ?
		WHERE id = ? AND status IN (?, ?)`),
		CallStatusEnded, nowMs, nowMs, callID, CallStatusRinging, CallStatusOngoing,
	)
	if err != nil {
		return CallRow{}, fmt.Errorf("end call: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return CallRow{}, err
	}
	if affected == 0 {
		return CallRow{}, ErrInvalidState
	}

	call.Status = CallStatusEnded
	call.EndMs = &nowMs
	call.UpdatedAtMs = nowMs
	return call, nil
}

// MarkCallMissed expires a single ringing call.
func (s *Store) MarkCallMissed(ctx context.Context, callID string, nowMs int64) (CallRow, error) {
	if s == nil || s.db == nil {
		return CallRow{}, errors.New("db not initialized")
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE calls SET status = ?, end_ms = ?, updated_at_ms = ?
		WHERE id = ? AND status = ?`),
		CallStatusMissed, nowMs, nowMs, callID, CallStatusRinging,
	)
	if err != nil {
		return CallRow{}, fmt.Errorf("mark call missed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return CallRow{}, err
	}
	if affected == 0 {
		if _, gerr := s.GetCallByID(ctx, callID); gerr != nil {
			return CallRow{}, gerr
		}
		return CallRow{}, ErrInvalidState
	}
	return s.GetCallByID(ctx, callID)
}

// ExpireRingingCalls marks every call still ringing since before cutoffMs as
// missed and returns them.
func (s *Store) ExpireRingingCalls(ctx context.Context, cutoffMs, nowMs int64) ([]CallRow, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("db not initialized")
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(selectCall+`
		WHERE status = ? AND start_ms < ?`), CallStatusRinging, cutoffMs)
	if err != nil {
		return nil, fmt.Errorf("list expired calls: %w", err)
	}
	var expired []CallRow
	for rows.Next() {
		call, err := scanCall(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, call)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var out []CallRow
	for _, call := range expired {
		// Guarded per call so an answer racing the sweep wins.
		missed, err := s.MarkCallMissed(ctx, call.ID, nowMs)
		if errors.Is(err, ErrInvalidState) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, missed)
	}
	return out, nil
}

// NextRingingCallForUser returns the oldest call currently ringing for the
// user, or ErrNotFound.
func (s *Store) NextRingingCallForUser(ctx context.Context, userID string) (CallRow, error) {
	if s == nil || s.db == nil {
		return CallRow{}, errors.New("db not initialized")
	}
	row := s.db.QueryRowContext(ctx, s.rebind(selectCall+`
		WHERE receiver_id = ? AND status = ?
		ORDER BY start_ms ASC LIMIT 1`), userID, CallStatusRinging)
	return scanCall(row.Scan)
}

// AppendIceCandidate adds a candidate to the call's append-only log.
func (s *Store) AppendIceCandidate(ctx context.Context, callID, senderID, candidate string, nowMs int64) (IceCandidateRow, error) {
	if s == nil || s.db == nil {
		return IceCandidateRow{}, errors.New("db not initialized")
	}

	call, err := s.GetCallByID(ctx, callID)
	if err != nil {
		return IceCandidateRow{}, err
	}
	if call.CallerID != senderID && call.ReceiverID != senderID {
		return IceCandidateRow{}, ErrAccessDenied
	}
	switch call.Status {
	case CallStatusRinging, CallStatusOngoing:
	default:
		return IceCandidateRow{}, ErrInvalidState
	}

	row := IceCandidateRow{
		CallID:      callID,
		SenderID:    senderID,
		Candidate:   candidate,
		CreatedAtMs: nowMs,
	}

	if s.driver == "pgx" {
		err = s.db.QueryRowContext(ctx, s.rebind(`
			INSERT INTO call_ice_candidates (call_id, sender_id, candidate, created_at_ms)
			VALUES (?, ?, ?, ?) RETURNING seq`),
			callID, senderID, candidate, nowMs,
		).Scan(&row.Seq)
		if err != nil {
			return IceCandidateRow{}, fmt.Errorf("append candidate: %w", err)
		}
		return row, nil
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO call_ice_candidates (call_id, sender_id, candidate, created_at_ms)
		VALUES (?, ?, ?, ?)`),
		callID, senderID, candidate, nowMs,
	)
	if err != nil {
		return IceCandidateRow{}, fmt.Errorf("append candidate: %w", err)
	}
	row.Seq, err = res.LastInsertId()
	if err != nil {
		return IceCandidateRow{}, err
	}
	return row, nil
}

// ListIceCandidatesAfter returns the peer's candidates with seq greater than
// afterSeq, in order. Callers advance their cursor to the last seq returned.
func (s *Store) ListIceCandidatesAfter(ctx context.Context, callID string, afterSeq int64, forUserID string) ([]IceCandidateRow, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("db not initialized")
	}

	call, err := s.GetCallByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.CallerID != forUserID && call.ReceiverID != forUserID {
		return nil, ErrAccessDenied
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT seq, call_id, sender_id, candidate, created_at_ms
		FROM call_ice_candidates
		WHERE call_id = ? AND seq > ? AND sender_id <> ?
		ORDER BY seq ASC`), callID, afterSeq, forUserID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []IceCandidateRow
	for rows.Next() {
		var c IceCandidateRow
		if err := rows.Scan(&c.Seq, &c.CallID, &c.SenderID, &c.Candidate, &c.CreatedAtMs); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const selectCall = `
	SELECT id, caller_id, receiver_id, type, status, offer, answer, start_ms, end_ms, updated_at_ms
	FROM calls`

func scanCall(scan func(dest ...any) error) (CallRow, error) {
	var c CallRow
	err := scan(&c.ID, &c.CallerID, &c.ReceiverID, &c.Type, &c.Status, &c.Offer, &c.Answer, &c.StartMs, &c.EndMs, &c.UpdatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return CallRow{}, ErrNotFound
	}
	if err != nil {
		return CallRow{}, fmt.Errorf("scan call: %w", err)
	}
	return c, nil
}
