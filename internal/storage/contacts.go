package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const contactRequestPreview = "Sent you a contact request"

// SendContactRequest creates both directed edges of a new relationship: a
// 'sent' edge for the requester and a 'pending' edge for the target. The
// pending edge is seeded with a request preview and one unread so the target's
// list surfaces it immediately.
func (s *Store) SendContactRequest(ctx context.Context, fromUserID, toEmail string, nowMs int64) (ContactRow, ContactRow, error) {
	if s == nil || s.db == nil {
		return ContactRow{}, ContactRow{}, errors.New("db not initialized")
	}

	target, err := s.GetUserByEmail(ctx, toEmail)
	if err != nil {
		return ContactRow{}, ContactRow{}, err
	}
	if target.ID == fromUserID {
		return ContactRow{}, ContactRow{}, ErrSelfReference
	}

	// An edge in either direction means the pair already has a relationship.
	var existing int
	err = s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*) FROM contacts
		WHERE (user_id = ? AND contact_id = ?) OR (user_id = ? AND contact_id = ?)`),
		fromUserID, target.ID, target.ID, fromUserID,
	).Scan(&existing)
	if err != nil {
		return ContactRow{}, ContactRow{}, fmt.Errorf("check contact pair: %w", err)
	}
	if existing > 0 {
		return ContactRow{}, ContactRow{}, ErrContactExists
	}

	sentEdge := ContactRow{
		ID:          uuid.NewString(),
		UserID:      fromUserID,
		ContactID:   target.ID,
		Status:      ContactStatusSent,
		CreatedAtMs: nowMs,
		UpdatedAtMs: nowMs,
	}
	pendingEdge := ContactRow{
		ID:              uuid.NewString(),
		UserID:          target.ID,
		ContactID:       fromUserID,
		Status:          ContactStatusPending,
		LastMessage:     contactRequestPreview,
		LastMessageAtMs: &nowMs,
		Unread:          1,
		CreatedAtMs:     nowMs,
		UpdatedAtMs:     nowMs,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ContactRow{}, ContactRow{}, err
	}
	defer tx.Rollback()

	insert := s.rebind(`
		INSERT INTO contacts (id, user_id, contact_id, status, last_message, last_message_at_ms, unread, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	if _, err := tx.ExecContext(ctx, insert,
		sentEdge.ID, sentEdge.UserID, sentEdge.ContactID, sentEdge.Status,
		sentEdge.LastMessage, sentEdge.LastMessageAtMs, sentEdge.Unread, sentEdge.CreatedAtMs, sentEdge.UpdatedAtMs,
	); err != nil {
		if isUniqueViolation(err) {
			return ContactRow{}, ContactRow{}, ErrContactExists
		}
		return ContactRow{}, ContactRow{}, fmt.Errorf("insert sent edge: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert,
		pendingEdge.ID, pendingEdge.UserID, pendingEdge.ContactID, pendingEdge.Status,
		pendingEdge.LastMessage, pendingEdge.LastMessageAtMs, pendingEdge.Unread, pendingEdge.CreatedAtMs, pendingEdge.UpdatedAtMs,
	); err != nil {
		if isUniqueViolation(err) {
			return ContactRow{}, ContactRow{}, ErrContactExists
		}
		return ContactRow{}, ContactRow{}, fmt.Errorf("insert pending edge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ContactRow{}, ContactRow{}, err
	}
	return sentEdge, pendingEdge, nil
}

// AcceptContact flips a pending relationship to accepted on both edges. Only
// the holder of the pending edge may accept.
func (s *Store) AcceptContact(ctx context.Context, userID, contactID string, nowMs int64) error {
	if s == nil || s.db == nil {
		return errors.New("db not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE contacts SET status = ?, last_message = '', last_message_at_ms = NULL, unread = 0, updated_at_ms = ?
		WHERE user_id = ? AND contact_id = ? AND status = ?`),
		ContactStatusAccepted, nowMs, userID, contactID, ContactStatusPending,
	)
	if err != nil {
		return fmt.Errorf("accept contact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, gerr := s.getContactTx(ctx, tx, userID, contactID); gerr != nil {
			return gerr
		}
		return ErrInvalidState
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE contacts SET status = ?, updated_at_ms = ?
		WHERE user_id = ? AND contact_id = ? AND status = ?`),
		ContactStatusAccepted, nowMs, contactID, userID, ContactStatusSent,
	); err != nil {
		return fmt.Errorf("accept contact mirror: %w", err)
	}

	return tx.Commit()
}

// RemoveContactPair deletes both edges of a relationship. Used for rejecting
// an incoming request and cancelling an outgoing one.
func (s *Store) RemoveContactPair(ctx context.Context, userID, contactID string) error {
	if s == nil || s.db == nil {
		return errors.New("db not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(`
		DELETE FROM contacts WHERE user_id = ? AND contact_id = ?`), userID, contactID)
	if err != nil {
		return fmt.Errorf("remove contact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`
		DELETE FROM contacts WHERE user_id = ? AND contact_id = ?`), contactID, userID); err != nil {
		return fmt.Errorf("remove contact mirror: %w", err)
	}

	return tx.Commit()
}

// BlockContact marks only the caller's edge as blocked. The other side keeps
// its edge untouched.
func (s *Store) BlockContact(ctx context.Context, userID, contactID string, nowMs int64) error {
	if s == nil || s.db == nil {
		return errors.New("db not initialized")
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE contacts SET status = ?, updated_at_ms = ? WHERE user_id = ? AND contact_id = ?`),
		ContactStatusBlocked, nowMs, userID, contactID,
	)
	if err != nil {
		return fmt.Errorf("block contact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UnblockContact restores the caller's blocked edge to accepted.
func (s *Store) UnblockContact(ctx context.Context, userID, contactID string, nowMs int64) error {
	if s == nil || s.db == nil {
		return errors.New("db not initialized")
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE contacts SET status = ?, updated_at_ms = ?
		WHERE user_id = ? AND contact_id = ? AND status = ?`),
		ContactStatusAccepted, nowMs, userID, contactID, ContactStatusBlocked,
	)
	if err != nil {
		return fmt.Errorf("unblock contact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, gerr := s.GetContact(ctx, userID, contactID); gerr != nil {
			return gerr
		}
		return ErrInvalidState
	}
	return nil
}

// DeleteContact removes only the caller's edge. The other participant still
// sees the relationship until they delete their own edge.
func (s *Store) DeleteContact(ctx context.Context, userID, contactID string) error {
	if s == nil || s.db == nil {
		return errors.New("db not initialized")
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM contacts WHERE user_id = ? AND contact_id = ?`), userID, contactID)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListContacts returns the caller's edges, optionally filtered by status,
// most recent activity first.
func (s *Store) ListContacts(ctx context.Context, userID, status string) ([]ContactRow, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("db not initialized")
	}

	query := `
		SELECT id, user_id, contact_id, status, last_message, last_message_at_ms, unread, created_at_ms, updated_at_ms
		FROM contacts WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at_ms DESC, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []ContactRow
	for rows.Next() {
		var c ContactRow
		if err := rows.Scan(&c.ID, &c.UserID, &c.ContactID, &c.Status, &c.LastMessage, &c.LastMessageAtMs, &c.Unread, &c.CreatedAtMs, &c.UpdatedAtMs); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetContact(ctx context.Context, userID, contactID string) (ContactRow, error) {
	if s == nil || s.db == nil {
		return ContactRow{}, errors.New("db not initialized")
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, user_id, contact_id, status, last_message, last_message_at_ms, unread, created_at_ms, updated_at_ms
		FROM contacts WHERE user_id = ? AND contact_id = ?`), userID, contactID)
	return scanContact(row.Scan)
}

func (s *Store) getContactTx(ctx context.Context, tx *sql.Tx, userID, contactID string) (ContactRow, error) {
	row := tx.QueryRowContext(ctx, s.rebind(`
		SELECT id, user_id, contact_id, status, last_message, last_message_at_ms, unread, created_at_ms, updated_at_ms
		FROM contacts WHERE user_id = ? AND contact_id = ?`), userID, contactID)
	return scanContact(row.Scan)
}

// RecomputeProjection refreshes one edge's cached preview and unread count
// from message state and reports whether anything changed.
func (s *Store) RecomputeProjection(ctx context.Context, userID, contactID string, nowMs int64) (ContactRow, bool, error) {
	if s == nil || s.db == nil {
		return ContactRow{}, false, errors.New("db not initialized")
	}

	edge, err := s.GetContact(ctx, userID, contactID)
	if err != nil {
		return ContactRow{}, false, err
	}

	conversationID := ConversationID(userID, contactID)

	var preview string
	var lastAtMs *int64
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT type, text, file_name, created_at_ms FROM messages
		WHERE conversation_id = ? ORDER BY created_at_ms DESC, id DESC LIMIT 1`), conversationID)
	var msgType, text string
	var fileName *string
	var createdAtMs int64
	switch err := row.Scan(&msgType, &text, &fileName, &createdAtMs); {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return ContactRow{}, false, fmt.Errorf("latest message: %w", err)
	default:
		preview = messagePreview(msgType, text, fileName)
		lastAtMs = &createdAtMs
	}

	var unread int
	if err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND receiver_id = ? AND read = 0`), conversationID, userID).Scan(&unread); err != nil {
		return ContactRow{}, false, fmt.Errorf("unread count: %w", err)
	}

	changed := edge.LastMessage != preview || edge.Unread != unread ||
		!int64PtrEqual(edge.LastMessageAtMs, lastAtMs)
	if !changed {
		return edge, false, nil
	}

	if _, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE contacts SET last_message = ?, last_message_at_ms = ?, unread = ?, updated_at_ms = ?
		WHERE user_id = ? AND contact_id = ?`),
		preview, lastAtMs, unread, nowMs, userID, contactID,
	); err != nil {
		return ContactRow{}, false, fmt.Errorf("update projection: %w", err)
	}

	edge.LastMessage = preview
	edge.LastMessageAtMs = lastAtMs
	edge.Unread = unread
	edge.UpdatedAtMs = nowMs
	return edge, true, nil
}

func scanContact(scan func(dest ...any) error) (ContactRow, error) {
	var c ContactRow
	err := scan(&c.ID, &c.UserID, &c.ContactID, &c.Status, &c.LastMessage, &c.LastMessageAtMs, &c.Unread, &c.CreatedAtMs, &c.UpdatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return ContactRow{}, ErrNotFound
	}
	if err != nil {
		return ContactRow{}, fmt.Errorf("scan contact: %w", err)
	}
	return c, nil
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
