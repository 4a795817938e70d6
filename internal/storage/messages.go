package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ConversationID derives the canonical conversation key for a user pair. It is
// order independent so both participants address the same history.
func ConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "_")
}

func messagePreview(msgType, text string, fileName *string) string {
	switch msgType {
	case MessageTypeText, "":
		return text
	case MessageTypeImage:
		return "Sent an image"
	case MessageTypeVideo:
		return "Sent a video"
	case MessageTypeAudio:
		return "Sent an audio message"
	default:
		if fileName != nil && *fileName != "" {
			return "Sent a file: " + *fileName
		}
		return "Sent a file"
	}
}

// CreateMessage stores the message as delivered/unread and refreshes both
// participants' contact projections in the same transaction, bumping only the
// receiver's unread count.
func (s *Store) CreateMessage(ctx context.Context, msg MessageRow) (MessageRow, error) {
	if s == nil || s.db == nil {
		return MessageRow{}, errors.New("db not initialized")
	}
	if msg.SenderID == msg.ReceiverID {
		return MessageRow{}, ErrSelfReference
	}

	msg.ID = uuid.NewString()
	msg.ConversationID = ConversationID(msg.SenderID, msg.ReceiverID)
	msg.Read = false
	msg.Delivered = true
	msg.Edited = false
	if msg.Type == "" {
		msg.Type = MessageTypeText
	}

	var fileURL, fileName, fileMime *string
	var fileSize *int64
	if msg.File != nil {
		fileURL = &msg.File.URL
		fileName = &msg.File.Name
		fileSize = &msg.File.Size
		fileMime = &msg.File.Mime
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MessageRow{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, type, text, file_url, file_name, file_size, file_mime, read, delivered, edited, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 1, 0, ?)`),
		msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Type, msg.Text,
		fileURL, fileName, fileSize, fileMime, msg.CreatedAtMs,
	); err != nil {
		return MessageRow{}, fmt.Errorf("insert message: %w", err)
	}

	preview := messagePreview(msg.Type, msg.Text, fileName)

	if _, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE contacts SET last_message = ?, last_message_at_ms = ?, updated_at_ms = ?
		WHERE user_id = ? AND contact_id = ?`),
		preview, msg.CreatedAtMs, msg.CreatedAtMs, msg.SenderID, msg.ReceiverID,
	); err != nil {
		return MessageRow{}, fmt.Errorf("update sender projection: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE contacts SET last_message = ?, last_message_at_ms = ?, unread = unread + 1, updated_at_ms = ?
		WHERE user_id = ? AND contact_id = ?`),
		preview, msg.CreatedAtMs, msg.CreatedAtMs, msg.ReceiverID, msg.SenderID,
	); err != nil {
		return MessageRow{}, fmt.Errorf("update receiver projection: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return MessageRow{}, err
	}
	return msg, nil
}

func (s *Store) GetMessageByID(ctx context.Context, id string) (MessageRow, error) {
	if s == nil || s.db == nil {
		return MessageRow{}, errors.New("db not initialized")
	}
	row := s.db.QueryRowContext(ctx, s.rebind(selectMessage+` WHERE id = ?`), id)
	return scanMessage(row.Scan)
}

// ListConversation returns the full history between two users in ascending
// chronological order.
func (s *Store) ListConversation(ctx context.Context, userA, userB string) ([]MessageRow, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("db not initialized")
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(selectMessage+`
		WHERE conversation_id = ? ORDER BY created_at_ms ASC, id ASC`), ConversationID(userA, userB))
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	defer rows.Close()

	var out []MessageRow
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ReactionsForConversation(ctx context.Context, userA, userB string) ([]ReactionRow, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("db not initialized")
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT r.message_id, r.user_id, r.emoji, r.created_at_ms
		FROM message_reactions r
		JOIN messages m ON m.id = r.message_id
		WHERE m.conversation_id = ?
		ORDER BY r.created_at_ms ASC`), ConversationID(userA, userB))
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	var out []ReactionRow
	for rows.Next() {
		var r ReactionRow
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAtMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EditMessage replaces the text of a message. Only the sender may edit, and
// the contact projections are refreshed when the edited message is the newest
// in its conversation.
func (s *Store) EditMessage(ctx context.Context, messageID, editorID, text string, nowMs int64) (MessageRow, error) {
	if s == nil || s.db == nil {
		return MessageRow{}, errors.New("db not initialized")
	}

	msg, err := s.GetMessageByID(ctx, messageID)
	if err != nil {
		return MessageRow{}, err
	}
	if msg.SenderID != editorID {
		return MessageRow{}, ErrAccessDenied
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MessageRow{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE messages SET text = ?, edited = 1 WHERE id = ?`), text, messageID); err != nil {
		return MessageRow{}, fmt.Errorf("edit message: %w", err)
	}

	var newestID string
	if err := tx.QueryRowContext(ctx, s.rebind(`
		SELECT id FROM messages WHERE conversation_id = ?
		ORDER BY created_at_ms DESC, id DESC LIMIT 1`), msg.ConversationID).Scan(&newestID); err != nil {
		return MessageRow{}, fmt.Errorf("newest message: %w", err)
	}
	if newestID == messageID && msg.Type == MessageTypeText {
		for _, pair := range [][2]string{{msg.SenderID, msg.ReceiverID}, {msg.ReceiverID, msg.SenderID}} {
			if _, err := tx.ExecContext(ctx, s.rebind(`
				UPDATE contacts SET last_message = ?, updated_at_ms = ?
				WHERE user_id = ? AND contact_id = ?`),
				text, nowMs, pair[0], pair[1],
			); err != nil {
				return MessageRow{}, fmt.Errorf("refresh projection: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return MessageRow{}, err
	}

	msg.Text = text
	msg.Edited = true
	return msg, nil
}

// DeleteMessage removes a message for both participants and recomputes their
// projections from what remains.
func (s *Store) DeleteMessage(ctx context.Context, messageID, requesterID string, nowMs int64) (MessageRow, error) {
	if s == nil || s.db == nil {
		return MessageRow{}, errors.New("db not initialized")
	}

	msg, err := s.GetMessageByID(ctx, messageID)
	if err != nil {
		return MessageRow{}, err
	}
	if msg.SenderID != requesterID && msg.ReceiverID != requesterID {
		return MessageRow{}, ErrAccessDenied
	}

	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE id = ?`), messageID); err != nil {
		return MessageRow{}, fmt.Errorf("delete message: %w", err)
	}

	if _, _, err := s.RecomputeProjection(ctx, msg.SenderID, msg.ReceiverID, nowMs); err != nil && !errors.Is(err, ErrNotFound) {
		return MessageRow{}, err
	}
	if _, _, err := s.RecomputeProjection(ctx, msg.ReceiverID, msg.SenderID, nowMs); err != nil && !errors.Is(err, ErrNotFound) {
		return MessageRow{}, err
	}
	return msg, nil
}

// DeleteConversation wipes the history between two users and resets both
// projections.
func (s *Store) DeleteConversation(ctx context.Context, userID, peerID string, nowMs int64) error {
	if s == nil || s.db == nil {
		return errors.New("db not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`
		DELETE FROM messages WHERE conversation_id = ?`), ConversationID(userID, peerID)); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	for _, pair := range [][2]string{{userID, peerID}, {peerID, userID}} {
		if _, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE contacts SET last_message = '', last_message_at_ms = NULL, unread = 0, updated_at_ms = ?
			WHERE user_id = ? AND contact_id = ?`),
			nowMs, pair[0], pair[1],
		); err != nil {
			return fmt.Errorf("reset projection: %w", err)
		}
	}

	return tx.Commit()
}

// MarkConversationRead marks every unread message addressed to userID from
// peerID as read and zeroes the unread counter. Safe to call repeatedly.
func (s *Store) MarkConversationRead(ctx context.Context, userID, peerID string, nowMs int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("db not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE messages SET read = 1
		WHERE conversation_id = ? AND receiver_id = ? AND read = 0`),
		ConversationID(userID, peerID), userID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE contacts SET unread = 0, updated_at_ms = ?
		WHERE user_id = ? AND contact_id = ? AND unread <> 0`),
		nowMs, userID, peerID,
	); err != nil {
		return 0, fmt.Errorf("zero unread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return affected, nil
}

// ToggleReaction sets, replaces or removes the caller's reaction on a message.
// Reacting with the current emoji removes it; a different emoji replaces it.
// The returned bool reports whether a reaction is present afterwards.
func (s *Store) ToggleReaction(ctx context.Context, messageID, userID, emoji string, nowMs int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("db not initialized")
	}

	msg, err := s.GetMessageByID(ctx, messageID)
	if err != nil {
		return false, err
	}
	if msg.SenderID != userID && msg.ReceiverID != userID {
		return false, ErrAccessDenied
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, s.rebind(`
		SELECT emoji FROM message_reactions WHERE message_id = ? AND user_id = ?`),
		messageID, userID,
	).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO message_reactions (message_id, user_id, emoji, created_at_ms)
			VALUES (?, ?, ?, ?)`), messageID, userID, emoji, nowMs); err != nil {
			return false, fmt.Errorf("insert reaction: %w", err)
		}
		return true, tx.Commit()
	case err != nil:
		return false, fmt.Errorf("get reaction: %w", err)
	case current == emoji:
		if _, err := tx.ExecContext(ctx, s.rebind(`
			DELETE FROM message_reactions WHERE message_id = ? AND user_id = ?`), messageID, userID); err != nil {
			return false, fmt.Errorf("delete reaction: %w", err)
		}
		return false, tx.Commit()
	default:
		if _, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE message_reactions SET emoji = ?, created_at_ms = ? WHERE message_id = ? AND user_id = ?`),
			emoji, nowMs, messageID, userID); err != nil {
			return false, fmt.Errorf("replace reaction: %w", err)
		}
		return true, tx.Commit()
	}
}

const selectMessage = `
	SELECT id, conversation_id, sender_id, receiver_id, type, text, file_url, file_name, file_size, file_mime, read, delivered, edited, created_at_ms
	FROM messages`

func scanMessage(scan func(dest ...any) error) (MessageRow, error) {
	var m MessageRow
	var fileURL, fileName, fileMime *string
	var fileSize *int64
	var read, delivered, edited int
	err := scan(&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Type, &m.Text,
		&fileURL, &fileName, &fileSize, &fileMime, &read, &delivered, &edited, &m.CreatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return MessageRow{}, ErrNotFound
	}
	if err != nil {
		return MessageRow{}, fmt.Errorf("scan message: %w", err)
	}
	m.Read = read != 0
	m.Delivered = delivered != 0
	m.Edited = edited != 0
	if fileURL != nil {
		m.File = &FileMeta{URL: *fileURL}
		if fileName != nil {
			m.File.Name = *fileName
		}
		if fileSize != nil {
			m.File.Size = *fileSize
		}
		if fileMime != nil {
			m.File.Mime = *fileMime
		}
	}
	return m, nil
}
