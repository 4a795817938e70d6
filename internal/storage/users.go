package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string, nowMs int64) (UserRow, error) {
	if s == nil || s.db == nil {
		return UserRow{}, errors.New("db not initialized")
	}

	user := UserRow{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(name),
		Email:        normalizeEmail(email),
		PasswordHash: passwordHash,
		Status:       UserStatusAvailable,
		CreatedAtMs:  nowMs,
		UpdatedAtMs:  nowMs,
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO users (id, name, email, password_hash, online, status, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?)`),
		user.ID, user.Name, user.Email, user.PasswordHash, user.Status, user.CreatedAtMs, user.UpdatedAtMs,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return UserRow{}, ErrEmailExists
		}
		return UserRow{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// UpsertUserByEmail creates a user from an external identity profile, or
// refreshes name and avatar when the email is already known. Upserted users
// carry no usable password.
func (s *Store) UpsertUserByEmail(ctx context.Context, name, email string, avatarURL *string, nowMs int64) (UserRow, error) {
	if s == nil || s.db == nil {
		return UserRow{}, errors.New("db not initialized")
	}

	email = normalizeEmail(email)
	existing, err := s.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx, s.rebind(`
			UPDATE users SET name = ?, avatar_url = ?, updated_at_ms = ? WHERE id = ?`),
			strings.TrimSpace(name), avatarURL, nowMs, existing.ID,
		)
		if err != nil {
			return UserRow{}, fmt.Errorf("update user: %w", err)
		}
		existing.Name = strings.TrimSpace(name)
		existing.AvatarURL = avatarURL
		existing.UpdatedAtMs = nowMs
		return existing, nil
	case errors.Is(err, ErrNotFound):
		user := UserRow{
			ID:          uuid.NewString(),
			Name:        strings.TrimSpace(name),
			Email:       email,
			AvatarURL:   avatarURL,
			Status:      UserStatusAvailable,
			CreatedAtMs: nowMs,
			UpdatedAtMs: nowMs,
		}
		_, err := s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO users (id, name, email, password_hash, avatar_url, online, status, created_at_ms, updated_at_ms)
			VALUES (?, ?, ?, '', ?, 0, ?, ?, ?)`),
			user.ID, user.Name, user.Email, user.AvatarURL, user.Status, user.CreatedAtMs, user.UpdatedAtMs,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return s.GetUserByEmail(ctx, email)
			}
			return UserRow{}, fmt.Errorf("create user: %w", err)
		}
		return user, nil
	default:
		return UserRow{}, err
	}
}

func (s *Store) GetUserByID(ctx context.Context, id string) (UserRow, error) {
	if s == nil || s.db == nil {
		return UserRow{}, errors.New("db not initialized")
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, email, password_hash, avatar_url, online, last_seen_ms, status, created_at_ms, updated_at_ms
		FROM users WHERE id = ?`), id)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (UserRow, error) {
	if s == nil || s.db == nil {
		return UserRow{}, errors.New("db not initialized")
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, email, password_hash, avatar_url, online, last_seen_ms, status, created_at_ms, updated_at_ms
		FROM users WHERE email = ?`), normalizeEmail(email))
	return scanUser(row)
}

// SetUserOnline flips presence. Going offline also stamps last_seen_ms.
func (s *Store) SetUserOnline(ctx context.Context, userID string, online bool, nowMs int64) error {
	if s == nil || s.db == nil {
		return errors.New("db not initialized")
	}

	var res sql.Result
	var err error
	if online {
		res, err = s.db.ExecContext(ctx, s.rebind(`
			UPDATE users SET online = 1, updated_at_ms = ? WHERE id = ?`), nowMs, userID)
	} else {
		res, err = s.db.ExecContext(ctx, s.rebind(`
			UPDATE users SET online = 0, last_seen_ms = ?, updated_at_ms = ? WHERE id = ?`), nowMs, nowMs, userID)
	}
	if err != nil {
		return fmt.Errorf("set user online: %w", err)
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

func (s *Store) UpdateUserStatus(ctx context.Context, userID, status string, nowMs int64) error {
	if s == nil || s.db == nil {
		return errors.New("db not initialized")
	}
	switch status {
	case UserStatusAvailable, UserStatusBusy, UserStatusAway, UserStatusOffline:
	default:
		return ErrInvalidState
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE users SET status = ?, updated_at_ms = ? WHERE id = ?`), status, nowMs, userID)
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
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

// SetTyping upserts the typing flag for the (userID, peerID) direction.
func (s *Store) SetTyping(ctx context.Context, userID, peerID string, typing bool, nowMs int64) error {
	if s == nil || s.db == nil {
		return errors.New("db not initialized")
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE typing_states SET typing = ?, updated_at_ms = ? WHERE user_id = ? AND peer_id = ?`),
		boolToInt(typing), nowMs, userID, peerID,
	)
	if err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO typing_states (user_id, peer_id, typing, updated_at_ms) VALUES (?, ?, ?, ?)`),
		userID, peerID, boolToInt(typing), nowMs,
	)
	if err != nil {
		if isUniqueViolation(err) {
			_, err = s.db.ExecContext(ctx, s.rebind(`
				UPDATE typing_states SET typing = ?, updated_at_ms = ? WHERE user_id = ? AND peer_id = ?`),
				boolToInt(typing), nowMs, userID, peerID,
			)
		}
		if err != nil {
			return fmt.Errorf("set typing: %w", err)
		}
	}
	return nil
}

func (s *Store) IsTyping(ctx context.Context, userID, peerID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("db not initialized")
	}
	var typing int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT typing FROM typing_states WHERE user_id = ? AND peer_id = ?`), userID, peerID).Scan(&typing)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get typing: %w", err)
	}
	return typing != 0, nil
}

// ClearStaleTyping flips off every typing flag last refreshed before cutoffMs
// and returns the affected rows so callers can notify the peers.
func (s *Store) ClearStaleTyping(ctx context.Context, cutoffMs, nowMs int64) ([]TypingStateRow, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("db not initialized")
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT user_id, peer_id FROM typing_states WHERE typing = 1 AND updated_at_ms < ?`), cutoffMs)
	if err != nil {
		return nil, fmt.Errorf("list stale typing: %w", err)
	}
	var stale []TypingStateRow
	for rows.Next() {
		var ts TypingStateRow
		if err := rows.Scan(&ts.UserID, &ts.PeerID); err != nil {
			rows.Close()
			return nil, err
		}
		ts.UpdatedAtMs = nowMs
		stale = append(stale, ts)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(stale) == 0 {
		return nil, nil
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		UPDATE typing_states SET typing = 0, updated_at_ms = ? WHERE typing = 1 AND updated_at_ms < ?`), nowMs, cutoffMs)
	if err != nil {
		return nil, fmt.Errorf("clear stale typing: %w", err)
	}
	return stale, nil
}

func scanUser(row *sql.Row) (UserRow, error) {
	var u UserRow
	var online int
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.AvatarURL, &online, &u.LastSeenMs, &u.Status, &u.CreatedAtMs, &u.UpdatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRow{}, ErrNotFound
	}
	if err != nil {
		return UserRow{}, fmt.Errorf("scan user: %w", err)
	}
	u.Online = online != 0
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique violation") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "constraint failed: unique")
}
