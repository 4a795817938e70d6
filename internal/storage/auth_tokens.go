package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
)

func (s *Store) CreateAuthToken(ctx context.Context, userID string, deviceInfo *string, nowMs, expiresAtMs int64) (AuthTokenRow, error) {
	if s == nil || s.db == nil {
		return AuthTokenRow{}, errors.New("db not initialized")
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return AuthTokenRow{}, fmt.Errorf("generate token: %w", err)
	}

	token := AuthTokenRow{
		Token:       hex.EncodeToString(buf),
		UserID:      userID,
		DeviceInfo:  deviceInfo,
		CreatedAtMs: nowMs,
		ExpiresAtMs: expiresAtMs,
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO auth_tokens (token, user_id, device_info, created_at_ms, expires_at_ms)
		VALUES (?, ?, ?, ?, ?)`),
		token.Token, token.UserID, token.DeviceInfo, token.CreatedAtMs, token.ExpiresAtMs,
	)
	if err != nil {
		return AuthTokenRow{}, fmt.Errorf("create auth token: %w", err)
	}
	return token, nil
}

// ValidateToken resolves a bearer token to its user ID. Expired tokens are
// deleted on sight.
func (s *Store) ValidateToken(ctx context.Context, token string, nowMs int64) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("db not initialized")
	}
	if token == "" {
		return "", ErrTokenInvalid
	}

	var userID string
	var expiresAtMs int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT user_id, expires_at_ms FROM auth_tokens WHERE token = ?`), token).Scan(&userID, &expiresAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrTokenInvalid
	}
	if err != nil {
		return "", fmt.Errorf("validate token: %w", err)
	}

	if expiresAtMs <= nowMs {
		_, _ = s.db.ExecContext(ctx, s.rebind(`DELETE FROM auth_tokens WHERE token = ?`), token)
		return "", ErrTokenExpired
	}
	return userID, nil
}

func (s *Store) DeleteToken(ctx context.Context, token string) error {
	if s == nil || s.db == nil {
		return errors.New("db not initialized")
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM auth_tokens WHERE token = ?`), token)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTokenInvalid
	}
	return nil
}
