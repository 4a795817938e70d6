package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	LogLevel    string

	// Reconciliation cadence for contacts/messages and for call/typing state.
	PollInterval     time.Duration
	CallPollInterval time.Duration

	// An un-answered ringing call transitions to missed after this window.
	RingTimeout time.Duration

	// A typing flag not refreshed within this window is considered stale.
	TypingIdleTimeout time.Duration

	TokenTTL time.Duration
}

func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL: getEnv("DATABASE_URL", "sqlite::memory:"),
		LogLevel:    strings.TrimSpace(getEnv("LOG_LEVEL", "info")),
	}

	var err error
	if cfg.PollInterval, err = getDuration("POLL_INTERVAL", 3*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.CallPollInterval, err = getDuration("CALL_POLL_INTERVAL", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RingTimeout, err = getDuration("RING_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.TypingIdleTimeout, err = getDuration("TYPING_IDLE_TIMEOUT", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.TokenTTL, err = getDuration("TOKEN_TTL", 30*24*time.Hour); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return Config{}, fmt.Errorf("HTTP_ADDR must not be empty")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must not be empty")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.PollInterval <= 0 || cfg.CallPollInterval <= 0 {
		return Config{}, fmt.Errorf("poll intervals must be positive")
	}
	if cfg.RingTimeout <= 0 {
		return Config{}, fmt.Errorf("RING_TIMEOUT must be positive")
	}
	if cfg.TypingIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("TYPING_IDLE_TIMEOUT must be positive")
	}
	if cfg.TokenTTL <= 0 {
		return Config{}, fmt.Errorf("TOKEN_TTL must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
