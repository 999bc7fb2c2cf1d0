// Package config loads the originctl client's configuration from
// environment variables, the same getEnv-over-godotenv shape the
// teacher's gateway config uses.
package config

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/originprotocol/origin-messaging-go/conversation"
)

// Config holds the client's runtime configuration.
type Config struct {
	// KeyServerURL is the base URL of the key server (registry + log +
	// stream endpoints).
	KeyServerURL string

	// WalletRPCURL holds ORIGIN_WALLET_RPC_URL, an Ethereum JSON-RPC
	// endpoint. No component in this module reads it; originctl signs with
	// an in-process key.
	WalletRPCURL string

	// SecretStorePath, when set, backs identity.FileSecretStore, which
	// originctl then uses in place of the in-memory default. Empty means
	// memory-only.
	SecretStorePath string

	// StatusStorePath, when set, backs status.FileKV. Empty means
	// memory-only (process-lifetime read/unread state).
	StatusStorePath string

	// LogLevel holds ORIGIN_LOG_LEVEL ("debug", "info", "warn", "error").
	// originctl does not read it; its slog level comes from --verbose.
	LogLevel string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded if present (dev convenience).
func Load() (*Config, error) {
	_ = godotenv.Load() // no-op if .env absent (production uses real env vars)

	cfg := &Config{
		KeyServerURL:    getEnv("ORIGIN_KEY_SERVER_URL", "https://messaging.originprotocol.com"),
		WalletRPCURL:    getEnv("ORIGIN_WALLET_RPC_URL", ""),
		SecretStorePath: getEnv("ORIGIN_SECRET_STORE_PATH", ""),
		StatusStorePath: getEnv("ORIGIN_STATUS_STORE_PATH", ""),
		LogLevel:        getEnv("ORIGIN_LOG_LEVEL", "info"),
	}

	if cfg.KeyServerURL == "" {
		return nil, conversation.ConfigurationError{Field: "ORIGIN_KEY_SERVER_URL"}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

