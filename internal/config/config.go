package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the client.
type Config struct {
	// APIBaseURL is the REST API root, including the /api prefix.
	APIBaseURL string
	// SocketURL is the realtime endpoint.
	SocketURL string
	// StateDir is where the credential and identity files are persisted.
	StateDir string
}

// New loads configuration from environment variables. Every setting has a
// default pointing at a local backend, so the client starts without any env
// file present.
func New() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		APIBaseURL: getenv("CHATLINK_API_URL", "http://localhost:8081/api"),
		SocketURL:  getenv("CHATLINK_SOCKET_URL", "ws://localhost:9092"),
		StateDir:   getenv("CHATLINK_STATE_DIR", defaultStateDir()),
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultStateDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ".chatlink"
	}
	return filepath.Join(base, "chatlink")
}
