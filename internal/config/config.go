// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr   string
	DBPath       string
	DatabaseURL  string
	StoreTimeout time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
}

// UsePostgres returns true when KEYISSUER_DATABASE_URL is set. The composition
// root then opens Postgres instead of the SQLite file at DBPath.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// Load reads configuration from environment variables and returns a validated Config.
// Required: KEYISSUER_GOOGLE_CLIENT_ID, KEYISSUER_GOOGLE_CLIENT_SECRET,
// KEYISSUER_GOOGLE_REDIRECT_URI.
// Optional variables with defaults: KEYISSUER_LISTEN_ADDR (127.0.0.1:8000),
// KEYISSUER_DB_PATH (api_keys.db), KEYISSUER_STORE_TIMEOUT (5s), KEYISSUER_DATABASE_URL (unset).
func Load() (*Config, error) {
	clientID, err := required("KEYISSUER_GOOGLE_CLIENT_ID")
	if err != nil {
		return nil, err
	}
	clientSecret, err := required("KEYISSUER_GOOGLE_CLIENT_SECRET")
	if err != nil {
		return nil, err
	}
	redirectURI, err := required("KEYISSUER_GOOGLE_REDIRECT_URI")
	if err != nil {
		return nil, err
	}

	storeTimeout := 5 * time.Second
	if v, ok := os.LookupEnv("KEYISSUER_STORE_TIMEOUT"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("KEYISSUER_STORE_TIMEOUT has invalid duration %q: %w", v, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("KEYISSUER_STORE_TIMEOUT must be positive, got %q", v)
		}
		storeTimeout = parsed
	}

	listenAddr := "127.0.0.1:8000"
	if v, ok := os.LookupEnv("KEYISSUER_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "api_keys.db"
	if v, ok := os.LookupEnv("KEYISSUER_DB_PATH"); ok {
		dbPath = v
	}

	return &Config{
		ListenAddr:         listenAddr,
		DBPath:             dbPath,
		DatabaseURL:        os.Getenv("KEYISSUER_DATABASE_URL"),
		StoreTimeout:       storeTimeout,
		GoogleClientID:     clientID,
		GoogleClientSecret: clientSecret,
		GoogleRedirectURI:  redirectURI,
	}, nil
}

func required(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}
