// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default user-facing message copy.
const (
	WelcomeMessage = "Hi, I'm Helix! I'll help you create recruiting outreach sequences. What role are you hiring for?"
	ErrorMessage   = "Sorry, there was an error processing your request. Please try again."
	FallbackReply  = "I'm having trouble processing your message right now. Please try again."
)

// Config holds all application configuration.
type Config struct {
	APIBaseURL      string
	RequestTimeout  time.Duration
	UseWebsockets   bool
	WebsocketURL    string
	StatePath       string
	SessionTTL      time.Duration
	ActivityRefresh time.Duration
	DedupWindow     time.Duration
	OptimisticApply bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		APIBaseURL:      getEnv("HELIX_API_URL", "http://localhost:5000"),
		RequestTimeout:  getEnvDuration("HELIX_REQUEST_TIMEOUT", 15*time.Second),
		UseWebsockets:   getEnvBool("HELIX_USE_WEBSOCKETS", true),
		WebsocketURL:    getEnv("HELIX_WEBSOCKET_URL", "ws://localhost:5000/ws"),
		StatePath:       getEnv("HELIX_STATE_PATH", "./data/helix-state.db"),
		SessionTTL:      getEnvDuration("HELIX_SESSION_TTL", 24*time.Hour),
		ActivityRefresh: getEnvDuration("HELIX_ACTIVITY_REFRESH", 5*time.Minute),
		DedupWindow:     getEnvDuration("HELIX_DEDUP_WINDOW", 2*time.Second),
		OptimisticApply: getEnvBool("HELIX_OPTIMISTIC_APPLY", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("HELIX_API_URL cannot be empty")
	}
	if c.StatePath == "" {
		return fmt.Errorf("HELIX_STATE_PATH cannot be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("HELIX_REQUEST_TIMEOUT must be > 0")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("HELIX_SESSION_TTL must be > 0")
	}
	if c.DedupWindow <= 0 {
		return fmt.Errorf("HELIX_DEDUP_WINDOW must be > 0")
	}
	if c.UseWebsockets && c.WebsocketURL == "" {
		return fmt.Errorf("HELIX_WEBSOCKET_URL cannot be empty when websockets are enabled")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	// Bare integers are taken as seconds.
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
