package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the guidance chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	SessionInactivityTimeout time.Duration
	SessionSweepInterval     time.Duration

	OpenAIAPIKey    string
	RealtimeBaseURL string
	RealtimeModel   string
	ConnectTimeout  time.Duration
	Instructions    string
	Voice           string
	TranscribeModel string
	Temperature     float64
	MaxOutputTokens int
	VADThreshold    float64
	VADPrefixMS     int
	VADSilenceMS    int

	// AuthTokens maps accepted bearer tokens to owner ids. Empty means the
	// deployment has no verifier: presented tokens are accepted as opaque
	// identities, and absent tokens fall back to an anonymous demo session.
	AuthTokens map[string]string
}

const defaultInstructions = "You are a gentle spiritual guide. Listen closely, " +
	"speak with warmth, and offer grounded, non-judgmental reflections. Keep " +
	"answers short enough to be spoken aloud."

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "sanctum"),
		AllowAnyOrigin:           true,
		SessionInactivityTimeout: 30 * time.Minute,
		SessionSweepInterval:     5 * time.Minute,
		OpenAIAPIKey:             strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		RealtimeBaseURL:          envOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeModel:            envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-10-01"),
		ConnectTimeout:           10 * time.Second,
		Instructions:             envOrDefault("SANCTUM_INSTRUCTIONS", defaultInstructions),
		Voice:                    envOrDefault("SANCTUM_VOICE", "alloy"),
		TranscribeModel:          envOrDefault("SANCTUM_TRANSCRIBE_MODEL", "whisper-1"),
		Temperature:              0.8,
		MaxOutputTokens:          4096,
		VADThreshold:             0.5,
		VADPrefixMS:              300,
		VADSilenceMS:             500,
		ShutdownTimeout:          15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionSweepInterval, err = durationFromEnv("APP_SESSION_SWEEP_INTERVAL", cfg.SessionSweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectTimeout, err = durationFromEnv("OPENAI_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.Temperature, err = floatFromEnv("SANCTUM_TEMPERATURE", cfg.Temperature)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxOutputTokens, err = intFromEnv("SANCTUM_MAX_OUTPUT_TOKENS", cfg.MaxOutputTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.VADThreshold, err = floatFromEnv("SANCTUM_VAD_THRESHOLD", cfg.VADThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.VADPrefixMS, err = intFromEnv("SANCTUM_VAD_PREFIX_MS", cfg.VADPrefixMS)
	if err != nil {
		return Config{}, err
	}
	cfg.VADSilenceMS, err = intFromEnv("SANCTUM_VAD_SILENCE_MS", cfg.VADSilenceMS)
	if err != nil {
		return Config{}, err
	}

	cfg.AuthTokens, err = parseAuthTokens(os.Getenv("SANCTUM_AUTH_TOKENS"))
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.SessionSweepInterval <= 0 {
		return Config{}, fmt.Errorf("APP_SESSION_SWEEP_INTERVAL must be positive")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return Config{}, fmt.Errorf("SANCTUM_TEMPERATURE must be in [0,2]")
	}
	if cfg.MaxOutputTokens <= 0 {
		return Config{}, fmt.Errorf("SANCTUM_MAX_OUTPUT_TOKENS must be positive")
	}
	if cfg.VADThreshold < 0 || cfg.VADThreshold > 1 {
		return Config{}, fmt.Errorf("SANCTUM_VAD_THRESHOLD must be in [0,1]")
	}

	return cfg, nil
}

// RealtimeURL assembles the upstream websocket URL with the model query.
func (c Config) RealtimeURL() string {
	base := strings.TrimSpace(c.RealtimeBaseURL)
	if strings.TrimSpace(c.RealtimeModel) == "" {
		return base
	}
	if strings.Contains(base, "?") {
		return base + "&model=" + c.RealtimeModel
	}
	return base + "?model=" + c.RealtimeModel
}

// parseAuthTokens parses "token:owner,token2:owner2". A bare token maps to
// an owner id derived from the token itself.
func parseAuthTokens(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		token, owner, found := strings.Cut(part, ":")
		token = strings.TrimSpace(token)
		owner = strings.TrimSpace(owner)
		if token == "" {
			return nil, fmt.Errorf("SANCTUM_AUTH_TOKENS entry %q has empty token", part)
		}
		if !found || owner == "" {
			owner = "user-" + token
		}
		out[token] = owner
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
