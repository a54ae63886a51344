package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime settings for the briefcast server.
// Everything is env-driven; DefaultConfig never fails, missing
// secrets are warned about at startup instead.
type Config struct {
	Port        int
	MetricsAddr string

	SessionSecret string
	SessionTTL    time.Duration

	GeminiAPIKey string
	GeminiModel  string
	TTSAPIKey    string

	DataDir  string
	AudioDir string

	AWSRegion     string
	DynamoTable   string
	S3Bucket      string
	S3AudioPrefix string
	SecretName    string

	RetentionDays     int
	GeneratePerMinute int
	GeneratePerDay    int

	Cost CostConfig
}

// CostConfig tunes the admin cost estimate. Averages are tokens per
// upstream call, prices are USD per 1k tokens.
type CostConfig struct {
	Currency               string
	GeminiAvgTokensPerCall float64
	GeminiPricePer1k       float64
	TTSAvgTokensPerCall    float64
	TTSPricePer1k          float64
}

// DefaultConfig builds a Config from environment variables.
func DefaultConfig() Config {
	return Config{
		Port:        envInt("PORT", 8787),
		MetricsAddr: envOr("METRICS_ADDR", ""),

		SessionSecret: envOr("SESSION_SECRET", ""),
		SessionTTL:    7 * 24 * time.Hour,

		GeminiAPIKey: envOr("GEMINI_API_KEY", ""),
		GeminiModel:  envOr("GEMINI_MODEL", ""),
		TTSAPIKey:    envOr("GOOGLE_TTS_API_KEY", ""),

		DataDir:  envOr("DATA_DIR", "./data"),
		AudioDir: envOr("AUDIO_DIR", "./data/audio"),

		AWSRegion:     envOr("AWS_REGION", ""),
		DynamoTable:   envOr("DYNAMO_TABLE", ""),
		S3Bucket:      envOr("S3_AUDIO_BUCKET", ""),
		S3AudioPrefix: envOr("S3_AUDIO_PREFIX", "audio/"),
		SecretName:    envOr("BRIEFCAST_SECRET_NAME", ""),

		RetentionDays:     envInt("BRIEFING_RETENTION_DAYS", 30),
		GeneratePerMinute: envInt("GENERATE_LIMIT_PER_MINUTE", 4),
		GeneratePerDay:    envInt("GENERATE_LIMIT_PER_DAY", 20),

		Cost: CostConfig{
			Currency:               envOr("COST_CURRENCY", "USD"),
			GeminiAvgTokensPerCall: envFloat("COST_GEMINI_AVG_TOKENS_PER_CALL", 1500),
			GeminiPricePer1k:       envFloat("COST_GEMINI_PRICE_PER_1K_TOKENS", 0.0015),
			TTSAvgTokensPerCall:    envFloat("COST_TTS_AVG_TOKENS_PER_CALL", 1500),
			TTSPricePer1k:          envFloat("COST_TTS_PRICE_PER_1K_TOKENS", 0.0010),
		},
	}
}

// Warn logs startup warnings for weak or missing settings.
func (c Config) Warn(log *slog.Logger) {
	if c.SessionSecret == "" {
		log.Warn("SESSION_SECRET is not set, using an ephemeral secret; sessions will not survive restarts")
	}
	if !c.HasGeminiKey() {
		log.Warn("GEMINI_API_KEY is not set or is a placeholder, script generation runs in demo mode")
	}
	if !c.HasTTSKey() {
		log.Warn("GOOGLE_TTS_API_KEY is not set or is a placeholder, speech synthesis is disabled")
	}
	if c.DynamoTable == "" {
		log.Warn("DYNAMO_TABLE is not set, persistence is local-file only")
	}
}

// HasGeminiKey reports whether a usable Gemini key is configured.
// The scaffold placeholder value counts as absent.
func (c Config) HasGeminiKey() bool {
	return c.GeminiAPIKey != "" && c.GeminiAPIKey != "your_gemini_api_key"
}

// HasTTSKey reports whether a usable TTS key is configured.
func (c Config) HasTTSKey() bool {
	return c.TTSAPIKey != "" && c.TTSAPIKey != "your_tts_api_key"
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
