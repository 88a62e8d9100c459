package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/text/language"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Vision    VisionConfig
	Objstore  ObjstoreConfig
	Match     MatchConfig
	Budget    BudgetConfig
	Stream    StreamConfig
	Queue     QueueConfig
	Janitor   JanitorConfig
	Notify    NotifyConfig
	Retention RetentionConfig
	Internal  InternalConfig
	Scan      ScanConfig
}

type ServerConfig struct {
	Port          int
	Env           string
	PublicBaseURL string
}

type DatabaseConfig struct {
	URL       string
	MaxConns  int
	MinConns  int
	OpTimeout time.Duration
}

type RedisConfig struct {
	URL string
}

type VisionConfig struct {
	Provider         string
	APIKey           string
	BaseURL          string
	VLMModel         string
	FallbackVLMModel string
	ImageModel       string
	FallbackImage    string
	CallTimeout      time.Duration
	ImageTimeout     time.Duration
	MaxRetries       int
}

type ObjstoreConfig struct {
	Mode            string
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UploadTTL       time.Duration
	UploadMaxBytes  int64
	SigningSecret   string
}

type MatchConfig struct {
	GeoRadiusMinMeters  float64
	SimilarityThreshold float64
	EmbeddingBaseURL    string
	CandidateLimit      int
}

type BudgetConfig struct {
	FirstResultTarget time.Duration
	HardCap           time.Duration
	MenuDataInterval  time.Duration
}

type StreamConfig struct {
	PollInterval time.Duration
	Heartbeat    time.Duration
	MaxWait      time.Duration
}

type QueueConfig struct {
	Name        string
	Concurrency int
	MaxRetry    int
	Retention   time.Duration
}

type JanitorConfig struct {
	Schedule   string
	StaleGrace time.Duration
}

type NotifyConfig struct {
	ExpoPushURL string
}

type RetentionConfig struct {
	EventsTTL    time.Duration
	SnapshotsTTL time.Duration
}

type InternalConfig struct {
	TokenHash string
}

type ScanConfig struct {
	DefaultLanguage    string
	RateLimitPerMinute int
}

// Load reads configuration from the environment, applies defaults, and
// validates required values.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:          envInt("MENULENS_PORT", 8080),
			Env:           envString("MENULENS_ENV", "development"),
			PublicBaseURL: envString("PUBLIC_BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			URL:       envString("DATABASE_URL", ""),
			MaxConns:  envInt("DB_MAX_CONNS", 10),
			MinConns:  envInt("DB_MIN_CONNS", 2),
			OpTimeout: envDurationSecs("DB_OP_TIMEOUT_SECONDS", 20),
		},
		Redis: RedisConfig{
			URL: envString("REDIS_URL", ""),
		},
		Vision: VisionConfig{
			Provider:         envString("VISION_PROVIDER", "gemini"),
			APIKey:           envString("GEMINI_API_KEY", ""),
			BaseURL:          envString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			VLMModel:         envString("GEMINI_VLM_MODEL", "gemini-2.5-flash"),
			FallbackVLMModel: envString("GEMINI_FALLBACK_VLM_MODEL", "gemini-2.5-flash-lite"),
			ImageModel:       envString("GEMINI_IMAGE_MODEL", "gemini-2.0-flash-preview-image-generation"),
			FallbackImage:    envString("GEMINI_FALLBACK_IMAGE_MODEL", "gemini-2.0-flash-exp-image-generation"),
			CallTimeout:      envDurationSecs("VISION_TIMEOUT_SECONDS", 45),
			ImageTimeout:     envDurationSecs("VISION_IMAGE_TIMEOUT_SECONDS", 30),
			MaxRetries:       envInt("VISION_MAX_RETRIES", 2),
		},
		Objstore: ObjstoreConfig{
			Mode:            envString("OBJSTORE_MODE", "memory"),
			Bucket:          envString("OBJSTORE_BUCKET", ""),
			Endpoint:        envString("OBJSTORE_ENDPOINT", ""),
			Region:          envString("OBJSTORE_REGION", "auto"),
			AccessKeyID:     envString("OBJSTORE_ACCESS_KEY_ID", ""),
			SecretAccessKey: envString("OBJSTORE_SECRET_ACCESS_KEY", ""),
			UploadTTL:       envDurationSecs("UPLOAD_URL_TTL_SECONDS", 900),
			UploadMaxBytes:  int64(envInt("UPLOAD_MAX_BYTES", 10<<20)),
			SigningSecret:   envString("UPLOAD_SIGNING_SECRET", ""),
		},
		Match: MatchConfig{
			GeoRadiusMinMeters:  envFloat("GEO_RADIUS_MIN_METERS", 200),
			SimilarityThreshold: envFloat("EMBED_SIMILARITY_THRESHOLD", 0.99),
			EmbeddingBaseURL:    envString("EMBEDDING_BASE_URL", ""),
			CandidateLimit:      envInt("MATCH_CANDIDATE_LIMIT", 20),
		},
		Budget: BudgetConfig{
			FirstResultTarget: envDurationSecs("UX_FIRST_RESULT_SECONDS", 60),
			HardCap:           envDurationSecs("UX_HARD_CAP_SECONDS", 180),
			MenuDataInterval:  time.Duration(envInt("MENU_DATA_MIN_INTERVAL_MS", 1500)) * time.Millisecond,
		},
		Stream: StreamConfig{
			PollInterval: time.Duration(envInt("SSE_POLL_INTERVAL_MS", 1000)) * time.Millisecond,
			Heartbeat:    envDurationSecs("SSE_HEARTBEAT_SECONDS", 10),
			MaxWait:      envDurationSecs("SSE_MAX_WAIT_SECONDS", 300),
		},
		Queue: QueueConfig{
			Name:        envString("QUEUE_NAME", "scans"),
			Concurrency: envInt("QUEUE_CONCURRENCY", 10),
			MaxRetry:    envInt("QUEUE_MAX_RETRY", 3),
			Retention:   time.Duration(envInt("QUEUE_RETENTION_HOURS", 24)) * time.Hour,
		},
		Janitor: JanitorConfig{
			Schedule:   envString("JANITOR_SCHEDULE", "@every 5m"),
			StaleGrace: envDurationSecs("STALE_RUNNING_GRACE_SECONDS", 60),
		},
		Notify: NotifyConfig{
			ExpoPushURL: envString("EXPO_PUSH_URL", "https://exp.host"),
		},
		Retention: RetentionConfig{
			EventsTTL:    time.Duration(envInt("SCAN_EVENTS_TTL_HOURS", 24)) * time.Hour,
			SnapshotsTTL: time.Duration(envInt("SCAN_SNAPSHOTS_TTL_DAYS", 7)) * 24 * time.Hour,
		},
		Internal: InternalConfig{
			TokenHash: envString("INTERNAL_TOKEN_HASH", ""),
		},
		Scan: ScanConfig{
			DefaultLanguage:    envString("DEFAULT_LANGUAGE", "zh-TW"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 30),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validProviders = map[string]bool{
	"gemini": true,
	"mock":   true,
}

var validObjstoreModes = map[string]bool{
	"s3":     true,
	"memory": true,
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if !validProviders[c.Vision.Provider] {
		return fmt.Errorf("VISION_PROVIDER %q is not supported (must be one of: gemini, mock)", c.Vision.Provider)
	}
	if c.Vision.Provider == "gemini" && c.Vision.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when VISION_PROVIDER is gemini")
	}
	if !validObjstoreModes[c.Objstore.Mode] {
		return fmt.Errorf("OBJSTORE_MODE %q is not supported (must be one of: s3, memory)", c.Objstore.Mode)
	}
	if c.Objstore.Mode == "s3" {
		if c.Objstore.Bucket == "" {
			return fmt.Errorf("OBJSTORE_BUCKET is required when OBJSTORE_MODE is s3")
		}
		if c.Objstore.AccessKeyID == "" || c.Objstore.SecretAccessKey == "" {
			return fmt.Errorf("OBJSTORE_ACCESS_KEY_ID and OBJSTORE_SECRET_ACCESS_KEY are required when OBJSTORE_MODE is s3")
		}
	}
	if c.Objstore.Mode == "memory" && c.Objstore.SigningSecret == "" {
		return fmt.Errorf("UPLOAD_SIGNING_SECRET is required when OBJSTORE_MODE is memory")
	}
	if c.Budget.HardCap <= c.Budget.FirstResultTarget {
		return fmt.Errorf("UX_HARD_CAP_SECONDS must be greater than UX_FIRST_RESULT_SECONDS")
	}
	if c.Match.SimilarityThreshold <= 0 || c.Match.SimilarityThreshold > 1 {
		return fmt.Errorf("EMBED_SIMILARITY_THRESHOLD must be in (0, 1]")
	}
	if _, err := language.Parse(c.Scan.DefaultLanguage); err != nil {
		return fmt.Errorf("DEFAULT_LANGUAGE %q is not a valid BCP 47 tag: %w", c.Scan.DefaultLanguage, err)
	}
	return nil
}

// --- env helpers ---

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// envDurationSecs reads an integer number of seconds.
func envDurationSecs(key string, fallbackSecs int) time.Duration {
	return time.Duration(envInt(key, fallbackSecs)) * time.Second
}
