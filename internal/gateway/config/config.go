package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string
	Env  string

	DatabaseURL string
	SessionTTL  time.Duration

	Capability CapabilityConfig
	Enrich     EnrichConfig
	Archive    ArchiveConfig

	HeartbeatInterval time.Duration
}

type CapabilityConfig struct {
	GeminiAPIKey   string
	GeminiModel    string
	SearchAPIKey   string
	SearchEngineID string
	// Shared requests/minute budget across every session.
	RateBudgetRPM int
}

type EnrichConfig struct {
	MaxLinksPerPerspective int
	RelevanceThreshold     float64
	RequestDelay           time.Duration
}

type ArchiveConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8080", "server port")
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	cfg := &Config{
		Port:        *port,
		Env:         env,
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SessionTTL:  durationEnv("SESSION_TTL", 24*time.Hour),
		Capability: CapabilityConfig{
			GeminiAPIKey:   strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
			GeminiModel:    firstNonEmpty(strings.TrimSpace(os.Getenv("GEMINI_MODEL")), "gemini-2.0-flash"),
			SearchAPIKey:   strings.TrimSpace(os.Getenv("WEB_SEARCH_API_KEY")),
			SearchEngineID: strings.TrimSpace(os.Getenv("WEB_SEARCH_ENGINE_ID")),
			RateBudgetRPM:  intEnv("CAPABILITY_RPM", 30),
		},
		Enrich: EnrichConfig{
			MaxLinksPerPerspective: intEnv("ENRICH_MAX_LINKS", 3),
			RelevanceThreshold:     floatEnv("ENRICH_RELEVANCE_THRESHOLD", 0.7),
			RequestDelay:           durationEnv("ENRICH_REQUEST_DELAY", 500*time.Millisecond),
		},
		Archive:           loadArchiveConfig(env),
		HeartbeatInterval: durationEnv("HEARTBEAT_INTERVAL", 15*time.Second),
	}

	if cfg.DatabaseURL == "" && strings.EqualFold(env, "local") {
		cfg.DatabaseURL = localDatabaseURL
	}
	return cfg, nil
}

func loadArchiveConfig(env string) ArchiveConfig {
	endpoint := resolveArchiveEndpoint(env)
	return ArchiveConfig{
		Enabled:   strings.EqualFold(strings.TrimSpace(env), "local") || endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_S3_BUCKET")), "veracity-reports"),
		UseSSL:    resolveArchiveUseSSL(env),
	}
}

func resolveArchiveEndpoint(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return firstNonEmpty(strings.TrimSpace(os.Getenv("ARCHIVE_MINIO_ENDPOINT")), "minio:9000")
	}
	return strings.TrimSpace(os.Getenv("ARCHIVE_S3_ENDPOINT"))
}

func resolveArchiveUseSSL(env string) bool {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("ARCHIVE_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func intEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func floatEnv(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
