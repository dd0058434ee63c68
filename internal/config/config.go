package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Storage  StorageConfig
	OCR      OCRConfig
	Session  SessionConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxUploadBytes int64
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// ResultTTL bounds how long extraction results stay cached.
	ResultTTL time.Duration
}

type AuthConfig struct {
	JWTSecret string
}

type StorageConfig struct {
	DocumentsDir string // per-app document storage; imports land here keyed by file name
	InboxDir     string // optional; files dropped here are imported automatically
	AllowedTypes []string
	CopyWorkers  int
}

type OCRConfig struct {
	Engine             string // tesseract, gosseract, openai, anthropic, noop
	Level              string // accurate or fast
	Language           string
	LanguageCorrection bool
	TesseractPath      string
	APIKey             string
	BaseURL            string
	Model              string
}

type SessionConfig struct {
	IdleTimeout time.Duration
}

type WorkerConfig struct {
	Concurrency int
	// WebhookURL receives a signed POST for every finished extraction job.
	WebhookURL    string
	WebhookSecret string
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	rps, err := getEnvFloat("RATE_LIMIT_RPS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}

	burst, err := getEnvInt("RATE_LIMIT_BURST", 40)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}

	maxUploadMB, err := getEnvInt("MAX_UPLOAD_MB", 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_MB: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 1)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	resultTTL, err := getEnvDuration("RESULT_CACHE_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid RESULT_CACHE_TTL: %w", err)
	}

	copyWorkers, err := getEnvInt("IMPORT_COPY_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("invalid IMPORT_COPY_WORKERS: %w", err)
	}

	correction, err := getEnvBool("OCR_LANGUAGE_CORRECTION", true)
	if err != nil {
		return nil, fmt.Errorf("invalid OCR_LANGUAGE_CORRECTION: %w", err)
	}

	idle, err := getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_IDLE_TIMEOUT: %w", err)
	}

	concurrency, err := getEnvInt("WORKER_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_CONCURRENCY: %w", err)
	}

	engine := getEnv("OCR_ENGINE", "tesseract")

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           port,
			CORSOrigins:    splitList(getEnv("CORS_ORIGINS", "*")),
			RateLimitRPS:   rps,
			RateLimitBurst: burst,
			MaxUploadBytes: int64(maxUploadMB) << 20,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        redisDB,
			ResultTTL: resultTTL,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		},
		Storage: StorageConfig{
			DocumentsDir: getEnv("DOCUMENTS_DIR", filepath.Join(os.TempDir(), "noteuploader", "documents")),
			InboxDir:     getEnv("INBOX_DIR", ""),
			AllowedTypes: splitList(getEnv("ALLOWED_TYPES", ".pdf")),
			CopyWorkers:  copyWorkers,
		},
		OCR: OCRConfig{
			Engine:             engine,
			Level:              getEnv("OCR_LEVEL", "accurate"),
			Language:           getEnv("OCR_LANGUAGE", "eng"),
			LanguageCorrection: correction,
			TesseractPath:      getEnv("TESSERACT_PATH", ""),
			APIKey:             getEnv("OCR_API_KEY", defaultAPIKey(engine)),
			BaseURL:            getEnv("OCR_BASE_URL", ""),
			Model:              getEnv("OCR_MODEL", ""),
		},
		Session: SessionConfig{
			IdleTimeout: idle,
		},
		Worker: WorkerConfig{
			Concurrency:   concurrency,
			WebhookURL:    getEnv("JOB_WEBHOOK_URL", ""),
			WebhookSecret: getEnv("JOB_WEBHOOK_SECRET", ""),
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var problems []string
	if c.Storage.DocumentsDir == "" {
		problems = append(problems, "DOCUMENTS_DIR must be set")
	}
	if c.OCR.Level != "accurate" && c.OCR.Level != "fast" {
		problems = append(problems, fmt.Sprintf("OCR_LEVEL must be accurate or fast, got %q", c.OCR.Level))
	}
	if c.OCR.Language == "" {
		problems = append(problems, "OCR_LANGUAGE must be set")
	}
	if (c.OCR.Engine == "openai" || c.OCR.Engine == "anthropic") && c.OCR.APIKey == "" {
		problems = append(problems, "OCR_API_KEY is required for engine "+c.OCR.Engine)
	}
	if c.Server.RateLimitRPS <= 0 || c.Server.RateLimitBurst < 1 {
		problems = append(problems, "RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.Storage.CopyWorkers < 1 {
		problems = append(problems, "IMPORT_COPY_WORKERS must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func defaultAPIKey(engine string) string {
	switch engine {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(strings.ToLower(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}
