package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string

	// Vault encryption inputs. The master secret is stretched with the
	// salt into the AES key, so both must stay stable across restarts.
	VaultMasterSecret string
	VaultKeySalt      string

	// StorageBackend selects the durable artifact backend: "fs" or "s3".
	StorageBackend  string
	StorageBasePath string
	StorageBaseURL  string
	S3Region        string
	S3Bucket        string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3PublicBaseURL string

	// Queue policy.
	LaneWidth   int
	MaxAttempts int

	// Provider call budgets.
	ProbeTimeout         time.Duration
	OAuthExchangeTimeout time.Duration
	WorkflowBudget       time.Duration

	// OAuth application credentials, per provider id.
	SunoClientID     string
	SunoClientSecret string

	AllowedOrigins []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		VaultMasterSecret: os.Getenv("VAULT_MASTER_SECRET"),
		VaultKeySalt:      getEnv("VAULT_KEY_SALT", "storyreel-vault-v1"),

		StorageBackend:  getEnv("STORAGE_BACKEND", "fs"),
		StorageBasePath: getEnv("STORAGE_BASE_PATH", "./data/assets"),
		StorageBaseURL:  getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		S3Region:        getEnv("S3_REGION", "us-east-1"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),

		LaneWidth:   getEnvInt("QUEUE_LANE_WIDTH", 1),
		MaxAttempts: getEnvInt("QUEUE_MAX_ATTEMPTS", 3),

		ProbeTimeout:         time.Second * time.Duration(getEnvInt("PROVIDER_PROBE_TIMEOUT_SECONDS", 3)),
		OAuthExchangeTimeout: time.Second * time.Duration(getEnvInt("OAUTH_EXCHANGE_TIMEOUT_SECONDS", 10)),
		WorkflowBudget:       time.Second * time.Duration(getEnvInt("WORKFLOW_BUDGET_SECONDS", 120)),

		SunoClientID:     os.Getenv("SUNO_CLIENT_ID"),
		SunoClientSecret: os.Getenv("SUNO_CLIENT_SECRET"),

		AllowedOrigins: splitCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.VaultMasterSecret == "" {
		return nil, fmt.Errorf("VAULT_MASTER_SECRET is required")
	}

	if cfg.StorageBackend == "s3" && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
	}

	return cfg, nil
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
