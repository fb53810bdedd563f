package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppName string
	AppEnv  string
	AppURL  string
	Port    string

	// Database (optional driver switch via ENV, default: sqlite)
	DBDriver     string
	DBConnection string

	// Observability (optional)
	SentryDSN string

	// Storage backend selection: "local" or "s3"
	StorageDriver string

	// Local storage
	LocalRoot     string
	TemporaryRoot string
	PublicURL     string // Optional: host rewrite for public file URLs

	// S3 (S3-compatible: MinIO, AWS S3, Cloudflare R2, DigitalOcean Spaces, etc.)
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string // Optional: for S3-compatible services

	// Upload behavior defaults (overridable per owner type and per call)
	UploadValidate                 bool
	DeleteModelOnUploadFail        bool
	RollbackModelOnUploadFail      bool
	DeleteModelOnQueueUploadFail   bool
	RollbackModelOnQueueUploadFail bool
	ForceDeleteUploads             bool
	ReplacePreviousUploads         bool
	UploadQueue                    string // empty = synchronous uploads
	QueueBuffer                    int

	// Temporary URL serving
	TemporaryURLPath   string
	TemporaryURLExpiry time.Duration
	SigningSecret      string
}

func Load() *Config {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := &Config{
		// Application
		AppName: envString("APP_NAME", "uploadkit"),
		AppEnv:  envString("APP_ENV", "development"),
		AppURL:  envString("APP_URL", "http://localhost:8090"),
		Port:    envString("PORT", "8090"),

		// Database
		DBDriver:     envString("DB_DRIVER", "sqlite"),
		DBConnection: envString("DB_CONNECTION", "./data/uploadkit.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"),

		// Observability
		SentryDSN: envString("SENTRY_DSN", ""),

		// Storage
		StorageDriver: envString("STORAGE_DRIVER", "local"),
		LocalRoot:     envString("STORAGE_LOCAL_ROOT", "./data/uploads"),
		TemporaryRoot: envString("UPLOAD_TEMPORARY_ROOT", "./data/tmp"),
		PublicURL:     envString("UPLOAD_PUBLIC_URL", ""),

		S3Region:    envString("S3_REGION", ""),
		S3Bucket:    envString("S3_BUCKET", ""),
		S3AccessKey: envString("S3_ACCESS_KEY", ""),
		S3SecretKey: envString("S3_SECRET_KEY", ""),
		S3Endpoint:  envString("S3_ENDPOINT", ""),

		// Upload behavior
		UploadValidate:                 envBool("UPLOAD_VALIDATE", true),
		DeleteModelOnUploadFail:        envBool("UPLOAD_DELETE_MODEL_ON_FAIL", true),
		RollbackModelOnUploadFail:      envBool("UPLOAD_ROLLBACK_MODEL_ON_FAIL", true),
		DeleteModelOnQueueUploadFail:   envBool("UPLOAD_DELETE_MODEL_ON_QUEUE_FAIL", false),
		RollbackModelOnQueueUploadFail: envBool("UPLOAD_ROLLBACK_MODEL_ON_QUEUE_FAIL", false),
		ForceDeleteUploads:             envBool("UPLOAD_FORCE_DELETE", false),
		ReplacePreviousUploads:         envBool("UPLOAD_REPLACE_PREVIOUS", false),
		UploadQueue:                    envString("UPLOAD_QUEUE", ""),
		QueueBuffer:                    envInt("UPLOAD_QUEUE_BUFFER", 64),

		// Temporary URLs
		TemporaryURLPath:   envString("UPLOAD_TEMPORARY_URL_PATH", "/temporary"),
		TemporaryURLExpiry: envDuration("UPLOAD_TEMPORARY_URL_EXPIRY", 5*time.Minute),
		SigningSecret:      envString("UPLOAD_SIGNING_SECRET", ""),
	}

	if cfg.IsProduction() {
		validateProduction(cfg)
	}

	return cfg
}

// validateProduction ensures required services are configured for production
// deployments. Development allows fallback modes for easier local testing.
func validateProduction(cfg *Config) {
	if cfg.StorageDriver == "s3" && (cfg.S3Region == "" || cfg.S3Bucket == "") {
		slog.Error("production S3 storage requires S3_REGION and S3_BUCKET",
			"hint", "set STORAGE_DRIVER=local for disk-backed storage")
		os.Exit(1)
	}
	if cfg.SigningSecret == "" {
		slog.Error("production deployment requires UPLOAD_SIGNING_SECRET",
			"hint", "temporary URLs fall back to permanent URLs without a signing secret")
		os.Exit(1)
	}
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config invalid bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}
