// Package config loads logship's runtime configuration from P_* environment
// variables (and an optional .env file for local development), the same way
// across every store-type command.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// StoreKind selects the object storage backend a node publishes artifacts to.
type StoreKind string

const (
	StoreLocalFS StoreKind = "local-store"
	StoreS3      StoreKind = "s3-store"
	StoreAzure   StoreKind = "blob-store"
	StoreGCS     StoreKind = "gcs-store"
)

// Mode selects which cluster role(s) this node serves.
type Mode string

const (
	ModeQuery  Mode = "query"
	ModeIngest Mode = "ingest"
	ModeAll    Mode = "all"
)

// Config holds every P_* option recognized by logship, defaulted and
// validated by Load.
type Config struct {
	Addr     string
	Username string
	Password string

	StagingDir       string
	StagingCapBytes  int64
	ConversionPeriod time.Duration
	RetentionPeriod  time.Duration

	Store StoreKind
	Mode  Mode

	NodeID           string
	AdvertiseAddr    string
	HeartbeatPeriod  time.Duration
	HeartbeatTimeout time.Duration
	FanoutTimeout    time.Duration

	FSDir string

	S3URL       string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string

	AzureAccountURL   string
	AzureContainer    string
	AzureAccessKey    string
	AzureAccountName  string

	GCSBucket         string
	GCSCredentialFile string
}

// Load reads the environment (after an optional .env file) into a Config for
// the given store kind, applying defaults and validating required fields.
func Load(store StoreKind) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:             getEnv("P_ADDR", "0.0.0.0:8000"),
		Username:         getEnv("P_USERNAME", ""),
		Password:         getEnv("P_PASSWORD", ""),
		StagingDir:       getEnv("P_STAGING_DIR", "./staging"),
		StagingCapBytes:  getEnvInt64("P_STAGING_CAP_BYTES", 10*1024*1024*1024),
		ConversionPeriod: time.Duration(getEnvInt("P_CONVERSION_INTERVAL", 60)) * time.Second,
		RetentionPeriod:  time.Duration(getEnvInt("P_RETENTION_CHECK_INTERVAL", 3600)) * time.Second,
		Store:            store,
		Mode:             Mode(getEnv("P_MODE", string(ModeAll))),

		NodeID:           getEnv("P_NODE_ID", uuid.NewString()),
		AdvertiseAddr:    getEnv("P_ADVERTISE_ADDR", getEnv("P_ADDR", "0.0.0.0:8000")),
		HeartbeatPeriod:  time.Duration(getEnvInt("P_HEARTBEAT_INTERVAL", 10)) * time.Second,
		HeartbeatTimeout: time.Duration(getEnvInt("P_HEARTBEAT_TIMEOUT", 60)) * time.Second,
		FanoutTimeout:    time.Duration(getEnvInt("P_FANOUT_TIMEOUT", 30)) * time.Second,

		FSDir: getEnv("P_FS_DIR", "./data"),

		S3URL:       getEnv("P_S3_URL", ""),
		S3Bucket:    getEnv("P_S3_BUCKET", ""),
		S3AccessKey: getEnv("P_S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("P_S3_SECRET_KEY", ""),
		S3Region:    getEnv("P_S3_REGION", "us-east-1"),

		AzureAccountURL:  getEnv("P_AZR_URL", ""),
		AzureContainer:   getEnv("P_AZR_CONTAINER", ""),
		AzureAccessKey:   getEnv("P_AZR_ACCESS_KEY", ""),
		AzureAccountName: getEnv("P_AZR_ACCOUNT_NAME", ""),

		GCSBucket:         getEnv("P_GCS_BUCKET", ""),
		GCSCredentialFile: getEnv("P_GCS_CRED_FILE", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModeQuery, ModeIngest, ModeAll:
	default:
		return fmt.Errorf("config: P_MODE must be one of query, ingest, all, got %q", c.Mode)
	}

	if c.StagingCapBytes <= 0 {
		return fmt.Errorf("config: P_STAGING_CAP_BYTES must be positive")
	}

	switch c.Store {
	case StoreLocalFS:
		if c.FSDir == "" {
			return fmt.Errorf("config: P_FS_DIR is required for local-store")
		}
	case StoreS3:
		if c.S3Bucket == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
			return fmt.Errorf("config: P_S3_BUCKET, P_S3_ACCESS_KEY, and P_S3_SECRET_KEY are required for s3-store")
		}
	case StoreAzure:
		if c.AzureContainer == "" || c.AzureAccountName == "" {
			return fmt.Errorf("config: P_AZR_CONTAINER and P_AZR_ACCOUNT_NAME are required for blob-store")
		}
	case StoreGCS:
		if c.GCSBucket == "" {
			return fmt.Errorf("config: P_GCS_BUCKET is required for gcs-store")
		}
	default:
		return fmt.Errorf("config: unrecognized store kind %q", c.Store)
	}

	return nil
}

// BasicAuthEnabled reports whether P_USERNAME/P_PASSWORD were both set.
func (c *Config) BasicAuthEnabled() bool {
	return c.Username != "" && c.Password != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}
