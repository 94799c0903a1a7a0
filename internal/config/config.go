package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix               = "PORTFOLIO"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabaseDriver   = "sqlite"
	defaultDatabasePath     = "portfolio.db"
	defaultLogLevel         = "info"
	defaultTokenTTLMinutes  = 720
	defaultTokenIssuer      = "portfolio-auth"
	defaultTokenAudience    = "portfolio-api"
	defaultStorageBackend   = "filesystem"
	defaultStorageRoot      = "uploads"
	defaultMaxUploadSize    = "10MB"
	defaultMinioBucket      = "portfolio"
	defaultCacheTTLSeconds  = 300
	defaultGalleryAttempts  = 3
	defaultHeartbeatSeconds = 25

	// StorageFilesystem keeps payloads on local disk.
	StorageFilesystem = "filesystem"
	// StorageMinio keeps payloads in an S3-compatible bucket.
	StorageMinio = "minio"
)

// DotenvFiles are loaded in order before the environment is read. Earlier files win.
var DotenvFiles = []string{".env.local", ".env"}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	AdminPasswordHash string
	SigningSecret     string
	TokenIssuer       string
	TokenAudience     string
	TokenTTL          time.Duration

	StorageBackend string
	StorageRoot    string
	MaxUploadSize  string
	MaxUploadBytes uint64

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	RedisAddress  string
	RedisPassword string
	CacheTTL      time.Duration

	GalleryMaxAttempts int
	HeartbeatInterval  time.Duration
}

// LoadDotenv loads the dotenv files that exist. Variables already set in the environment are
// never overwritten.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		files = DotenvFiles
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("auth.admin_password_hash", "")
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.audience", defaultTokenAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("storage.backend", defaultStorageBackend)
	configViper.SetDefault("storage.root", defaultStorageRoot)
	configViper.SetDefault("storage.max_upload_size", defaultMaxUploadSize)
	configViper.SetDefault("minio.endpoint", "")
	configViper.SetDefault("minio.access_key", "")
	configViper.SetDefault("minio.secret_key", "")
	configViper.SetDefault("minio.bucket", defaultMinioBucket)
	configViper.SetDefault("minio.use_ssl", false)
	configViper.SetDefault("cache.redis_address", "")
	configViper.SetDefault("cache.redis_password", "")
	configViper.SetDefault("cache.ttl_seconds", defaultCacheTTLSeconds)
	configViper.SetDefault("gallery.max_attempts", defaultGalleryAttempts)
	configViper.SetDefault("realtime.heartbeat_seconds", defaultHeartbeatSeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		LogLevel:           configViper.GetString("log.level"),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:       configViper.GetString("database.path"),
		DatabaseDSN:        configViper.GetString("database.dsn"),
		AdminPasswordHash:  configViper.GetString("auth.admin_password_hash"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		TokenIssuer:        configViper.GetString("auth.issuer"),
		TokenAudience:      configViper.GetString("auth.audience"),
		TokenTTL:           time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		StorageBackend:     strings.ToLower(strings.TrimSpace(configViper.GetString("storage.backend"))),
		StorageRoot:        configViper.GetString("storage.root"),
		MaxUploadSize:      configViper.GetString("storage.max_upload_size"),
		MinioEndpoint:      configViper.GetString("minio.endpoint"),
		MinioAccessKey:     configViper.GetString("minio.access_key"),
		MinioSecretKey:     configViper.GetString("minio.secret_key"),
		MinioBucket:        configViper.GetString("minio.bucket"),
		MinioUseSSL:        configViper.GetBool("minio.use_ssl"),
		RedisAddress:       configViper.GetString("cache.redis_address"),
		RedisPassword:      configViper.GetString("cache.redis_password"),
		CacheTTL:           time.Duration(configViper.GetInt("cache.ttl_seconds")) * time.Second,
		GalleryMaxAttempts: configViper.GetInt("gallery.max_attempts"),
		HeartbeatInterval:  time.Duration(configViper.GetInt("realtime.heartbeat_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	maxBytes, err := humanize.ParseBytes(cfg.MaxUploadSize)
	if err != nil {
		return AppConfig{}, fmt.Errorf("storage.max_upload_size: %w", err)
	}
	if maxBytes == 0 {
		return AppConfig{}, fmt.Errorf("storage.max_upload_size must be positive")
	}
	cfg.MaxUploadBytes = maxBytes

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.AdminPasswordHash) == "" {
		return fmt.Errorf("auth.admin_password_hash is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	switch c.DatabaseDriver {
	case "sqlite":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case "postgres":
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	switch c.StorageBackend {
	case StorageFilesystem:
		if strings.TrimSpace(c.StorageRoot) == "" {
			return fmt.Errorf("storage.root is required")
		}
	case StorageMinio:
		if strings.TrimSpace(c.MinioEndpoint) == "" || strings.TrimSpace(c.MinioBucket) == "" {
			return fmt.Errorf("minio.endpoint and minio.bucket are required for minio storage")
		}
	default:
		return fmt.Errorf("storage.backend must be filesystem or minio, got %q", c.StorageBackend)
	}
	if c.GalleryMaxAttempts <= 0 {
		return fmt.Errorf("gallery.max_attempts must be positive")
	}
	if c.RedisAddress != "" && c.CacheTTL <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be positive when redis is enabled")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("realtime.heartbeat_seconds must be positive")
	}
	return nil
}
