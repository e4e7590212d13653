// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds all gateway-related settings
type ServerConfig struct {
	Port               int
	Host               string
	AllowedOrigins     []string
	RateLimitPerMinute int
	RequestTimeout     time.Duration
}

// DatabaseConfig holds document store and object storage settings
type DatabaseConfig struct {
	URI            string
	Name           string
	MediaBucket    string
	PublicMediaURL string
}

// CacheConfig holds the optional Redis profile cache settings
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ProfileTTL    time.Duration
}

// AuthConfig holds session and registration settings
type AuthConfig struct {
	JWTSecret          string
	TokenTTL           time.Duration
	BcryptCost         int
	AllowedEmailDomain string
}

// FeedConfig holds feed and mutation tuning
type FeedConfig struct {
	PageSize          int
	MutationTimeout   time.Duration
	DefaultAvatarURL  string
	MaxImagesPerPost  int
	MaxImageSizeBytes int
}

// LogConfig holds logger settings
type LogConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Config holds the complete application configuration
type Config struct {
	Server   *ServerConfig
	Database *DatabaseConfig
	Cache    *CacheConfig
	Auth     *AuthConfig
	Feed     *FeedConfig
	Log      *LogConfig
	Debug    bool
}

// DefaultConfig provides default settings for every section
func DefaultConfig() *Config {
	return &Config{
		Server: &ServerConfig{
			Port:               8080,
			Host:               "0.0.0.0",
			AllowedOrigins:     []string{"*"},
			RateLimitPerMinute: 120,
			RequestTimeout:     15 * time.Second,
		},
		Database: &DatabaseConfig{
			URI:            "mongodb://localhost:27017",
			Name:           "social_sync",
			MediaBucket:    "media",
			PublicMediaURL: "http://localhost:8080/media",
		},
		Cache: &CacheConfig{
			ProfileTTL: 10 * time.Minute,
		},
		Auth: &AuthConfig{
			TokenTTL:           24 * time.Hour,
			BcryptCost:         12,
			AllowedEmailDomain: "gmail.com",
		},
		Feed: &FeedConfig{
			PageSize:          20,
			MutationTimeout:   10 * time.Second,
			DefaultAvatarURL:  "https://static.social-sync.dev/default-avatar.jpg",
			MaxImagesPerPost:  10,
			MaxImageSizeBytes: 10 << 20,
		},
		Log: &LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// LoadConfig loads configuration from environment variables and applies defaults
func LoadConfig() (*Config, error) {
	// A missing .env file is fine; the process environment still applies.
	for _, location := range []string{".env", "../../.env"} {
		if err := godotenv.Load(location); err == nil {
			break
		}
	}

	cfg := DefaultConfig()

	cfg.Server.Port = getEnvInt("PORT", cfg.Server.Port)
	cfg.Server.Host = getEnvOrDefault("HOST", cfg.Server.Host)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = strings.Split(origins, ",")
	}
	cfg.Server.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", cfg.Server.RateLimitPerMinute)
	cfg.Server.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", cfg.Server.RequestTimeout)

	cfg.Database.URI = getEnvOrDefault("MONGODB_URI", cfg.Database.URI)
	cfg.Database.Name = getEnvOrDefault("MONGODB_DATABASE", cfg.Database.Name)
	cfg.Database.MediaBucket = getEnvOrDefault("MEDIA_BUCKET", cfg.Database.MediaBucket)
	cfg.Database.PublicMediaURL = strings.TrimRight(getEnvOrDefault("PUBLIC_MEDIA_URL", cfg.Database.PublicMediaURL), "/")

	cfg.Cache.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.Cache.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.Cache.RedisDB = getEnvInt("REDIS_DB", cfg.Cache.RedisDB)
	cfg.Cache.ProfileTTL = getEnvDuration("PROFILE_CACHE_TTL", cfg.Cache.ProfileTTL)

	cfg.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.Auth.TokenTTL = getEnvDuration("TOKEN_TTL", cfg.Auth.TokenTTL)
	cfg.Auth.BcryptCost = getEnvInt("BCRYPT_COST", cfg.Auth.BcryptCost)
	if domain, ok := os.LookupEnv("ALLOWED_EMAIL_DOMAIN"); ok {
		cfg.Auth.AllowedEmailDomain = strings.TrimPrefix(strings.TrimSpace(domain), "@")
	}

	cfg.Feed.PageSize = getEnvInt("FEED_PAGE_SIZE", cfg.Feed.PageSize)
	cfg.Feed.MutationTimeout = getEnvDuration("MUTATION_TIMEOUT", cfg.Feed.MutationTimeout)
	cfg.Feed.DefaultAvatarURL = getEnvOrDefault("DEFAULT_AVATAR_URL", cfg.Feed.DefaultAvatarURL)
	cfg.Feed.MaxImagesPerPost = getEnvInt("MAX_IMAGES_PER_POST", cfg.Feed.MaxImagesPerPost)
	cfg.Feed.MaxImageSizeBytes = getEnvInt("MAX_IMAGE_SIZE_BYTES", cfg.Feed.MaxImageSizeBytes)

	cfg.Log.Level = getEnvOrDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Path = os.Getenv("LOG_PATH")
	cfg.Log.Compress = os.Getenv("LOG_COMPRESS") == "true"

	if debug := os.Getenv("DEBUG"); debug == "true" {
		cfg.Debug = true
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if c.Feed.MutationTimeout <= 0 {
		return fmt.Errorf("MUTATION_TIMEOUT must be positive, got %s", c.Feed.MutationTimeout)
	}
	if c.Server.RequestTimeout < c.Feed.MutationTimeout {
		return fmt.Errorf("REQUEST_TIMEOUT (%s) must not be shorter than MUTATION_TIMEOUT (%s)",
			c.Server.RequestTimeout, c.Feed.MutationTimeout)
	}
	if c.Feed.PageSize < 0 {
		return fmt.Errorf("FEED_PAGE_SIZE must not be negative")
	}
	return nil
}

// Helper function to get environment variable with default fallback
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
