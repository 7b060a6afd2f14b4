package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env           string
	Port          int
	PublicBaseURL string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Admin      AdminConfig
	CORS       CORSConfig
	Log        LogConfig
	Validation ValidationConfig
	Uploads    UploadsConfig
	Images     ImagesConfig
	Dashboard  DashboardConfig
	Tickets    TicketsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

// AdminConfig seeds the first panel account when both values are present.
type AdminConfig struct {
	Username string
	Password string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ValidationConfig controls the ticket validation handoff with the external workflow.
type ValidationConfig struct {
	WebhookURL        string
	WebhookUser       string
	WebhookPassword   string
	WebhookToken      string
	WebhookTimeout    time.Duration
	CallbackSecret    string
	ApprovalSecret    string
	TTL               time.Duration
	SweepInterval     time.Duration
	RedispatchRetries int
	RedispatchDelay   time.Duration
	PollAfter         time.Duration
}

// UploadsConfig controls ticket image intake.
type UploadsConfig struct {
	StorageDir       string
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
	RateLimit        int
	RateWindow       time.Duration
}

// ImagesConfig controls signed links to stored ticket images.
type ImagesConfig struct {
	SignedURLSecret string
	SignedURLTTL    time.Duration
}

// DashboardConfig governs admin metrics caching.
type DashboardConfig struct {
	CacheTTL   time.Duration
	SeriesDays int
}

// TicketsConfig governs ticket number formatting.
type TicketsConfig struct {
	NumberWidth int
}

// CallbackURL is the absolute URL the external workflow posts verdicts to.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/webhook/validation-response"
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.PublicBaseURL = v.GetString("PUBLIC_BASE_URL")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_CACHE"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 12*time.Hour),
	}

	cfg.Admin = AdminConfig{
		Username: strings.TrimSpace(v.GetString("ADMIN_USERNAME")),
		Password: v.GetString("ADMIN_PASSWORD"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Validation = ValidationConfig{
		WebhookURL:        strings.TrimSpace(v.GetString("VALIDATION_WEBHOOK_URL")),
		WebhookUser:       v.GetString("VALIDATION_WEBHOOK_USER"),
		WebhookPassword:   v.GetString("VALIDATION_WEBHOOK_PASSWORD"),
		WebhookToken:      v.GetString("VALIDATION_WEBHOOK_TOKEN"),
		WebhookTimeout:    parseDuration(v.GetString("VALIDATION_WEBHOOK_TIMEOUT"), 10*time.Second),
		CallbackSecret:    v.GetString("VALIDATION_CALLBACK_SECRET"),
		ApprovalSecret:    v.GetString("APPROVAL_TOKEN_SECRET"),
		TTL:               parseDuration(v.GetString("VALIDATION_TTL"), 30*time.Minute),
		SweepInterval:     parseDuration(v.GetString("VALIDATION_SWEEP_INTERVAL"), 3*time.Minute),
		RedispatchRetries: v.GetInt("VALIDATION_REDISPATCH_RETRIES"),
		RedispatchDelay:   parseDuration(v.GetString("VALIDATION_REDISPATCH_DELAY"), 30*time.Second),
		PollAfter:         parseDuration(v.GetString("VALIDATION_POLL_AFTER"), 2*time.Second),
	}

	maxUpload := v.GetInt64("UPLOAD_MAX_FILE_SIZE")
	if maxUpload <= 0 {
		maxUpload = 5 * 1024 * 1024
	}
	cfg.Uploads = UploadsConfig{
		StorageDir:       v.GetString("UPLOAD_DIR"),
		MaxFileSizeBytes: maxUpload,
		AllowedMIMEs:     splitAndTrim(v.GetString("UPLOAD_ALLOWED_MIME_TYPES")),
		RateLimit:        v.GetInt("UPLOAD_RATE_LIMIT"),
		RateWindow:       parseDuration(v.GetString("UPLOAD_RATE_WINDOW"), time.Minute),
	}

	cfg.Images = ImagesConfig{
		SignedURLSecret: v.GetString("IMAGE_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("IMAGE_URL_TTL"), 15*time.Minute),
	}

	cfg.Dashboard = DashboardConfig{
		CacheTTL:   parseDuration(v.GetString("METRICS_CACHE_TTL"), time.Minute),
		SeriesDays: v.GetInt("METRICS_SERIES_DAYS"),
	}

	width := v.GetInt("TICKET_NUMBER_WIDTH")
	if width <= 0 {
		width = 4
	}
	cfg.Tickets = TicketsConfig{NumberWidth: width}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sorteo")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("ENABLE_CACHE", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "12h")
	v.SetDefault("ADMIN_USERNAME", "")
	v.SetDefault("ADMIN_PASSWORD", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("VALIDATION_WEBHOOK_URL", "")
	v.SetDefault("VALIDATION_WEBHOOK_USER", "")
	v.SetDefault("VALIDATION_WEBHOOK_PASSWORD", "")
	v.SetDefault("VALIDATION_WEBHOOK_TOKEN", "")
	v.SetDefault("VALIDATION_WEBHOOK_TIMEOUT", "10s")
	v.SetDefault("VALIDATION_CALLBACK_SECRET", "")
	v.SetDefault("APPROVAL_TOKEN_SECRET", "dev_approval_secret")
	v.SetDefault("VALIDATION_TTL", "30m")
	v.SetDefault("VALIDATION_SWEEP_INTERVAL", "3m")
	v.SetDefault("VALIDATION_REDISPATCH_RETRIES", 3)
	v.SetDefault("VALIDATION_REDISPATCH_DELAY", "30s")
	v.SetDefault("VALIDATION_POLL_AFTER", "2s")

	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("UPLOAD_MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("UPLOAD_ALLOWED_MIME_TYPES", "image/jpeg,image/png,image/webp,image/heic,image/gif")
	v.SetDefault("UPLOAD_RATE_LIMIT", 10)
	v.SetDefault("UPLOAD_RATE_WINDOW", "1m")

	v.SetDefault("IMAGE_URL_SECRET", "dev_images_secret")
	v.SetDefault("IMAGE_URL_TTL", "15m")

	v.SetDefault("METRICS_CACHE_TTL", "1m")
	v.SetDefault("METRICS_SERIES_DAYS", 7)

	v.SetDefault("TICKET_NUMBER_WIDTH", 4)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
