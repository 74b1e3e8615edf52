package config

import (
	"errors"
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
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Targeting  TargetingConfig
	Scheduling SchedulingConfig
	Approval   ApprovalConfig
	Delivery   DeliveryConfig
	Engagement EngagementConfig
	Export     ExportConfig
	Sweeps     SweepConfig
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
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// TargetingConfig tunes audience resolution and over-messaging guards.
type TargetingConfig struct {
	AudienceCacheTTL  time.Duration
	OverMessageWindow time.Duration
	OverMessageMax    int
}

// SchedulingConfig tunes publish scheduling and queue locking.
type SchedulingConfig struct {
	SLALead      time.Duration
	QueueLockTTL time.Duration
	MaxAttempts  int
}

// ApprovalConfig tunes the approval workflow defaults.
type ApprovalConfig struct {
	SLADeadline    time.Duration
	MaxEscalations int
}

// DeliveryConfig tunes fan-out batching and retries.
type DeliveryConfig struct {
	DefaultBatchSize  int
	MaxRetries        int
	MaxBackoff        time.Duration
	WorkerConcurrency int
}

// EngagementConfig carries the engagement-score weighting policy. The
// acknowledgment weight is reassigned to the read rate when an announcement
// does not require acknowledgment.
type EngagementConfig struct {
	DeliveryWeight   float64
	ReadWeight       float64
	CompletionWeight float64
	AckWeight        float64
	CacheTTL         time.Duration
}

// ExportConfig controls stored report exports and their signed download links.
type ExportConfig struct {
	Dir           string
	SignedURLTTL  time.Duration
	SigningSecret string
	RetentionTTL  time.Duration
}

// SweepConfig toggles and paces the background sweeps.
type SweepConfig struct {
	Enabled           bool
	PublishInterval   time.Duration
	RecurringInterval time.Duration
	SLAInterval       time.Duration
	RetryInterval     time.Duration
	BatchLimit        int
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
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Targeting = TargetingConfig{
		AudienceCacheTTL:  parseDuration(v.GetString("TARGETING_AUDIENCE_CACHE_TTL"), 24*time.Hour),
		OverMessageWindow: parseDuration(v.GetString("TARGETING_OVER_MESSAGE_WINDOW"), 24*time.Hour),
		OverMessageMax:    v.GetInt("TARGETING_OVER_MESSAGE_MAX"),
	}

	cfg.Scheduling = SchedulingConfig{
		SLALead:      parseDuration(v.GetString("SCHEDULING_SLA_LEAD"), time.Hour),
		QueueLockTTL: parseDuration(v.GetString("SCHEDULING_QUEUE_LOCK_TTL"), 5*time.Minute),
		MaxAttempts:  v.GetInt("SCHEDULING_MAX_ATTEMPTS"),
	}

	cfg.Approval = ApprovalConfig{
		SLADeadline:    parseDuration(v.GetString("APPROVAL_SLA_DEADLINE"), 4*time.Hour),
		MaxEscalations: v.GetInt("APPROVAL_MAX_ESCALATIONS"),
	}

	cfg.Delivery = DeliveryConfig{
		DefaultBatchSize:  v.GetInt("DELIVERY_BATCH_SIZE"),
		MaxRetries:        v.GetInt("DELIVERY_MAX_RETRIES"),
		MaxBackoff:        parseDuration(v.GetString("DELIVERY_MAX_BACKOFF"), time.Hour),
		WorkerConcurrency: v.GetInt("DELIVERY_WORKER_CONCURRENCY"),
	}

	cfg.Engagement = EngagementConfig{
		DeliveryWeight:   v.GetFloat64("ENGAGEMENT_DELIVERY_WEIGHT"),
		ReadWeight:       v.GetFloat64("ENGAGEMENT_READ_WEIGHT"),
		CompletionWeight: v.GetFloat64("ENGAGEMENT_COMPLETION_WEIGHT"),
		AckWeight:        v.GetFloat64("ENGAGEMENT_ACK_WEIGHT"),
		CacheTTL:         parseDuration(v.GetString("ENGAGEMENT_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Export = ExportConfig{
		Dir:           v.GetString("EXPORT_DIR"),
		SignedURLTTL:  parseDuration(v.GetString("EXPORT_URL_TTL"), 24*time.Hour),
		SigningSecret: v.GetString("EXPORT_SIGNING_SECRET"),
		RetentionTTL:  parseDuration(v.GetString("EXPORT_RETENTION_TTL"), 7*24*time.Hour),
	}
	if cfg.Export.SigningSecret == "" {
		cfg.Export.SigningSecret = cfg.JWT.Secret
	}

	cfg.Sweeps = SweepConfig{
		Enabled:           v.GetBool("ENABLE_SWEEPS"),
		PublishInterval:   parseDuration(v.GetString("SWEEP_PUBLISH_INTERVAL"), time.Minute),
		RecurringInterval: parseDuration(v.GetString("SWEEP_RECURRING_INTERVAL"), 5*time.Minute),
		SLAInterval:       parseDuration(v.GetString("SWEEP_SLA_INTERVAL"), 5*time.Minute),
		RetryInterval:     parseDuration(v.GetString("SWEEP_RETRY_INTERVAL"), time.Minute),
		BatchLimit:        v.GetInt("SWEEP_BATCH_LIMIT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "hostel_announce")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("TARGETING_AUDIENCE_CACHE_TTL", "24h")
	v.SetDefault("TARGETING_OVER_MESSAGE_WINDOW", "24h")
	v.SetDefault("TARGETING_OVER_MESSAGE_MAX", 5)

	v.SetDefault("SCHEDULING_SLA_LEAD", "1h")
	v.SetDefault("SCHEDULING_QUEUE_LOCK_TTL", "5m")
	v.SetDefault("SCHEDULING_MAX_ATTEMPTS", 3)

	v.SetDefault("APPROVAL_SLA_DEADLINE", "4h")
	v.SetDefault("APPROVAL_MAX_ESCALATIONS", 5)

	v.SetDefault("DELIVERY_BATCH_SIZE", 100)
	v.SetDefault("DELIVERY_MAX_RETRIES", 3)
	v.SetDefault("DELIVERY_MAX_BACKOFF", "1h")
	v.SetDefault("DELIVERY_WORKER_CONCURRENCY", 2)

	v.SetDefault("ENGAGEMENT_DELIVERY_WEIGHT", 0.3)
	v.SetDefault("ENGAGEMENT_READ_WEIGHT", 0.3)
	v.SetDefault("ENGAGEMENT_COMPLETION_WEIGHT", 0.2)
	v.SetDefault("ENGAGEMENT_ACK_WEIGHT", 0.2)
	v.SetDefault("ENGAGEMENT_CACHE_TTL", "10m")

	v.SetDefault("EXPORT_DIR", "./exports")
	v.SetDefault("EXPORT_URL_TTL", "24h")
	v.SetDefault("EXPORT_SIGNING_SECRET", "")
	v.SetDefault("EXPORT_RETENTION_TTL", "168h")

	v.SetDefault("ENABLE_SWEEPS", true)
	v.SetDefault("SWEEP_PUBLISH_INTERVAL", "1m")
	v.SetDefault("SWEEP_RECURRING_INTERVAL", "5m")
	v.SetDefault("SWEEP_SLA_INTERVAL", "5m")
	v.SetDefault("SWEEP_RETRY_INTERVAL", "1m")
	v.SetDefault("SWEEP_BATCH_LIMIT", 50)
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
