// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Score     ScoreConfig     `mapstructure:"score"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// GitHubConfig holds credentials and endpoints for the metadata source.
type GitHubConfig struct {
	Token     string `mapstructure:"token"`
	BaseURL   string `mapstructure:"base_url"`
	UserAgent string `mapstructure:"user_agent"`
}

// CrawlConfig governs the search window and pagination.
type CrawlConfig struct {
	MinStars      int `mapstructure:"min_stars"`
	LookbackYears int `mapstructure:"lookback_years"`
	MaxPages      int `mapstructure:"max_pages"`
	PerPage       int `mapstructure:"per_page"`
	DelayMillis   int `mapstructure:"delay_millis"`
}

// ScoreConfig holds the trend score tuning knobs.
type ScoreConfig struct {
	TargetStarsPerDay float64 `mapstructure:"target_stars_per_day"`
	AgeHalfLifeDays   float64 `mapstructure:"age_half_life_days"`
	PivotStars        float64 `mapstructure:"pivot_stars"`
	StarsAlpha        float64 `mapstructure:"stars_alpha"`
	StarsFactorMin    float64 `mapstructure:"stars_factor_min"`
	StarsFactorMax    float64 `mapstructure:"stars_factor_max"`
	GrowthWeight      float64 `mapstructure:"growth_weight"`
	PenaltyWeight     float64 `mapstructure:"penalty_weight"`
	Threshold         float64 `mapstructure:"threshold"`
}

// DispatchConfig configures the generation service client and batch size.
type DispatchConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	BatchLimit     int    `mapstructure:"batch_limit"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// NotifyConfig configures the completion watcher and the SMTP sink.
type NotifyConfig struct {
	FreshnessHours   int    `mapstructure:"freshness_hours"`
	LockLeaseMinutes int    `mapstructure:"lock_lease_minutes"`
	Sink             string `mapstructure:"sink"`
	SMTPHost         string `mapstructure:"smtp_host"`
	SMTPPort         int    `mapstructure:"smtp_port"`
	SMTPUser         string `mapstructure:"smtp_user"`
	SMTPPass         string `mapstructure:"smtp_pass"`
	FromAddress      string `mapstructure:"from_address"`
	ConfirmURL       string `mapstructure:"confirm_url"`
}

// DBConfig controls access to the candidate/repo database.
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// StorageConfig sets the artifact archive backend.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for pipeline event publishing.
type PubSubConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SchedulerConfig controls the periodic pipeline trigger.
type SchedulerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	IntervalHours int  `mapstructure:"interval_hours"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRENDFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.user_agent", "trendfeed-pipeline/1.0")
	v.SetDefault("crawl.min_stars", 500)
	v.SetDefault("crawl.lookback_years", 3)
	v.SetDefault("crawl.max_pages", 3)
	v.SetDefault("crawl.per_page", 50)
	v.SetDefault("crawl.delay_millis", 500)
	v.SetDefault("score.target_stars_per_day", 50)
	v.SetDefault("score.age_half_life_days", 365)
	v.SetDefault("score.pivot_stars", 5000)
	v.SetDefault("score.stars_alpha", 0.25)
	v.SetDefault("score.stars_factor_min", 0.6)
	v.SetDefault("score.stars_factor_max", 1.4)
	v.SetDefault("score.growth_weight", 1.0)
	v.SetDefault("score.penalty_weight", 1.0)
	v.SetDefault("score.threshold", 60.0)
	v.SetDefault("dispatch.batch_limit", 1)
	v.SetDefault("dispatch.timeout_seconds", 30)
	v.SetDefault("notify.freshness_hours", 72)
	v.SetDefault("notify.lock_lease_minutes", 30)
	v.SetDefault("notify.sink", "noop")
	v.SetDefault("notify.smtp_port", 465)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "readmes")
	v.SetDefault("pubsub.provider", "memory")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval_hours", 72)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawl.MaxPages <= 0 || c.Crawl.PerPage <= 0 {
		return fmt.Errorf("crawl.max_pages and crawl.per_page must be > 0")
	}
	if c.Score.Threshold < 0 || c.Score.Threshold > 100 {
		return fmt.Errorf("score.threshold must be within [0,100]")
	}
	if c.Score.StarsFactorMin > c.Score.StarsFactorMax {
		return fmt.Errorf("score.stars_factor_min must not exceed score.stars_factor_max")
	}
	if c.Dispatch.BatchLimit <= 0 {
		return fmt.Errorf("dispatch.batch_limit must be > 0")
	}
	if c.Notify.LockLeaseMinutes <= 0 {
		return fmt.Errorf("notify.lock_lease_minutes must be > 0")
	}
	if c.DB.Provider == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.provider is postgres")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket is required when storage.provider is gcs")
	}
	if c.Notify.Sink == "smtp" && (c.Notify.SMTPHost == "" || c.Notify.FromAddress == "") {
		return fmt.Errorf("notify.smtp_host and notify.from_address are required when notify.sink is smtp")
	}
	if c.Scheduler.Enabled && c.Scheduler.IntervalHours <= 0 {
		return fmt.Errorf("scheduler.interval_hours must be > 0 when scheduler is enabled")
	}
	return nil
}

// CrawlDelay converts the configured inter-call delay to a duration.
func (c Config) CrawlDelay() time.Duration {
	return time.Duration(c.Crawl.DelayMillis) * time.Millisecond
}

// FreshnessWindow is the maximum candidate age still eligible for
// notification.
func (c Config) FreshnessWindow() time.Duration {
	return time.Duration(c.Notify.FreshnessHours) * time.Hour
}

// LockLease is the notification lease duration.
func (c Config) LockLease() time.Duration {
	return time.Duration(c.Notify.LockLeaseMinutes) * time.Minute
}

// SchedulerInterval is the periodic pipeline trigger interval.
func (c Config) SchedulerInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalHours) * time.Hour
}
