package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"fred-ingest/internal/logging"
	"fred-ingest/internal/model"
)

// ErrConfiguration marks missing credentials or invalid settings.
var ErrConfiguration = errors.New("configuration error")

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Fred      FredConfig      `mapstructure:"fred"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Tables    TablesConfig    `mapstructure:"tables"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment"`
}

// FredConfig covers the remote data API.
type FredConfig struct {
	APIKey           string        `mapstructure:"api_key"`
	BaseURL          string        `mapstructure:"base_url" validate:"required,url"`
	WebsiteBase      string        `mapstructure:"website_base" validate:"required,url"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	UserAgent        string        `mapstructure:"user_agent"`
	EarliestRealtime string        `mapstructure:"earliest_realtime" validate:"required,datetime=2006-01-02"`
}

// RateLimitConfig paces outbound calls.
type RateLimitConfig struct {
	Calls  int           `mapstructure:"calls" validate:"gt=0"`
	Window time.Duration `mapstructure:"window" validate:"gt=0"`
}

// DispatchConfig bounds batch parallelism.
type DispatchConfig struct {
	Concurrency int           `mapstructure:"concurrency" validate:"gt=0,lte=256"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// SyncConfig selects what a sync pass fetches.
type SyncConfig struct {
	Series        []string    `mapstructure:"series"`
	SearchText    string      `mapstructure:"search_text"`
	SearchFilters []string    `mapstructure:"search_filters"`
	CategoryIDs   []int       `mapstructure:"category_ids"`
	Modes         []string    `mapstructure:"modes"`
	InfoFields    []string    `mapstructure:"info_fields"`
	Retry         RetryConfig `mapstructure:"retry"`
}

// RetryConfig governs the re-run of transiently failed series.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"gte=0"`
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"gte=0"`
	MaxInterval     time.Duration `mapstructure:"max_interval" validate:"gte=0"`
}

// TablesConfig names the target tables.
type TablesConfig struct {
	Info   string `mapstructure:"info" validate:"required,sqlident"`
	First  string `mapstructure:"first" validate:"required,sqlident"`
	Latest string `mapstructure:"latest" validate:"required,sqlident"`
	All    string `mapstructure:"all" validate:"required,sqlident"`
}

// DatabaseConfig encapsulates store connectivity.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	TLS             TLSConfig     `mapstructure:"tls"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// TLSConfig carries optional TLS parameters for the database connection.
type TLSConfig struct {
	CAFile         string `mapstructure:"ca_file"`
	VerifyIdentity bool   `mapstructure:"verify_identity"`
}

// SchedulerConfig governs sync cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// AnalysisConfig covers the LLM collaborator.
type AnalysisConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url" validate:"omitempty,url"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" validate:"gte=0"`
	SystemPrompt      string        `mapstructure:"system_prompt"`
}

// AlertingConfig routes sync reports.
type AlertingConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 通知参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig exposes the Prometheus endpoint for `run`.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen" validate:"required_if=Enabled true"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FREDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// bindLegacyEnv keeps the variable names used by existing deployments working.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"fred.api_key":      {"FREDSYNC_FRED_API_KEY", "FRED_API_KEY", "fred_api_key"},
		"analysis.api_key":  {"FREDSYNC_ANALYSIS_API_KEY", "OPENAI_API_KEY"},
		"database.host":     {"FREDSYNC_DATABASE_HOST", "DATABASE_HOST"},
		"database.user":     {"FREDSYNC_DATABASE_USER", "DATABASE_USERNAME"},
		"database.password": {"FREDSYNC_DATABASE_PASSWORD", "DATABASE_PASSWORD"},
		"database.name":     {"FREDSYNC_DATABASE_NAME", "DATABASE_NAME"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "fredsync")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("fred.base_url", "https://api.stlouisfed.org/fred")
	v.SetDefault("fred.website_base", "https://fred.stlouisfed.org/series")
	v.SetDefault("fred.request_timeout", "30s")
	v.SetDefault("fred.earliest_realtime", "1776-07-04")

	v.SetDefault("ratelimit.calls", 90)
	v.SetDefault("ratelimit.window", "60s")

	v.SetDefault("dispatch.concurrency", 20)
	v.SetDefault("dispatch.timeout", "0s")

	v.SetDefault("sync.modes", []string{"latest"})
	v.SetDefault("sync.info_fields", []string{"id", "title", "frequency", "units", "seasonal_adjustment", "popularity", "notes"})
	v.SetDefault("sync.retry.max_attempts", 3)
	v.SetDefault("sync.retry.initial_interval", "5s")
	v.SetDefault("sync.retry.max_interval", "1m")

	v.SetDefault("tables.info", "series_info")
	v.SetDefault("tables.first", "observations_first")
	v.SetDefault("tables.latest", "observations_latest")
	v.SetDefault("tables.all", "observations_all")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "prefer")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x66726564))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("analysis.enabled", false)
	v.SetDefault("analysis.base_url", "https://api.openai.com/v1")
	v.SetDefault("analysis.model", "gpt-4o-mini")
	v.SetDefault("analysis.timeout", "60s")
	v.SetDefault("analysis.requests_per_minute", 20)
	v.SetDefault("analysis.system_prompt", "You are an expert economist. Answer using only the data provided.")

	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":9464")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
		dc.WeaklyTypedInput = true
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
		return IsIdentifier(fl.Field().String())
	})
	return v
}

// IsIdentifier reports whether s is safe to splice into SQL as a table or column name.
func IsIdentifier(s string) bool {
	if s == "" || len(s) > 63 {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Validate performs struct-tag and cross-field checks.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("%w: scheduler.interval must be greater than zero", ErrConfiguration)
	}
	for _, m := range c.Sync.Modes {
		if _, err := model.ParseRevisionMode(m); err != nil {
			return fmt.Errorf("%w: sync.modes: %v", ErrConfiguration, err)
		}
	}
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		return fmt.Errorf("%w: database.dsn is required for sqlite", ErrConfiguration)
	}
	if c.Analysis.Enabled && c.Analysis.APIKey == "" {
		return fmt.Errorf("%w: analysis.api_key is required when analysis is enabled", ErrConfiguration)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("%w: alerting.telegram.bot_token 必须配置", ErrConfiguration)
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("%w: alerting.telegram.chat_id 必须配置", ErrConfiguration)
		}
	}
	return nil
}

// RequireAPIKey fails when no FRED key was configured. Commands that never
// reach the remote API skip this check.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.Fred.APIKey) == "" {
		return fmt.Errorf("%w: fred.api_key is not set (FRED_API_KEY)", ErrConfiguration)
	}
	return nil
}

// RequireDatabase fails when the store cannot be reached with the given settings.
func (c *Config) RequireDatabase() error {
	db := c.Database
	if db.DSN != "" {
		return nil
	}
	if db.Driver == "postgres" && db.Host != "" && db.User != "" && db.Name != "" {
		return nil
	}
	return fmt.Errorf("%w: database.dsn or database.host/user/name must be set", ErrConfiguration)
}

// Modes parses the configured revision modes.
func (c *Config) Modes() []model.RevisionMode {
	out := make([]model.RevisionMode, 0, len(c.Sync.Modes))
	for _, m := range c.Sync.Modes {
		if mode, err := model.ParseRevisionMode(m); err == nil {
			out = append(out, mode)
		}
	}
	return out
}

// Table returns the configured table name for a revision mode.
func (t TablesConfig) Table(mode model.RevisionMode) string {
	switch mode {
	case model.FirstOnly:
		return t.First
	case model.AllRevisions:
		return t.All
	default:
		return t.Latest
	}
}

// EarliestRealtimeTime parses fred.earliest_realtime; Validate guarantees the layout.
func (f FredConfig) EarliestRealtimeTime() time.Time {
	t, _ := time.Parse("2006-01-02", f.EarliestRealtime)
	return t
}
