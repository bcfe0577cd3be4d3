// Package config loads service configuration from YAML, environment
// variables and defaults, and reloads it when the file changes.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	units "github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/vurakit/lexveil/internal/detector"
	"github.com/vurakit/lexveil/internal/processor"
	"github.com/vurakit/lexveil/internal/technique"
	"github.com/vurakit/lexveil/internal/webhook"
	"github.com/vurakit/lexveil/pkg/pii"
)

// EnvPrefix prefixes every environment override, e.g. LEXVEIL_SERVER_ADDR.
const EnvPrefix = "LEXVEIL"

// Config is the full service configuration
type Config struct {
	Server        ServerConfig      `mapstructure:"server"`
	Redis         RedisConfig       `mapstructure:"redis"`
	Detection     DetectionConfig   `mapstructure:"detection"`
	Anonymization processor.Options `mapstructure:"anonymization"`
	History       HistoryConfig     `mapstructure:"history"`
	Auth          AuthConfig        `mapstructure:"auth"`
	Webhooks      WebhooksConfig    `mapstructure:"webhooks"`
	RateLimit     RateLimitConfig   `mapstructure:"rate_limit"`
	Extract       ExtractConfig     `mapstructure:"extract"`
	Assistant     AssistantConfig   `mapstructure:"assistant"`
	Logging       LoggingConfig     `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	MaxUploadSize string        `mapstructure:"max_upload_size"` // e.g. "10MB"
	Workers       int           `mapstructure:"workers"`
	TLSCert       string        `mapstructure:"tls_cert"`
	TLSKey        string        `mapstructure:"tls_key"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DetectionConfig struct {
	Sensitivity string   `mapstructure:"sensitivity"` // low, medium, high
	Extended    bool     `mapstructure:"extended"`
	AllowList   []string `mapstructure:"allow_list"`
	BlockList   []string `mapstructure:"block_list"`
	LexiconPath string   `mapstructure:"lexicon_path"` // empty uses the embedded lexicon
}

type HistoryConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int64         `mapstructure:"max_entries"`
}

// AuthConfig turns on API key checks for the /v1 routes. Keys live in the
// Redis instance configured under redis.
type AuthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// WebhooksConfig lists the endpoints notified when a document upload
// finishes.
type WebhooksConfig struct {
	Destinations []webhook.Destination `mapstructure:"destinations"`
	RetryCount   int                   `mapstructure:"retry_count"`
	Timeout      time.Duration         `mapstructure:"timeout"`
	BufferSize   int                   `mapstructure:"buffer_size"`
}

// DispatcherConfig converts the section for webhook.NewDispatcher.
func (w WebhooksConfig) DispatcherConfig() webhook.Config {
	cfg := webhook.DefaultConfig()
	cfg.Destinations = w.Destinations
	cfg.RetryCount = w.RetryCount
	cfg.Timeout = w.Timeout
	cfg.BufferSize = w.BufferSize
	return cfg
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

type ExtractConfig struct {
	PDFToText string        `mapstructure:"pdftotext"` // binary name or path
	Timeout   time.Duration `mapstructure:"timeout"`
}

type AssistantConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          ":8080",
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  120 * time.Second,
			IdleTimeout:   60 * time.Second,
			MaxUploadSize: "10MB",
			Workers:       processor.DefaultWorkers,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Detection: DetectionConfig{
			Sensitivity: "medium",
		},
		Anonymization: processor.DefaultOptions(),
		History: HistoryConfig{
			Enabled:    true,
			TTL:        30 * 24 * time.Hour,
			MaxEntries: 1000,
		},
		Webhooks: WebhooksConfig{
			RetryCount: 3,
			Timeout:    10 * time.Second,
			BufferSize: 1000,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			Burst:             10,
		},
		Extract: ExtractConfig{
			PDFToText: "pdftotext",
			Timeout:   60 * time.Second,
		},
		Assistant: AssistantConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// MaxUploadBytes parses Server.MaxUploadSize.
func (c *Config) MaxUploadBytes() (int64, error) {
	return units.FromHumanSize(c.Server.MaxUploadSize)
}

// DetectorConfig builds the detector configuration. It loads the lexicon
// from disk when LexiconPath is set.
func (c *Config) DetectorConfig() (detector.Config, error) {
	sens, err := detector.ParseSensitivity(c.Detection.Sensitivity)
	if err != nil {
		return detector.Config{}, err
	}
	cfg := detector.Config{
		Sensitivity: sens,
		Extended:    c.Detection.Extended,
		AllowList:   toSet(c.Detection.AllowList),
		BlockList:   toSet(c.Detection.BlockList),
	}
	if c.Detection.LexiconPath != "" {
		lex, err := pii.LoadLexiconFile(c.Detection.LexiconPath)
		if err != nil {
			return detector.Config{}, err
		}
		cfg.Lexicon = lex
	}
	return cfg, nil
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

// Manager owns a loaded configuration and its viper instance.
type Manager struct {
	v *viper.Viper

	mu  sync.RWMutex
	cur *Config
}

// Load loads configuration from file and environment variables. An empty
// path searches lexveil.yaml in ., ./configs and /etc/lexveil.
func Load(path string) (*Manager, error) {
	v := viper.New()
	v.SetConfigName("lexveil")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/lexveil/")

	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Defaults())

	if path != "" {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error; defaults apply
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Manager{v: v, cur: cfg}, nil
}

// Config returns the current configuration.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// File returns the config file in use, or "" when running on defaults.
func (m *Manager) File() string {
	return m.v.ConfigFileUsed()
}

// Watch reloads the configuration when the file changes and passes every
// valid new version to onChange. Invalid edits are logged and ignored.
func (m *Manager) Watch(logger *slog.Logger, onChange func(*Config)) {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(m.v)
		if err != nil {
			logger.Warn("config reload rejected", "file", e.Name, "error", err)
			return
		}
		m.mu.Lock()
		m.cur = cfg
		m.mu.Unlock()
		logger.Info("config reloaded", "file", e.Name)
		if onChange != nil {
			onChange(cfg)
		}
	})
	m.v.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func Validate(c *Config) error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if n, err := c.MaxUploadBytes(); err != nil || n <= 0 {
		return fmt.Errorf("invalid server.max_upload_size %q", c.Server.MaxUploadSize)
	}
	if c.Server.Workers < 0 {
		return fmt.Errorf("invalid server.workers: %d", c.Server.Workers)
	}
	if _, err := detector.ParseSensitivity(c.Detection.Sensitivity); err != nil {
		return fmt.Errorf("detection.sensitivity: %w", err)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate_limit values must not be negative")
	}
	if c.Webhooks.RetryCount < 0 {
		return fmt.Errorf("invalid webhooks.retry_count: %d", c.Webhooks.RetryCount)
	}
	for i, d := range c.Webhooks.Destinations {
		u, err := url.Parse(d.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhooks.destinations[%d]: invalid url %q", i, d.URL)
		}
	}

	for _, cat := range append(append([]pii.Category{}, pii.Categories...), pii.ExtendedCategories...) {
		t := c.Anonymization.TechniqueFor(cat)
		if !technique.Supports(cat, t) {
			return fmt.Errorf("anonymization.%s: %q is not supported (allowed: %v)", cat, t, technique.Allowed(cat))
		}
	}
	switch c.Anonymization.DateLevel {
	case "", technique.DateYear, technique.DateMonth, technique.DateDecade:
	default:
		return fmt.Errorf("invalid anonymization.date_level %q", c.Anonymization.DateLevel)
	}
	switch c.Anonymization.AmountLevel {
	case "", technique.AmountThousands, technique.AmountTenThousands, technique.AmountRange:
	default:
		return fmt.Errorf("invalid anonymization.amount_level %q", c.Anonymization.AmountLevel)
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_upload_size", d.Server.MaxUploadSize)
	v.SetDefault("server.workers", d.Server.Workers)
	v.SetDefault("server.tls_cert", d.Server.TLSCert)
	v.SetDefault("server.tls_key", d.Server.TLSKey)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("detection.sensitivity", d.Detection.Sensitivity)
	v.SetDefault("detection.extended", d.Detection.Extended)
	v.SetDefault("detection.allow_list", d.Detection.AllowList)
	v.SetDefault("detection.block_list", d.Detection.BlockList)
	v.SetDefault("detection.lexicon_path", d.Detection.LexiconPath)

	a := d.Anonymization
	v.SetDefault("anonymization.tax_id", string(a.TaxID))
	v.SetDefault("anonymization.company_id", string(a.CompanyID))
	v.SetDefault("anonymization.person_name", string(a.PersonName))
	v.SetDefault("anonymization.phone", string(a.Phone))
	v.SetDefault("anonymization.email", string(a.Email))
	v.SetDefault("anonymization.date", string(a.Date))
	v.SetDefault("anonymization.amount", string(a.Amount))
	v.SetDefault("anonymization.address", string(a.Address))
	v.SetDefault("anonymization.keep_consistency", a.KeepConsistency)
	v.SetDefault("anonymization.preserve_formatting", a.PreserveFormatting)
	v.SetDefault("anonymization.date_level", string(a.DateLevel))
	v.SetDefault("anonymization.amount_level", string(a.AmountLevel))

	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.ttl", d.History.TTL)
	v.SetDefault("history.max_entries", d.History.MaxEntries)

	v.SetDefault("auth.enabled", d.Auth.Enabled)

	v.SetDefault("webhooks.retry_count", d.Webhooks.RetryCount)
	v.SetDefault("webhooks.timeout", d.Webhooks.Timeout)
	v.SetDefault("webhooks.buffer_size", d.Webhooks.BufferSize)

	v.SetDefault("rate_limit.requests_per_minute", d.RateLimit.RequestsPerMinute)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)

	v.SetDefault("extract.pdftotext", d.Extract.PDFToText)
	v.SetDefault("extract.timeout", d.Extract.Timeout)

	v.SetDefault("assistant.base_url", d.Assistant.BaseURL)
	v.SetDefault("assistant.api_key", d.Assistant.APIKey)
	v.SetDefault("assistant.model", d.Assistant.Model)
	v.SetDefault("assistant.timeout", d.Assistant.Timeout)

	v.SetDefault("logging.level", d.Logging.Level)
}
