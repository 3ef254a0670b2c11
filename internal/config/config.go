// Package config loads process configuration for the server, worker and
// migrate binaries.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	corelock "fiscalcore/internal/core/lock"
	"fiscalcore/internal/infrastructure/archive"
	"fiscalcore/internal/infrastructure/imprenta"
	"fiscalcore/internal/infrastructure/storage/postgres"
)

// EnvPrefix is prepended to every environment key: FISCAL_DATABASE_DSN.
const EnvPrefix = "FISCAL"

// Config holds all application configuration.
type Config struct {
	App      AppConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Lock     LockConfig
	Imprenta ImprentaConfig
	JWT      JWTConfig
	Worker   WorkerConfig
	Archive  ArchiveConfig
}

type AppConfig struct {
	Env  string
	Port string
}

// IsDevelopment enables the human-readable log encoder.
func (c AppConfig) IsDevelopment() bool { return c.Env == "development" }

type LogConfig struct {
	Level string
}

type DatabaseConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Pool maps the section onto the pgx pool settings.
func (c DatabaseConfig) Pool() postgres.PoolConfig {
	pc := postgres.DefaultPoolConfig(c.DSN)
	if c.MaxConns > 0 {
		pc.MaxConns = c.MaxConns
	}
	if c.MinConns > 0 {
		pc.MinConns = c.MinConns
	}
	if c.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = c.MaxConnLifetime
	}
	if c.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = c.MaxConnIdleTime
	}
	return pc
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// LockConfig tunes series locks. FastBackend is redis, memory or none.
type LockConfig struct {
	TTL                  time.Duration
	MaxAttempts          int
	RetryDelay           time.Duration
	Policy               string
	FastBackend          string
	FallbackOnContention bool
	IssueTTL             time.Duration
}

// Options returns the acquisition options for series locks.
func (c LockConfig) Options() corelock.Options {
	return corelock.Options{
		TTL:         c.TTL,
		MaxAttempts: c.MaxAttempts,
		RetryDelay:  c.RetryDelay,
		Policy:      corelock.RetryPolicy(c.Policy),
	}.Normalize()
}

type ImprentaConfig struct {
	Mode            string
	BaseURL         string
	APIKey          string
	RIF             string
	CompanyName     string
	Sandbox         bool
	Timeout         time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	HeadersTemplate string
	PayloadTemplate string
	Custom          string
}

// Provider converts the section into the provider factory configuration.
func (c ImprentaConfig) Provider() (imprenta.Config, error) {
	headers, payload, err := imprenta.ParseTemplates(c.HeadersTemplate, c.PayloadTemplate)
	if err != nil {
		return imprenta.Config{}, err
	}
	return imprenta.Config{
		Mode:            imprenta.Mode(c.Mode),
		BaseURL:         c.BaseURL,
		APIKey:          c.APIKey,
		RIF:             c.RIF,
		CompanyName:     c.CompanyName,
		Sandbox:         c.Sandbox,
		Timeout:         c.Timeout,
		MaxRetries:      c.MaxRetries,
		RetryDelay:      c.RetryDelay,
		HeadersTemplate: headers,
		PayloadTemplate: payload,
		Custom:          c.Custom,
	}, nil
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Required bool
}

type WorkerConfig struct {
	RetryInterval    time.Duration
	RetryBatchSize   int
	RetryMaxAttempts int
	RetryConcurrency int
	OutboxInterval   time.Duration
	OutboxBatchSize  int
	OutboxMaxRetries int
	CleanupInterval  time.Duration
	OutboxRetention  time.Duration
}

type ArchiveConfig struct {
	Enabled bool
	Bucket  string
	Prefix  string
	Region  string
}

// S3 maps the section onto the archiver settings.
func (c ArchiveConfig) S3() archive.Config {
	return archive.Config{
		Enabled: c.Enabled,
		Bucket:  c.Bucket,
		Prefix:  c.Prefix,
		Region:  c.Region,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("log.level", "info")

	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("lock.ttl", 2*time.Second)
	v.SetDefault("lock.max_attempts", 5)
	v.SetDefault("lock.retry_delay", 100*time.Millisecond)
	v.SetDefault("lock.policy", string(corelock.PolicyConstant))
	v.SetDefault("lock.fast_backend", "memory")
	v.SetDefault("lock.fallback_on_contention", false)
	v.SetDefault("lock.issue_ttl", 2*time.Minute)

	v.SetDefault("imprenta.mode", string(imprenta.ModeMock))
	v.SetDefault("imprenta.sandbox", true)
	v.SetDefault("imprenta.timeout", 10*time.Second)
	v.SetDefault("imprenta.max_retries", 3)
	v.SetDefault("imprenta.retry_delay", 500*time.Millisecond)

	v.SetDefault("jwt.issuer", "fiscalcore")
	v.SetDefault("jwt.required", true)

	v.SetDefault("worker.retry_interval", time.Minute)
	v.SetDefault("worker.retry_batch_size", 50)
	v.SetDefault("worker.retry_max_attempts", 5)
	v.SetDefault("worker.retry_concurrency", 4)
	v.SetDefault("worker.outbox_interval", time.Second)
	v.SetDefault("worker.outbox_batch_size", 100)
	v.SetDefault("worker.outbox_max_retries", 5)
	v.SetDefault("worker.cleanup_interval", time.Hour)
	v.SetDefault("worker.outbox_retention", 7*24*time.Hour)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.prefix", "evidence")
}

// Load reads configuration.
// Priority (highest to lowest):
//  1. Environment variables with FISCAL_ prefix (FISCAL_IMPRENTA_MODE)
//  2. .env in the working directory
//  3. config.yaml
//  4. Built-in defaults
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/fiscalcore")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
		},
		Database: DatabaseConfig{
			DSN:             v.GetString("database.dsn"),
			MaxConns:        v.GetInt32("database.max_conns"),
			MinConns:        v.GetInt32("database.min_conns"),
			MaxConnLifetime: v.GetDuration("database.max_conn_lifetime"),
			MaxConnIdleTime: v.GetDuration("database.max_conn_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Lock: LockConfig{
			TTL:                  v.GetDuration("lock.ttl"),
			MaxAttempts:          v.GetInt("lock.max_attempts"),
			RetryDelay:           v.GetDuration("lock.retry_delay"),
			Policy:               v.GetString("lock.policy"),
			FastBackend:          v.GetString("lock.fast_backend"),
			FallbackOnContention: v.GetBool("lock.fallback_on_contention"),
			IssueTTL:             v.GetDuration("lock.issue_ttl"),
		},
		Imprenta: ImprentaConfig{
			Mode:            v.GetString("imprenta.mode"),
			BaseURL:         v.GetString("imprenta.base_url"),
			APIKey:          v.GetString("imprenta.api_key"),
			RIF:             v.GetString("imprenta.rif"),
			CompanyName:     v.GetString("imprenta.company_name"),
			Sandbox:         v.GetBool("imprenta.sandbox"),
			Timeout:         v.GetDuration("imprenta.timeout"),
			MaxRetries:      v.GetInt("imprenta.max_retries"),
			RetryDelay:      v.GetDuration("imprenta.retry_delay"),
			HeadersTemplate: v.GetString("imprenta.headers_template"),
			PayloadTemplate: v.GetString("imprenta.payload_template"),
			Custom:          v.GetString("imprenta.custom"),
		},
		JWT: JWTConfig{
			Secret:   v.GetString("jwt.secret"),
			Issuer:   v.GetString("jwt.issuer"),
			Required: v.GetBool("jwt.required"),
		},
		Worker: WorkerConfig{
			RetryInterval:    v.GetDuration("worker.retry_interval"),
			RetryBatchSize:   v.GetInt("worker.retry_batch_size"),
			RetryMaxAttempts: v.GetInt("worker.retry_max_attempts"),
			RetryConcurrency: v.GetInt("worker.retry_concurrency"),
			OutboxInterval:   v.GetDuration("worker.outbox_interval"),
			OutboxBatchSize:  v.GetInt("worker.outbox_batch_size"),
			OutboxMaxRetries: v.GetInt("worker.outbox_max_retries"),
			CleanupInterval:  v.GetDuration("worker.cleanup_interval"),
			OutboxRetention:  v.GetDuration("worker.outbox_retention"),
		},
		Archive: ArchiveConfig{
			Enabled: v.GetBool("archive.enabled"),
			Bucket:  v.GetString("archive.bucket"),
			Prefix:  v.GetString("archive.prefix"),
			Region:  v.GetString("archive.region"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch imprenta.Mode(c.Imprenta.Mode) {
	case imprenta.ModeMock, imprenta.ModeCustom:
	case imprenta.ModeGenericHTTP:
		if c.Imprenta.BaseURL == "" {
			return errors.New("imprenta.base_url is required in generic-http mode")
		}
	default:
		return fmt.Errorf("unknown imprenta.mode %q", c.Imprenta.Mode)
	}

	switch c.Lock.FastBackend {
	case "redis":
		if !c.Redis.Enabled {
			return errors.New("lock.fast_backend=redis requires redis.enabled")
		}
	case "memory", "none":
	default:
		return fmt.Errorf("unknown lock.fast_backend %q", c.Lock.FastBackend)
	}

	switch corelock.RetryPolicy(c.Lock.Policy) {
	case corelock.PolicyConstant, corelock.PolicyExponential:
	default:
		return fmt.Errorf("unknown lock.policy %q", c.Lock.Policy)
	}

	if c.JWT.Required && c.JWT.Secret == "" {
		return errors.New("jwt.secret is required when jwt.required is set")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return errors.New("archive.bucket is required when archive.enabled is set")
	}
	return nil
}
