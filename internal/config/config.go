// Package config загружает конфигурацию сервиса: YAML-файл, переменные окружения MQS_* и .env
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"motor-quality-service/internal/ingest"
	"motor-quality-service/internal/logger"
	"motor-quality-service/internal/pipeline"
	"motor-quality-service/internal/storage"
	"motor-quality-service/internal/taxonomy"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "MQS"

// Имена приемников результатов
const (
	SinkPostgres = "postgres"
	SinkREST     = "rest"
)

// ServerConfig параметры HTTP сервера
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig параметры кэша
type RedisConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	SummaryTTL time.Duration `mapstructure:"summary_ttl"`
}

// OutputConfig приемники результатов
type OutputConfig struct {
	Sinks     []string `mapstructure:"sinks"`
	SaveClean bool     `mapstructure:"save_clean"`
}

// WorkerConfig пул обработки развертываний
type WorkerConfig struct {
	Count     int `mapstructure:"count"`
	QueueSize int `mapstructure:"queue_size"`
}

// Config конфигурация сервиса
type Config struct {
	Server       ServerConfig    `mapstructure:"server"`
	Redis        RedisConfig     `mapstructure:"redis"`
	Postgres     storage.Config  `mapstructure:"postgres"`
	API          ingest.Config   `mapstructure:"api"`
	Log          logger.Config   `mapstructure:"log"`
	Pipeline     pipeline.Config `mapstructure:"pipeline"`
	TaxonomyFile string          `mapstructure:"taxonomy_file"`
	Output       OutputConfig    `mapstructure:"output"`
	Worker       WorkerConfig    `mapstructure:"worker"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.summary_ttl", 24*time.Hour)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "motor_quality")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_lifetime", 30*time.Minute)

	api := ingest.DefaultConfig()
	v.SetDefault("api.base_url", api.BaseURL)
	v.SetDefault("api.api_key", "")
	v.SetDefault("api.timeout", api.Timeout)
	v.SetDefault("api.list_limit", api.ListLimit)
	v.SetDefault("api.post_concurrency", api.PostConcurrency)
	v.SetDefault("api.retry.max_attempts", api.Retry.MaxAttempts)
	v.SetDefault("api.retry.min_interval", api.Retry.MinInterval)
	v.SetDefault("api.retry.max_interval", api.Retry.MaxInterval)
	v.SetDefault("api.retry.no_jitter", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	p := pipeline.DefaultConfig()
	v.SetDefault("pipeline.temporal.expected_interval", p.Temporal.ExpectedInterval)
	v.SetDefault("pipeline.temporal.gap_factor", p.Temporal.GapFactor)
	v.SetDefault("pipeline.temporal.small_delta_factor", p.Temporal.SmallDeltaFactor)
	v.SetDefault("pipeline.detectors.high_iqr_multiplier", p.Detectors.HighIQRMultiplier)
	v.SetDefault("pipeline.detectors.outlier_iqr_multiplier", p.Detectors.OutlierIQRMultiplier)
	v.SetDefault("pipeline.detectors.monotonic_tolerance", p.Detectors.MonotonicTolerance)
	v.SetDefault("pipeline.detectors.stuck_window", p.Detectors.StuckWindow)
	v.SetDefault("pipeline.detectors.stuck_std_threshold", p.Detectors.StuckStdThreshold)
	v.SetDefault("pipeline.detectors.noise_window", p.Detectors.NoiseWindow)
	v.SetDefault("pipeline.detectors.noise_std_multiplier", p.Detectors.NoiseStdMultiplier)
	v.SetDefault("pipeline.grid.frequency", p.Grid.Frequency)
	v.SetDefault("pipeline.grid.jitter_tolerance", p.Grid.JitterTolerance)
	v.SetDefault("pipeline.grid.collapse_mode", string(p.Grid.CollapseMode))
	v.SetDefault("pipeline.imputation.max_gap_steps", p.Imputation.MaxGapSteps)
	v.SetDefault("pipeline.imputation.strategies", p.Imputation.Strategies)
	v.SetDefault("pipeline.quality_filter", []int{})
	v.SetDefault("pipeline.max_grid_slots", p.MaxGridSlots)

	v.SetDefault("taxonomy_file", "")
	v.SetDefault("output.sinks", []string{SinkPostgres})
	v.SetDefault("output.save_clean", true)

	v.SetDefault("worker.count", runtime.NumCPU())
	v.SetDefault("worker.queue_size", 100)
}

// Load читает .env (если есть), файл path (если задан) и переменные MQS_*.
// Переменные окружения имеют приоритет над файлом: MQS_SERVER_ADDR -> server.addr.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate проверяет значения, которые не проверяются конструкторами компонентов
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Worker.Count <= 0 {
		errs = append(errs, fmt.Errorf("worker.count must be positive, got %d", c.Worker.Count))
	}
	if c.Worker.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("worker.queue_size must not be negative, got %d", c.Worker.QueueSize))
	}
	for _, s := range c.Output.Sinks {
		switch s {
		case SinkPostgres, SinkREST:
		default:
			errs = append(errs, fmt.Errorf("unknown output sink %q", s))
		}
	}
	if c.HasSink(SinkREST) && c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required for the rest sink"))
	}
	return errors.Join(errs...)
}

// HasSink проверяет, включен ли приемник
func (c *Config) HasSink(name string) bool {
	for _, s := range c.Output.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// Taxonomy загружает таблицы переменных из taxonomy_file или встроенные
func (c *Config) Taxonomy() (*taxonomy.Taxonomy, error) {
	if c.TaxonomyFile == "" {
		return taxonomy.Default(), nil
	}
	return taxonomy.LoadFile(c.TaxonomyFile)
}
