// Package app собирает компоненты сервиса по конфигурации
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"motor-quality-service/internal/cache"
	"motor-quality-service/internal/config"
	"motor-quality-service/internal/ingest"
	"motor-quality-service/internal/pipeline"
	"motor-quality-service/internal/retry"
	"motor-quality-service/internal/service"
	"motor-quality-service/internal/storage"
	"motor-quality-service/internal/taxonomy"
)

// App собранные зависимости; DB, Repo и Cache равны nil, если отключены
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Taxonomy *taxonomy.Taxonomy
	Client   *ingest.Client
	Service  *service.DeploymentService
	DB       *sqlx.DB
	Repo     *storage.QualityRepository
	Cache    *cache.RedisCache
}

// New подключает приемники и кэш и создает сервис обработки.
// Недоступный Redis не является ошибкой: сервис работает без кэша.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	tax, err := cfg.Taxonomy()
	if err != nil {
		return nil, fmt.Errorf("failed to load taxonomy: %w", err)
	}
	processor, err := pipeline.NewProcessor(cfg.Pipeline, tax, log)
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	a := &App{
		Config:   cfg,
		Logger:   log,
		Taxonomy: tax,
		Client:   ingest.NewClient(cfg.API, log),
	}

	opts := []service.Option{service.WithLogger(log)}

	if cfg.HasSink(config.SinkPostgres) {
		if a.DB, err = connectPostgres(ctx, cfg, log); err != nil {
			return nil, err
		}
		a.Repo = storage.NewQualityRepository(a.DB, log)
		opts = append(opts, service.WithQualitySinks(a.Repo))
		if cfg.Output.SaveClean {
			opts = append(opts, service.WithCleanSink(a.Repo))
		}
	}
	if cfg.HasSink(config.SinkREST) {
		opts = append(opts, service.WithQualitySinks(a.Client))
	}

	if a.Cache = connectRedis(ctx, cfg, log); a.Cache != nil {
		opts = append(opts, service.WithCache(a.Cache))
	}

	a.Service = service.NewDeploymentService(a.Client, processor, opts...)
	return a, nil
}

// Close освобождает соединения
func (a *App) Close() {
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

func connectBackoff(log *zap.Logger) retry.Backoff {
	return retry.Backoff{MaxAttempts: 5, MinInterval: time.Second, Logger: log}
}

// connectPostgres подключается к базе с повторами и применяет схему
func connectPostgres(ctx context.Context, cfg *config.Config, log *zap.Logger) (*sqlx.DB, error) {
	var db *sqlx.DB
	backoff := connectBackoff(log)
	err := backoff.Do(ctx, "postgres connect", func(ctx context.Context) (bool, error) {
		var err error
		db, err = storage.Connect(ctx, cfg.Postgres)
		return true, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := storage.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Info("Connected to PostgreSQL", zap.String("host", cfg.Postgres.Host), zap.String("db", cfg.Postgres.DBName))
	return db, nil
}

// connectRedis подключается к Redis; при неудаче возвращает nil
func connectRedis(ctx context.Context, cfg *config.Config, log *zap.Logger) *cache.RedisCache {
	if !cfg.Redis.Enabled {
		return nil
	}
	var rc *cache.RedisCache
	backoff := connectBackoff(log)
	err := backoff.Do(ctx, "redis connect", func(ctx context.Context) (bool, error) {
		var err error
		rc, err = cache.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.SummaryTTL)
		return true, err
	})
	if err != nil {
		log.Warn("Failed to connect to Redis, running without cache", zap.Error(err))
		return nil
	}
	log.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
	return rc
}
