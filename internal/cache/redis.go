// Package cache хранит итоги обработки развертываний и счетчики сервиса в Redis
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"motor-quality-service/internal/models"
)

const (
	// SummaryKeyPrefix префикс ключей итогов развертываний
	SummaryKeyPrefix = "deployment:summary:"
	// RecentSummariesKey список последних итогов
	RecentSummariesKey = "deployments:recent"
	// RecentLimit сколько последних итогов хранить
	RecentLimit = 100
	// DefaultSummaryTTL время жизни итога по умолчанию
	DefaultSummaryTTL = 24 * time.Hour
)

// Ключи счетчиков
const (
	CounterProcessed    = "stats:deployments_processed"
	CounterFailed       = "stats:deployments_failed"
	CounterMeasurements = "stats:measurements_total"
	CounterNonOK        = "stats:non_ok_total"
)

// ErrCacheMiss ключ отсутствует в кэше
var ErrCacheMiss = errors.New("cache: miss")

// RedisCache реализует кэширование в Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache создает новое подключение к Redis
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// Проверяем подключение
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, ttl), nil
}

// NewWithClient оборачивает готовый клиент
func NewWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultSummaryTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func summaryKey(deploymentID int64) string {
	return fmt.Sprintf("%s%d", SummaryKeyPrefix, deploymentID)
}

// CacheSummary сохраняет итог обработки и добавляет его в список последних
func (r *RedisCache) CacheSummary(ctx context.Context, s models.DeploymentSummary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, summaryKey(s.DeploymentID), data, r.ttl)
	pipe.LPush(ctx, RecentSummariesKey, data)
	pipe.LTrim(ctx, RecentSummariesKey, 0, RecentLimit-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache summary: %w", err)
	}
	return nil
}

// GetSummary возвращает последний итог развертывания или ErrCacheMiss
func (r *RedisCache) GetSummary(ctx context.Context, deploymentID int64) (*models.DeploymentSummary, error) {
	data, err := r.client.Get(ctx, summaryKey(deploymentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}

	var s models.DeploymentSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
	}
	return &s, nil
}

// RecentSummaries возвращает до count последних итогов, новые первыми
func (r *RedisCache) RecentSummaries(ctx context.Context, count int64) ([]models.DeploymentSummary, error) {
	data, err := r.client.LRange(ctx, RecentSummariesKey, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get recent summaries: %w", err)
	}

	out := make([]models.DeploymentSummary, 0, len(data))
	for _, d := range data {
		var s models.DeploymentSummary
		if err := json.Unmarshal([]byte(d), &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// IncrementCounter увеличивает счетчик на n
func (r *RedisCache) IncrementCounter(ctx context.Context, key string, n int64) (int64, error) {
	return r.client.IncrBy(ctx, key, n).Result()
}

// Stats собирает счетчики сервиса
func (r *RedisCache) Stats(ctx context.Context) (models.StatsResponse, error) {
	vals, err := r.client.MGet(ctx, CounterProcessed, CounterFailed, CounterMeasurements, CounterNonOK).Result()
	if err != nil {
		return models.StatsResponse{}, fmt.Errorf("failed to get counters: %w", err)
	}

	n := make([]int64, len(vals))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			n[i], _ = strconv.ParseInt(s, 10, 64)
		}
	}
	return models.StatsResponse{
		DeploymentsProcessed: n[0],
		DeploymentsFailed:    n[1],
		MeasurementsTotal:    n[2],
		NonOKTotal:           n[3],
	}, nil
}

// Ping проверяет соединение с Redis
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close закрывает соединение
func (r *RedisCache) Close() error {
	return r.client.Close()
}
