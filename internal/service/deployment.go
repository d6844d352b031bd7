// Package service выполняет полный цикл обработки развертывания:
// загрузка, оценка качества, сохранение результатов, кэширование итогов.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"motor-quality-service/internal/cache"
	"motor-quality-service/internal/metrics"
	"motor-quality-service/internal/models"
	"motor-quality-service/internal/pipeline"
	"motor-quality-service/internal/worker"
)

// Loader источник развертываний и их измерений
type Loader interface {
	Load(ctx context.Context, id int64) (models.Deployment, []models.Measurement, error)
}

// QualitySink приемник индикаторов качества
type QualitySink interface {
	SaveQuality(ctx context.Context, records []models.QualityRecord) (models.PersistStats, error)
	Describe() string
}

// CleanSink приемник очищенного набора данных
type CleanSink interface {
	SaveClean(ctx context.Context, records []models.CleanRecord) (int, error)
}

// SummaryCache кэш итогов и счетчиков
type SummaryCache interface {
	CacheSummary(ctx context.Context, s models.DeploymentSummary) error
	GetSummary(ctx context.Context, deploymentID int64) (*models.DeploymentSummary, error)
	IncrementCounter(ctx context.Context, key string, n int64) (int64, error)
}

// ErrSummaryNotFound итог развертывания отсутствует
var ErrSummaryNotFound = errors.New("service: summary not found")

// DeploymentService оркестрирует обработку развертываний
type DeploymentService struct {
	loader    Loader
	processor *pipeline.Processor
	sinks     []QualitySink
	clean     CleanSink
	cache     SummaryCache
	logger    *zap.Logger
}

// Option настраивает DeploymentService
type Option func(*DeploymentService)

// WithQualitySinks добавляет приемники индикаторов качества
func WithQualitySinks(sinks ...QualitySink) Option {
	return func(s *DeploymentService) { s.sinks = append(s.sinks, sinks...) }
}

// WithCleanSink задает приемник очищенного набора
func WithCleanSink(sink CleanSink) Option {
	return func(s *DeploymentService) { s.clean = sink }
}

// WithCache задает кэш итогов
func WithCache(c SummaryCache) Option {
	return func(s *DeploymentService) { s.cache = c }
}

// WithLogger задает логгер
func WithLogger(l *zap.Logger) Option {
	return func(s *DeploymentService) { s.logger = l }
}

// NewDeploymentService создает сервис
func NewDeploymentService(loader Loader, processor *pipeline.Processor, opts ...Option) *DeploymentService {
	s := &DeploymentService{loader: loader, processor: processor, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("service")
	return s
}

// Run загружает развертывание, обрабатывает и сохраняет результаты
func (s *DeploymentService) Run(ctx context.Context, id int64) (*ProcessResponse, error) {
	d, ms, err := s.loader.Load(ctx, id)
	if err != nil {
		s.fail(ctx, id, err)
		return nil, fmt.Errorf("failed to load deployment %d: %w", id, err)
	}
	res, err := s.Process(ctx, d, ms, true)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Process обрабатывает уже загруженные измерения. persist=false только считает результат.
func (s *DeploymentService) Process(ctx context.Context, d models.Deployment, ms []models.Measurement, persist bool) (*ProcessResponse, error) {
	result, err := s.processor.Process(d, ms)
	if err != nil {
		s.fail(ctx, d.ID, err)
		return nil, err
	}

	metrics.RecordRun(result.Report, result.Abstentions, result.Imputed.Counts, result.Summary)

	resp := newResponse(result, !persist)
	if persist {
		resp.Persisted = s.persist(ctx, result)
	}
	s.remember(ctx, result)

	return resp, nil
}

// persist передает результаты всем приемникам. Ошибки приемников не влияют на коды качества.
func (s *DeploymentService) persist(ctx context.Context, result *pipeline.Result) models.PersistStats {
	total := models.PersistStats{Skipped: result.Series.Len() - len(result.Quality)}

	for _, sink := range s.sinks {
		stats, err := sink.SaveQuality(ctx, result.Quality)
		metrics.RecordPersist(sink.Describe(), stats)
		if err != nil {
			s.logger.Error("Quality sink failed",
				zap.String("sink", sink.Describe()),
				zap.Int64("deployment_id", result.Deployment.ID),
				zap.Error(err))
		}
		total = total.Add(stats)
	}

	if s.clean != nil {
		if _, err := s.clean.SaveClean(ctx, result.Clean); err != nil {
			s.logger.Error("Clean dataset sink failed",
				zap.Int64("deployment_id", result.Deployment.ID),
				zap.Error(err))
		}
	}
	return total
}

func (s *DeploymentService) remember(ctx context.Context, result *pipeline.Result) {
	if s.cache == nil {
		return
	}
	if err := s.cache.CacheSummary(ctx, result.Summary); err != nil {
		s.logger.Warn("Failed to cache summary", zap.Int64("deployment_id", result.Deployment.ID), zap.Error(err))
	}
	s.incr(ctx, cache.CounterProcessed, 1)
	s.incr(ctx, cache.CounterMeasurements, int64(result.Report.Total))
	s.incr(ctx, cache.CounterNonOK, int64(result.Report.NonOK()))
}

func (s *DeploymentService) fail(ctx context.Context, id int64, err error) {
	metrics.DeploymentsProcessed.WithLabelValues(metrics.StatusFailed).Inc()
	s.logger.Error("Deployment processing failed", zap.Int64("deployment_id", id), zap.Error(err))
	if s.cache != nil {
		s.incr(ctx, cache.CounterFailed, 1)
	}
}

func (s *DeploymentService) incr(ctx context.Context, key string, n int64) {
	if _, err := s.cache.IncrementCounter(ctx, key, n); err != nil {
		s.logger.Warn("Failed to increment counter", zap.String("key", key), zap.Error(err))
	}
}

// Summary возвращает последний итог обработки развертывания из кэша
func (s *DeploymentService) Summary(ctx context.Context, id int64) (*models.DeploymentSummary, error) {
	if s.cache == nil {
		return nil, ErrSummaryNotFound
	}
	summary, err := s.cache.GetSummary(ctx, id)
	if errors.Is(err, cache.ErrCacheMiss) {
		metrics.CacheMisses.Inc()
		return nil, ErrSummaryNotFound
	}
	if err != nil {
		return nil, err
	}
	metrics.CacheHits.Inc()
	return summary, nil
}

// Outcome результат обработки одного развертывания в пакетном режиме
type Outcome struct {
	DeploymentID int64
	Response     *ProcessResponse
	Err          error
}

// RunMany обрабатывает развертывания параллельно в пуле из workers обработчиков.
// Развертывания независимы: ошибка одного не останавливает остальные.
func (s *DeploymentService) RunMany(ctx context.Context, ids []int64, workers int) []Outcome {
	out := make([]Outcome, len(ids))
	var mu sync.Mutex

	pool := worker.NewPool(workers, len(ids), s.logger)
	pool.Start(ctx)
	for i, id := range ids {
		i, id := i, id
		out[i].DeploymentID = id
		err := pool.Submit(func(ctx context.Context) error {
			resp, err := s.Run(ctx, id)
			mu.Lock()
			out[i].Response, out[i].Err = resp, err
			mu.Unlock()
			return err
		})
		if err != nil {
			out[i].Err = err
		}
	}
	pool.Stop()

	return out
}
