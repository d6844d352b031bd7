// Package metrics реализует экспорт метрик в Prometheus
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"motor-quality-service/internal/analytics"
	"motor-quality-service/internal/imputation"
	"motor-quality-service/internal/models"
	"motor-quality-service/internal/quality"
)

// Prometheus метрики
var (
	// RequestsTotal общее количество запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqs_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration длительность запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mqs_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "method"},
	)

	// DeploymentsProcessed запуски обработки по статусу
	DeploymentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqs_deployments_processed_total",
			Help: "Deployment processing runs by status",
		},
		[]string{"status"},
	)

	// MeasurementsProcessed количество оцененных измерений
	MeasurementsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mqs_measurements_processed_total",
			Help: "Total number of measurements that received a quality code",
		},
	)

	// QualityCodes измерения по итоговому коду качества
	QualityCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqs_quality_codes_total",
			Help: "Measurements by resolved quality code",
		},
		[]string{"code", "label"},
	)

	// DetectorAbstentions воздержания детекторов из-за пробелов конфигурации
	DetectorAbstentions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqs_detector_abstentions_total",
			Help: "Variables a detector could not evaluate (configuration gap, not an OK verdict)",
		},
		[]string{"detector"},
	)

	// GridCells ячейки широкой таблицы по происхождению значения
	GridCells = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqs_grid_cells_total",
			Help: "Wide-table cells by provenance after imputation",
		},
		[]string{"provenance"},
	)

	// JitterExcluded отсчеты вне допуска по джиттеру
	JitterExcluded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mqs_jitter_excluded_total",
			Help: "Readings excluded from the grid because of timestamp jitter",
		},
	)

	// PersistedRecords записи, переданные приемникам
	PersistedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqs_persisted_records_total",
			Help: "Records handed to output sinks by sink and outcome",
		},
		[]string{"sink", "outcome"},
	)

	// CacheHits попадания в кэш
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mqs_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	// CacheMisses промахи кэша
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mqs_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// ActiveWorkers занятые обработчики пула
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mqs_active_workers",
			Help: "Number of workers currently processing a deployment",
		},
	)

	// QueueDepth задания в очереди пула
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mqs_queue_depth",
			Help: "Deployments waiting in the worker queue",
		},
	)

	// PipelineLatency время обработки одного развертывания
	PipelineLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mqs_pipeline_latency_seconds",
			Help:    "Deployment processing latency in seconds by stage",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)
)

// Статусы запусков
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// RecordRun обновляет метрики по итогам обработки развертывания
func RecordRun(report quality.Report, abstentions []analytics.Abstention, cells map[imputation.Provenance]int, summary models.DeploymentSummary) {
	DeploymentsProcessed.WithLabelValues(StatusOK).Inc()
	MeasurementsProcessed.Add(float64(report.Total))
	for _, c := range report.Codes {
		QualityCodes.WithLabelValues(strconv.Itoa(int(c.Code)), c.Label).Add(float64(c.Count))
	}
	for _, a := range abstentions {
		DetectorAbstentions.WithLabelValues(a.Detector).Inc()
	}
	for p, n := range cells {
		GridCells.WithLabelValues(string(p)).Add(float64(n))
	}
	JitterExcluded.Add(float64(summary.ExcludedJitter))
	PipelineLatency.WithLabelValues("process").Observe(summary.DurationSeconds)
}

// RecordPersist учитывает результат записи в приемник
func RecordPersist(sink string, stats models.PersistStats) {
	PersistedRecords.WithLabelValues(sink, "inserted").Add(float64(stats.Inserted))
	PersistedRecords.WithLabelValues(sink, "duplicate").Add(float64(stats.Duplicates))
	PersistedRecords.WithLabelValues(sink, "failed").Add(float64(stats.Failed))
}
