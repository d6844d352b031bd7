// Package pipeline связывает этапы обработки одного развертывания:
// временная структура, флаги качества, коды, синхронизация на сетку, импутация.
package pipeline

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"motor-quality-service/internal/analytics"
	"motor-quality-service/internal/grid"
	"motor-quality-service/internal/imputation"
	"motor-quality-service/internal/models"
	"motor-quality-service/internal/quality"
	"motor-quality-service/internal/taxonomy"
	"motor-quality-service/internal/temporal"
)

var (
	// ErrNoMeasurements у развертывания нет измерений
	ErrNoMeasurements = errors.New("pipeline: deployment has no measurements")
	// ErrGridTooLarge диапазон измерений дает сетку больше допустимой
	ErrGridTooLarge = errors.New("pipeline: measurement range exceeds grid limit")
)

// DefaultMaxGridSlots предел числа интервалов сетки (около 2.8 лет при 15 минутах)
const DefaultMaxGridSlots = 100000

// Config параметры всех этапов
type Config struct {
	Temporal   temporal.Config   `mapstructure:"temporal"`
	Detectors  analytics.Config  `mapstructure:"detectors"`
	Grid       grid.Config       `mapstructure:"grid"`
	Imputation imputation.Config `mapstructure:"imputation"`
	// QualityFilter коды, которые передаются приемникам; пусто - все записи
	QualityFilter []int `mapstructure:"quality_filter"`
	// MaxGridSlots предел числа интервалов сетки; 0 - без ограничения
	MaxGridSlots int `mapstructure:"max_grid_slots"`
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		Temporal:     temporal.DefaultConfig(),
		Detectors:    analytics.DefaultConfig(),
		Grid:         grid.DefaultConfig(),
		Imputation:   imputation.DefaultConfig(),
		MaxGridSlots: DefaultMaxGridSlots,
	}
}

// Result полный результат обработки развертывания
type Result struct {
	RunID       string
	Deployment  models.Deployment
	Series      *temporal.Series
	Flags       []quality.FlagSet
	Codes       []quality.Code
	Report      quality.Report
	Stats       map[string]analytics.VariableStats
	Abstentions []analytics.Abstention
	Sync        grid.Stats
	Table       *grid.Table
	Imputed     *imputation.Result
	Quality     []models.QualityRecord
	Clean       []models.CleanRecord
	Summary     models.DeploymentSummary
}

// Processor обрабатывает развертывания; безопасен для параллельного использования
type Processor struct {
	analyzer *temporal.Analyzer
	engine   *analytics.Engine
	sync     *grid.Synchronizer
	imputer  *imputation.Engine
	filter   map[quality.Code]struct{}
	maxSlots int
	logger   *zap.Logger
}

// NewProcessor проверяет конфигурацию всех этапов
func NewProcessor(cfg Config, tax *taxonomy.Taxonomy, logger *zap.Logger) (*Processor, error) {
	if tax == nil {
		return nil, errors.New("pipeline: taxonomy is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := cfg.Detectors.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detectors config: %w", err)
	}
	if cfg.MaxGridSlots < 0 {
		return nil, fmt.Errorf("max_grid_slots must not be negative, got %d", cfg.MaxGridSlots)
	}

	synchronizer, err := grid.NewSynchronizer(cfg.Grid, tax)
	if err != nil {
		return nil, fmt.Errorf("invalid grid config: %w", err)
	}
	imputer, err := imputation.NewEngine(cfg.Imputation)
	if err != nil {
		return nil, fmt.Errorf("invalid imputation config: %w", err)
	}

	var filter map[quality.Code]struct{}
	if len(cfg.QualityFilter) > 0 {
		filter = make(map[quality.Code]struct{}, len(cfg.QualityFilter))
		for _, c := range cfg.QualityFilter {
			code := quality.Code(c)
			if !code.Valid() {
				return nil, fmt.Errorf("quality filter: unknown code %d", c)
			}
			filter[code] = struct{}{}
		}
	}

	return &Processor{
		analyzer: temporal.NewAnalyzer(cfg.Temporal),
		engine:   analytics.NewEngine(cfg.Detectors, tax, logger),
		sync:     synchronizer,
		imputer:  imputer,
		filter:   filter,
		maxSlots: cfg.MaxGridSlots,
		logger:   logger.Named("pipeline"),
	}, nil
}

// Process выполняет все этапы для одного развертывания.
// Ошибки структуры входа фатальны; пробелы конфигурации приводят только к воздержанию детекторов.
func (p *Processor) Process(d models.Deployment, ms []models.Measurement) (*Result, error) {
	start := time.Now()
	if len(ms) == 0 {
		return nil, fmt.Errorf("%w: deployment %d", ErrNoMeasurements, d.ID)
	}

	if err := temporal.Validate(ms); err != nil {
		return nil, fmt.Errorf("deployment %d: %w", d.ID, err)
	}

	raw := len(ms)
	ms, outside := withinDeployment(d, ms)
	if outside > 0 {
		p.logger.Warn("Measurements outside deployment window excluded",
			zap.Int64("deployment_id", d.ID), zap.Int("excluded", outside))
	}
	if len(ms) == 0 {
		return nil, fmt.Errorf("%w: deployment %d has no measurements inside its window", ErrNoMeasurements, d.ID)
	}

	series, err := p.analyzer.Analyze(ms)
	if err != nil {
		return nil, fmt.Errorf("temporal analysis of deployment %d: %w", d.ID, err)
	}
	if err := p.checkGrid(series); err != nil {
		return nil, fmt.Errorf("deployment %d: %w", d.ID, err)
	}

	flagged := p.engine.Flag(series)

	res := &Result{
		RunID:       uuid.New().String(),
		Deployment:  d,
		Series:      series,
		Flags:       flagged.Flags,
		Codes:       make([]quality.Code, series.Len()),
		Stats:       flagged.Stats,
		Abstentions: flagged.Abstentions,
	}

	tally := quality.NewTally()
	readings := make([]grid.Reading, 0, series.Len())
	duplicates := 0
	for i := 0; i < series.Len(); i++ {
		r := series.At(i)
		f := res.Flags[i]
		code := quality.Resolve(f)
		res.Codes[i] = code
		tally.Add(f, code)
		if r.IsDuplicateKey {
			duplicates++
		}

		if p.pass(code) {
			res.Quality = append(res.Quality, p.qualityRecord(d.ID, r, code))
		}

		// Выбросы заменяются пропуском до синхронизации
		v, ok := r.Value.Float()
		if !ok || f.Outlier {
			v = math.NaN()
		}
		readings = append(readings, grid.Reading{Timestamp: r.Timestamp, Variable: r.Variable, Value: v})
	}
	res.Report = tally.Report()

	res.Table, res.Sync = p.sync.Synchronize(readings)
	res.Imputed = p.imputer.Impute(res.Table)
	res.Clean = res.Imputed.Records(d.ID)

	summary := series.Summary()
	res.Summary = models.DeploymentSummary{
		RunID:           res.RunID,
		DeploymentID:    d.ID,
		ProcessedAt:     time.Now().UTC(),
		RawRows:         raw,
		OutOfRange:      outside,
		DedupedRows:     series.Len(),
		DuplicateKeys:   duplicates,
		Gaps:            summary.NumGaps,
		SmallDeltas:     summary.NumSmallDeltas,
		Abstentions:     len(res.Abstentions),
		CodeCounts:      res.Report.CountsByCode(),
		GridSlots:       res.Sync.Slots,
		Columns:         res.Sync.Columns,
		ExcludedJitter:  res.Sync.ExcludedJitter,
		ImputedCells:    res.Imputed.Imputed(),
		MissingCells:    res.Imputed.Counts[imputation.ProvenanceMissingNotImputed],
		DurationSeconds: time.Since(start).Seconds(),
	}

	p.logger.Info("Deployment processed",
		zap.String("run_id", res.RunID),
		zap.Int64("deployment_id", d.ID),
		zap.Int("raw_rows", raw),
		zap.Int("deduped_rows", series.Len()),
		zap.Int("non_ok", res.Report.NonOK()),
		zap.Int("abstentions", len(res.Abstentions)),
		zap.Int("grid_slots", res.Sync.Slots),
		zap.Int("imputed_cells", res.Summary.ImputedCells),
		zap.Duration("duration", time.Since(start)))

	return res, nil
}

// withinDeployment оставляет измерения из [Start, End) закрытого развертывания
func withinDeployment(d models.Deployment, ms []models.Measurement) ([]models.Measurement, int) {
	if d.End == nil {
		return ms, 0
	}
	out := make([]models.Measurement, 0, len(ms))
	for _, m := range ms {
		if m.Timestamp.Before(d.Start) || !m.Timestamp.Before(*d.End) {
			continue
		}
		out = append(out, m)
	}
	return out, len(ms) - len(out)
}

// checkGrid ограничивает размер сетки до ее построения
func (p *Processor) checkGrid(series *temporal.Series) error {
	if p.maxSlots == 0 || series.Len() == 0 {
		return nil
	}
	first, last := series.At(0).Timestamp, series.At(0).Timestamp
	for _, r := range series.Records() {
		if r.Timestamp.Before(first) {
			first = r.Timestamp
		}
		if r.Timestamp.After(last) {
			last = r.Timestamp
		}
	}
	freq := p.sync.Config().Frequency
	slots := int64(last.UTC().Round(freq).Sub(first.UTC().Round(freq))/freq) + 1
	if slots > int64(p.maxSlots) {
		return fmt.Errorf("%w: %s to %s needs %d slots, limit %d",
			ErrGridTooLarge, first.Format(time.RFC3339), last.Format(time.RFC3339), slots, p.maxSlots)
	}
	return nil
}

func (p *Processor) pass(code quality.Code) bool {
	if p.filter == nil {
		return true
	}
	_, ok := p.filter[code]
	return ok
}

// qualityRecord строит запись для приемников. Колонка value числовая, поэтому
// исходная строка Invalid значения туда не попадает и остается только в журнале.
func (p *Processor) qualityRecord(deploymentID int64, r temporal.Record, code quality.Code) models.QualityRecord {
	rec := models.QualityRecord{
		DeploymentID: deploymentID,
		Timestamp:    r.Timestamp,
		Variable:     r.Variable,
		QualityCode:  int(code),
	}
	if v, ok := r.Value.Float(); ok {
		rec.Value = &v
	} else if r.Value.IsInvalid() {
		p.logger.Debug("Invalid value stored as NULL",
			zap.Int64("deployment_id", deploymentID),
			zap.Time("ts_utc", r.Timestamp),
			zap.String("variable", r.Variable),
			zap.String("raw", r.Value.Raw))
	}
	return rec
}
