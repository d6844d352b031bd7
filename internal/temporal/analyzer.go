// Package temporal анализирует временную структуру измерений развертывания:
// дедупликация, интервалы между отсчетами, разрывы и джиттер.
package temporal

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"motor-quality-service/internal/models"
)

const (
	// DefaultExpectedInterval ожидаемый интервал между отсчетами (15 минут)
	DefaultExpectedInterval = 900 * time.Second
	// DefaultGapFactor множитель интервала, выше которого фиксируется разрыв
	DefaultGapFactor = 1.5
	// DefaultSmallDeltaFactor множитель интервала, ниже которого фиксируется джиттер
	DefaultSmallDeltaFactor = 0.5
)

var (
	// ErrEmptyInput анализ временной структуры невозможен без измерений
	ErrEmptyInput = errors.New("temporal: no measurements to analyze")
	// ErrMissingField у измерения нет обязательного поля (ts_utc или variable)
	ErrMissingField = errors.New("temporal: measurement is missing a required field")
)

// Config параметры анализа временной структуры
type Config struct {
	ExpectedInterval time.Duration `mapstructure:"expected_interval"`
	GapFactor        float64       `mapstructure:"gap_factor"`
	SmallDeltaFactor float64       `mapstructure:"small_delta_factor"`
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		ExpectedInterval: DefaultExpectedInterval,
		GapFactor:        DefaultGapFactor,
		SmallDeltaFactor: DefaultSmallDeltaFactor,
	}
}

// GapThreshold порог разрыва
func (c Config) GapThreshold() time.Duration {
	return time.Duration(float64(c.ExpectedInterval) * c.GapFactor)
}

// SmallDeltaThreshold порог джиттера
func (c Config) SmallDeltaThreshold() time.Duration {
	return time.Duration(float64(c.ExpectedInterval) * c.SmallDeltaFactor)
}

// Gap строка таблицы интервалов между уникальными отсчетами
type Gap struct {
	Timestamp    time.Time     `json:"ts_utc"`
	Delta        time.Duration `json:"delta"`
	HasDelta     bool          `json:"has_delta"`
	IsGap        bool          `json:"is_gap"`
	IsSmallDelta bool          `json:"is_small_delta"`
}

// Record измерение, аннотированное временными признаками
type Record struct {
	Entry
	Delta        time.Duration `json:"delta"`
	HasDelta     bool          `json:"has_delta"`
	IsGap        bool          `json:"is_gap"`
	IsSmallDelta bool          `json:"is_small_delta"`
}

// Summary сводная статистика интервалов в секундах
type Summary struct {
	ExpectedSeconds float64 `json:"expected_sec"`
	GapThreshold    float64 `json:"gap_threshold"`
	Count           int     `json:"count"`
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	Mean            float64 `json:"mean"`
	Std             float64 `json:"std"`
	P25             float64 `json:"p25"`
	P75             float64 `json:"p75"`
	NumGaps         int     `json:"num_gaps"`
	NumSmallDeltas  int     `json:"num_small_deltas"`
}

// Analyzer анализатор временной структуры
type Analyzer struct {
	cfg Config
}

// NewAnalyzer создает анализатор; нулевые параметры заменяются значениями по умолчанию
func NewAnalyzer(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.ExpectedInterval <= 0 {
		cfg.ExpectedInterval = def.ExpectedInterval
	}
	if cfg.GapFactor <= 0 {
		cfg.GapFactor = def.GapFactor
	}
	if cfg.SmallDeltaFactor <= 0 {
		cfg.SmallDeltaFactor = def.SmallDeltaFactor
	}
	return &Analyzer{cfg: cfg}
}

// Config возвращает действующие параметры
func (a *Analyzer) Config() Config {
	return a.cfg
}

// Analyze дедуплицирует измерения, строит таблицу интервалов и аннотирует записи.
// Пустой вход и измерение без ts_utc или variable - структурные ошибки.
func (a *Analyzer) Analyze(ms []models.Measurement) (*Series, error) {
	if len(ms) == 0 {
		return nil, ErrEmptyInput
	}
	if err := Validate(ms); err != nil {
		return nil, err
	}

	entries, dedup := Deduplicate(ms)
	gaps := a.Gaps(entries)

	byTs := make(map[int64]Gap, len(gaps))
	for _, g := range gaps {
		byTs[g.Timestamp.UnixNano()] = g
	}

	records := make([]Record, len(entries))
	for i, e := range entries {
		g := byTs[e.Timestamp.UnixNano()]
		records[i] = Record{
			Entry:        e,
			Delta:        g.Delta,
			HasDelta:     g.HasDelta,
			IsGap:        g.IsGap,
			IsSmallDelta: g.IsSmallDelta,
		}
	}

	return newSeries(records, gaps, dedup, a.summarize(gaps)), nil
}

// Validate проверяет обязательные поля каждого измерения
func Validate(ms []models.Measurement) error {
	for i, m := range ms {
		if m.Timestamp.IsZero() {
			return fmt.Errorf("%w: measurement %d (%q) has no ts_utc", ErrMissingField, i, m.Variable)
		}
		if strings.TrimSpace(m.Variable) == "" {
			return fmt.Errorf("%w: measurement %d at %s has no variable", ErrMissingField, i, m.Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// Gaps вычисляет интервалы между уникальными отсортированными отсчетами развертывания.
// Первый отсчет не имеет интервала.
func (a *Analyzer) Gaps(entries []Entry) []Gap {
	seen := make(map[int64]struct{}, len(entries))
	ts := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		k := e.Timestamp.UnixNano()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		ts = append(ts, e.Timestamp)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })

	gapThreshold := a.cfg.GapThreshold()
	smallThreshold := a.cfg.SmallDeltaThreshold()

	gaps := make([]Gap, len(ts))
	for i, t := range ts {
		gaps[i] = Gap{Timestamp: t}
		if i == 0 {
			continue
		}
		d := t.Sub(ts[i-1])
		gaps[i].Delta = d
		gaps[i].HasDelta = true
		gaps[i].IsGap = d > gapThreshold
		gaps[i].IsSmallDelta = d > 0 && d < smallThreshold
	}
	return gaps
}

func (a *Analyzer) summarize(gaps []Gap) Summary {
	s := Summary{
		ExpectedSeconds: a.cfg.ExpectedInterval.Seconds(),
		GapThreshold:    a.cfg.GapThreshold().Seconds(),
	}

	deltas := make([]float64, 0, len(gaps))
	for _, g := range gaps {
		if !g.HasDelta {
			continue
		}
		deltas = append(deltas, g.Delta.Seconds())
		if g.IsGap {
			s.NumGaps++
		}
		if g.IsSmallDelta {
			s.NumSmallDeltas++
		}
	}
	if len(deltas) == 0 {
		return s
	}

	sort.Float64s(deltas)
	s.Count = len(deltas)
	s.Min = deltas[0]
	s.Max = deltas[len(deltas)-1]
	s.Mean = stat.Mean(deltas, nil)
	if len(deltas) > 1 {
		s.Std = stat.StdDev(deltas, nil)
	}
	s.P25 = Quantile(deltas, 0.25)
	s.P75 = Quantile(deltas, 0.75)
	return s
}

// Quantile квантиль с линейной интерполяцией по отсортированной выборке
// (позиция (n-1)*q). Пустая выборка дает NaN.
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	pos := float64(n-1) * q
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
