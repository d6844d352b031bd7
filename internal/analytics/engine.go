package analytics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"motor-quality-service/internal/quality"
	"motor-quality-service/internal/taxonomy"
	"motor-quality-service/internal/temporal"
)

const (
	// DefaultHighIQRMultiplier множитель IQR для зоны высоких значений
	DefaultHighIQRMultiplier = 1.5
	// DefaultOutlierIQRMultiplier множитель IQR для экстремальных выбросов
	DefaultOutlierIQRMultiplier = 3.0
	// DefaultMonotonicTolerance допуск падения счетчика на шум плавающей точки
	DefaultMonotonicTolerance = 1e-6
	// DefaultStuckWindow окно залипания (2 часа при 15 минутах)
	DefaultStuckWindow = 8
	// DefaultStuckStdThreshold порог почти нулевого отклонения
	DefaultStuckStdThreshold = 1e-6
	// DefaultNoiseWindow окно шума (1 час при 15 минутах)
	DefaultNoiseWindow = 4
	// DefaultNoiseStdMultiplier множитель эталонного отклонения
	DefaultNoiseStdMultiplier = 3.0
)

// Имена детекторов для учета воздержаний
const (
	DetectorOutlier         = "outlier"
	DetectorInvalidCategory = "invalid_category"
	DetectorStuckValue      = "stuck_value"
	DetectorExcessiveJump   = "excessive_jump"
	DetectorExcessiveNoise  = "excessive_noise"
	DetectorGroup           = "group"
)

// Config параметры детекторов
type Config struct {
	HighIQRMultiplier    float64 `mapstructure:"high_iqr_multiplier"`
	OutlierIQRMultiplier float64 `mapstructure:"outlier_iqr_multiplier"`
	MonotonicTolerance   float64 `mapstructure:"monotonic_tolerance"`
	StuckWindow          int     `mapstructure:"stuck_window"`
	StuckStdThreshold    float64 `mapstructure:"stuck_std_threshold"`
	NoiseWindow          int     `mapstructure:"noise_window"`
	NoiseStdMultiplier   float64 `mapstructure:"noise_std_multiplier"`
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		HighIQRMultiplier:    DefaultHighIQRMultiplier,
		OutlierIQRMultiplier: DefaultOutlierIQRMultiplier,
		MonotonicTolerance:   DefaultMonotonicTolerance,
		StuckWindow:          DefaultStuckWindow,
		StuckStdThreshold:    DefaultStuckStdThreshold,
		NoiseWindow:          DefaultNoiseWindow,
		NoiseStdMultiplier:   DefaultNoiseStdMultiplier,
	}
}

// Abstention детектор не смог оценить переменную из-за пробела в конфигурации или статистике.
// Переменная проходит проверку по умолчанию, что не равно вердикту OK.
type Abstention struct {
	Variable string `json:"variable"`
	Detector string `json:"detector"`
	Reason   string `json:"reason"`
}

// FlagResult флаги по каждой записи Series (в том же порядке) и побочные результаты
type FlagResult struct {
	Flags       []quality.FlagSet        `json:"-"`
	Stats       map[string]VariableStats `json:"stats"`
	Abstentions []Abstention             `json:"abstentions"`
}

// Engine запускает все детекторы над упорядоченной серией
type Engine struct {
	cfg    Config
	tax    *taxonomy.Taxonomy
	logger *zap.Logger
}

// Validate отклоняет отрицательные параметры
func (c Config) Validate() error {
	var errs []error
	for name, v := range map[string]float64{
		"high_iqr_multiplier":    c.HighIQRMultiplier,
		"outlier_iqr_multiplier": c.OutlierIQRMultiplier,
		"monotonic_tolerance":    c.MonotonicTolerance,
		"stuck_window":           float64(c.StuckWindow),
		"stuck_std_threshold":    c.StuckStdThreshold,
		"noise_window":           float64(c.NoiseWindow),
		"noise_std_multiplier":   c.NoiseStdMultiplier,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("detectors.%s must not be negative, got %v", name, v))
		}
	}
	return errors.Join(errs...)
}

// withDefaults заменяет незаданные (нулевые) параметры значениями по умолчанию.
// MonotonicTolerance = 0 допустим и означает точное сравнение.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HighIQRMultiplier <= 0 {
		c.HighIQRMultiplier = def.HighIQRMultiplier
	}
	if c.OutlierIQRMultiplier <= 0 {
		c.OutlierIQRMultiplier = def.OutlierIQRMultiplier
	}
	if c.MonotonicTolerance < 0 {
		c.MonotonicTolerance = def.MonotonicTolerance
	}
	if c.StuckWindow <= 0 {
		c.StuckWindow = def.StuckWindow
	}
	if c.StuckStdThreshold <= 0 {
		c.StuckStdThreshold = def.StuckStdThreshold
	}
	if c.NoiseWindow <= 0 {
		c.NoiseWindow = def.NoiseWindow
	}
	if c.NoiseStdMultiplier <= 0 {
		c.NoiseStdMultiplier = def.NoiseStdMultiplier
	}
	return c
}

// NewEngine создает движок детекторов
func NewEngine(cfg Config, tax *taxonomy.Taxonomy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg.withDefaults(), tax: tax, logger: logger.Named("analytics")}
}

// Config возвращает действующие параметры
func (e *Engine) Config() Config {
	return e.cfg
}

// Flag вычисляет флаги всех записей. Группы переменных обрабатываются параллельно (fork-join):
// переменные групп не пересекаются, поэтому каждая горутина пишет в свои индексы без блокировок.
func (e *Engine) Flag(series *temporal.Series) *FlagResult {
	n := series.Len()
	res := &FlagResult{
		Flags: make([]quality.FlagSet, n),
		Stats: make(map[string]VariableStats),
	}

	// Построчные флаги
	for i := 0; i < n; i++ {
		r := series.At(i)
		res.Flags[i].Missing = r.Value.IsMissing()
		res.Flags[i].Gap = r.IsGap
		res.Flags[i].SmallDelta = r.IsSmallDelta
		res.Flags[i].DuplicateKey = r.IsDuplicateKey
	}

	byGroup := make(map[taxonomy.Group][]string)
	for _, v := range series.Variables() {
		g := e.tax.GroupOf(v)
		byGroup[g] = append(byGroup[g], v)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	collect := func(stats map[string]VariableStats, abst []Abstention) {
		mu.Lock()
		defer mu.Unlock()
		for k, v := range stats {
			res.Stats[k] = v
		}
		res.Abstentions = append(res.Abstentions, abst...)
	}

	for group, vars := range byGroup {
		group, vars := group, vars
		g.Go(func() error {
			stats, abst := e.flagGroup(series, group, vars, res.Flags)
			collect(stats, abst)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(res.Abstentions, func(i, j int) bool {
		a, b := res.Abstentions[i], res.Abstentions[j]
		if a.Variable != b.Variable {
			return a.Variable < b.Variable
		}
		return a.Detector < b.Detector
	})
	for _, a := range res.Abstentions {
		e.logger.Debug("Detector abstained",
			zap.String("variable", a.Variable),
			zap.String("detector", a.Detector),
			zap.String("reason", a.Reason))
	}

	return res
}

func (e *Engine) flagGroup(series *temporal.Series, group taxonomy.Group, vars []string, flags []quality.FlagSet) (map[string]VariableStats, []Abstention) {
	stats := make(map[string]VariableStats)
	var abst []Abstention

	for _, variable := range vars {
		idx := series.Indices(variable)
		values := numericValues(series, idx)

		switch group {
		case taxonomy.GroupUnknown:
			abst = append(abst, Abstention{Variable: variable, Detector: DetectorGroup, Reason: "variable has no known group"})
			for _, i := range idx {
				if series.At(i).Value.IsInvalid() {
					flags[i].Error = true
				}
			}
			continue

		case taxonomy.GroupCategorical:
			domain, ok := e.tax.Domain(variable)
			if !ok {
				abst = append(abst, Abstention{Variable: variable, Detector: DetectorInvalidCategory, Reason: "no domain table"})
				continue
			}
			for _, i := range idx {
				flags[i].InvalidCategory = InvalidCategory(series.At(i).Value, domain)
			}
			continue
		}

		if group.NonNegative() {
			for _, i := range idx {
				flags[i].InvalidPhysical = InvalidPhysical(series.At(i).Value)
			}
		}

		if group == taxonomy.GroupAccumulative {
			mono := MonotonicViolations(values, e.cfg.MonotonicTolerance)
			for k, i := range idx {
				flags[i].InvalidMonotonic = mono[k]
			}
		}
		// Статистические детекторы только для непрерывных сигналов
		if !group.Continuous() {
			continue
		}

		st := ComputeStats(variable, values)
		stats[variable] = st

		if group == taxonomy.GroupVibration {
			if st.HasIQR() {
				b := IQRBounds(st, e.cfg.HighIQRMultiplier, e.cfg.OutlierIQRMultiplier)
				for k, i := range idx {
					if math.IsNaN(values[k]) {
						continue
					}
					flags[i].High, flags[i].Outlier = b.Classify(values[k])
				}
			} else {
				abst = append(abst, Abstention{Variable: variable, Detector: DetectorOutlier, Reason: "IQR undefined or not positive"})
			}
		}

		if threshold, ok := e.tax.JumpThreshold(variable); ok {
			jumps := ExcessiveJumps(values, threshold)
			stuck := StuckValues(values, e.cfg.StuckWindow, e.cfg.StuckStdThreshold)
			for k, i := range idx {
				flags[i].ExcessiveJump = jumps[k]
				flags[i].StuckValue = stuck[k]
			}
			if len(values) < e.cfg.StuckWindow {
				abst = append(abst, Abstention{Variable: variable, Detector: DetectorStuckValue, Reason: "series shorter than window"})
			}
		} else {
			abst = append(abst,
				Abstention{Variable: variable, Detector: DetectorExcessiveJump, Reason: "no jump threshold"},
				Abstention{Variable: variable, Detector: DetectorStuckValue, Reason: "no jump threshold"},
			)
		}

		baseline, ok := e.tax.NoiseBaseline(variable)
		if !ok && st.HasStd() {
			baseline, ok = st.Std, true
		}
		if !ok {
			abst = append(abst, Abstention{Variable: variable, Detector: DetectorExcessiveNoise, Reason: "no reference std"})
			continue
		}
		noise := ExcessiveNoise(values, e.cfg.NoiseWindow, baseline, e.cfg.NoiseStdMultiplier)
		for k, i := range idx {
			flags[i].ExcessiveNoise = noise[k]
		}
	}

	return stats, abst
}

// numericValues значения переменной в порядке времени; не числовые значения - NaN
func numericValues(series *temporal.Series, idx []int) []float64 {
	out := make([]float64, len(idx))
	for k, i := range idx {
		f, ok := series.At(i).Value.Float()
		if !ok {
			f = math.NaN()
		}
		out[k] = f
	}
	return out
}
