// Package imputation заполняет короткие серии пропусков широкой таблицы
// и ведет параллельную матрицу происхождения значений.
package imputation

import (
	"errors"
	"fmt"
	"math"

	"motor-quality-service/internal/grid"
	"motor-quality-service/internal/models"
	"motor-quality-service/internal/taxonomy"
)

// DefaultMaxGapSteps максимальная длина заполняемой серии пропусков
const DefaultMaxGapSteps = 2

// ErrUnknownStrategy неизвестное имя стратегии в конфигурации
var ErrUnknownStrategy = errors.New("unknown imputation strategy")

// Strategy способ заполнения столбца
type Strategy string

const (
	StrategyLinear     Strategy = "linear"
	StrategyFFill      Strategy = "ffill"
	StrategyFFillBFill Strategy = "ffill_bfill"
	StrategyNone       Strategy = "none"
)

// Provenance происхождение значения ячейки
type Provenance string

const (
	ProvenanceOriginal          Provenance = "original"
	ProvenanceImputedLinear     Provenance = "imputed_linear"
	ProvenanceImputedFFill      Provenance = "imputed_ffill"
	ProvenanceImputedBFill      Provenance = "imputed_bfill"
	ProvenanceMissingNotImputed Provenance = "missing_not_imputed"
)

// Imputed true для ячеек, значение которых восстановлено
func (p Provenance) Imputed() bool {
	switch p {
	case ProvenanceImputedLinear, ProvenanceImputedFFill, ProvenanceImputedBFill:
		return true
	}
	return false
}

// Config параметры импутации. Strategies задает стратегию по группе переменных,
// Columns переопределяет ее для отдельного канонического столбца.
type Config struct {
	MaxGapSteps int               `mapstructure:"max_gap_steps"`
	Strategies  map[string]string `mapstructure:"strategies"`
	Columns     map[string]string `mapstructure:"columns"`
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		MaxGapSteps: DefaultMaxGapSteps,
		Strategies: map[string]string{
			string(taxonomy.GroupVibration):    string(StrategyLinear),
			string(taxonomy.GroupPhysical):     string(StrategyLinear),
			string(taxonomy.GroupCategorical):  string(StrategyFFillBFill),
			string(taxonomy.GroupAccumulative): string(StrategyFFillBFill),
			string(taxonomy.GroupUnknown):      string(StrategyNone),
		},
	}
}

func parseStrategy(name string) (Strategy, error) {
	switch s := Strategy(name); s {
	case StrategyLinear, StrategyFFill, StrategyFFillBFill, StrategyNone:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// Engine применяет стратегии к широкой таблице
type Engine struct {
	maxGap  int
	byGroup map[taxonomy.Group]Strategy
	columns map[string]Strategy
}

// NewEngine проверяет конфигурацию. Неизвестная стратегия - фатальная ошибка.
// MaxGapSteps = 0 отключает импутацию: все пропуски остаются пропусками.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.MaxGapSteps < 0 {
		return nil, fmt.Errorf("max_gap_steps must not be negative, got %d", cfg.MaxGapSteps)
	}
	e := &Engine{
		maxGap:  cfg.MaxGapSteps,
		byGroup: make(map[taxonomy.Group]Strategy),
		columns: make(map[string]Strategy, len(cfg.Columns)),
	}

	strategies := DefaultConfig().Strategies
	for g, s := range cfg.Strategies {
		strategies[g] = s
	}
	for g, name := range strategies {
		group := taxonomy.Group(g)
		switch group {
		case taxonomy.GroupVibration, taxonomy.GroupPhysical, taxonomy.GroupCategorical,
			taxonomy.GroupAccumulative, taxonomy.GroupUnknown:
		default:
			return nil, fmt.Errorf("imputation strategy for unknown group %q", g)
		}
		s, err := parseStrategy(name)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", g, err)
		}
		e.byGroup[group] = s
	}
	for column, name := range cfg.Columns {
		s, err := parseStrategy(name)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column, err)
		}
		e.columns[column] = s
	}
	return e, nil
}

// MaxGapSteps действующий предел длины серии
func (e *Engine) MaxGapSteps() int {
	return e.maxGap
}

// StrategyFor стратегия столбца
func (e *Engine) StrategyFor(column string, group taxonomy.Group) Strategy {
	if s, ok := e.columns[column]; ok {
		return s
	}
	if s, ok := e.byGroup[group]; ok {
		return s
	}
	return StrategyNone
}

// Run максимальная серия подряд идущих пропусков
type Run struct {
	Start int
	Len   int
}

// End индекс за последней ячейкой серии
func (r Run) End() int {
	return r.Start + r.Len
}

// Runs находит максимальные серии NaN
func Runs(values []float64) []Run {
	var out []Run
	for i := 0; i < len(values); {
		if !math.IsNaN(values[i]) {
			i++
			continue
		}
		j := i
		for j < len(values) && math.IsNaN(values[j]) {
			j++
		}
		out = append(out, Run{Start: i, Len: j - i})
		i = j
	}
	return out
}

// Result заполненная таблица и матрица происхождения
type Result struct {
	Table      *grid.Table
	Provenance map[string][]Provenance
	Counts     map[Provenance]int
}

// Impute заполняет серии длиной не больше MaxGapSteps. Исходная таблица не изменяется.
func (e *Engine) Impute(table *grid.Table) *Result {
	out := table.Clone()
	res := &Result{
		Table:      out,
		Provenance: make(map[string][]Provenance),
		Counts:     make(map[Provenance]int),
	}

	for _, column := range out.Columns() {
		values := out.Column(column)
		prov := make([]Provenance, len(values))
		for i := range prov {
			prov[i] = ProvenanceOriginal
		}

		strategy := e.StrategyFor(column, out.Group(column))
		for _, run := range Runs(values) {
			e.fill(values, prov, run, strategy)
		}

		_ = out.SetColumn(column, values)
		res.Provenance[column] = prov
		for _, p := range prov {
			res.Counts[p]++
		}
	}
	return res
}

func (e *Engine) fill(values []float64, prov []Provenance, run Run, strategy Strategy) {
	left, right := run.Start-1, run.End()
	hasLeft := left >= 0
	hasRight := right < len(values)

	mark := func(p Provenance) {
		for i := run.Start; i < run.End(); i++ {
			prov[i] = p
		}
	}

	if run.Len > e.maxGap || strategy == StrategyNone || (!hasLeft && !hasRight) {
		mark(ProvenanceMissingNotImputed)
		return
	}

	switch strategy {
	case StrategyLinear:
		switch {
		case hasLeft && hasRight:
			step := (values[right] - values[left]) / float64(right-left)
			for i := run.Start; i < run.End(); i++ {
				values[i] = values[left] + step*float64(i-left)
			}
			mark(ProvenanceImputedLinear)
		case hasLeft:
			fillConst(values, run, values[left])
			mark(ProvenanceImputedFFill)
		default:
			fillConst(values, run, values[right])
			mark(ProvenanceImputedBFill)
		}

	case StrategyFFill, StrategyFFillBFill:
		switch {
		case hasLeft:
			fillConst(values, run, values[left])
			mark(ProvenanceImputedFFill)
		case strategy == StrategyFFillBFill:
			fillConst(values, run, values[right])
			mark(ProvenanceImputedBFill)
		default:
			mark(ProvenanceMissingNotImputed)
		}
	}
}

func fillConst(values []float64, run Run, v float64) {
	for i := run.Start; i < run.End(); i++ {
		values[i] = v
	}
}

// Imputed количество восстановленных ячеек
func (r *Result) Imputed() int {
	n := 0
	for p, c := range r.Counts {
		if p.Imputed() {
			n += c
		}
	}
	return n
}

// Records разворачивает таблицу в длинную форму с происхождением, включая пропуски
func (r *Result) Records(deploymentID int64) []models.CleanRecord {
	columns := r.Table.Columns()
	out := make([]models.CleanRecord, 0, r.Table.Len()*len(columns))
	for i := 0; i < r.Table.Len(); i++ {
		slot := r.Table.Slot(i)
		for _, c := range columns {
			rec := models.CleanRecord{
				DeploymentID: deploymentID,
				Slot:         slot,
				Variable:     c,
				Provenance:   string(r.Provenance[c][i]),
			}
			if v, ok := r.Table.Value(i, c); ok {
				rec.Value = &v
			}
			out = append(out, rec)
		}
	}
	return out
}
