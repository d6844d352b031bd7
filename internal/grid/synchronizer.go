package grid

import (
	"fmt"
	"math"
	"sort"
	"time"

	"motor-quality-service/internal/taxonomy"
)

const (
	// DefaultFrequency шаг сетки
	DefaultFrequency = 15 * time.Minute
	// DefaultJitterTolerance максимальное отклонение от слота
	DefaultJitterTolerance = 60 * time.Second
)

// CollapseMode правило свертки нескольких значений в одном слоте для неаккумулятивных переменных
type CollapseMode string

const (
	// CollapseLast последнее значение по исходному времени
	CollapseLast CollapseMode = "last"
	// CollapseMean среднее значение
	CollapseMean CollapseMode = "mean"
)

// Config параметры синхронизации
type Config struct {
	Frequency       time.Duration `mapstructure:"frequency"`
	JitterTolerance time.Duration `mapstructure:"jitter_tolerance"`
	CollapseMode    CollapseMode  `mapstructure:"collapse_mode"`
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		Frequency:       DefaultFrequency,
		JitterTolerance: DefaultJitterTolerance,
		CollapseMode:    CollapseLast,
	}
}

// Reading значение после оценки качества; NaN - пропуск (в том числе замененный выброс)
type Reading struct {
	Timestamp time.Time
	Variable  string
	Value     float64
}

// Stats счетчики синхронизации
type Stats struct {
	Input          int `json:"input"`
	Included       int `json:"included"`
	ExcludedJitter int `json:"excluded_jitter"`
	Collapsed      int `json:"collapsed"`
	Slots          int `json:"slots"`
	Columns        int `json:"columns"`
}

// Synchronizer переносит измерения на равномерную сетку
type Synchronizer struct {
	cfg Config
	tax *taxonomy.Taxonomy
}

// NewSynchronizer создает синхронизатор; нулевые параметры заменяются значениями по умолчанию
func NewSynchronizer(cfg Config, tax *taxonomy.Taxonomy) (*Synchronizer, error) {
	def := DefaultConfig()
	if cfg.Frequency <= 0 {
		cfg.Frequency = def.Frequency
	}
	if cfg.JitterTolerance <= 0 {
		cfg.JitterTolerance = def.JitterTolerance
	}
	switch cfg.CollapseMode {
	case "":
		cfg.CollapseMode = def.CollapseMode
	case CollapseLast, CollapseMean:
	default:
		return nil, fmt.Errorf("unknown collapse mode %q", cfg.CollapseMode)
	}
	return &Synchronizer{cfg: cfg, tax: tax}, nil
}

// Config возвращает действующие параметры
func (s *Synchronizer) Config() Config {
	return s.cfg
}

// Slot ближайший слот сетки и признак попадания в допуск по джиттеру
func (s *Synchronizer) Slot(ts time.Time) (time.Time, bool) {
	slot := ts.UTC().Round(s.cfg.Frequency)
	d := ts.Sub(slot)
	if d < 0 {
		d = -d
	}
	return slot, d <= s.cfg.JitterTolerance
}

type slotKey struct {
	slot   int64
	column string
}

type bucket struct {
	slot   time.Time
	column string
	group  taxonomy.Group
	items  []Reading
}

// Synchronize привязывает значения к слотам, сворачивает коллизии,
// разворачивает в широкую форму и дополняет сетку до полной.
// Значения вне допуска по джиттеру в таблицу не попадают.
func (s *Synchronizer) Synchronize(readings []Reading) (*Table, Stats) {
	stats := Stats{Input: len(readings)}

	buckets := make(map[slotKey]*bucket)
	groups := make(map[string]taxonomy.Group)
	var minSlot, maxSlot time.Time

	for _, r := range readings {
		slot, ok := s.Slot(r.Timestamp)
		if !ok {
			stats.ExcludedJitter++
			continue
		}
		stats.Included++

		column := s.tax.Canonical(r.Variable)
		groups[column] = s.tax.GroupOf(r.Variable)

		key := slotKey{slot: slot.UnixNano(), column: column}
		b, found := buckets[key]
		if !found {
			b = &bucket{slot: slot, column: column, group: groups[column]}
			buckets[key] = b
		}
		b.items = append(b.items, r)

		if minSlot.IsZero() || slot.Before(minSlot) {
			minSlot = slot
		}
		if slot.After(maxSlot) {
			maxSlot = slot
		}
	}

	if stats.Included == 0 {
		return NewTable(nil, nil, nil), stats
	}

	cells := make([]Cell, 0, len(buckets))
	for _, b := range buckets {
		if len(b.items) > 1 {
			stats.Collapsed++
		}
		cells = append(cells, Cell{Slot: b.slot, Variable: b.column, Value: s.collapse(b)})
	}

	// Слоты уже выровнены, поэтому floor/ceil их не сдвигают
	slots, _ := BuildGrid(minSlot, maxSlot, s.cfg.Frequency)
	table := Pivot(cells, slots, groups)

	stats.Slots = table.Len()
	stats.Columns = len(table.Columns())
	return table, stats
}

// collapse сворачивает значения одного (слот, переменная).
// Накопительные: максимум (счетчик нельзя усреднять). Остальные: последнее или среднее.
func (s *Synchronizer) collapse(b *bucket) float64 {
	sort.SliceStable(b.items, func(i, j int) bool {
		return b.items[i].Timestamp.Before(b.items[j].Timestamp)
	})

	var present []float64
	for _, r := range b.items {
		if !math.IsNaN(r.Value) {
			present = append(present, r.Value)
		}
	}
	if len(present) == 0 {
		return math.NaN()
	}

	if b.group == taxonomy.GroupAccumulative {
		m := present[0]
		for _, v := range present[1:] {
			m = math.Max(m, v)
		}
		return m
	}

	if s.cfg.CollapseMode == CollapseMean {
		sum := 0.0
		for _, v := range present {
			sum += v
		}
		return sum / float64(len(present))
	}
	return present[len(present)-1]
}
