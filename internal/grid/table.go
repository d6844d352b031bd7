// Package grid приводит длинную форму измерений к равномерной временной сетке:
// привязка к слотам, свертка коллизий, разворот в широкую таблицу.
package grid

import (
	"fmt"
	"math"
	"sort"
	"time"

	"motor-quality-service/internal/taxonomy"
)

// BuildGrid возвращает слоты с шагом freq от floor(start) до ceil(end) включительно
func BuildGrid(start, end time.Time, freq time.Duration) ([]time.Time, error) {
	if freq <= 0 {
		return nil, fmt.Errorf("grid frequency must be positive, got %s", freq)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("grid end %s is before start %s", end, start)
	}

	first := start.UTC().Truncate(freq)
	last := end.UTC().Truncate(freq)
	if last.Before(end.UTC()) {
		last = last.Add(freq)
	}

	n := int(last.Sub(first)/freq) + 1
	slots := make([]time.Time, n)
	for i := range slots {
		slots[i] = first.Add(time.Duration(i) * freq)
	}
	return slots, nil
}

// Cell одна ячейка длинной формы
type Cell struct {
	Slot     time.Time
	Variable string
	Value    float64
}

// Table широкая таблица: строка на слот, столбец на каноническую переменную.
// Пропуск хранится как NaN. Значения хранятся по столбцам.
type Table struct {
	slots   []time.Time
	columns []string
	groups  map[string]taxonomy.Group
	data    map[string][]float64
	row     map[int64]int
}

// NewTable создает таблицу, все ячейки которой пропущены
func NewTable(slots []time.Time, columns []string, groups map[string]taxonomy.Group) *Table {
	cols := append([]string(nil), columns...)
	sort.Strings(cols)

	t := &Table{
		slots:   append([]time.Time(nil), slots...),
		columns: cols,
		groups:  make(map[string]taxonomy.Group, len(cols)),
		data:    make(map[string][]float64, len(cols)),
		row:     make(map[int64]int, len(slots)),
	}
	for i, s := range t.slots {
		t.row[s.UnixNano()] = i
	}
	for _, c := range cols {
		col := make([]float64, len(slots))
		for i := range col {
			col[i] = math.NaN()
		}
		t.data[c] = col
		g, ok := groups[c]
		if !ok {
			g = taxonomy.GroupUnknown
		}
		t.groups[c] = g
	}
	return t
}

// Pivot раскладывает ячейки по сетке; ячейки вне сетки игнорируются
func Pivot(cells []Cell, slots []time.Time, groups map[string]taxonomy.Group) *Table {
	seen := make(map[string]struct{})
	var columns []string
	for _, c := range cells {
		if _, ok := seen[c.Variable]; !ok {
			seen[c.Variable] = struct{}{}
			columns = append(columns, c.Variable)
		}
	}

	t := NewTable(slots, columns, groups)
	for _, c := range cells {
		if i, ok := t.row[c.Slot.UnixNano()]; ok {
			t.data[c.Variable][i] = c.Value
		}
	}
	return t
}

// Len количество слотов
func (t *Table) Len() int {
	return len(t.slots)
}

// Slots возвращает копию слотов
func (t *Table) Slots() []time.Time {
	return append([]time.Time(nil), t.slots...)
}

// Slot возвращает слот строки i
func (t *Table) Slot(i int) time.Time {
	return t.slots[i]
}

// Columns возвращает отсортированные имена столбцов
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

// Group возвращает группу столбца
func (t *Table) Group(column string) taxonomy.Group {
	if g, ok := t.groups[column]; ok {
		return g
	}
	return taxonomy.GroupUnknown
}

// Column возвращает копию значений столбца
func (t *Table) Column(column string) []float64 {
	return append([]float64(nil), t.data[column]...)
}

// Value возвращает значение ячейки; false для пропуска или неизвестного столбца
func (t *Table) Value(row int, column string) (float64, bool) {
	col, ok := t.data[column]
	if !ok || row < 0 || row >= len(col) || math.IsNaN(col[row]) {
		return math.NaN(), false
	}
	return col[row], true
}

// Missing количество пропущенных ячеек
func (t *Table) Missing() int {
	n := 0
	for _, col := range t.data {
		for _, v := range col {
			if math.IsNaN(v) {
				n++
			}
		}
	}
	return n
}

// Clone возвращает независимую копию таблицы
func (t *Table) Clone() *Table {
	c := NewTable(t.slots, t.columns, t.groups)
	for name, col := range t.data {
		copy(c.data[name], col)
	}
	return c
}

// SetColumn заменяет значения столбца; длина должна совпадать с количеством слотов
func (t *Table) SetColumn(column string, values []float64) error {
	col, ok := t.data[column]
	if !ok {
		return fmt.Errorf("unknown column %q", column)
	}
	if len(values) != len(col) {
		return fmt.Errorf("column %q: got %d values for %d slots", column, len(values), len(col))
	}
	copy(col, values)
	return nil
}

// Unpivot возвращает непропущенные ячейки в порядке (слот, столбец)
func (t *Table) Unpivot() []Cell {
	var out []Cell
	for i, slot := range t.slots {
		for _, c := range t.columns {
			v := t.data[c][i]
			if math.IsNaN(v) {
				continue
			}
			out = append(out, Cell{Slot: slot, Variable: c, Value: v})
		}
	}
	return out
}
