package temporal

import "sort"

// Series отсортированная по времени и дедуплицированная последовательность записей развертывания.
// Создается только Analyzer.Analyze, поэтому упорядоченность по времени гарантирована типом.
type Series struct {
	records []Record
	gaps    []Gap
	dedup   DedupStats
	summary Summary
	index   map[string][]int
}

func newSeries(records []Record, gaps []Gap, dedup DedupStats, summary Summary) *Series {
	index := make(map[string][]int)
	for i, r := range records {
		index[r.Variable] = append(index[r.Variable], i)
	}
	return &Series{
		records: records,
		gaps:    gaps,
		dedup:   dedup,
		summary: summary,
		index:   index,
	}
}

// Len количество записей
func (s *Series) Len() int {
	return len(s.records)
}

// At возвращает запись по индексу
func (s *Series) At(i int) Record {
	return s.records[i]
}

// Records возвращает копию записей
func (s *Series) Records() []Record {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Gaps таблица интервалов
func (s *Series) Gaps() []Gap {
	out := make([]Gap, len(s.gaps))
	copy(out, s.gaps)
	return out
}

// Dedup статистика дедупликации
func (s *Series) Dedup() DedupStats {
	return s.dedup
}

// Summary сводка интервалов
func (s *Series) Summary() Summary {
	return s.summary
}

// Variables отсортированные имена переменных
func (s *Series) Variables() []string {
	out := make([]string, 0, len(s.index))
	for v := range s.index {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Indices индексы записей переменной в порядке времени
func (s *Series) Indices(variable string) []int {
	return s.index[variable]
}
