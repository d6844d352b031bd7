package temporal

import (
	"sort"

	"motor-quality-service/internal/models"
)

// DedupStats статистика удаления дубликатов
type DedupStats struct {
	Input         int `json:"input"`
	Output        int `json:"output"`
	ExactDropped  int `json:"exact_dropped"`
	MaskedDropped int `json:"masked_dropped"`
	ConflictKeys  int `json:"conflict_keys"`
}

// Entry измерение после дедупликации с признаком конфликтующего ключа
type Entry struct {
	models.Measurement
	IsDuplicateKey bool `json:"is_duplicate_key"`
}

// Deduplicate удаляет дубликаты по логическому ключу (asset, motor, ts, variable):
//   - точные дубликаты (тот же ключ и то же значение, включая Missing) сворачиваются в одну запись;
//   - если по ключу есть реальное значение, записи Missing удаляются;
//   - различающиеся реальные значения сохраняются и помечаются IsDuplicateKey.
//
// Результат отсортирован по времени (стабильно относительно входного порядка).
// Повторный вызов на результате ничего не меняет.
func Deduplicate(ms []models.Measurement) ([]Entry, DedupStats) {
	stats := DedupStats{Input: len(ms)}

	type bucket struct {
		first int
		rows  []models.Measurement
	}

	buckets := make(map[models.Key]*bucket, len(ms))
	order := make([]models.Key, 0, len(ms))

	for i, m := range ms {
		k := m.Key()
		b, ok := buckets[k]
		if !ok {
			b = &bucket{first: i}
			buckets[k] = b
			order = append(order, k)
		}

		dup := false
		for _, r := range b.rows {
			if r.Value.Equal(m.Value) {
				dup = true
				break
			}
		}
		if dup {
			stats.ExactDropped++
			continue
		}
		b.rows = append(b.rows, m)
	}

	out := make([]Entry, 0, len(ms))
	for _, k := range order {
		b := buckets[k]

		present := b.rows[:0:0]
		for _, r := range b.rows {
			if !r.Value.IsMissing() {
				present = append(present, r)
			}
		}

		switch {
		case len(present) == 0:
			out = append(out, Entry{Measurement: b.rows[0]})
		case len(present) == 1:
			stats.MaskedDropped += len(b.rows) - 1
			out = append(out, Entry{Measurement: present[0]})
		default:
			stats.MaskedDropped += len(b.rows) - len(present)
			stats.ConflictKeys++
			for _, r := range present {
				out = append(out, Entry{Measurement: r, IsDuplicateKey: true})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	stats.Output = len(out)
	return out, stats
}
