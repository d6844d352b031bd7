package analytics

import (
	"math"

	"motor-quality-service/internal/models"
)

// InvalidPhysical значение < 0 или не приводимое к числу значение непрерывной/накопительной переменной
func InvalidPhysical(v models.Value) bool {
	if v.IsInvalid() {
		return true
	}
	f, ok := v.Float()
	return ok && f < 0
}

// InvalidCategory значение после приведения к числу и усечения до целого не входит в домен.
// Неудачное приведение или усечение (Inf) - тоже нарушение. Missing не нарушение.
func InvalidCategory(v models.Value, domain map[int]struct{}) bool {
	if v.IsMissing() {
		return false
	}
	f, ok := v.Float()
	if !ok {
		return true
	}
	if math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return true
	}
	_, member := domain[int(math.Trunc(f))]
	return !member
}

// MonotonicViolations помечает позиции k, где v[k] < v[k-1] - tolerance.
// Пропуск в паре отключает сравнение.
func MonotonicViolations(values []float64, tolerance float64) []bool {
	out := make([]bool, len(values))
	for k := 1; k < len(values); k++ {
		prev, cur := values[k-1], values[k]
		if math.IsNaN(prev) || math.IsNaN(cur) {
			continue
		}
		out[k] = cur-prev < -tolerance
	}
	return out
}

// ExcessiveJumps помечает позиции k, где |v[k] - v[k-1]| > threshold
func ExcessiveJumps(values []float64, threshold float64) []bool {
	out := make([]bool, len(values))
	for k := 1; k < len(values); k++ {
		prev, cur := values[k-1], values[k]
		if math.IsNaN(prev) || math.IsNaN(cur) {
			continue
		}
		out[k] = math.Abs(cur-prev) > threshold
	}
	return out
}

// StuckValues помечает все позиции окна размера window, стандартное отклонение которого
// меньше threshold. Окно с пропусками не оценивается.
func StuckValues(values []float64, window int, threshold float64) []bool {
	out := make([]bool, len(values))
	if window < 2 || len(values) < window {
		return out
	}

	sw := NewSlidingWindow(window)
	for k, v := range values {
		sw.Add(v, !math.IsNaN(v))
		if !sw.Full() {
			continue
		}
		if sw.StdDev() < threshold {
			for j := k - window + 1; j <= k; j++ {
				out[j] = true
			}
		}
	}
	return out
}

// ExcessiveNoise помечает позицию k, если стандартное отклонение окна, заканчивающегося в k,
// превышает multiplier * baseline
func ExcessiveNoise(values []float64, window int, baseline, multiplier float64) []bool {
	out := make([]bool, len(values))
	if window < 2 || len(values) < window || baseline <= 0 {
		return out
	}

	limit := baseline * multiplier
	sw := NewSlidingWindow(window)
	for k, v := range values {
		sw.Add(v, !math.IsNaN(v))
		if sw.Full() && sw.StdDev() > limit {
			out[k] = true
		}
	}
	return out
}
