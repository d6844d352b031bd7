package analytics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"motor-quality-service/internal/temporal"
)

// VariableStats описательная статистика переменной по всем присутствующим значениям развертывания
type VariableStats struct {
	Variable string  `json:"variable"`
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	Std      float64 `json:"std"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Q1       float64 `json:"q1"`
	Q3       float64 `json:"q3"`
	IQR      float64 `json:"iqr"`
}

// HasIQR возвращает true, если межквартильный размах определен и положителен
func (s VariableStats) HasIQR() bool {
	return s.Count > 0 && !math.IsNaN(s.IQR) && s.IQR > 0
}

// HasStd возвращает true, если стандартное отклонение определено и положительно
func (s VariableStats) HasStd() bool {
	return s.Count > 1 && !math.IsNaN(s.Std) && s.Std > 0
}

// ComputeStats считает статистику по присутствующим числовым значениям.
// Нулевой Count означает, что статистика недоступна.
func ComputeStats(variable string, values []float64) VariableStats {
	s := VariableStats{Variable: variable, Std: math.NaN(), Q1: math.NaN(), Q3: math.NaN(), IQR: math.NaN()}

	xs := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			xs = append(xs, v)
		}
	}
	if len(xs) == 0 {
		return s
	}

	sort.Float64s(xs)
	s.Count = len(xs)
	s.Min = xs[0]
	s.Max = xs[len(xs)-1]
	s.Mean = stat.Mean(xs, nil)
	if len(xs) > 1 {
		s.Std = stat.StdDev(xs, nil)
	}
	s.Q1 = temporal.Quantile(xs, 0.25)
	s.Q3 = temporal.Quantile(xs, 0.75)
	s.IQR = s.Q3 - s.Q1
	return s
}

// Bounds границы зон IQR
type Bounds struct {
	HighLow     float64
	HighUpper   float64
	OutlierLow  float64
	OutlierHigh float64
}

// IQRBounds считает границы зон по статистике и множителям
func IQRBounds(s VariableStats, highK, outlierK float64) Bounds {
	return Bounds{
		HighLow:     s.Q1 - highK*s.IQR,
		HighUpper:   s.Q3 + highK*s.IQR,
		OutlierLow:  s.Q1 - outlierK*s.IQR,
		OutlierHigh: s.Q3 + outlierK*s.IQR,
	}
}

// Classify возвращает (high, outlier) для значения.
// Outlier: строго вне [Q1-k3*IQR, Q3+k3*IQR]. High: не outlier и v <= Q1-k15*IQR или v >= Q3+k15*IQR.
func (b Bounds) Classify(v float64) (high, outlier bool) {
	outlier = v < b.OutlierLow || v > b.OutlierHigh
	if outlier {
		return false, true
	}
	high = v <= b.HighLow || v >= b.HighUpper
	return high, false
}
