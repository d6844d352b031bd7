// Package analytics реализует детекторы аномалий измерений датчиков мотора:
// физическая допустимость, категориальные домены, монотонность счетчиков,
// выбросы по IQR, залипание, скачки и шум по скользящему окну.
package analytics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// SlidingWindow реализует скользящее окно фиксированного размера с учетом пропусков
type SlidingWindow struct {
	values  []float64
	present []bool
	size    int
	index   int
	count   int
	missing int
	scratch []float64
}

// NewSlidingWindow создает новое скользящее окно заданного размера
func NewSlidingWindow(size int) *SlidingWindow {
	if size < 1 {
		size = 1
	}
	return &SlidingWindow{
		values:  make([]float64, size),
		present: make([]bool, size),
		size:    size,
		scratch: make([]float64, 0, size),
	}
}

// Add добавляет значение в окно; ok=false означает пропуск
func (sw *SlidingWindow) Add(value float64, ok bool) {
	if sw.count >= sw.size {
		// Вытесняем самое старое значение
		if !sw.present[sw.index] {
			sw.missing--
		}
	} else {
		sw.count++
	}

	sw.values[sw.index] = value
	sw.present[sw.index] = ok
	if !ok {
		sw.missing++
	}

	sw.index = (sw.index + 1) % sw.size
}

// Full возвращает true, если окно заполнено и не содержит пропусков
func (sw *SlidingWindow) Full() bool {
	return sw.count == sw.size && sw.missing == 0
}

// Count возвращает количество элементов в окне
func (sw *SlidingWindow) Count() int {
	return sw.count
}

func (sw *SlidingWindow) observed() []float64 {
	sw.scratch = sw.scratch[:0]
	for i := 0; i < sw.count; i++ {
		if sw.present[i] {
			sw.scratch = append(sw.scratch, sw.values[i])
		}
	}
	return sw.scratch
}

// StdDev возвращает выборочное стандартное отклонение (n-1) по присутствующим значениям.
// Меньше двух значений - NaN.
func (sw *SlidingWindow) StdDev() float64 {
	xs := sw.observed()
	if len(xs) < 2 {
		return math.NaN()
	}
	return stat.StdDev(xs, nil)
}
