// Package retry повторяет операции ввода-вывода с экспоненциальной задержкой.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Task одна попытка операции. shouldRetry=false прекращает повторы даже при ошибке.
type Task func(ctx context.Context) (shouldRetry bool, err error)

// Backoff политика повторов с экспоненциальной задержкой и джиттером 95-105%
type Backoff struct {
	// MaxAttempts максимум попыток; 0 - без ограничения, 1 - без повторов
	MaxAttempts uint64        `mapstructure:"max_attempts"`
	// MinInterval начальная задержка, по умолчанию 1/8 с
	MinInterval time.Duration `mapstructure:"min_interval"`
	// MaxInterval предельная задержка до джиттера, по умолчанию 30 с
	MaxInterval time.Duration `mapstructure:"max_interval"`
	NoJitter    bool          `mapstructure:"no_jitter"`

	Logger *zap.Logger `mapstructure:"-"`
}

// Do выполняет task до успеха, отказа от повтора, исчерпания попыток или отмены ctx
func (b *Backoff) Do(ctx context.Context, name string, task Task) error {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for attempt := uint64(1); ; attempt++ {
		retry, err := task(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Debug("Operation succeeded after retry",
					zap.String("operation", name), zap.Uint64("attempt", attempt))
			}
			return nil
		}

		interval := b.next(ctx, attempt, retry)
		if interval == 0 {
			logger.Warn("Operation failed",
				zap.String("operation", name), zap.Uint64("attempt", attempt), zap.Error(err))
			return err
		}

		logger.Debug("Retrying operation",
			zap.String("operation", name),
			zap.Uint64("attempt", attempt),
			zap.Duration("interval", interval),
			zap.Error(err))

		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// next задержка перед следующей попыткой; 0 - повторять не нужно
func (b *Backoff) next(ctx context.Context, attempt uint64, retry bool) time.Duration {
	switch {
	case !retry,
		attempt == b.MaxAttempts,
		ctx.Err() != nil:
		return 0
	}

	minInterval := b.MinInterval
	if minInterval <= 0 {
		minInterval = time.Second / 8
	}
	maxInterval := b.MaxInterval
	if maxInterval <= 0 {
		maxInterval = 30 * time.Second
	}
	if maxInterval < minInterval {
		maxInterval = minInterval
	}

	factor := math.Pow(2, math.Min(
		float64(attempt-1),
		math.Log2(float64(maxInterval)/float64(minInterval)),
	))
	if !b.NoJitter {
		// #nosec G404
		factor *= .95 + .1*rand.Float64()
	}
	return time.Duration(factor * float64(minInterval))
}
