// Package worker реализует пул обработчиков с ограниченной очередью
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"motor-quality-service/internal/metrics"
)

var (
	// ErrPoolStopped пул остановлен и больше не принимает задания
	ErrPoolStopped = errors.New("worker: pool stopped")
	// ErrQueueFull очередь заполнена
	ErrQueueFull = errors.New("worker: queue full")
)

// Job задание пула
type Job func(ctx context.Context) error

// Pool фиксированное число обработчиков, читающих общую очередь.
// Stop дожидается завершения всех принятых заданий.
type Pool struct {
	workers int
	jobs    chan Job
	logger  *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewPool создает пул; queueSize - емкость очереди
func NewPool(workers, queueSize int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		workers: workers,
		jobs:    make(chan Job, queueSize),
		logger:  logger.Named("worker"),
	}
}

// Start запускает обработчики. ctx передается в каждое задание.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i+1)
	}
	p.logger.Info("Worker pool started", zap.Int("workers", p.workers), zap.Int("queue", cap(p.jobs)))
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		metrics.QueueDepth.Set(float64(len(p.jobs)))
		metrics.ActiveWorkers.Inc()
		if err := p.safeExecute(ctx, job); err != nil {
			p.logger.Warn("Job failed", zap.Int("worker", id), zap.Error(err))
		}
		metrics.ActiveWorkers.Dec()
	}
}

func (p *Pool) safeExecute(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in job: %v", r)
		}
	}()
	return job(ctx)
}

// Submit ставит задание в очередь без блокировки
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		metrics.QueueDepth.Set(float64(len(p.jobs)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop закрывает очередь и ждет, пока обработчики завершат принятые задания
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}
