package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiln-ci/kiln/pkg/config"
	"github.com/kiln-ci/kiln/pkg/metrics"
)

// Submission failures.
var (
	// ErrQueueFull means the submission channel is at capacity.
	ErrQueueFull = errors.New("build queue is full")
	// ErrStopped means the pool is shutting down and accepts nothing.
	ErrStopped = errors.New("build pool is stopped")
)

// Task is one unit of pool work, typically a closure over a build run.
type Task func(ctx context.Context)

// Pool executes submitted tasks on a fixed set of workers fed from a
// buffered channel. Stop is graceful: workers finish their current task
// before exiting, bounded by the shutdown timeout.
type Pool struct {
	workers         int
	shutdownTimeout time.Duration
	tasks           chan Task
	metrics         metrics.Recorder

	busy atomic.Int32

	startOnce sync.Once
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// PoolHealth is a point-in-time snapshot of pool load.
type PoolHealth struct {
	Workers    int `json:"workers"`
	Busy       int `json:"busy"`
	QueueDepth int `json:"queue_depth"`
}

// NewPool creates a pool sized by the given configuration. Zero-valued
// fields fall back to the defaults.
func NewPool(cfg config.PoolConfig, rec metrics.Recorder) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = config.DefaultPoolWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = config.DefaultPoolQueueSize
	}
	timeout := cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultShutdownTimeoutSeconds) * time.Second
	}
	return &Pool{
		workers:         workers,
		shutdownTimeout: timeout,
		tasks:           make(chan Task, queueSize),
		metrics:         metrics.Safe(rec),
		stopCh:          make(chan struct{}),
	}
}

// Start spawns the worker goroutines. Subsequent calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		slog.Info("Starting build pool",
			"workers", p.workers,
			"queue_size", cap(p.tasks))
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i)
		}
	})
}

// Stop signals the workers and waits up to the shutdown timeout for
// in-flight builds to finish. Queued tasks that never started are
// dropped. It is safe to call Stop multiple times.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Build pool stopped")
	case <-time.After(p.shutdownTimeout):
		slog.Warn("Build pool shutdown timed out with builds in flight",
			"timeout", p.shutdownTimeout.String(),
			"busy", int(p.busy.Load()))
	}
}

// Submit enqueues a task. It never blocks: a full queue returns
// ErrQueueFull, a stopped pool ErrStopped.
func (p *Pool) Submit(task Task) error {
	select {
	case <-p.stopCh:
		return ErrStopped
	default:
	}
	select {
	case p.tasks <- task:
		p.metrics.QueueDepth(len(p.tasks))
		return nil
	default:
		return ErrQueueFull
	}
}

// Health returns the current pool load.
func (p *Pool) Health() PoolHealth {
	return PoolHealth{
		Workers:    p.workers,
		Busy:       int(p.busy.Load()),
		QueueDepth: len(p.tasks),
	}
}

// worker is the main loop of one pool worker.
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	log := slog.With("worker", id)
	log.Info("Build worker started")

	for {
		select {
		case <-p.stopCh:
			log.Info("Build worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, build worker shutting down")
			return
		case task := <-p.tasks:
			p.busy.Add(1)
			p.metrics.QueueDepth(len(p.tasks))
			task(ctx)
			p.busy.Add(-1)
		}
	}
}
