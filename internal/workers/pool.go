// Package workers provides a bounded goroutine pool for independent backtest runs.
package workers

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be processed
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc is a function that can be used as a Task
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

// job pairs a task with its caller context and a completion callback that is
// invoked exactly once.
type job struct {
	ctx  context.Context
	task Task
	once sync.Once
	done func(error)
}

func (j *job) finish(err error) {
	j.once.Do(func() {
		if j.done != nil {
			j.done(err)
		}
	})
}

// Pool manages a pool of worker goroutines
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan *job
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	metrics *PoolMetrics
}

// PoolConfig configures the worker pool
type PoolConfig struct {
	Name            string        // Pool name for logging
	NumWorkers      int           // Number of worker goroutines
	QueueSize       int           // Size of the task queue
	TaskTimeout     time.Duration // Timeout for individual tasks, 0 disables
	ShutdownTimeout time.Duration // Timeout for graceful shutdown
	PanicRecovery   bool          // Enable panic recovery in workers
}

// DefaultPoolConfig returns sensible defaults for CPU-bound backtests
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      runtime.NumCPU(),
		QueueSize:       256,
		TaskTimeout:     2 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
		PanicRecovery:   true,
	}
}

// PoolMetrics tracks pool performance
type PoolMetrics struct {
	mu sync.Mutex

	TasksSubmitted atomic.Int64
	TasksCompleted atomic.Int64
	TasksFailed    atomic.Int64
	TasksTimeout   atomic.Int64
	PanicRecovered atomic.Int64

	// ring buffer of recent latencies
	latencies []time.Duration
	next      int
	filled    bool

	startTime time.Time
}

const latencyWindow = 1024

// NewPoolMetrics creates a new metrics tracker
func NewPoolMetrics() *PoolMetrics {
	return &PoolMetrics{
		latencies: make([]time.Duration, latencyWindow),
		startTime: time.Now(),
	}
}

// RecordLatency records task execution latency
func (m *PoolMetrics) RecordLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latencies[m.next] = d
	m.next = (m.next + 1) % len(m.latencies)
	if m.next == 0 {
		m.filled = true
	}
}

// P99Latency returns the 99th percentile of recent latencies
func (m *PoolMetrics) P99Latency() time.Duration {
	m.mu.Lock()
	n := m.next
	if m.filled {
		n = len(m.latencies)
	}
	sorted := make([]time.Duration, n)
	copy(sorted, m.latencies[:n])
	m.mu.Unlock()

	if n == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(n) * 0.99)
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// PoolStats contains pool statistics
type PoolStats struct {
	TasksSubmitted int64         `json:"tasks_submitted"`
	TasksCompleted int64         `json:"tasks_completed"`
	TasksFailed    int64         `json:"tasks_failed"`
	TasksTimeout   int64         `json:"tasks_timeout"`
	PanicRecovered int64         `json:"panic_recovered"`
	P99Latency     time.Duration `json:"p99_latency"`
	Uptime         time.Duration `json:"uptime"`
}

// Stats returns current metrics
func (m *PoolMetrics) Stats() PoolStats {
	return PoolStats{
		TasksSubmitted: m.TasksSubmitted.Load(),
		TasksCompleted: m.TasksCompleted.Load(),
		TasksFailed:    m.TasksFailed.Load(),
		TasksTimeout:   m.TasksTimeout.Load(),
		PanicRecovered: m.PanicRecovered.Load(),
		P99Latency:     m.P99Latency(),
		Uptime:         time.Since(m.startTime),
	}
}

// NewPool creates a new worker pool
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = runtime.NumCPU()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.NumWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan *job, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		metrics:   NewPoolMetrics(),
	}
}

// Start initializes and starts all workers
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}

	p.logger.Info("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
		zap.Int("queue_size", p.config.QueueSize),
	)

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(p.logger.With(zap.Int("worker_id", i)))
	}
}

func (p *Pool) run(logger *zap.Logger) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.taskQueue:
			p.execute(logger, j)
		}
	}
}

// execute runs one job with timeout and panic recovery
func (p *Pool) execute(logger *zap.Logger, j *job) {
	start := time.Now()

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if p.config.TaskTimeout > 0 {
		ctx, cancel = context.WithTimeout(j.ctx, p.config.TaskTimeout)
	} else {
		ctx, cancel = context.WithCancel(j.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	done := make(chan error, 1)
	go func() {
		if p.config.PanicRecovery {
			defer func() {
				if r := recover(); r != nil {
					p.metrics.PanicRecovered.Add(1)
					logger.Error("worker recovered from panic", zap.Any("panic", r))
					done <- &PanicError{Recovered: r, Stack: debug.Stack()}
				}
			}()
		}
		done <- j.task.Execute(ctx)
	}()

	select {
	case err := <-done:
		p.metrics.RecordLatency(time.Since(start))
		if err != nil {
			p.metrics.TasksFailed.Add(1)
			logger.Debug("task failed", zap.Error(err))
		} else {
			p.metrics.TasksCompleted.Add(1)
		}
		j.finish(err)

	case <-ctx.Done():
		if j.ctx.Err() != nil {
			j.finish(j.ctx.Err())
			return
		}
		p.metrics.TasksTimeout.Add(1)
		logger.Warn("task timed out", zap.Duration("timeout", p.config.TaskTimeout))
		j.finish(ErrTaskTimeout)
	}
}

// Submit adds a task to the queue without blocking
func (p *Pool) Submit(task Task) error {
	return p.enqueue(context.Background(), &job{ctx: context.Background(), task: task}, false)
}

// SubmitFunc submits a function as a task
func (p *Pool) SubmitFunc(fn func(ctx context.Context) error) error {
	return p.Submit(TaskFunc(fn))
}

// SubmitWait submits a task, blocking while the queue is full, and waits for its result
func (p *Pool) SubmitWait(ctx context.Context, task Task) error {
	result := make(chan error, 1)
	j := &job{ctx: ctx, task: task, done: func(err error) { result <- err }}
	if err := p.enqueue(ctx, j, true); err != nil {
		return err
	}
	return <-result
}

func (p *Pool) enqueue(ctx context.Context, j *job, block bool) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	if !block {
		select {
		case p.taskQueue <- j:
			p.metrics.TasksSubmitted.Add(1)
			return nil
		default:
			return ErrQueueFull
		}
	}
	select {
	case p.taskQueue <- j:
		p.metrics.TasksSubmitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}

// RunAll executes fn(ctx, i) for i in [0, n) on the pool and waits for all of
// them. errs[i] is the outcome of task i: its error, a *PanicError,
// ErrTaskTimeout, or the context error if it never ran.
func (p *Pool) RunAll(ctx context.Context, n int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		j := &job{
			ctx:  ctx,
			task: TaskFunc(func(ctx context.Context) error { return fn(ctx, i) }),
			done: func(err error) {
				errs[i] = err
				wg.Done()
			},
		}
		if err := p.enqueue(ctx, j, true); err != nil {
			j.finish(err)
		}
	}

	wg.Wait()
	return errs
}

// Stop gracefully shuts down the pool; queued tasks finish with ErrPoolStopped
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}

	p.logger.Info("stopping worker pool", zap.String("name", p.config.Name))
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out",
			zap.String("name", p.config.Name),
			zap.Duration("timeout", p.config.ShutdownTimeout),
		)
		return ErrShutdownTimeout
	}

	for {
		select {
		case j := <-p.taskQueue:
			j.finish(ErrPoolStopped)
		default:
			p.logger.Info("worker pool stopped gracefully", zap.String("name", p.config.Name))
			return nil
		}
	}
}

// QueueLength returns the current number of queued tasks
func (p *Pool) QueueLength() int {
	return len(p.taskQueue)
}

// IsRunning returns whether the pool is running
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// Stats returns current pool statistics
func (p *Pool) Stats() PoolStats {
	return p.metrics.Stats()
}

// Errors
var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
	ErrTaskTimeout     = &PoolError{Message: "task timed out"}
)

// PoolError represents a pool error
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// PanicError represents a recovered panic
type PanicError struct {
	Recovered interface{}
	Stack     []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Recovered)
}
