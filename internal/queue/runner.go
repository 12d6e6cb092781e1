package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner executes background passes. Tasks sharing a key never run
// concurrently.
type Runner interface {
	Submit(key string, task func(ctx context.Context))
}

// InlineRunner runs each task on the caller's goroutine.
type InlineRunner struct{}

func (InlineRunner) Submit(_ string, task func(ctx context.Context)) {
	task(context.Background())
}

type poolTask struct {
	key string
	fn  func(ctx context.Context)
}

// Pool is a bounded work queue drained by a fixed set of workers. When the
// queue is full a task runs on its own goroutine instead of being dropped.
type Pool struct {
	workers int
	timeout time.Duration
	logger  *slog.Logger

	tasks    chan poolTask
	locks    sync.Map
	wg       sync.WaitGroup
	detached sync.WaitGroup
	mu       sync.RWMutex
	running  bool
}

type PoolOption func(*Pool)

// WithPoolWorkers sets the number of worker goroutines.
func WithPoolWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithTaskTimeout bounds a single task.
func WithTaskTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewPool(queueSize int, logger *slog.Logger, opts ...PoolOption) *Pool {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		workers: 4,
		timeout: 30 * time.Second,
		logger:  logger,
		tasks:   make(chan poolTask, queueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. It returns immediately.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.logger.Info("background pool starting", slog.Int("workers", p.workers), slog.Int("queue_size", cap(p.tasks)))
	for range p.workers {
		p.wg.Add(1)
		go p.loop()
	}
}

func (p *Pool) Submit(key string, task func(ctx context.Context)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		p.detach(poolTask{key: key, fn: task})
		return
	}
	select {
	case p.tasks <- poolTask{key: key, fn: task}:
	default:
		p.logger.Warn("background queue full, running task detached", slog.String("key", key))
		p.detach(poolTask{key: key, fn: task})
	}
}

// Stop drains queued tasks and waits for them, or gives up when ctx is done.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		p.detached.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("background pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("background pool shutdown timed out")
		return ctx.Err()
	}
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) detach(task poolTask) {
	p.detached.Add(1)
	go func() {
		defer p.detached.Done()
		p.run(task)
	}()
}

func (p *Pool) run(task poolTask) {
	lock := p.lock(task.key)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("background task panicked", slog.String("key", task.key), slog.Any("panic", r))
		}
	}()
	task.fn(ctx)
}

func (p *Pool) lock(key string) *sync.Mutex {
	value, _ := p.locks.LoadOrStore(key, &sync.Mutex{})
	return value.(*sync.Mutex)
}
