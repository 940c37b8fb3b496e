package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool queue is full")
)

// Task is one schedulable unit of work. The ctx passed to Submit is
// forwarded unchanged; tasks own their cancellation semantics.
type Task func(ctx context.Context)

type job struct {
	task Task
	ctx  context.Context
}

// WorkerPool runs tasks on at most maxWorkers goroutines. Workers are
// spawned on demand and live until Close.
type WorkerPool struct {
	maxWorkers int
	queue      chan job
	logger     *zap.Logger

	workerCount atomic.Int32
	activeCount atomic.Int32
	closed      atomic.Bool
	wg          sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
}

// Config sizes the pool.
type Config struct {
	MaxWorkers int `yaml:"max_workers" json:"max_workers"`
	QueueSize  int `yaml:"queue_size" json:"queue_size"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxWorkers: 32, QueueSize: 64}
}

// New creates a worker pool.
func New(cfg Config, logger *zap.Logger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		maxWorkers: cfg.MaxWorkers,
		queue:      make(chan job, cfg.QueueSize),
		logger:     logger.With(zap.String("component", "worker_pool")),
	}
}

// Submit enqueues a task. It never blocks: when the queue is full and no
// new worker can be spawned, ErrPoolFull is returned.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	j := job{task: task, ctx: ctx}
	select {
	case p.queue <- j:
		p.ensureWorker()
		return nil
	default:
		if p.trySpawnWorker() {
			select {
			case p.queue <- j:
				return nil
			default:
			}
		}
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

func (p *WorkerPool) ensureWorker() {
	if p.workerCount.Load() < int32(p.maxWorkers) {
		p.trySpawnWorker()
	}
}

func (p *WorkerPool) trySpawnWorker() bool {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return false
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	for j := range p.queue {
		p.activeCount.Add(1)
		p.run(j)
		p.activeCount.Add(-1)
		p.completed.Add(1)
	}
}

func (p *WorkerPool) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool task panicked", zap.Any("recover", r))
		}
	}()
	j.task(j.ctx)
}

// Close stops accepting tasks and waits for in-flight tasks to finish.
func (p *WorkerPool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.queue)
	p.wg.Wait()
}

// Stats reports pool counters.
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Stats contains pool counters.
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Rejected  int64 `json:"rejected"`
}
