package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"premium-reconciler/internal/infra/metrics"
)

// ErrQueueFull is returned by Submit when every slot is taken.
var ErrQueueFull = errors.New("worker queue full")

type Task func(ctx context.Context) error

// Pool runs fire-and-forget side effects, such as operator alerts, off the
// request path. Tasks never run while a user lock is held.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan Task
	quit chan struct{}
	once sync.Once
	n    int
	log  *zerolog.Logger
}

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Pool{jobs: make(chan Task, workers*4), quit: make(chan struct{}), n: workers, log: logger}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.quit:
					p.drain(ctx, id)
					return
				case task := <-p.jobs:
					p.run(ctx, id, task)
				}
			}
		}(i)
	}
}

// drain finishes tasks already queued when Stop was called.
func (p *Pool) drain(ctx context.Context, id int) {
	for {
		select {
		case task := <-p.jobs:
			p.run(ctx, id, task)
		default:
			return
		}
	}
}

func (p *Pool) run(ctx context.Context, id int, task Task) {
	if task == nil {
		return
	}
	metrics.SetWorkerQueueDepth(len(p.jobs))
	defer func() {
		if r := recover(); r != nil {
			metrics.IncWorkerTask("panic")
			p.log.Error().Int("worker", id).Interface("panic", r).Msg("worker task panicked")
		}
	}()
	if err := task(ctx); err != nil {
		metrics.IncWorkerTask("failed")
		p.log.Warn().Err(err).Int("worker", id).Msg("worker task failed")
		return
	}
	metrics.IncWorkerTask("ok")
}

func (p *Pool) Stop() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}

// Submit queues task without blocking; a full queue drops it.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	select {
	case p.jobs <- task:
		metrics.SetWorkerQueueDepth(len(p.jobs))
		return nil
	default:
		metrics.IncWorkerTask("dropped")
		return ErrQueueFull
	}
}
