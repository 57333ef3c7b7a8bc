package fanout

import (
	"context"
	"log/slog"
	"sync"
)

// pool runs notification tasks off the request path. Bounded queue,
// panic-isolated workers: a pathological task cannot take the service down,
// and a saturated queue sheds work instead of stalling the caller. Dropped
// notifications are recovered by the client's resynchronization protocol.
type pool struct {
	tasks  chan func(context.Context)
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

func newPool(workers, queueSize int, logger *slog.Logger) *pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &pool{
		tasks:  make(chan func(context.Context), queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(task)
		}
	}
}

func (p *pool) run(task func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("fanout task panic recovered", "panic", r)
		}
	}()
	task(p.ctx)
}

// submit enqueues a task, dropping it if the queue is full or the pool is
// shutting down.
func (p *pool) submit(task func(context.Context)) {
	select {
	case <-p.ctx.Done():
	case p.tasks <- task:
	default:
		p.logger.Warn("fanout queue full, dropping notification task")
	}
}

// shutdown stops the workers. Queued tasks may be shed; notifications are
// best-effort by contract.
func (p *pool) shutdown() {
	p.cancel()
	p.wg.Wait()
}
