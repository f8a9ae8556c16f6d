// Package dispatcher runs a job's bounded worker pool over a task queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
)

// TaskRunner executes one task to completion.
type TaskRunner interface {
	Run(ctx context.Context, task crawler.Task) crawler.TaskResult
}

// Pool fans queue items out to a fixed number of goroutines. Each item runs
// under its own context and reports through its Done callback.
type Pool struct {
	queue  crawler.Queue
	runner TaskRunner
	size   int
	logger *zap.Logger

	wg      sync.WaitGroup
	startMu sync.Mutex
	started bool
}

// New creates a Pool of size goroutines. size is clamped to at least one.
func New(queue crawler.Queue, runner TaskRunner, size int, logger *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{queue: queue, runner: runner, size: size, logger: logger.Named("dispatcher")}
}

// Size reports the number of pool goroutines.
func (p *Pool) Size() int {
	return p.size
}

// Start launches the goroutines. They exit when ctx ends or the queue is
// closed. Start is idempotent.
func (p *Pool) Start(ctx context.Context) {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.loop(ctx)
		}()
	}
}

// Wait blocks until every goroutine has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Submit enqueues item for the pool.
func (p *Pool) Submit(ctx context.Context, item crawler.QueueItem) error {
	if err := p.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

func (p *Pool) loop(ctx context.Context) {
	for {
		item, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, crawler.ErrQueueClosed) {
				p.logger.Error("queue dequeue failed", zap.Error(err))
			}
			return
		}
		p.execute(item)
	}
}

func (p *Pool) execute(item crawler.QueueItem) {
	taskCtx := item.Ctx
	if taskCtx == nil {
		taskCtx = context.Background()
	}
	res := p.runner.Run(taskCtx, item.Task)
	if item.Done != nil {
		item.Done(res)
	}
}
