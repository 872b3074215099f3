package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ericjohney/photobrain-sub000/internal/domain"
	"github.com/ericjohney/photobrain-sub000/internal/logger"
)

// ProgressFunc reports handler progress back to the event stream.
type ProgressFunc func(data interface{})

// Handler processes one claimed job. A returned error counts as a
// failed attempt and triggers retry/backoff through the broker.
type Handler func(ctx context.Context, job *domain.Job, report ProgressFunc) error

// Pool runs a fixed number of workers against one queue. Each worker
// polls the broker for runnable jobs and sleeps briefly when the queue
// is drained.
type Pool struct {
	broker       *Broker
	queue        string
	workers      int
	handler      Handler
	pollInterval time.Duration
}

// NewPool creates a worker pool for the named queue.
func NewPool(broker *Broker, queue string, workers int, pollInterval time.Duration, handler Handler) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	return &Pool{
		broker:       broker,
		queue:        queue,
		workers:      workers,
		handler:      handler,
		pollInterval: pollInterval,
	}
}

// Run starts the workers and blocks until ctx is cancelled and every
// in-flight job has finished.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.workLoop(ctx, n)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) workLoop(ctx context.Context, worker int) {
	ctx = logger.SetQueue(ctx, p.queue)
	logger.CtxDebug(ctx, "worker %d started", worker)

	for {
		select {
		case <-ctx.Done():
			logger.CtxDebug(ctx, "worker %d stopping", worker)
			return
		default:
		}

		job, err := p.broker.ClaimNext(ctx, p.queue)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.CtxError(ctx, "claim failed: %v", err)
			p.sleep(ctx)
			continue
		}
		if job == nil {
			p.sleep(ctx)
			continue
		}

		p.runJob(ctx, job)
	}
}

func (p *Pool) runJob(ctx context.Context, job *domain.Job) {
	jobCtx := logger.SetJobID(ctx, job.ID)
	logger.CtxInfo(jobCtx, "job started (attempt %d/%d)", job.Attempts, job.MaxAttempts)

	report := func(data interface{}) {
		p.broker.Progress(job, data)
	}

	err := p.invoke(jobCtx, job, report)
	if err != nil {
		logger.CtxError(jobCtx, "job failed: %v", err)
		if ferr := p.broker.Fail(jobCtx, job, err); ferr != nil {
			logger.CtxError(jobCtx, "failed to record job failure: %v", ferr)
		}
		return
	}

	if cerr := p.broker.Complete(jobCtx, job, nil); cerr != nil {
		logger.CtxError(jobCtx, "failed to record job completion: %v", cerr)
		return
	}
	logger.CtxInfo(jobCtx, "job completed")
}

// invoke runs the handler with panic containment so one bad job cannot
// take the worker down.
func (p *Pool) invoke(ctx context.Context, job *domain.Job, report ProgressFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler(ctx, job, report)
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.pollInterval):
	}
}
