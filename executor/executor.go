package executor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one unit of background work, retried on failure up to the pool's
// retry budget.
type Job struct {
	Id        string
	Ctx       context.Context
	JobFunc   func() error
	OnError   func(error)
	OnSuccess func()
}

type WorkerExecutorOptions struct {
	MaxRetries   int
	WorkerCount  int
	RetryBackoff time.Duration
	Logger       *zap.Logger
}

// WorkerExecutor runs post-recording jobs (uploads, clip exports) on a
// bounded worker pool so they never contend with a live capture session.
type WorkerExecutor struct {
	ctx  context.Context
	log  *zap.Logger
	jobs chan Job
	wg   *sync.WaitGroup
	opts *WorkerExecutorOptions
}

func NewWorkerExecutor(ctx context.Context, opts *WorkerExecutorOptions) *WorkerExecutor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 1
	}

	return &WorkerExecutor{
		ctx:  ctx,
		log:  opts.Logger.Named("executor"),
		jobs: make(chan Job),
		wg:   &sync.WaitGroup{},
		opts: opts,
	}
}

// Enqueue adds a job to the worker queue; blocks while all workers are busy.
func (w *WorkerExecutor) Enqueue(job Job) {
	select {
	case w.jobs <- job:
	case <-w.ctx.Done():
		if job.OnError != nil {
			job.OnError(w.ctx.Err())
		}
	}
}

func (w *WorkerExecutor) Start() {
	for i := 0; i < w.opts.WorkerCount; i++ {
		w.wg.Add(1)

		go func() {
			defer w.wg.Done()
			w.spinWorker()
		}()
	}
}

// Wait blocks until all workers have drained.
func (w *WorkerExecutor) Wait() {
	w.wg.Wait()
}

// Stop closes the queue; running jobs finish, queued jobs still run.
func (w *WorkerExecutor) Stop() {
	close(w.jobs)
}

func (w *WorkerExecutor) spinWorker() {
	for {
		select {
		case job, ok := <-w.jobs:
			if !ok {
				return
			}
			w.processJob(job)
		case <-w.ctx.Done():
			return
		}
	}
}

// processJob runs the job, retrying with doubling backoff until the retry
// budget is spent or the job's context ends.
func (w *WorkerExecutor) processJob(job Job) {
	if job.Ctx == nil {
		job.Ctx = w.ctx
	}

	backoff := w.opts.RetryBackoff

	for attempt := 0; ; attempt++ {
		if err := job.Ctx.Err(); err != nil {
			w.log.Warn("job context done", zap.String("id", job.Id), zap.Error(err))
			if job.OnError != nil {
				job.OnError(err)
			}
			return
		}

		err := job.JobFunc()
		if err == nil {
			w.log.Info("job completed", zap.String("id", job.Id), zap.Int("attempt", attempt+1))
			if job.OnSuccess != nil {
				job.OnSuccess()
			}
			return
		}

		if attempt >= w.opts.MaxRetries {
			w.log.Error("job failed, retries exhausted", zap.String("id", job.Id), zap.Error(err))
			if job.OnError != nil {
				job.OnError(err)
			}
			return
		}

		w.log.Warn("job failed, retrying",
			zap.String("id", job.Id),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		if backoff > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-job.Ctx.Done():
				if job.OnError != nil {
					job.OnError(job.Ctx.Err())
				}
				return
			}
		}
	}
}
