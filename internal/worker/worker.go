package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chapel/internal/apperr"
	"chapel/internal/metrics"
	"chapel/internal/queue"
	"chapel/internal/warning"
)

// Generator runs one weekly warning pass.
type Generator interface {
	Generate(ctx context.Context, weekStart string, threshold int) (warning.Result, error)
}

// Disposition is what happened to one consumed job.
type Disposition string

const (
	Done    Disposition = "done"
	Retried Disposition = "retried"
	Dropped Disposition = "dropped"
)

// Runner consumes generation jobs from a queue. Jobs failing with a retryable
// error are published again with a higher attempt count until maxAttempts.
type Runner struct {
	gen         Generator
	q           queue.Queue
	logger      *zap.Logger
	metrics     *metrics.Recorder
	maxAttempts int
	backoff     time.Duration

	wg sync.WaitGroup
}

type Option func(*Runner)

// WithRetry bounds how many times a job runs and the base delay before a retry.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(r *Runner) {
		if maxAttempts > 0 {
			r.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			r.backoff = backoff
		}
	}
}

func WithMetrics(m *metrics.Recorder) Option { return func(r *Runner) { r.metrics = m } }

func New(gen Generator, q queue.Queue, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		gen:         gen,
		q:           q,
		logger:      logger,
		maxAttempts: 5,
		backoff:     5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run consumes until ctx is done, then waits for pending re-publishes.
func (r *Runner) Run(ctx context.Context) error {
	messages, err := r.q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		r.Handle(ctx, msg)
	}
	r.wg.Wait()
	return nil
}

// Handle runs one job and decides its fate.
func (r *Runner) Handle(ctx context.Context, msg queue.Message) Disposition {
	d := r.handle(ctx, msg)
	r.metrics.Job(string(d))
	return d
}

func (r *Runner) handle(ctx context.Context, msg queue.Message) Disposition {
	if msg.Type != queue.TypeGenerateWarnings {
		r.logger.Warn("ignoring unknown job", zap.String("type", msg.Type))
		return Dropped
	}
	job, err := queue.DecodeGenerateWarnings(msg)
	if err != nil {
		r.logger.Warn("dropping malformed job", zap.Error(err))
		return Dropped
	}

	res, err := r.gen.Generate(ctx, job.WeekStart, job.Threshold)
	if err == nil {
		r.logger.Info("generate warnings job done",
			zap.String("week_start", res.WeekStart),
			zap.Int("attempt", job.Attempt),
			zap.Int("generated", res.Generated),
			zap.Int("updated", res.Updated),
			zap.Int("skipped_services", res.SkippedServices))
		return Done
	}

	fields := []zap.Field{
		zap.String("week_start", job.WeekStart),
		zap.Int("attempt", job.Attempt),
		zap.String("kind", string(apperr.KindOf(err))),
		zap.Error(err),
	}
	if !apperr.IsRetryable(err) {
		r.logger.Error("generate warnings job failed, dropping", fields...)
		return Dropped
	}
	if job.Attempt+1 >= r.maxAttempts {
		r.logger.Error("generate warnings job out of attempts, dropping", fields...)
		return Dropped
	}

	job.Attempt++
	next, err := queue.EncodeGenerateWarnings(job)
	if err != nil {
		r.logger.Error("re-encode job", append(fields, zap.NamedError("encode_error", err))...)
		return Dropped
	}
	delay := r.backoff << (job.Attempt - 1)
	r.logger.Warn("generate warnings job failed, retrying", append(fields, zap.Duration("delay", delay))...)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				r.logger.Warn("retry abandoned on shutdown", zap.String("week_start", job.WeekStart))
				return
			}
		}
		if err := r.q.Publish(ctx, next); err != nil {
			r.logger.Error("re-publish job", zap.String("week_start", job.WeekStart), zap.Error(err))
		}
	}()
	return Retried
}
