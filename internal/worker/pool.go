package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gestaopublica/gestor/internal/store"
)

var errNoHandler = errors.New("no handler registered for queue")

var jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gestor_jobs_processed_total",
	Help: "Jobs run by the worker pool, by queue and outcome.",
}, []string{"queue", "outcome"})

const (
	// pollInterval is how often each queue goroutine checks for new jobs.
	pollInterval = 2 * time.Second

	// staleCheckInterval is how often the recovery goroutine runs.
	staleCheckInterval = 1 * time.Minute

	// staleThreshold is the age at which a 'running' job is considered stuck.
	staleThreshold = 5 * time.Minute
)

// JobStore is the subset of store.Store the pool needs.
type JobStore interface {
	ClaimJob(ctx context.Context, queue, workerID string) (*store.Job, error)
	CompleteJob(ctx context.Context, id uuid.UUID) error
	FailJob(ctx context.Context, id uuid.UUID, errMsg string) error
	RecoverStaleJobs(ctx context.Context, staleAfter time.Duration) (int, error)
}

// Pool manages a set of goroutine workers that claim and execute jobs from
// the job_queue table. One polling goroutine runs per registered queue; a
// shared stale-lock recovery goroutine resets stuck jobs. Periodic tasks
// registered with Every run on their own tickers.
type Pool struct {
	store        JobStore
	workerID     string
	pollInterval time.Duration
	mu           sync.RWMutex
	handlers     map[string]Handler
	tasks        []periodicTask
}

type periodicTask struct {
	name     string
	interval time.Duration
	fn       Task
}

// New creates a Pool backed by s. A random workerID is generated at construction
// time to distinguish this process in the locked_by column.
func New(s JobStore) *Pool {
	return &Pool{
		store:        s,
		workerID:     uuid.New().String(),
		pollInterval: pollInterval,
		handlers:     make(map[string]Handler),
	}
}

// Every registers fn to run once per interval until the pool stops. Must be
// called before Start.
func (p *Pool) Every(name string, interval time.Duration, fn Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, periodicTask{name: name, interval: interval, fn: fn})
}

// Register associates h with the named queue. Must be called before Start.
func (p *Pool) Register(queue string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[queue] = h
}

// Start launches one polling goroutine per registered queue plus the stale-lock
// recovery goroutine, then blocks until ctx is cancelled. When ctx is cancelled,
// all goroutines stop accepting new jobs, any in-flight job completes, and Start
// returns after all goroutines have exited.
func (p *Pool) Start(ctx context.Context) {
	p.mu.RLock()
	queues := make([]string, 0, len(p.handlers))
	for q := range p.handlers {
		queues = append(queues, q)
	}
	tasks := append([]periodicTask(nil), p.tasks...)
	p.mu.RUnlock()

	var wg sync.WaitGroup

	for _, q := range queues {
		wg.Add(1)
		go func(queue string) {
			defer wg.Done()
			p.runQueue(ctx, queue)
		}(q)
	}

	for _, t := range tasks {
		wg.Add(1)
		go func(t periodicTask) {
			defer wg.Done()
			p.runTask(ctx, t)
		}(t)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runStaleRecovery(ctx)
	}()

	wg.Wait()
	slog.Info("worker pool stopped", "worker_id", p.workerID)
}

// runQueue polls queue for jobs until ctx is cancelled. Uses time.NewTicker
// (not time.After) to avoid timer leaks.
func (p *Pool) runQueue(ctx context.Context, queue string) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	slog.Info("worker queue started", "queue", queue, "worker_id", p.workerID)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker queue stopping", "queue", queue)
			return
		case <-ticker.C:
			p.processOne(ctx, queue)
		}
	}
}

// processOne claims one job from queue and runs its handler inside a span.
// Failures are recorded on the job and never stop the polling loop.
func (p *Pool) processOne(ctx context.Context, queue string) {
	job, err := p.store.ClaimJob(ctx, queue, p.workerID)
	if err != nil {
		slog.Error("claim job error", "queue", queue, "error", err)
		return
	}
	if job == nil {
		return
	}

	ctx, span := otel.Tracer("gestor/worker").Start(ctx, "job "+queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.Int("job.attempts", int(job.Attempts)),
		),
	)
	defer span.End()

	p.mu.RLock()
	h := p.handlers[queue]
	p.mu.RUnlock()

	runErr := errNoHandler
	if h != nil {
		slog.InfoContext(ctx, "executing job", "queue", queue, "job_id", job.ID, "attempts", job.Attempts)
		runErr = h(ctx, job.Payload)
	}

	if runErr != nil {
		jobsProcessed.WithLabelValues(queue, "failed").Inc()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "job failed")
		slog.ErrorContext(ctx, "job failed", "queue", queue, "job_id", job.ID, "error", runErr)
		if failErr := p.store.FailJob(ctx, job.ID, runErr.Error()); failErr != nil {
			slog.ErrorContext(ctx, "fail job error", "job_id", job.ID, "error", failErr)
		}
		return
	}

	if err := p.store.CompleteJob(ctx, job.ID); err != nil {
		slog.ErrorContext(ctx, "complete job error", "job_id", job.ID, "error", err)
		return
	}
	jobsProcessed.WithLabelValues(queue, "succeeded").Inc()
	slog.InfoContext(ctx, "job completed", "queue", queue, "job_id", job.ID)
}

// runTask runs t.fn on every tick until ctx is cancelled. A failing run is
// logged and retried at the next tick.
func (p *Pool) runTask(ctx context.Context, t periodicTask) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	slog.Info("periodic task started", "task", t.name, "interval", t.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.fn(ctx); err != nil {
				slog.Error("periodic task failed", "task", t.name, "error", err)
			}
		}
	}
}

// runStaleRecovery periodically resets jobs stuck in 'running' state. Uses
// time.NewTicker (not time.After) to avoid timer leaks.
func (p *Pool) runStaleRecovery(ctx context.Context) {
	ticker := time.NewTicker(staleCheckInterval)
	defer ticker.Stop()

	slog.Info("stale recovery started", "worker_id", p.workerID,
		"threshold", staleThreshold, "check_interval", staleCheckInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stale recovery stopping")
			return
		case <-ticker.C:
			n, err := p.store.RecoverStaleJobs(ctx, staleThreshold)
			if err != nil {
				slog.Error("stale job recovery error", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("reclaimed stale jobs", "count", n)
			}
		}
	}
}
