package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/portalfs/pkg/vfs"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/platinummonkey/portalfs/pkg/jobs")

const (
	// DefaultWorkers is the size of the worker pool
	DefaultWorkers = 4

	// DefaultPollInterval is how often PENDING jobs are re-read from the store
	DefaultPollInterval = 30 * time.Second

	// DefaultJobTimeout bounds a single execution
	DefaultJobTimeout = 30 * time.Minute

	// maxListLimit caps ListByUser
	maxListLimit = 500

	// pollBatch is how many PENDING jobs one poll looks at
	pollBatch = 50
)

// Executor performs the file work of one operation and returns the job result
type Executor interface {
	Execute(ctx context.Context, job *Job, progress *Progress) (string, error)
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, job *Job, progress *Progress) (string, error)

// Execute calls f
func (f ExecutorFunc) Execute(ctx context.Context, job *Job, progress *Progress) (string, error) {
	return f(ctx, job, progress)
}

// Engine owns job bookkeeping and drives PENDING jobs through a worker pool
type Engine struct {
	store        *Store
	dispatcher   Dispatcher
	executors    map[Operation]Executor
	logger       *logrus.Logger
	metrics      *Metrics
	clock        vfs.Clock
	workers      int
	pollInterval time.Duration
	jobTimeout   time.Duration
}

// Option configures an Engine
type Option func(*Engine)

// WithDispatcher replaces the in-process channel dispatcher
func WithDispatcher(d Dispatcher) Option {
	return func(e *Engine) { e.dispatcher = d }
}

// WithExecutor registers the executor for an operation
func WithExecutor(op Operation, ex Executor) Option {
	return func(e *Engine) { e.executors[op] = ex }
}

// WithLogger sets the logger
func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock sets the clock used for job timestamps
func WithClock(c vfs.Clock) Option {
	return func(e *Engine) { e.clock = vfs.UTC(c) }
}

// WithWorkers sets the worker pool size
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithPollInterval sets how often the store is polled for PENDING jobs
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithJobTimeout bounds each execution
func WithJobTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.jobTimeout = d
		}
	}
}

// NewEngine creates a job engine on db
func NewEngine(db *sql.DB, opts ...Option) *Engine {
	e := &Engine{
		store:        NewStore(db),
		executors:    make(map[Operation]Executor),
		clock:        vfs.RealClock{},
		workers:      DefaultWorkers,
		pollInterval: DefaultPollInterval,
		jobTimeout:   DefaultJobTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.dispatcher == nil {
		e.dispatcher = NewChannelDispatcher(100)
	}
	if e.logger == nil {
		e.logger = logrus.New()
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}
	return e
}

// Submit stores a PENDING job and hands it to the dispatcher without blocking
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	job := &Job{
		UserID:    req.UserID,
		Operation: req.Operation,
		NodeIDs:   req.NodeIDs,
		Items:     req.Items,
		Target:    req.Target,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Insert(ctx, job); err != nil {
		return nil, err
	}
	e.metrics.JobsSubmittedTotal.WithLabelValues(string(job.Operation)).Inc()
	e.enqueue(ctx, job.ID)
	return job, nil
}

func (e *Engine) enqueue(ctx context.Context, id int64) {
	if err := e.dispatcher.Enqueue(ctx, id); err != nil {
		e.logger.Warnf("Job #%d not enqueued, leaving it for the next poll: %v", id, err)
	}
}

// Start moves a PENDING job to PROCESSING. Only one caller can win.
func (e *Engine) Start(ctx context.Context, id int64) error {
	return e.store.Claim(ctx, id, e.clock.Now())
}

// ReportProgress stores counters on a PROCESSING job. The percent stays at 99 or
// below until the job completes and never goes down.
func (e *Engine) ReportProgress(ctx context.Context, id int64, processed, total int) error {
	if processed < 0 || total < 0 {
		return fmt.Errorf("%w: negative progress counters", vfs.ErrInvalidArgument)
	}
	percent := percentOf(processed, total)
	if percent > 99 {
		percent = 99
	}
	return e.store.UpdateProgress(ctx, id, processed, total, percent, e.clock.Now())
}

// Complete moves a PROCESSING job to COMPLETED with a result pointer
func (e *Engine) Complete(ctx context.Context, id int64, result string) error {
	return e.store.Finish(ctx, id, StatusCompleted, result, "", e.clock.Now())
}

// Fail moves a PROCESSING job to FAILED
func (e *Engine) Fail(ctx context.Context, id int64, message string) error {
	if message == "" {
		message = "job failed"
	}
	return e.store.Finish(ctx, id, StatusFailed, "", message, e.clock.Now())
}

// Cancel moves a PENDING or PROCESSING job to CANCELLED. A running executor
// notices at its next checkpoint.
func (e *Engine) Cancel(ctx context.Context, id int64) error {
	return e.store.Cancel(ctx, id, e.clock.Now())
}

// Get returns a job
func (e *Engine) Get(ctx context.Context, id int64) (*Job, error) {
	return e.store.Get(ctx, id)
}

// ListByUser returns a user's jobs, newest first
func (e *Engine) ListByUser(ctx context.Context, userID string, limit int) ([]*Job, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return e.store.ListByUser(ctx, userID, limit)
}

// Resubmit creates a new PENDING job from a FAILED one. The failed job is left as is.
func (e *Engine) Resubmit(ctx context.Context, id int64) (*Job, error) {
	failed, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if failed.Status != StatusFailed {
		return nil, fmt.Errorf("%w: only FAILED jobs can be resubmitted, job %d is %s", vfs.ErrInvalidState, id, failed.Status)
	}

	now := e.clock.Now()
	job := &Job{
		UserID:          failed.UserID,
		Operation:       failed.Operation,
		NodeIDs:         failed.NodeIDs,
		Items:           failed.Items,
		Target:          failed.Target,
		Status:          StatusPending,
		ResubmittedFrom: &failed.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.Insert(ctx, job); err != nil {
		return nil, err
	}
	e.metrics.JobsSubmittedTotal.WithLabelValues(string(job.Operation)).Inc()
	e.enqueue(ctx, job.ID)
	return job, nil
}

// CountByStatus returns how many jobs are in status
func (e *Engine) CountByStatus(ctx context.Context, status Status) (int, error) {
	return e.store.CountByStatus(ctx, status)
}

// PurgeFinished deletes terminal jobs that finished before the cutoff
func (e *Engine) PurgeFinished(ctx context.Context, before time.Time) (int, error) {
	return e.store.PurgeFinished(ctx, before)
}

// FailStale fails PROCESSING jobs with no update for longer than maxIdle.
// These are left behind when a worker process dies mid-job.
func (e *Engine) FailStale(ctx context.Context, maxIdle time.Duration) (int, error) {
	now := e.clock.Now()
	return e.store.FailStale(ctx, now.Add(-maxIdle), now, "worker stopped before the job finished")
}

// Run starts the worker pool and blocks until ctx is cancelled
func (e *Engine) Run(ctx context.Context) error {
	deliveries, err := e.dispatcher.Deliveries(ctx)
	if err != nil {
		return err
	}

	e.logger.Infof("Starting %d job workers with poll interval %v", e.workers, e.pollInterval)

	work := make(chan Delivery)
	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d := <-work:
					e.handle(ctx, d)
				}
			}
		}()
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	// Pick up jobs left PENDING by a previous process
	e.poll(ctx, work)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Stopping job workers")
			wg.Wait()
			return nil

		case d, ok := <-deliveries:
			if !ok {
				deliveries = nil
				continue
			}
			select {
			case work <- d:
			case <-ctx.Done():
			}

		case <-ticker.C:
			e.poll(ctx, work)
		}
	}
}

// poll hands PENDING jobs to idle workers. Busy workers mean the rest wait for the next tick.
func (e *Engine) poll(ctx context.Context, work chan<- Delivery) {
	ids, err := e.store.ListPendingIDs(ctx, pollBatch)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Errorf("Failed to list pending jobs: %v", err)
		}
		return
	}
	e.metrics.QueueDepth.Set(float64(len(ids)))
	if len(ids) == 0 {
		e.logger.Debug("No pending jobs found")
		return
	}

	for _, id := range ids {
		select {
		case work <- Delivery{JobID: id}:
		case <-ctx.Done():
			return
		default:
			e.logger.Debug("All job workers busy, waiting for next poll")
			return
		}
	}
}

// handle claims and executes one job, then acknowledges the delivery
func (e *Engine) handle(ctx context.Context, d Delivery) {
	defer d.Ack()

	if err := e.Start(ctx, d.JobID); err != nil {
		if errors.Is(err, vfs.ErrInvalidState) || errors.Is(err, vfs.ErrNotFound) {
			e.logger.Debugf("Skipping job #%d: %v", d.JobID, err)
			return
		}
		e.logger.Errorf("Failed to claim job #%d: %v", d.JobID, err)
		return
	}

	job, err := e.store.Get(ctx, d.JobID)
	if err != nil {
		e.logger.Errorf("Failed to load claimed job #%d: %v", d.JobID, err)
		e.finish(ctx, d.JobID, "", "", err)
		return
	}

	e.execute(ctx, job)
}

func (e *Engine) execute(ctx context.Context, job *Job) {
	log := e.logger.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"operation": job.Operation,
		"user_id":   job.UserID,
	})
	log.Info("Processing job")

	e.metrics.JobsInFlight.Inc()
	defer e.metrics.JobsInFlight.Dec()

	started := time.Now()
	progress := newProgress(e, job.ID)

	runCtx, cancel := context.WithTimeout(ctx, e.jobTimeout)
	defer cancel()

	runCtx, span := tracer.Start(runCtx, "jobs.execute")
	span.SetAttributes(
		attribute.Int64("job.id", job.ID),
		attribute.String("job.operation", string(job.Operation)),
		attribute.Int("job.nodes", len(job.NodeIDs)),
	)
	defer span.End()

	result, err := e.run(runCtx, job, progress)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.metrics.JobDuration.WithLabelValues(string(job.Operation)).Observe(time.Since(started).Seconds())

	if errors.Is(err, ErrCancelled) {
		log.Info("Job cancelled")
		e.metrics.JobsFinishedTotal.WithLabelValues(string(job.Operation), string(StatusCancelled)).Inc()
		return
	}
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("interrupted by shutdown: %w", err)
	}
	e.finish(ctx, job.ID, job.Operation, result, err)

	processed, total := progress.Counts()
	if err != nil {
		log.Warnf("Job failed after %d of %d files in %v: %v", processed, total, time.Since(started), err)
	} else {
		log.Infof("Job completed with %d files in %v", processed, time.Since(started))
	}
}

// run calls the executor, turning a panic into an error
func (e *Engine) run(ctx context.Context, job *Job, progress *Progress) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorf("Job #%d panicked: %v\n%s", job.ID, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	ex, ok := e.executors[job.Operation]
	if !ok {
		return "", fmt.Errorf("no executor registered for %s", job.Operation)
	}
	return ex.Execute(ctx, job, progress)
}

// finish records the terminal state. It runs on a fresh context so shutdown
// does not leave the job PROCESSING.
func (e *Engine) finish(ctx context.Context, id int64, op Operation, result string, execErr error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	status := StatusCompleted
	var err error
	if execErr != nil {
		status = StatusFailed
		err = e.Fail(writeCtx, id, execErr.Error())
	} else {
		err = e.Complete(writeCtx, id, result)
	}

	if err != nil {
		if errors.Is(err, vfs.ErrInvalidState) {
			// cancelled while the executor was finishing
			e.logger.Infof("Job #%d was not marked %s: %v", id, status, err)
			return
		}
		e.logger.Errorf("Failed to mark job #%d %s: %v", id, status, err)
		return
	}
	if op != "" {
		e.metrics.JobsFinishedTotal.WithLabelValues(string(op), string(status)).Inc()
	}
}
