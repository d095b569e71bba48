// Package worker implements the per-platform job execution loop.
package worker

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/apicrawler/internal/crawler"
	"github.com/JakeFAU/apicrawler/internal/metrics"
)

// Job outcomes reported to metrics.
const (
	OutcomeFinished = "finished"
	OutcomeStopped  = "stopped"
	OutcomeDropped  = "dropped_stopped"
	OutcomeExpired  = "dropped_expired"
)

// Config controls Worker behavior.
type Config struct {
	Platform string
	// MinRunWarning logs a warning for runs shorter than this.
	MinRunWarning time.Duration
	// RequeuePause is slept once every job in the queue has been put back
	// because none was due yet.
	RequeuePause time.Duration
	// Tracer records one span per job and per page. Defaults to the global
	// provider.
	Tracer trace.Tracer
}

// Worker owns one platform queue and runs its jobs one at a time.
type Worker struct {
	cfg       Config
	queue     crawler.JobQueue
	client    crawler.APIClient
	handler   crawler.ResponseHandler
	clock     crawler.Clock
	observers []crawler.JobObserver
	metrics   *metrics.Metrics
	logger    *zap.Logger

	requeued int
}

// New constructs a Worker. The client is used by this worker only.
func New(
	cfg Config,
	queue crawler.JobQueue,
	client crawler.APIClient,
	handler crawler.ResponseHandler,
	clock crawler.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
	observers ...crawler.JobObserver,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinRunWarning <= 0 {
		cfg.MinRunWarning = 5 * time.Second
	}
	if cfg.RequeuePause <= 0 {
		cfg.RequeuePause = 100 * time.Millisecond
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/JakeFAU/apicrawler/internal/worker")
	}
	return &Worker{
		cfg:       cfg,
		queue:     queue,
		client:    client,
		handler:   handler,
		clock:     clock,
		observers: observers,
		metrics:   m,
		logger:    logger.Named("worker").With(zap.String("platform", cfg.Platform)),
	}
}

// Platform returns the platform this worker serves.
func (w *Worker) Platform() string { return w.cfg.Platform }

// Run blocks, consuming jobs until the context finishes. A failure while
// processing one job never ends the loop.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		w.metrics.SetQueueDepth(w.cfg.Platform, w.queue.Len())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if !w.sleep(ctx, w.cfg.RequeuePause) {
				return
			}
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *crawler.Job) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked", zap.String("job_id", job.ID()), zap.Any("panic", r))
			if job.Status() == crawler.JobStatusRunning {
				job.MarkFinished(w.clock.Now(), w.handler.ArchivePath())
				w.metrics.JobEnded(w.cfg.Platform)
				w.notify(ctx, job)
			}
		}
	}()

	spec := job.Spec()
	logger := w.logger.With(zap.String("job_id", spec.ID))
	now := w.clock.Now()

	if job.StopRequested() {
		w.requeued = 0
		job.Transition(crawler.JobStatusWaiting, crawler.JobStatusStopped)
		logger.Info("dropping stopped job")
		w.metrics.ObserveJob(w.cfg.Platform, OutcomeDropped, 0)
		w.notify(ctx, job)
		return
	}

	if !spec.ScheduledStart.IsZero() && spec.ScheduledStart.After(now) {
		w.requeue(ctx, job, logger)
		return
	}
	w.requeued = 0

	if !spec.ScheduledEnd.IsZero() && spec.ScheduledEnd.Before(now) {
		job.Transition(crawler.JobStatusWaiting, crawler.JobStatusStopped)
		logger.Warn("dropping expired job", zap.Time("scheduled_end", spec.ScheduledEnd))
		w.metrics.ObserveJob(w.cfg.Platform, OutcomeExpired, 0)
		w.notify(ctx, job)
		return
	}

	if !job.MarkRunning(now) {
		logger.Warn("job not waiting, skipping", zap.String("status", string(job.Status())))
		return
	}
	logger.Info("job started",
		zap.String("strategy", spec.Strategy),
		zap.Strings("parameters", spec.Parameters))
	w.metrics.JobStarted(w.cfg.Platform)
	w.notify(ctx, job)

	spanCtx, span := w.cfg.Tracer.Start(ctx, "crawl.job", trace.WithAttributes(
		attribute.String("job.id", spec.ID),
		attribute.String("job.platform", spec.Platform),
		attribute.String("job.strategy", spec.Strategy),
		attribute.String("job.campaign", spec.CampaignID),
	))
	w.fetchPages(spanCtx, job, logger)

	runtime := job.MarkFinished(w.clock.Now(), w.handler.ArchivePath())
	w.metrics.JobEnded(w.cfg.Platform)
	outcome := OutcomeFinished
	if job.StopRequested() {
		outcome = OutcomeStopped
	}
	w.metrics.ObserveJob(w.cfg.Platform, outcome, runtime)
	stats := job.Stats()
	span.SetAttributes(
		attribute.String("job.outcome", outcome),
		attribute.Int64("job.responses", stats.Responses),
	)
	span.End()
	fields := []zap.Field{
		zap.Duration("running_time", runtime),
		zap.Int64("responses", stats.Responses),
		zap.Int64("triples", stats.Triples),
		zap.Int64("outlinks", stats.Outlinks),
	}
	if runtime < w.cfg.MinRunWarning {
		logger.Warn("job ran suspiciously briefly", fields...)
	} else {
		logger.Info("job finished", fields...)
	}
	w.notify(ctx, job)
}

// fetchPages runs the job's strategy until it is exhausted, a fetch fails or
// a stop is requested. Pages are handed to the pipeline in fetch order.
func (w *Worker) fetchPages(ctx context.Context, job *crawler.Job, logger *zap.Logger) {
	runCtx, cancel := job.RunContext(ctx)
	defer cancel()

	strategy := job.Strategy()
	var cursor crawler.Cursor
	for {
		if runCtx.Err() != nil {
			if errors.Is(context.Cause(runCtx), crawler.ErrStopRequested) {
				logger.Info("stop honored between pages")
			}
			return
		}
		pageCtx, span := w.cfg.Tracer.Start(runCtx, "crawl.page", trace.WithAttributes(
			attribute.Int("page.number", cursor.Page),
		))
		page, err := strategy.Fetch(pageCtx, w.client, cursor)
		if page.Envelope != nil {
			span.SetAttributes(attribute.Int("http.status_code", page.Envelope.StatusCode))
			w.handle(ctx, job, page, logger)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fetch failed")
			span.End()
			logger.Warn("page fetch failed", zap.Error(err))
			return
		}
		span.End()
		if page.Anomaly != nil {
			logger.Warn("pagination anomaly, ending job", zap.Error(page.Anomaly))
		}
		if page.Done {
			return
		}
		cursor = page.Next
	}
}

func (w *Worker) handle(ctx context.Context, job *crawler.Job, page crawler.Page, logger *zap.Logger) {
	w.metrics.ObservePage(w.cfg.Platform, page.Success)
	items, err := w.handler.Handle(ctx, page.Envelope)
	if err != nil {
		logger.Error("pipeline rejected response",
			zap.String("url", page.Envelope.Meta.RequestURL),
			zap.Error(err))
	}
	if !page.Success {
		logger.Info("fetch unsuccessful, ending job",
			zap.Int("status_code", page.Envelope.StatusCode),
			zap.String("url", page.Envelope.Meta.RequestURL))
		return
	}
	job.AddStats(crawler.Stats{
		Responses: 1,
		Triples:   int64(items.Triples),
		Outlinks:  int64(items.Outlinks),
	})
}

// requeue puts a job that is not due yet back at the tail. After a full pass
// over the queue with nothing due the worker pauses briefly.
func (w *Worker) requeue(ctx context.Context, job *crawler.Job, logger *zap.Logger) {
	if err := w.queue.Enqueue(ctx, job); err != nil {
		logger.Error("requeue failed", zap.Error(err))
		return
	}
	w.requeued++
	if w.requeued >= w.queue.Len() {
		w.requeued = 0
		w.sleep(ctx, w.cfg.RequeuePause)
	}
}

func (w *Worker) notify(ctx context.Context, job *crawler.Job) {
	if len(w.observers) == 0 {
		return
	}
	snapshot := job.Snapshot()
	for _, o := range w.observers {
		o.JobChanged(ctx, snapshot)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
