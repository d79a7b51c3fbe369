// Package worker implements the claim-based dispatch loop: it claims queued
// jobs, routes them against live telemetry, executes them through a runner,
// and resolves each attempt. Any number of workers may run against the same
// store; the claim operation guarantees exclusivity.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/calebturner/arbiter/internal/model"
	"github.com/calebturner/arbiter/internal/router"
	"github.com/calebturner/arbiter/internal/runner"
	"github.com/calebturner/arbiter/internal/store"
)

// snapshotLimit caps how many resources one routing call considers.
const snapshotLimit = 500

// resolveTimeout bounds the store writes that persist an execution outcome.
const resolveTimeout = 10 * time.Second

// Options tunes one worker instance.
type Options struct {
	// PollInterval is how long the loop sleeps when no job is claimable.
	PollInterval time.Duration

	// AttemptTimeout bounds each runner call. An attempt that exceeds it is
	// resolved as retryable, never left hanging.
	AttemptTimeout time.Duration

	// StaleAfter is the heartbeat deadline for the orphaned-attempt sweep.
	StaleAfter time.Duration
}

// Worker is one dispatch loop instance.
type Worker struct {
	id       string
	store    store.Store
	engine   *router.Engine
	registry *runner.Registry
	logger   *slog.Logger
	opts     Options
	sweeper  *cron.Cron
}

// New creates a worker. id must be unique per instance; it is recorded on
// claimed jobs for lineage.
func New(id string, s store.Store, eng *router.Engine, reg *runner.Registry, logger *slog.Logger, opts Options) *Worker {
	return &Worker{
		id:       id,
		store:    s,
		engine:   eng,
		registry: reg,
		logger:   logger,
		opts:     opts,
	}
}

// Run executes the dispatch loop until ctx is cancelled. The in-flight
// attempt always finishes (or times out) before Run returns, so no attempt
// is left running without a claiming worker. A background sweep requeues
// attempts orphaned by crashed workers.
func (w *Worker) Run(ctx context.Context) error {
	w.sweeper = cron.New()
	_, err := w.sweeper.AddFunc(fmt.Sprintf("@every %s", w.opts.StaleAfter/2), func() {
		w.sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	w.sweeper.Start()
	defer w.sweeper.Stop()

	w.logger.Info("worker started",
		"worker_id", w.id,
		"poll_interval", w.opts.PollInterval.String(),
		"attempt_timeout", w.opts.AttemptTimeout.String(),
	)

	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopping", "worker_id", w.id)
			return nil
		}

		job, err := w.store.ClaimNext(ctx, w.id)
		if errors.Is(err, store.ErrNoJobs) {
			sleep(ctx, w.opts.PollInterval)
			continue
		}
		if err != nil {
			w.logger.Error("claim failed", "worker_id", w.id, "error", err)
			sleep(ctx, w.opts.PollInterval)
			continue
		}

		w.dispatch(job)
	}
}

// dispatch runs one claimed job through route→execute→resolve. It never
// panics out: any internal fault resolves the attempt (or fails the job)
// so one bad job cannot take down the loop.
func (w *Worker) dispatch(job *model.Job) {
	// Execution is bounded by its own deadline, detached from loop
	// cancellation, so shutdown drains the in-flight attempt.
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.AttemptTimeout)
	defer cancel()

	attempt, ok := w.startAttempt(ctx, job)
	if !ok {
		return
	}

	outcome := w.execute(ctx, job, attempt)

	// The execution deadline may already have expired; the resolution gets
	// its own context so a timed-out attempt is still persisted as retryable.
	storeCtx, storeCancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer storeCancel()

	res, err := w.store.ResolveAttempt(storeCtx, attempt.ID, outcome)
	if err != nil {
		w.logger.Error("resolve attempt", "job_id", job.ID, "attempt_id", attempt.ID, "error", err)
		return
	}
	attemptsResolved.WithLabelValues(outcome.Kind, outcome.ErrorClass).Inc()

	switch {
	case res.Retried:
		w.event(job.ID, model.EventRetry,
			fmt.Sprintf("%s: %s | next_run_at=%s", outcome.ErrorClass, outcome.ErrorMessage, res.NextRunAt.Format(time.RFC3339)))
	case res.JobStatus == model.StatusCompleted:
		w.event(job.ID, model.EventCompleted,
			fmt.Sprintf("latency_ms=%.1f cost_usd=%.6f output=%s", outcome.ActualLatencyMS, outcome.ActualCostUSD, outcome.OutputRef))
	default:
		w.event(job.ID, model.EventFailed, outcome.ErrorClass+": "+outcome.ErrorMessage)
	}

	w.logger.Info("attempt resolved",
		"job_id", job.ID,
		"attempt_no", attempt.AttemptNo,
		"resource_id", attempt.ResourceID,
		"outcome", outcome.Kind,
		"job_status", res.JobStatus,
	)
}

// startAttempt routes the job against current telemetry and persists the
// attempt with frozen predictions. Returns ok=false when no attempt was
// created (routing failure or internal fault), with the job already failed.
func (w *Worker) startAttempt(ctx context.Context, job *model.Job) (*model.Attempt, bool) {
	now := time.Now().UTC()

	prior, err := w.store.ListAttempts(ctx, job.ID)
	if err != nil {
		w.failJob(ctx, job.ID, model.ErrClassInternalError, fmt.Sprintf("load prior attempts: %v", err))
		return nil, false
	}

	var exclude []string
	var prevResource string
	for _, a := range prior {
		if a.Status == model.AttemptFailed || a.Status == model.AttemptRetry {
			exclude = append(exclude, a.ResourceID)
		}
		prevResource = a.ResourceID
	}

	snapshot, err := w.store.ListResourceSnapshots(ctx, snapshotLimit)
	if err != nil {
		w.failJob(ctx, job.ID, model.ErrClassInternalError, fmt.Sprintf("load snapshot: %v", err))
		return nil, false
	}

	candidates, err := w.engine.Route(&job.Requirements, snapshot, exclude, now)
	if errors.Is(err, router.ErrNoResourcesAvailable) && len(exclude) > 0 {
		// Every alternative already failed; retrying a flaky resource beats
		// failing a job that still has budget.
		candidates, err = w.engine.Route(&job.Requirements, snapshot, nil, now)
	}
	if errors.Is(err, router.ErrNoResourcesAvailable) {
		w.failJob(ctx, job.ID, model.ErrClassNoResourcesAvailable, "no eligible resource satisfies the job requirements")
		return nil, false
	}
	if err != nil {
		w.failJob(ctx, job.ID, model.ErrClassInternalError, fmt.Sprintf("routing: %v", err))
		return nil, false
	}

	top := candidates[0]
	featuresJSON, err := json.Marshal(top.Features)
	if err != nil {
		featuresJSON = nil
	}

	attempt := &model.Attempt{
		ID:                 model.NewID(),
		JobID:              job.ID,
		AttemptNo:          job.Attempts,
		ResourceID:         top.ResourceID,
		ResourceType:       top.ResourceType,
		Status:             model.AttemptRunning,
		PredictedLatencyMS: top.PredictedLatencyMS,
		PredictedCostUSD:   top.PredictedCostUSD,
		FinalScore:         top.Score,
		SLAOK:              top.SLAOK,
		Violations:         top.Violations,
		FeaturesJSON:       string(featuresJSON),
		StartedAt:          now,
	}
	if prevResource != "" && prevResource != top.ResourceID {
		attempt.ReroutedFrom = prevResource
		attempt.ReroutedTo = top.ResourceID
	}

	if err := w.store.CreateAttempt(ctx, attempt); err != nil {
		w.failJob(ctx, job.ID, model.ErrClassInternalError, fmt.Sprintf("create attempt: %v", err))
		return nil, false
	}

	if attempt.ReroutedFrom != "" {
		reroutes.Inc()
		w.event(job.ID, model.EventRerouted,
			fmt.Sprintf("%s -> %s (%s)", attempt.ReroutedFrom, attempt.ReroutedTo, attempt.ResourceType))
	}
	w.event(job.ID, model.EventRunning,
		fmt.Sprintf("claimed by worker_id=%s attempt_no=%d resource=%s", w.id, attempt.AttemptNo, attempt.ResourceID))

	return attempt, true
}

// execute runs the attempt through the resource-type runner and classifies
// the result into an outcome. Panics and runner faults are captured, never
// propagated.
func (w *Worker) execute(ctx context.Context, job *model.Job, attempt *model.Attempt) (outcome store.Outcome) {
	defer func() {
		if p := recover(); p != nil {
			outcome = store.Outcome{
				Kind:         store.OutcomeRetryable,
				ErrorClass:   model.ErrClassInternalError,
				ErrorMessage: fmt.Sprintf("panic: %v", p),
				ErrorTrace:   string(debug.Stack()),
			}
		}
	}()

	rn, err := w.registry.Resolve(attempt.ResourceType)
	if err != nil {
		return store.Outcome{
			Kind:         store.OutcomeRetryable,
			ErrorClass:   model.ErrClassInternalError,
			ErrorMessage: err.Error(),
		}
	}

	result, err := rn.Execute(ctx, job, attempt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return store.Outcome{
				Kind:         store.OutcomeRetryable,
				ErrorClass:   model.ErrClassTimeout,
				ErrorMessage: fmt.Sprintf("attempt timed out after %s on %s", w.opts.AttemptTimeout, attempt.ResourceID),
			}
		}
		return store.Outcome{
			Kind:         store.OutcomeRetryable,
			ErrorClass:   model.ErrClassRunnerError,
			ErrorMessage: err.Error(),
		}
	}

	return store.Outcome{
		Kind:            store.OutcomeCompleted,
		ActualLatencyMS: result.ActualLatencyMS,
		ActualCostUSD:   result.ActualCostUSD,
		OutputRef:       result.OutputRef,
	}
}

// sweep requeues work abandoned past the heartbeat deadline: running
// attempts with no live worker and claims orphaned before their attempt row.
func (w *Worker) sweep(ctx context.Context) {
	swept, err := w.store.SweepStale(ctx, w.opts.StaleAfter)
	if err != nil {
		w.logger.Error("sweep stale work", "worker_id", w.id, "error", err)
		return
	}
	for _, jobID := range swept {
		sweptAttempts.Inc()
		w.event(jobID, model.EventSwept, "stale claim requeued")
	}
	if len(swept) > 0 {
		w.logger.Warn("swept stale work", "worker_id", w.id, "jobs", len(swept))
	}
}

func (w *Worker) failJob(ctx context.Context, jobID, errorClass, message string) {
	if err := w.store.FailJob(ctx, jobID, errorClass, message); err != nil {
		w.logger.Error("fail job", "job_id", jobID, "error", err)
	}
	attemptsResolved.WithLabelValues(store.OutcomeFailed, errorClass).Inc()
	w.logger.Warn("job failed before execution", "job_id", jobID, "class", errorClass, "message", message)
}

func (w *Worker) event(jobID, event, message string) {
	if err := w.store.AddJobEvent(context.Background(), jobID, event, message); err != nil {
		w.logger.Error("add job event", "job_id", jobID, "event", event, "error", err)
	}
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
