// Package runner is the worker loop: it takes queued jobs one at a time,
// drives the matching workflow executor, and guarantees every job it
// touches ends in exactly one terminal state. No executor error, panic
// included, escapes the loop.
package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"renderd/internal/jobstore"
	"renderd/internal/queue"
	"renderd/internal/workflows"
	"renderd/pkg/types"
)

// Runner consumes the job queue and executes workflows serially.
type Runner struct {
	store     *jobstore.Store
	queue     queue.Queue
	executors map[types.Workflow]workflows.Executor
	log       zerolog.Logger
	now       func() time.Time
}

// New constructs a Runner.
func New(store *jobstore.Store, q queue.Queue, executors map[types.Workflow]workflows.Executor, log zerolog.Logger) *Runner {
	return &Runner{
		store:     store,
		queue:     q,
		executors: executors,
		log:       log.With().Str("component", "runner").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run consumes deliveries until the context ends or the delivery channel
// closes. One delivery is processed at a time; the broker's prefetch
// window enforces the same bound across restarts.
func (r *Runner) Run(ctx context.Context) error {
	deliveries, err := r.queue.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume queue: %w", err)
	}
	r.log.Info().Msg("runner started")
	for delivery := range deliveries {
		r.handle(ctx, delivery)
	}
	r.log.Info().Msg("runner stopped")
	return nil
}

func (r *Runner) handle(ctx context.Context, d queue.Delivery) {
	log := r.log.With().Str("job_id", d.JobID).Logger()

	job, err := r.store.Get(ctx, d.JobID)
	if err != nil {
		log.Error().Err(err).Msg("job lookup failed, dropping delivery")
		d.Nack()
		return
	}
	if job.Status.Terminal() {
		// Cancelled (or otherwise finished) while waiting in the queue.
		log.Info().Str("status", string(job.Status)).Msg("skipping terminal job")
		d.Ack()
		return
	}

	started := r.now()
	processing := types.StatusProcessing
	step := "Starting"
	err = r.store.Apply(ctx, d.JobID, jobstore.Update{
		Status:    &processing,
		Step:      &step,
		StartedAt: &started,
	})
	if jobstore.IsFinished(err) {
		log.Info().Msg("job finished before start, skipping")
		d.Ack()
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("processing write failed, dropping delivery")
		d.Nack()
		return
	}

	exec, ok := r.executors[job.Workflow]
	if !ok {
		r.fail(ctx, d.JobID, fmt.Sprintf("unknown workflow: %s", job.Workflow))
		jobsTotal.WithLabelValues(string(job.Workflow), "failed").Inc()
		d.Nack()
		return
	}

	log.Info().Str("workflow", string(job.Workflow)).Msg("job started")
	output, execErr := r.execute(ctx, exec, job)
	elapsed := r.now().Sub(started)
	jobDuration.WithLabelValues(string(job.Workflow)).Observe(elapsed.Seconds())

	if execErr != nil {
		log.Error().Err(execErr).Dur("elapsed", elapsed).Msg("job failed")
		r.fail(ctx, d.JobID, execErr.Error())
		jobsTotal.WithLabelValues(string(job.Workflow), "failed").Inc()
		d.Nack()
		return
	}

	completed := r.now()
	done := types.StatusCompleted
	progress := 100
	finalStep := "Complete"
	err = r.store.Apply(ctx, d.JobID, jobstore.Update{
		Status:      &done,
		Progress:    &progress,
		Step:        &finalStep,
		OutputPath:  &output,
		CompletedAt: &completed,
	})
	switch {
	case jobstore.IsFinished(err):
		// Cancelled mid-run; the cancel write won the race.
		log.Info().Msg("job cancelled during execution, output discarded")
		jobsTotal.WithLabelValues(string(job.Workflow), "cancelled").Inc()
	case err != nil:
		log.Error().Err(err).Msg("completion write failed")
		jobsTotal.WithLabelValues(string(job.Workflow), "completed").Inc()
	default:
		log.Info().Dur("elapsed", elapsed).Str("output", output).Msg("job completed")
		jobsTotal.WithLabelValues(string(job.Workflow), "completed").Inc()
	}
	d.Ack()
}

// execute runs the workflow with panic containment.
func (r *Runner) execute(ctx context.Context, exec workflows.Executor, job *types.Job) (output string, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("job_id", job.ID).Interface("panic", p).
				Bytes("stack", debug.Stack()).Msg("workflow panicked")
			err = fmt.Errorf("workflow panic: %v", p)
		}
	}()
	reporter := &progressReporter{store: r.store, jobID: job.ID, log: r.log}
	return exec.Execute(ctx, job.ID, job.Params, reporter)
}

// fail writes the failed terminal state, preserving the error message.
// A lost race against a cancel is fine; any other write failure is only
// loggable at this point.
func (r *Runner) fail(ctx context.Context, jobID, message string) {
	now := r.now()
	failed := types.StatusFailed
	step := "Failed"
	err := r.store.Apply(ctx, jobID, jobstore.Update{
		Status:      &failed,
		Step:        &step,
		Error:       &message,
		CompletedAt: &now,
	})
	if err != nil && !jobstore.IsFinished(err) {
		r.log.Error().Err(err).Str("job_id", jobID).Msg("failure write failed")
	}
}

// progressReporter adapts store updates onto the executor milestone
// callback. Updates that lose against a terminal write are expected
// during cancellation and are silently dropped.
type progressReporter struct {
	store *jobstore.Store
	jobID string
	log   zerolog.Logger
}

func (p *progressReporter) Report(ctx context.Context, progress int, step string) {
	err := p.store.Apply(ctx, p.jobID, jobstore.Update{Progress: &progress, Step: &step})
	if err != nil && !jobstore.IsFinished(err) {
		p.log.Warn().Err(err).Str("job_id", p.jobID).Int("progress", progress).
			Msg("progress write failed")
	}
}
