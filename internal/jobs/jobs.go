// Package jobs implements the post-capture job engine: a bounded in-memory
// job table drained by a single worker goroutine through the pipeline
// stages (§4.4). Grounded on the pack's single-owner worker idiom
// (BitRiver-Live's ingest controller: one struct owning state behind a
// mutex, a cancellation-aware run loop) generalized from "one active
// session" to "one active job, many queued."
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"audiostreamd/internal/errs"
)

// State is a job's position in the pipeline state machine (§4.4).
type State string

const (
	StatePending       State = "pending"
	StateCheckingDedup State = "checking_dedup"
	StateTranscribing  State = "transcribing"
	StateSummarizing   State = "summarizing"
	StatePublishing    State = "publishing"
	StateCompleted     State = "completed"
	StateSkipped       State = "skipped"
	StateFailed        State = "failed"
)

// IsTerminal reports whether a job in this state can ever transition again.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateSkipped, StateFailed:
		return true
	default:
		return false
	}
}

// Options tunes how a single job's pipeline run behaves.
type Options struct {
	// SkipPostProcessing, when true, never transitions past checking_dedup:
	// the job is marked skipped without calling transcribe/summarize/publish.
	SkipPostProcessing bool
}

// Job is one unit of post-capture work for an identifier (§3).
type Job struct {
	Identifier   string
	Kind         string
	State        State
	AttemptCount int
	LastError    string
	CreatedAt    time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
	Options      Options

	// ExternalURL is recorded when dedup finds an existing note, or when
	// publish succeeds.
	ExternalURL string
}

func (j Job) snapshot() Job { return j }

// Stages is the narrow collaborator bundle the engine drives a job
// through. Each method should return an *errs.Error so the engine can
// tell retriable failures from terminal ones.
type Stages interface {
	CheckDedup(ctx context.Context, job *Job) (existingURL string, found bool, err error)
	Transcribe(ctx context.Context, job *Job) error
	Summarize(ctx context.Context, job *Job) error
	Publish(ctx context.Context, job *Job) (externalURL string, err error)
	Cleanup(job *Job)
}

// RetryPolicy controls the exponential backoff applied to each external
// call within a stage (§4.4). The default is 3 attempts with a 2s base
// delay doubling each time, so the waits between attempts are 2s then 4s.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

// Engine is the single-worker job processor (§4.4).
type Engine struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	queue  chan string
	stages Stages
	retry  RetryPolicy
	log    *slog.Logger
}

// New constructs an Engine with a bounded pending-job channel of the given
// depth.
func New(stages Stages, queueDepth int, retry RetryPolicy, log *slog.Logger) *Engine {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		jobs:   make(map[string]*Job),
		queue:  make(chan string, queueDepth),
		stages: stages,
		retry:  retry,
		log:    log,
	}
}

// Enqueue creates a pending job for identifier and pushes it onto the
// worker queue. Returns false without altering anything if a non-terminal
// job for identifier already exists (§4.4 enqueue contract).
func (e *Engine) Enqueue(identifier string, opts Options) bool {
	e.mu.Lock()
	if existing, ok := e.jobs[identifier]; ok && !existing.State.IsTerminal() {
		e.mu.Unlock()
		return false
	}
	job := &Job{
		Identifier: identifier,
		Kind:       "transcription",
		State:      StatePending,
		CreatedAt:  time.Now(),
		Options:    opts,
	}
	e.jobs[identifier] = job
	e.mu.Unlock()

	select {
	case e.queue <- identifier:
	default:
		// Queue full: mark failed immediately rather than block the caller.
		e.mu.Lock()
		job.State = StateFailed
		job.LastError = "job queue full"
		job.FinishedAt = time.Now()
		e.mu.Unlock()
	}
	return true
}

// ShouldSkip reports whether a non-terminal job exists for identifier.
func (e *Engine) ShouldSkip(identifier string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	job, ok := e.jobs[identifier]
	return ok && !job.State.IsTerminal()
}

// Status returns a snapshot of the job record for identifier.
func (e *Engine) Status(identifier string) (Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job, ok := e.jobs[identifier]
	if !ok {
		return Job{}, false
	}
	return job.snapshot(), true
}

// Run is the single worker loop. It processes jobs in FIFO order until ctx
// is cancelled, at which point every job still pending in the channel is
// drained and marked failed with reason shutdown (§4.4).
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.drainOnShutdown()
			return ctx.Err()
		case identifier, ok := <-e.queue:
			if !ok {
				return nil
			}
			if ctx.Err() != nil {
				// Cancelled while the previous job ran: this one was still pending.
				e.mu.Lock()
				if job, ok := e.jobs[identifier]; ok && !job.State.IsTerminal() {
					job.State = StateFailed
					job.LastError = "shutdown"
					job.FinishedAt = time.Now()
				}
				e.mu.Unlock()
				e.drainOnShutdown()
				return ctx.Err()
			}
			e.process(ctx, identifier)
		}
	}
}

func (e *Engine) drainOnShutdown() {
	for {
		select {
		case identifier := <-e.queue:
			e.mu.Lock()
			if job, ok := e.jobs[identifier]; ok && !job.State.IsTerminal() {
				job.State = StateFailed
				job.LastError = "shutdown"
				job.FinishedAt = time.Now()
			}
			e.mu.Unlock()
		default:
			return
		}
	}
}

func (e *Engine) process(ctx context.Context, identifier string) {
	e.mu.Lock()
	job, ok := e.jobs[identifier]
	e.mu.Unlock()
	if !ok {
		return
	}

	// A panic inside a stage fails this job only; the worker keeps running.
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("job panicked", "identifier", identifier, "panic", r)
			e.finish(job, StateFailed, fmt.Sprintf("internal: %v", r))
		}
	}()

	e.setState(job, StateCheckingDedup, func(j *Job) { j.StartedAt = time.Now() })

	existingURL, found, err := e.stages.CheckDedup(ctx, job)
	if err != nil {
		// Dedup is fail-open (§4.5 step 1): a transport error on the dedup
		// check is logged and treated as "not found", never fails the job.
		e.log.Warn("dedup check failed, proceeding as not found", "identifier", identifier, "error", err)
		found = false
	}
	if found {
		e.finishWithURL(job, StateSkipped, "", existingURL)
		return
	}
	if job.Options.SkipPostProcessing {
		e.finish(job, StateSkipped, "")
		return
	}

	e.setState(job, StateTranscribing, nil)
	if err := e.withRetry(ctx, job, func() error { return e.stages.Transcribe(ctx, job) }); err != nil {
		e.finish(job, StateFailed, err.Error())
		e.stages.Cleanup(job)
		return
	}

	e.setState(job, StateSummarizing, nil)
	if err := e.withRetry(ctx, job, func() error { return e.stages.Summarize(ctx, job) }); err != nil {
		e.finish(job, StateFailed, err.Error())
		e.stages.Cleanup(job)
		return
	}

	e.setState(job, StatePublishing, nil)
	var publishedURL string
	err = e.withRetry(ctx, job, func() error {
		url, perr := e.stages.Publish(ctx, job)
		if perr == nil {
			publishedURL = url
		}
		return perr
	})
	if err != nil {
		e.finish(job, StateFailed, err.Error())
		e.stages.Cleanup(job)
		return
	}

	e.finishWithURL(job, StateCompleted, "", publishedURL)
	e.stages.Cleanup(job)
}

func (e *Engine) setState(job *Job, state State, mutate func(*Job)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job.State = state
	if mutate != nil {
		mutate(job)
	}
}

func (e *Engine) finish(job *Job, state State, lastError string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job.State = state
	job.LastError = lastError
	job.FinishedAt = time.Now()
}

func (e *Engine) finishWithURL(job *Job, state State, lastError, externalURL string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job.State = state
	job.LastError = lastError
	job.FinishedAt = time.Now()
	job.ExternalURL = externalURL
}

// withRetry calls fn up to e.retry.MaxAttempts times, waiting
// BaseDelay*2^(attempt-1) between attempts, stopping immediately on a
// non-retriable error or context cancellation (§4.4). job.AttemptCount
// records the highest attempt number reached by any stage.
func (e *Engine) withRetry(ctx context.Context, job *Job, fn func() error) error {
	var lastErr error
	delay := e.retry.BaseDelay
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		e.mu.Lock()
		if attempt > job.AttemptCount {
			job.AttemptCount = attempt
		}
		e.mu.Unlock()

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !errs.IsRetriable(lastErr) {
			return lastErr
		}
		if attempt == e.retry.MaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return lastErr
}
