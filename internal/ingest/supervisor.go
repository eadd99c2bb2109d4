// Package ingest is the single-active-ingest supervisor (§4.2): it turns a
// SourceItem identifier into a flowing byte stream plus a capture file,
// and drives auto-advance and pre-fetch over the persistent queue (§4.6).
// Grounded on the teacher's internal/radio/service/radio.go constructor-
// injection idiom and internal/ffmpeg/encoder.go's process lifecycle.
package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"audiostreamd/internal/broadcaster"
	"audiostreamd/internal/capture"
	"audiostreamd/internal/extractor"
	"audiostreamd/internal/jobs"
	"audiostreamd/internal/store"
	"audiostreamd/internal/transcoder"
)

// Queue is the narrow slice of the persistent queue the supervisor needs
// for auto-advance (§4.6).
type Queue interface {
	PopCurrent(ctx context.Context) (store.QueueEntry, error)
	PeekNext(ctx context.Context) (store.QueueEntry, bool, error)
	List(ctx context.Context) ([]store.QueueEntry, error)
}

// History records a play for the history feature (§4.7). The supervisor
// calls it once metadata resolution succeeds, before streaming starts.
type History interface {
	RecordPlay(ctx context.Context, item store.SourceItem, playedAt time.Time) error
}

// JobEngine is the narrow slice of the job engine the supervisor needs to
// kick off post-processing at ingest end (§4.4).
type JobEngine interface {
	Enqueue(identifier string, opts jobs.Options) bool
	ShouldSkip(identifier string) bool
}

// Config parameterizes one Supervisor.
type Config struct {
	ChunkSize                int
	StopGracePeriod          time.Duration
	PreFetchThresholdSeconds float64
	PostProcessingEnabled    bool
	ReplayChunks             int
	SubscriptionQueueDepth   int
}

// StartOptions customizes a single Start call (§4.4 Options).
type StartOptions struct {
	SkipPostProcessing bool
}

// Status is a point-in-time snapshot of the active (or most recently
// active) ingest session.
type Status struct {
	Active          bool
	Identifier      string
	StartedAt       time.Time
	DurationSeconds float64
	Failed          bool
	LastError       string
}

// Supervisor owns the single active ingest session and the broadcaster it
// feeds. Only one ingest runs at a time (§4.2 step 1).
type Supervisor struct {
	cfg Config
	log *slog.Logger

	extractor   extractor.Extractor
	transcoder  transcoder.Config
	capture     *capture.Store
	history     History
	queue       Queue
	jobEngine   JobEngine

	mu      sync.Mutex
	session *session
}

type session struct {
	identifier  string
	cancel      context.CancelFunc
	done        chan struct{}
	broadcaster *broadcaster.Broadcaster
	startedAt   time.Time

	mu sync.Mutex
	// transcoderProc is set once by run, before the read loop starts, and
	// read by Stop; both sides hold mu.
	transcoderProc  *transcoder.Process
	durationSeconds float64
	warmed          bool
	failed          bool
	lastErr         error
}

func (sess *session) setDuration(d float64) {
	sess.mu.Lock()
	sess.durationSeconds = d
	sess.mu.Unlock()
}

func (sess *session) fail(err error) {
	sess.mu.Lock()
	sess.failed = true
	sess.lastErr = err
	sess.mu.Unlock()
}

// tryWarm reports whether the caller won the right to warm the next
// identifier, marking the session warmed so only one warm is started.
func (sess *session) tryWarm(remaining, threshold float64) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.warmed || remaining >= threshold {
		return false
	}
	sess.warmed = true
	return true
}

func (sess *session) snapshot() (durationSeconds float64, failed bool, lastErr error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.durationSeconds, sess.failed, sess.lastErr
}

// New constructs a Supervisor. log defaults to slog.Default() if nil.
func New(ex extractor.Extractor, tc transcoder.Config, cap *capture.Store, hist History, q Queue, je JobEngine, cfg Config, log *slog.Logger) *Supervisor {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 32 * 1024
	}
	if cfg.StopGracePeriod <= 0 {
		cfg.StopGracePeriod = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		cfg:        cfg,
		log:        log,
		extractor:  ex,
		transcoder: tc,
		capture:    cap,
		history:    hist,
		queue:      q,
		jobEngine:  je,
	}
}

// Start terminates any active ingest and begins a new one for identifier
// (§4.2 step 1). It returns the broadcaster the new session will feed;
// callers subscribe to it for live playback.
func (s *Supervisor) Start(parent context.Context, identifier string, opts StartOptions) *broadcaster.Broadcaster {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	ctx, cancel := context.WithCancel(parent)
	bc := broadcaster.New(s.cfg.ReplayChunks, s.cfg.SubscriptionQueueDepth)
	sess := &session{
		identifier:  identifier,
		cancel:      cancel,
		done:        make(chan struct{}),
		broadcaster: bc,
		startedAt:   time.Now(),
	}
	s.session = sess

	go s.run(ctx, sess, opts)

	return bc
}

// Stop terminates the active ingest session, if any, and waits for its
// goroutine to finish (§4.2 step 6, user-initiated stop).
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// stopLocked must be called with s.mu held.
func (s *Supervisor) stopLocked() {
	if s.session == nil {
		return
	}
	sess := s.session
	sess.cancel()
	sess.mu.Lock()
	proc := sess.transcoderProc
	sess.mu.Unlock()
	if proc != nil {
		proc.Stop(s.cfg.StopGracePeriod)
	}
	<-sess.done
	s.capture.RemoveIfEmpty(sess.identifier)
	s.session = nil
}

// Broadcaster returns the broadcaster feeding the active session, or nil if
// no ingest is currently running. Used by the public command surface to
// subscribe new HTTP clients to whatever is currently live.
func (s *Supervisor) Broadcaster() *broadcaster.Broadcaster {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	return s.session.broadcaster
}

// Status reports the active session, if any.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return Status{}
	}
	sess := s.session
	duration, failed, lastErr := sess.snapshot()
	st := Status{
		Active:          true,
		Identifier:      sess.identifier,
		StartedAt:       sess.startedAt,
		DurationSeconds: duration,
		Failed:          failed,
	}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}
	return st
}

// run is the ingest session goroutine (§4.2 steps 2-6).
func (s *Supervisor) run(ctx context.Context, sess *session, opts StartOptions) {
	defer close(sess.done)
	defer sess.broadcaster.Close()

	meta, err := s.extractor.ExtractMetadata(ctx, sess.identifier)
	if err != nil {
		s.log.Error("ingest metadata resolution failed", "identifier", sess.identifier, "error", err)
		sess.fail(err)
		return
	}
	sess.setDuration(meta.DurationSeconds)

	if err := s.history.RecordPlay(ctx, store.SourceItem{
		Identifier: sess.identifier,
		Title:      meta.Title,
		Channel:    meta.Channel,
		Thumbnail:  meta.Thumbnail,
	}, time.Now()); err != nil {
		s.log.Warn("failed to record history entry", "identifier", sess.identifier, "error", err)
	}

	audioStream, err := s.extractor.OpenAudioStream(ctx, sess.identifier)
	if err != nil {
		s.log.Error("extractor stream open failed", "identifier", sess.identifier, "error", err)
		sess.fail(err)
		return
	}

	capturePath := s.capture.PathFor(sess.identifier)
	proc, err := transcoder.Start(ctx, s.transcoder, audioStream, capturePath)
	if err != nil {
		_ = audioStream.Close()
		s.log.Error("transcoder start failed", "identifier", sess.identifier, "error", err)
		sess.fail(err)
		return
	}
	sess.mu.Lock()
	sess.transcoderProc = proc
	sess.mu.Unlock()

	firstByte := false
	buf := make([]byte, s.cfg.ChunkSize)
	for {
		n, readErr := proc.Stdout.Read(buf)
		if n > 0 {
			firstByte = true
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			_ = sess.broadcaster.Publish(chunk)
			s.maybeWarm(ctx, sess)
		}
		if readErr != nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	transcoderErr := proc.Wait()
	extractorErr := audioStream.Close()

	switch {
	case ctx.Err() != nil:
		// User-initiated stop or preempted by a new Start: no auto-advance,
		// no job, capture retention handled by the caller (§4.2 step 6).
		return
	case transcoderErr != nil:
		sess.fail(transcoderErr)
		s.log.Error("transcoder exited with error", "identifier", sess.identifier, "error", transcoderErr)
		return
	case extractorErr != nil && !firstByte:
		sess.fail(extractorErr)
		s.log.Error("extractor failed before first byte", "identifier", sess.identifier, "error", extractorErr)
		return
	case extractorErr != nil:
		// Extractor cut off mid-stream after delivering bytes: treat like a
		// natural end for clients (§4.2 failure semantics), but only
		// enqueue a pipeline job if the capture file is actually complete.
		s.log.Warn("extractor ended early after first byte, treating as natural end", "identifier", sess.identifier, "error", extractorErr)
		if s.capture.IsReady(sess.identifier) {
			s.enqueuePipelineJob(sess.identifier, opts)
		}
	default:
		s.enqueuePipelineJob(sess.identifier, opts)
	}

	s.autoAdvance(sess)
}

func (s *Supervisor) enqueuePipelineJob(identifier string, opts StartOptions) {
	if !s.cfg.PostProcessingEnabled {
		return
	}
	s.jobEngine.Enqueue(identifier, jobs.Options{SkipPostProcessing: opts.SkipPostProcessing})
}

// maybeWarm triggers pre-fetch once per session when the estimated
// remaining playback time drops below the configured threshold (§4.6).
// Elapsed wall-clock time stands in for played duration: the transcoder is
// expected to emit audio in real time, matching the teacher's ffmpeg `-re`
// flag.
func (s *Supervisor) maybeWarm(ctx context.Context, sess *session) {
	duration, _, _ := sess.snapshot()
	if duration <= 0 {
		return
	}
	elapsed := time.Since(sess.startedAt).Seconds()
	remaining := duration - elapsed
	if !sess.tryWarm(remaining, s.cfg.PreFetchThresholdSeconds) {
		return
	}

	entry, ok, err := s.queue.PeekNext(ctx)
	if err != nil || !ok {
		return
	}
	go s.warm(context.Background(), entry.Identifier)
}

// warm runs the extractor+transcoder pipeline to populate only the capture
// file for identifier, without broadcasting (§4.6 pre-fetch). A no-op if
// the capture file already exists.
func (s *Supervisor) warm(ctx context.Context, identifier string) {
	if s.capture.IsReady(identifier) {
		return
	}

	stream, err := s.extractor.OpenAudioStream(ctx, identifier)
	if err != nil {
		s.log.Warn("pre-fetch failed to open audio stream", "identifier", identifier, "error", err)
		return
	}

	proc, err := transcoder.Start(ctx, s.transcoder, stream, s.capture.PathFor(identifier))
	if err != nil {
		_ = stream.Close()
		s.log.Warn("pre-fetch failed to start transcoder", "identifier", identifier, "error", err)
		return
	}

	if _, err := io.Copy(io.Discard, proc.Stdout); err != nil && !errors.Is(err, io.EOF) {
		s.log.Warn("pre-fetch stream copy failed", "identifier", identifier, "error", err)
	}
	if err := proc.Wait(); err != nil {
		s.log.Warn("pre-fetch transcoder exited with error", "identifier", identifier, "error", err)
		s.capture.RemoveIfEmpty(identifier)
	}
	_ = stream.Close()
}

// autoAdvance pops the just-finished entry off the queue and starts
// whatever is now at the head, if anything (§4.6). sess is the session
// that just ended naturally: it must be detached from the Supervisor
// before Start is called again, since Start's stopLocked would otherwise
// try to stop the very session it's being invoked from (run hasn't
// returned yet) and block forever on its own done channel.
func (s *Supervisor) autoAdvance(sess *session) {
	ctx := context.Background()
	if _, err := s.queue.PopCurrent(ctx); err != nil {
		if !errors.Is(err, store.ErrEntryNotFound) {
			s.log.Warn("auto-advance: failed to pop current queue entry", "error", err)
		}
		return
	}

	entries, err := s.queue.List(ctx)
	if err != nil {
		s.log.Warn("auto-advance: failed to list queue", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	s.mu.Lock()
	if s.session == sess {
		s.session = nil
	}
	s.mu.Unlock()

	s.Start(context.Background(), entries[0].Identifier, StartOptions{})
}
