// Package api implements the public command surface (§4, §6 command
// table): start/stop stream, queue management, history, job status, and
// the capture-ready probe. Grounded on the teacher's handler/service split
// (internal/radio/handler + internal/radio/service): a thin gin handler
// layer calling into a Service that holds no gin types and can be tested
// without an HTTP server.
package api

import (
	"context"
	"regexp"

	"audiostreamd/internal/broadcaster"
	"audiostreamd/internal/capture"
	"audiostreamd/internal/errs"
	"audiostreamd/internal/extractor"
	"audiostreamd/internal/ingest"
	"audiostreamd/internal/jobs"
	"audiostreamd/internal/store"
)

// identifierRe matches the spec's "fixed-length opaque" external identifier
// (§3 Glossary): 11 characters, alphanumeric plus the two characters
// YouTube-style IDs use for padding.
var identifierRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ValidateIdentifier reports the input_invalid error kind (§7) if
// identifier is not a syntactically valid external source ID.
func ValidateIdentifier(identifier string) error {
	if !identifierRe.MatchString(identifier) {
		return errs.Newf("validate_identifier", errs.InputInvalid, "identifier %q is not a valid 11-character source id", identifier)
	}
	return nil
}

// Service implements every operation in the public command surface over
// the ingest supervisor, persistent store, job engine, and capture store.
// It depends on nothing gin-specific so it can be exercised directly in
// tests.
type Service struct {
	Supervisor *ingest.Supervisor
	Store      *store.Store
	Jobs       *jobs.Engine
	Capture    *capture.Store
	Extractor  extractor.Extractor
}

// StreamStatus mirrors the spec's {idle | streaming, identifier?} result
// for the status command (§6).
type StreamStatus struct {
	State           string // "idle" or "streaming"
	Identifier      string
	DurationSeconds float64
	Failed          bool
	LastError       string
}

// StartStream validates identifier, resolves its metadata (surfacing any
// extractor failure directly with no retry, per §7's "ingest start: no —
// surfaced"), and starts a new ingest session for it (§4.2).
func (s *Service) StartStream(ctx context.Context, identifier string, skipPostProcessing bool) (title string, err error) {
	if err := ValidateIdentifier(identifier); err != nil {
		return "", err
	}
	meta, err := s.Extractor.ExtractMetadata(ctx, identifier)
	if err != nil {
		return "", err
	}
	s.Supervisor.Start(ctx, identifier, ingest.StartOptions{SkipPostProcessing: skipPostProcessing})
	return meta.Title, nil
}

// StopStream terminates the active ingest session, if any (§4.2 step 6).
func (s *Service) StopStream() {
	s.Supervisor.Stop()
}

// Status reports whether an ingest session is active and, if so, its
// identifier and last-observed error (§6, §7).
func (s *Service) Status() StreamStatus {
	st := s.Supervisor.Status()
	if !st.Active {
		return StreamStatus{State: "idle"}
	}
	return StreamStatus{
		State:           "streaming",
		Identifier:      st.Identifier,
		DurationSeconds: st.DurationSeconds,
		Failed:          st.Failed,
		LastError:       st.LastError,
	}
}

// Subscribe hands back a live subscription to whatever is currently
// broadcasting, or nil if nothing is active.
func (s *Service) Subscribe() *broadcaster.Subscription {
	bc := s.Supervisor.Broadcaster()
	if bc == nil {
		return nil
	}
	return bc.Subscribe()
}

// CaptureReady implements the capture-ready probe (§4.3): true once the
// capture file for identifier exists and is nonzero-sized.
func (s *Service) CaptureReady(identifier string) bool {
	return s.Capture.IsReady(identifier)
}

// EnqueueItem appends identifier to the persistent queue (§4.6) unless a
// non-terminal pipeline job already exists for it, in which case it
// returns added=false without altering the queue (§8 round-trip law:
// "enqueue_item(x); enqueue_item(x) — the second call returns added=false
// ... while an earlier job is non-terminal").
func (s *Service) EnqueueItem(ctx context.Context, identifier string, skipPostProcessing bool) (added bool, title string, err error) {
	if err := ValidateIdentifier(identifier); err != nil {
		return false, "", err
	}
	if s.Jobs.ShouldSkip(identifier) {
		return false, "", nil
	}

	meta, err := s.Extractor.ExtractMetadata(ctx, identifier)
	if err != nil {
		return false, "", err
	}

	item := store.SourceItem{Identifier: identifier, Title: meta.Title, Channel: meta.Channel, Thumbnail: meta.Thumbnail}
	if _, err := s.Store.Append(ctx, item, store.QueueKindPrimary, ""); err != nil {
		return false, "", err
	}
	return true, meta.Title, nil
}

// ListQueue returns the ordered playlist (§4.6).
func (s *Service) ListQueue(ctx context.Context) ([]store.QueueEntry, error) {
	return s.Store.List(ctx)
}

// RemoveEntry deletes one queue row by entry ID (§4.6).
func (s *Service) RemoveEntry(ctx context.Context, entryID int64) error {
	return s.Store.Remove(ctx, entryID)
}

// ReorderQueue atomically rewrites queue positions to match orderedIDs
// (§4.6). Returns store.ErrSetMismatch if orderedIDs isn't exactly the
// current set of entry IDs.
func (s *Service) ReorderQueue(ctx context.Context, orderedIDs []int64) error {
	return s.Store.Reorder(ctx, orderedIDs)
}

// ClearQueue deletes every queue row (§4.6).
func (s *Service) ClearQueue(ctx context.Context) error {
	return s.Store.Clear(ctx)
}

// NextResult reports the outcome of a manual "next" command (§6).
type NextResult struct {
	Started    bool
	Identifier string
	Title      string
}

// Next stops whatever is currently playing, pops it off the queue (if it
// was there), and starts whatever is now at the head of the queue. Returns
// Started=false ("queue_empty") if nothing remains (§4.6 auto-advance,
// applied here to the user-initiated skip command rather than a natural
// end-of-stream).
func (s *Service) Next(ctx context.Context) (NextResult, error) {
	s.Supervisor.Stop()

	if _, err := s.Store.PopCurrent(ctx); err != nil && err != store.ErrEntryNotFound {
		return NextResult{}, err
	}

	entries, err := s.Store.List(ctx)
	if err != nil {
		return NextResult{}, err
	}
	if len(entries) == 0 {
		return NextResult{}, nil
	}

	next := entries[0]
	s.Supervisor.Start(ctx, next.Identifier, ingest.StartOptions{})
	return NextResult{Started: true, Identifier: next.Identifier, Title: next.Title}, nil
}

// ListHistory returns up to limit recently played source items (§4.7).
func (s *Service) ListHistory(ctx context.Context, limit int) ([]store.HistoryEntry, error) {
	return s.Store.RecentHistory(ctx, limit)
}

// ClearHistory deletes every history row (§4.7).
func (s *Service) ClearHistory(ctx context.Context) error {
	return s.Store.ClearHistory(ctx)
}

// JobStatus returns the job record for identifier, if one exists (§4.4).
func (s *Service) JobStatus(identifier string) (jobs.Job, bool) {
	return s.Jobs.Status(identifier)
}
