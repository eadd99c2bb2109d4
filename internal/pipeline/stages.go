// Package pipeline wires the external transcription/summarization/note-store
// collaborators into the job engine's Stages contract (§4.5). Grounded on
// the teacher's constructor-injection idiom: every radio/service/*.go type
// takes its dependencies as explicit constructor parameters, never reaches
// for a package-level global.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"audiostreamd/internal/cache"
	"audiostreamd/internal/errs"
	"audiostreamd/internal/jobs"
	"audiostreamd/internal/providers"
	"audiostreamd/internal/store"
)

// TranscriptArtifact is the persisted record of a completed transcription
// (§3), cached under the identifier key.
type TranscriptArtifact struct {
	Identifier           string
	Text                 string
	Provider             string
	Model                string
	AudioDurationSeconds float64
}

// SummaryArtifact is the persisted record of a completed summarization
// (§3).
type SummaryArtifact struct {
	Identifier     string
	Text           string
	Provider       string
	Model          string
	PromptTokens   int
	ResponseTokens int
}

// BackupPayload is written to the backup sink when label attachment fails
// during publish (§4.5 step 4).
type BackupPayload struct {
	Identifier string
	Title      string
	Channel    string
	Summary    string
}

// Transcriber is the narrow collaborator interface for speech-to-text.
type Transcriber interface {
	Transcribe(ctx context.Context, identifier, audioPath string) (providers.TranscriptionResult, error)
}

// Summarizer is the narrow collaborator interface for text summarization.
type Summarizer interface {
	Summarize(ctx context.Context, transcript, title, channel string) (providers.SummarizationResult, error)
}

// NoteStore is the narrow collaborator interface for the external note
// service used by dedup check and publish.
type NoteStore interface {
	FindByLabel(ctx context.Context, identifier string) (url string, found bool, err error)
	CreateNote(ctx context.Context, title, body string) (noteID, url string, err error)
	AttachLabel(ctx context.Context, noteID, identifier string) error
}

// BackupSink is the fallback write target when label attachment fails.
type BackupSink interface {
	Write(identifier string, payload BackupPayload) error
}

// UsageRecorder records billed provider usage (§3).
type UsageRecorder interface {
	InsertUsageRecord(ctx context.Context, rec store.UsageRecord) error
}

// SourceLookup recovers the title/channel recorded for an identifier at
// ingest time.
type SourceLookup interface {
	Lookup(ctx context.Context, identifier string) (title, channel string, ok bool, err error)
}

// CaptureResolver locates and removes the on-disk capture file for an
// identifier (§4.5 step 5, §4.8).
type CaptureResolver interface {
	PathFor(identifier string) string
	Remove(identifier string)
}

// Stages implements jobs.Stages by driving the external collaborators
// through the five pipeline steps (§4.5).
type Stages struct {
	Transcriber     Transcriber
	Summarizer      Summarizer
	NoteStore       NoteStore
	BackupSink      BackupSink
	UsageRecorder   UsageRecorder
	SourceLookup    SourceLookup
	Capture         CaptureResolver
	TranscriptCache *cache.JSONCache
	SummaryCache    *cache.JSONCache
	Log             *slog.Logger
}

var _ jobs.Stages = (*Stages)(nil)

func (s *Stages) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// CheckDedup queries the note store for an existing note tagged with the
// identifier (§4.5 step 1). The caller (job engine) is responsible for
// fail-open behavior on a transport error.
func (s *Stages) CheckDedup(ctx context.Context, job *jobs.Job) (string, bool, error) {
	return s.NoteStore.FindByLabel(ctx, job.Identifier)
}

// Transcribe reads the capture file, submits it for transcription, and
// persists the resulting artifact plus a usage record (§4.5 step 2).
func (s *Stages) Transcribe(ctx context.Context, job *jobs.Job) error {
	audioPath := s.Capture.PathFor(job.Identifier)
	result, err := s.Transcriber.Transcribe(ctx, job.Identifier, audioPath)
	if err != nil {
		return err
	}

	artifact := TranscriptArtifact{
		Identifier:           job.Identifier,
		Text:                 result.Text,
		Provider:             result.Provider,
		Model:                result.Model,
		AudioDurationSeconds: result.AudioDurationSeconds,
	}
	if err := s.TranscriptCache.Write(transcriptKey(job.Identifier), artifact); err != nil {
		return errs.New("transcribe.persist", errs.Internal, err)
	}

	if err := s.UsageRecorder.InsertUsageRecord(ctx, store.UsageRecord{
		Provider:             result.Provider,
		Model:                result.Model,
		Feature:              "transcription",
		AudioDurationSeconds: result.AudioDurationSeconds,
		Identifier:           job.Identifier,
	}); err != nil {
		s.logger().Warn("failed to record transcription usage", "identifier", job.Identifier, "error", err)
	}
	return nil
}

// Summarize loads the transcript artifact, calls the summarization
// provider with a prompt built from the transcript plus source metadata,
// and persists the resulting artifact plus a usage record (§4.5 step 3).
func (s *Stages) Summarize(ctx context.Context, job *jobs.Job) error {
	var transcript TranscriptArtifact
	if err := s.TranscriptCache.Read(transcriptKey(job.Identifier), &transcript); err != nil {
		return errs.New("summarize.load_transcript", errs.Internal, err)
	}

	title, channel, _, err := s.SourceLookup.Lookup(ctx, job.Identifier)
	if err != nil {
		s.logger().Warn("source lookup failed, summarizing without metadata", "identifier", job.Identifier, "error", err)
	}

	result, err := s.Summarizer.Summarize(ctx, transcript.Text, title, channel)
	if err != nil {
		return err
	}

	summary := SummaryArtifact{
		Identifier:     job.Identifier,
		Text:           result.Text,
		Provider:       result.Provider,
		Model:          result.Model,
		PromptTokens:   result.PromptTokens,
		ResponseTokens: result.ResponseTokens,
	}
	if err := s.SummaryCache.Write(summaryKey(job.Identifier), summary); err != nil {
		return errs.New("summarize.persist", errs.Internal, err)
	}

	if err := s.UsageRecorder.InsertUsageRecord(ctx, store.UsageRecord{
		Provider:       result.Provider,
		Model:          result.Model,
		Feature:        "summarization",
		PromptTokens:   result.PromptTokens,
		ResponseTokens: result.ResponseTokens,
		Identifier:     job.Identifier,
	}); err != nil {
		s.logger().Warn("failed to record summarization usage", "identifier", job.Identifier, "error", err)
	}
	return nil
}

// Publish creates a note for the summary, attaches a source_id label, and
// falls back to the backup sink if the attach step fails (§4.5 step 4).
func (s *Stages) Publish(ctx context.Context, job *jobs.Job) (string, error) {
	var summary SummaryArtifact
	if err := s.SummaryCache.Read(summaryKey(job.Identifier), &summary); err != nil {
		return "", errs.New("publish.load_summary", errs.Internal, err)
	}

	title, channel, _, err := s.SourceLookup.Lookup(ctx, job.Identifier)
	if err != nil {
		s.logger().Warn("source lookup failed, publishing without title", "identifier", job.Identifier, "error", err)
	}
	if title == "" {
		title = job.Identifier
	}

	noteID, noteURL, err := s.NoteStore.CreateNote(ctx, title, summary.Text)
	if err != nil {
		return "", err
	}

	if err := s.NoteStore.AttachLabel(ctx, noteID, job.Identifier); err != nil {
		s.logger().Warn("label attach failed, falling back to backup sink", "identifier", job.Identifier, "error", err)
		payload := BackupPayload{Identifier: job.Identifier, Title: title, Channel: channel, Summary: summary.Text}
		if bErr := s.BackupSink.Write(job.Identifier, payload); bErr != nil {
			return "", errs.New("publish.backup", errs.Internal, bErr)
		}
		// The backup payload is safely written, but the note in the external
		// store is missing its source_id label — publication did not
		// actually complete, so the job still fails with the backup sink
		// kept as the recovery path (§4.5 step 4, §9 Open Question 3).
		return "", errs.New("publish.label_attach_fallback", errs.ExternalUnavailable, err)
	}

	return noteURL, nil
}

// Cleanup best-effort deletes the capture file; errors are logged inside
// Capture.Remove, never propagated (§4.5 step 5).
func (s *Stages) Cleanup(job *jobs.Job) {
	s.Capture.Remove(job.Identifier)
}

func transcriptKey(identifier string) string { return fmt.Sprintf("transcript-%s", identifier) }
func summaryKey(identifier string) string    { return fmt.Sprintf("summary-%s", identifier) }
