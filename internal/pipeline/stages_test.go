package pipeline

import (
	"context"
	"errors"
	"testing"

	"audiostreamd/internal/cache"
	"audiostreamd/internal/errs"
	"audiostreamd/internal/jobs"
	"audiostreamd/internal/providers"
	"audiostreamd/internal/store"
)

type fakeTranscriber struct {
	result providers.TranscriptionResult
	err    error
}

func (f fakeTranscriber) Transcribe(ctx context.Context, identifier, audioPath string) (providers.TranscriptionResult, error) {
	return f.result, f.err
}

type fakeSummarizer struct {
	result        providers.SummarizationResult
	err           error
	gotTranscript string
	gotTitle      string
	gotChannel    string
}

func (f *fakeSummarizer) Summarize(ctx context.Context, transcript, title, channel string) (providers.SummarizationResult, error) {
	f.gotTranscript, f.gotTitle, f.gotChannel = transcript, title, channel
	return f.result, f.err
}

type fakeNoteStore struct {
	findURL      string
	findFound    bool
	findErr      error
	createNoteID string
	createURL    string
	createErr    error
	attachErr    error
}

func (f *fakeNoteStore) FindByLabel(ctx context.Context, identifier string) (string, bool, error) {
	return f.findURL, f.findFound, f.findErr
}

func (f *fakeNoteStore) CreateNote(ctx context.Context, title, body string) (string, string, error) {
	return f.createNoteID, f.createURL, f.createErr
}

func (f *fakeNoteStore) AttachLabel(ctx context.Context, noteID, identifier string) error {
	return f.attachErr
}

type fakeBackupSink struct {
	written BackupPayload
	called  bool
}

func (f *fakeBackupSink) Write(identifier string, payload BackupPayload) error {
	f.called = true
	f.written = payload
	return nil
}

type fakeUsageRecorder struct {
	records []store.UsageRecord
}

func (f *fakeUsageRecorder) InsertUsageRecord(ctx context.Context, rec store.UsageRecord) error {
	f.records = append(f.records, rec)
	return nil
}

type fakeSourceLookup struct {
	title, channel string
	ok             bool
}

func (f fakeSourceLookup) Lookup(ctx context.Context, identifier string) (string, string, bool, error) {
	return f.title, f.channel, f.ok, nil
}

type fakeCapture struct {
	path     string
	removed  []string
}

func (f *fakeCapture) PathFor(identifier string) string { return f.path }
func (f *fakeCapture) Remove(identifier string)         { f.removed = append(f.removed, identifier) }

func newTestStages(t *testing.T) (*Stages, *fakeNoteStore, *fakeBackupSink, *fakeUsageRecorder) {
	t.Helper()
	transcriptCache, err := cache.NewJSONCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	summaryCache, err := cache.NewJSONCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	notes := &fakeNoteStore{}
	backup := &fakeBackupSink{}
	usage := &fakeUsageRecorder{}

	return &Stages{
		Transcriber:     fakeTranscriber{result: providers.TranscriptionResult{Text: "hello world", Provider: "p", Model: "m", AudioDurationSeconds: 10}},
		Summarizer:      &fakeSummarizer{result: providers.SummarizationResult{Text: "a summary", Provider: "p2", Model: "m2", PromptTokens: 5, ResponseTokens: 10}},
		NoteStore:       notes,
		BackupSink:      backup,
		UsageRecorder:   usage,
		SourceLookup:    fakeSourceLookup{title: "Title", channel: "Channel", ok: true},
		Capture:         &fakeCapture{path: "/tmp/abc.opus"},
		TranscriptCache: transcriptCache,
		SummaryCache:    summaryCache,
	}, notes, backup, usage
}

func TestTranscribePersistsArtifactAndUsage(t *testing.T) {
	s, _, _, usage := newTestStages(t)
	job := &jobs.Job{Identifier: "abc"}

	if err := s.Transcribe(context.Background(), job); err != nil {
		t.Fatalf("transcribe: %v", err)
	}

	var artifact TranscriptArtifact
	if err := s.TranscriptCache.Read(transcriptKey("abc"), &artifact); err != nil {
		t.Fatalf("read transcript artifact: %v", err)
	}
	if artifact.Text != "hello world" {
		t.Errorf("unexpected transcript text: %q", artifact.Text)
	}
	if len(usage.records) != 1 || usage.records[0].Feature != "transcription" {
		t.Errorf("expected one transcription usage record, got %+v", usage.records)
	}
}

func TestSummarizeUsesTranscriptAndSourceMetadata(t *testing.T) {
	s, _, _, usage := newTestStages(t)
	job := &jobs.Job{Identifier: "abc"}

	if err := s.Transcribe(context.Background(), job); err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if err := s.Summarize(context.Background(), job); err != nil {
		t.Fatalf("summarize: %v", err)
	}

	summarizer := s.Summarizer.(*fakeSummarizer)
	if summarizer.gotTranscript != "hello world" {
		t.Errorf("expected summarizer to receive transcript text, got %q", summarizer.gotTranscript)
	}
	if summarizer.gotTitle != "Title" || summarizer.gotChannel != "Channel" {
		t.Errorf("expected summarizer to receive source metadata, got title=%q channel=%q", summarizer.gotTitle, summarizer.gotChannel)
	}

	var artifact SummaryArtifact
	if err := s.SummaryCache.Read(summaryKey("abc"), &artifact); err != nil {
		t.Fatalf("read summary artifact: %v", err)
	}
	if artifact.Text != "a summary" {
		t.Errorf("unexpected summary text: %q", artifact.Text)
	}
	if len(usage.records) != 2 || usage.records[1].Feature != "summarization" {
		t.Errorf("expected a second, summarization usage record, got %+v", usage.records)
	}
}

func TestPublishSucceedsWithoutBackupWhenAttachSucceeds(t *testing.T) {
	s, notes, backup, _ := newTestStages(t)
	notes.createNoteID = "n1"
	notes.createURL = "https://notes.example/n/1"
	job := &jobs.Job{Identifier: "abc"}

	_ = s.Transcribe(context.Background(), job)
	_ = s.Summarize(context.Background(), job)

	url, err := s.Publish(context.Background(), job)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if url != "https://notes.example/n/1" {
		t.Errorf("unexpected publish url: %q", url)
	}
	if backup.called {
		t.Error("expected backup sink not to be used when attach succeeds")
	}
}

func TestPublishFallsBackToBackupSinkWhenAttachFails(t *testing.T) {
	s, notes, backup, _ := newTestStages(t)
	notes.createNoteID = "n1"
	notes.createURL = "https://notes.example/n/1"
	notes.attachErr = errors.New("label service unavailable")
	job := &jobs.Job{Identifier: "abc"}

	_ = s.Transcribe(context.Background(), job)
	_ = s.Summarize(context.Background(), job)

	url, err := s.Publish(context.Background(), job)
	if err == nil {
		t.Fatal("expected publish to fail even though the backup sink recovered the payload")
	}
	if errs.KindOf(err) != errs.ExternalUnavailable {
		t.Errorf("expected external_unavailable kind, got %v", errs.KindOf(err))
	}
	if url != "" {
		t.Errorf("expected no url on a failed publish, got %q", url)
	}
	if !backup.called {
		t.Fatal("expected backup sink to be used when attach fails")
	}
	if backup.written.Summary != "a summary" {
		t.Errorf("unexpected backup payload: %+v", backup.written)
	}
}

func TestCleanupRemovesCaptureFile(t *testing.T) {
	s, _, _, _ := newTestStages(t)
	capture := s.Capture.(*fakeCapture)
	job := &jobs.Job{Identifier: "abc"}

	s.Cleanup(job)

	if len(capture.removed) != 1 || capture.removed[0] != "abc" {
		t.Errorf("expected capture file removal for abc, got %+v", capture.removed)
	}
}
