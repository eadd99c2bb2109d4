package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"audiostreamd/internal/capture"
	"audiostreamd/internal/extractor"
	"audiostreamd/internal/jobs"
	"audiostreamd/internal/store"
	"audiostreamd/internal/transcoder"
)

type readCloser struct {
	io.Reader
	closeErr error
}

func (r readCloser) Close() error { return r.closeErr }

type fakeExtractor struct {
	meta    extractor.Metadata
	metaErr error
	payload string
	openErr error
}

func (f *fakeExtractor) ExtractMetadata(ctx context.Context, identifier string) (extractor.Metadata, error) {
	return f.meta, f.metaErr
}

func (f *fakeExtractor) OpenAudioStream(ctx context.Context, identifier string) (io.ReadCloser, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return readCloser{Reader: strings.NewReader(f.payload)}, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	records []store.SourceItem
}

func (f *fakeHistory) RecordPlay(ctx context.Context, item store.SourceItem, playedAt time.Time) error {
	f.mu.Lock()
	f.records = append(f.records, item)
	f.mu.Unlock()
	return nil
}

type fakeJobEngine struct {
	mu        sync.Mutex
	enqueued  []string
}

func (f *fakeJobEngine) Enqueue(identifier string, opts jobs.Options) bool {
	f.mu.Lock()
	f.enqueued = append(f.enqueued, identifier)
	f.mu.Unlock()
	return true
}

func (f *fakeJobEngine) ShouldSkip(identifier string) bool { return false }

type fakeQueue struct {
	mu      sync.Mutex
	entries []store.QueueEntry
}

func (f *fakeQueue) PopCurrent(ctx context.Context) (store.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return store.QueueEntry{}, store.ErrEntryNotFound
	}
	popped := f.entries[0]
	f.entries = f.entries[1:]
	return popped, nil
}

func (f *fakeQueue) PeekNext(ctx context.Context) (store.QueueEntry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) < 2 {
		return store.QueueEntry{}, false, nil
	}
	return f.entries[1], true, nil
}

func (f *fakeQueue) List(ctx context.Context) ([]store.QueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.QueueEntry, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

func writeFakeTranscoder(t *testing.T, script string) transcoder.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-transcoder.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return transcoder.Config{Binary: path}
}

func newTestSupervisor(t *testing.T, ex extractor.Extractor, tc transcoder.Config, hist *fakeHistory, q *fakeQueue, je *fakeJobEngine) *Supervisor {
	t.Helper()
	capStore, err := capture.NewStore(t.TempDir(), "opus", 10)
	if err != nil {
		t.Fatal(err)
	}
	return New(ex, tc, capStore, hist, q, je, Config{
		ChunkSize:                16,
		StopGracePeriod:          100 * time.Millisecond,
		PreFetchThresholdSeconds: 0,
		PostProcessingEnabled:    true,
		ReplayChunks:             8,
		SubscriptionQueueDepth:   8,
	}, nil)
}

// copyToCaptureScript stands in for a real-time transcoder: it tees stdin
// to both the capture file and stdout, with a short sleep to mimic the
// teacher's ffmpeg `-re` real-time pacing, giving tests a stable window to
// observe mid-session state.
const copyToCaptureScript = `#!/bin/sh
capture=""
while [ "$1" != "" ]; do
  if [ "$1" = "-capture" ]; then
    shift
    capture="$1"
  fi
  shift
done
data=$(cat)
printf '%s' "$data" > "$capture"
printf '%s' "$data"
sleep 0.2
`

func waitStatusInactive(t *testing.T, s *Supervisor, timeout time.Duration) Status {
	t.Helper()
	deadline := time.After(timeout)
	for {
		st := s.Status()
		select {
		case <-deadline:
			return st
		default:
		}
		if !st.Active {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitStatusFailed(t *testing.T, s *Supervisor, timeout time.Duration) Status {
	t.Helper()
	deadline := time.After(timeout)
	for {
		st := s.Status()
		select {
		case <-deadline:
			return st
		default:
		}
		if st.Failed {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNaturalEndTriggersAutoAdvance(t *testing.T) {
	tc := writeFakeTranscoder(t, copyToCaptureScript)
	ex := &fakeExtractor{meta: extractor.Metadata{Title: "T", DurationSeconds: 100}, payload: "hello"}
	hist := &fakeHistory{}
	je := &fakeJobEngine{}
	q := &fakeQueue{entries: []store.QueueEntry{
		{Identifier: "first"},
		{Identifier: "second"},
	}}

	s := newTestSupervisor(t, ex, tc, hist, q, je)
	bc := s.Start(context.Background(), "first", StartOptions{})
	if bc == nil {
		t.Fatal("expected non-nil broadcaster")
	}

	// "first" finishes after ~200ms (the fake transcoder's pacing sleep);
	// by 350ms auto-advance should have started "second", which is still
	// mid-session (its own ~200ms sleep hasn't elapsed yet).
	time.Sleep(350 * time.Millisecond)

	st := s.Status()
	if st.Identifier != "second" {
		t.Errorf("expected auto-advance to 'second', got status %+v", st)
	}

	s.Stop()

	je.mu.Lock()
	defer je.mu.Unlock()
	if len(je.enqueued) != 1 || je.enqueued[0] != "first" {
		t.Errorf("expected a pipeline job enqueued for 'first' only ('second' was stopped, not ended), got %+v", je.enqueued)
	}
}

func TestTranscoderFailureMarksFailedWithNoAutoAdvance(t *testing.T) {
	tc := writeFakeTranscoder(t, `#!/bin/sh
cat >/dev/null
exit 1
`)
	ex := &fakeExtractor{meta: extractor.Metadata{Title: "T", DurationSeconds: 100}, payload: "hello"}
	hist := &fakeHistory{}
	je := &fakeJobEngine{}
	q := &fakeQueue{entries: []store.QueueEntry{{Identifier: "first"}, {Identifier: "second"}}}

	s := newTestSupervisor(t, ex, tc, hist, q, je)
	s.Start(context.Background(), "first", StartOptions{})

	// The failed session is never detached by autoAdvance, so Status keeps
	// reporting it (Active stays true) until the next Start or Stop.
	st := waitStatusFailed(t, s, 2*time.Second)
	if !st.Failed {
		t.Errorf("expected failed status, got %+v", st)
	}

	je.mu.Lock()
	defer je.mu.Unlock()
	if len(je.enqueued) != 0 {
		t.Errorf("expected no pipeline job on transcoder failure, got %+v", je.enqueued)
	}
}

func TestExtractorMetadataFailureMarksFailed(t *testing.T) {
	tc := writeFakeTranscoder(t, copyToCaptureScript)
	ex := &fakeExtractor{metaErr: errors.New("metadata unavailable")}
	hist := &fakeHistory{}
	je := &fakeJobEngine{}
	q := &fakeQueue{}

	s := newTestSupervisor(t, ex, tc, hist, q, je)
	s.Start(context.Background(), "first", StartOptions{})

	st := waitStatusFailed(t, s, 2*time.Second)
	if !st.Failed {
		t.Errorf("expected failed status, got %+v", st)
	}
}

func TestStopTerminatesActiveSessionWithoutAutoAdvance(t *testing.T) {
	tc := writeFakeTranscoder(t, `#!/bin/sh
trap '' TERM
cat >/dev/null
sleep 30
`)
	ex := &fakeExtractor{meta: extractor.Metadata{Title: "T", DurationSeconds: 100}, payload: strings.Repeat("x", 64)}
	hist := &fakeHistory{}
	je := &fakeJobEngine{}
	q := &fakeQueue{entries: []store.QueueEntry{{Identifier: "first"}, {Identifier: "second"}}}

	s := newTestSupervisor(t, ex, tc, hist, q, je)
	s.Start(context.Background(), "first", StartOptions{})
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	s.Stop()
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("stop took too long: %v", elapsed)
	}

	st := s.Status()
	if st.Active {
		t.Errorf("expected inactive status after Stop, got %+v", st)
	}

	je.mu.Lock()
	defer je.mu.Unlock()
	if len(je.enqueued) != 0 {
		t.Errorf("expected no pipeline job on user-initiated stop, got %+v", je.enqueued)
	}
}

func TestHistoryRecordedOnSuccessfulMetadataResolution(t *testing.T) {
	tc := writeFakeTranscoder(t, copyToCaptureScript)
	ex := &fakeExtractor{meta: extractor.Metadata{Title: "T", Channel: "C", DurationSeconds: 50}, payload: "abc"}
	hist := &fakeHistory{}
	je := &fakeJobEngine{}
	q := &fakeQueue{}

	s := newTestSupervisor(t, ex, tc, hist, q, je)
	s.Start(context.Background(), "first", StartOptions{})
	time.Sleep(300 * time.Millisecond)
	s.Stop()

	hist.mu.Lock()
	defer hist.mu.Unlock()
	if len(hist.records) != 1 || hist.records[0].Identifier != "first" {
		t.Errorf("expected one history record for 'first', got %+v", hist.records)
	}
}
