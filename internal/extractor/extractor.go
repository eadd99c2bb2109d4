// Package extractor wraps the external metadata/audio extractor binary
// (§6: "the remote extractor ... binaries"). Grounded on the teacher's
// internal/ffmpeg/encoder.go (exec.CommandContext, pipe plumbing, a
// background stderr-drain goroutine logging at debug level).
package extractor

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os/exec"

	"audiostreamd/internal/errs"

	"golang.org/x/sync/singleflight"
)

// Metadata is what extract_metadata returns for an identifier (§6).
type Metadata struct {
	Title           string  `json:"title"`
	Channel         string  `json:"channel"`
	Thumbnail       string  `json:"thumbnail"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Extractor is the narrow collaborator interface the ingest supervisor
// depends on.
type Extractor interface {
	ExtractMetadata(ctx context.Context, identifier string) (Metadata, error)
	OpenAudioStream(ctx context.Context, identifier string) (io.ReadCloser, error)
}

// ProcessExtractor shells out to an external binary for both operations.
type ProcessExtractor struct {
	binary string
}

// New constructs a ProcessExtractor invoking binary.
func New(binary string) *ProcessExtractor {
	return &ProcessExtractor{binary: binary}
}

// ExtractMetadata runs `binary metadata <identifier>` and parses its stdout
// as JSON (§6).
func (e *ProcessExtractor) ExtractMetadata(ctx context.Context, identifier string) (Metadata, error) {
	cmd := exec.CommandContext(ctx, e.binary, "metadata", identifier)
	out, err := cmd.Output()
	if err != nil {
		return Metadata{}, errs.New("extractor.extract_metadata", errs.ExternalUnavailable, err)
	}

	var m Metadata
	if err := json.Unmarshal(out, &m); err != nil {
		return Metadata{}, errs.New("extractor.extract_metadata", errs.ExternalRejected, err)
	}
	return m, nil
}

// OpenAudioStream runs `binary stream <identifier>` and returns its stdout
// as a read handle. Closing the handle waits for the child process to
// exit.
func (e *ProcessExtractor) OpenAudioStream(ctx context.Context, identifier string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, e.binary, "stream", identifier)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.New("extractor.open_audio_stream", errs.Internal, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errs.New("extractor.open_audio_stream", errs.Internal, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, errs.New("extractor.open_audio_stream", errs.ExternalUnavailable, err)
	}

	go drainStderr("extractor", stderr)

	return &processHandle{cmd: cmd, stdout: stdout}, nil
}

type processHandle struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func (p *processHandle) Read(b []byte) (int, error) { return p.stdout.Read(b) }

// Close waits for the child process to exit and returns the wait error. If
// the stream was cut short (the caller stopped reading before EOF), that
// error may come from the killed process.
func (p *processHandle) Close() error {
	_ = p.stdout.Close()
	return p.cmd.Wait()
}

func drainStderr(component string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		slog.Debug(component, "output", scanner.Text())
	}
}

// DedupingExtractor wraps an Extractor so that concurrent ExtractMetadata
// calls for the same identifier collapse into a single underlying call
// (§5 EXPANSION: golang.org/x/sync/singleflight), so concurrent metadata
// lookups for the same identifier (e.g. enqueue_item racing start_stream)
// share one extractor process. OpenAudioStream is never deduped: two callers opening
// a stream for the same identifier legitimately want two independent
// processes (e.g. a live start_stream racing a pre-fetch warm for a
// different purpose).
type DedupingExtractor struct {
	inner Extractor
	group singleflight.Group
}

// NewDeduping wraps inner with metadata-call deduplication.
func NewDeduping(inner Extractor) *DedupingExtractor {
	return &DedupingExtractor{inner: inner}
}

func (d *DedupingExtractor) ExtractMetadata(ctx context.Context, identifier string) (Metadata, error) {
	v, err, _ := d.group.Do(identifier, func() (interface{}, error) {
		return d.inner.ExtractMetadata(ctx, identifier)
	})
	if err != nil {
		return Metadata{}, err
	}
	return v.(Metadata), nil
}

func (d *DedupingExtractor) OpenAudioStream(ctx context.Context, identifier string) (io.ReadCloser, error) {
	return d.inner.OpenAudioStream(ctx, identifier)
}
