package providers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"audiostreamd/internal/errs"
)

// TranscriptionResult is what a transcription call returns, mirroring the
// TranscriptArtifact fields a stage needs to persist (§3).
type TranscriptionResult struct {
	Text                 string
	Provider             string
	Model                string
	AudioDurationSeconds float64
}

type transcriptionResponse struct {
	Text                 string  `json:"text"`
	Model                string  `json:"model"`
	AudioDurationSeconds float64 `json:"audio_duration_seconds"`
}

// TranscriptionClient calls an external speech-to-text service.
type TranscriptionClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewTranscriptionClient builds a client against baseURL, authenticating
// with a bearer apiKey. timeout bounds a single call (§4.2/§8: 300s).
func NewTranscriptionClient(baseURL, apiKey string, timeout time.Duration) *TranscriptionClient {
	return &TranscriptionClient{baseURL: baseURL, apiKey: apiKey, client: newClient(timeout)}
}

// Transcribe reads the audio file at audioPath and submits it for
// transcription.
func (c *TranscriptionClient) Transcribe(ctx context.Context, identifier, audioPath string) (TranscriptionResult, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return TranscriptionResult{}, errs.New("transcribe.read_capture", errs.ResourceExhausted, err)
	}

	url := fmt.Sprintf("%s/v1/transcriptions?identifier=%s", c.baseURL, identifier)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytesReader(data))
	if err != nil {
		return TranscriptionResult{}, errs.New("transcribe", errs.Internal, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	setBearer(req, c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return TranscriptionResult{}, errs.New("transcribe", errs.ExternalUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return TranscriptionResult{}, errs.New("transcribe", classifyStatus(resp.StatusCode), fmt.Errorf("status %s", resp.Status))
	}

	var decoded transcriptionResponse
	if err := decodeJSON(resp, &decoded); err != nil {
		return TranscriptionResult{}, errs.New("transcribe", errs.ExternalRejected, err)
	}

	return TranscriptionResult{
		Text:                 decoded.Text,
		Provider:             "transcription-provider",
		Model:                decoded.Model,
		AudioDurationSeconds: decoded.AudioDurationSeconds,
	}, nil
}
