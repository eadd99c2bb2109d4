// Package providers holds HTTP-client adapters for the external
// transcription, summarization, and note-store collaborators the pipeline
// stages call into (§4.5). Grounded on BitRiver-Live's
// internal/ingest/adapters.go doWithRetry shape, but retries are the job
// engine's responsibility (§4.4) — these adapters make exactly one attempt
// per call and classify the outcome into an errs.Kind so the engine knows
// whether to retry.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"audiostreamd/internal/errs"
)

// classifyStatus maps an HTTP status code to the errs.Kind the job engine
// should treat it as (§4.4: 429 and 5xx retriable; other 4xx are not).
func classifyStatus(status int) errs.Kind {
	if status == http.StatusTooManyRequests || status >= 500 {
		return errs.ExternalUnavailable
	}
	return errs.ExternalRejected
}

// doJSON issues a single HTTP request with a JSON payload (if non-nil) and
// decodes a JSON response into dest (if non-nil). It never retries; the
// caller (job engine) owns retry policy.
func doJSON(ctx context.Context, client *http.Client, op, method, url string, payload interface{}, dest interface{}, mutate func(*http.Request)) error {
	var reqBody io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return errs.New(op, errs.Internal, fmt.Errorf("marshal request: %w", err))
		}
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return errs.New(op, errs.Internal, fmt.Errorf("build request: %w", err))
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if mutate != nil {
		mutate(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errs.New(op, errs.ExternalUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return errs.New(op, classifyStatus(resp.StatusCode),
			fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data))))
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return errs.New(op, errs.ExternalRejected, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func bytesReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}

func decodeJSON(resp *http.Response, dest interface{}) error {
	return json.NewDecoder(resp.Body).Decode(dest)
}

func newClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func setBearer(req *http.Request, token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
