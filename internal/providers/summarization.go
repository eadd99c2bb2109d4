package providers

import (
	"context"
	"net/http"
	"time"
)

// SummarizationResult mirrors the SummaryArtifact fields a stage needs to
// persist (§3).
type SummarizationResult struct {
	Text           string
	Provider       string
	Model          string
	PromptTokens   int
	ResponseTokens int
}

type summarizationRequest struct {
	Transcript string `json:"transcript"`
	Title      string `json:"title"`
	Channel    string `json:"channel"`
}

type summarizationResponse struct {
	Text           string `json:"text"`
	Model          string `json:"model"`
	PromptTokens   int    `json:"prompt_tokens"`
	ResponseTokens int    `json:"response_tokens"`
}

// SummarizationClient calls an external text-summarization service.
type SummarizationClient struct {
	url    string
	apiKey string
	client *http.Client
}

// NewSummarizationClient builds a client against url, authenticating with a
// bearer apiKey. timeout bounds a single call (§4.2/§8: 120s).
func NewSummarizationClient(url, apiKey string, timeout time.Duration) *SummarizationClient {
	return &SummarizationClient{url: url, apiKey: apiKey, client: newClient(timeout)}
}

// Summarize sends the transcript plus source title/channel as the prompt
// context (§4.5 step 3).
func (c *SummarizationClient) Summarize(ctx context.Context, transcript, title, channel string) (SummarizationResult, error) {
	req := summarizationRequest{Transcript: transcript, Title: title, Channel: channel}
	var resp summarizationResponse
	err := doJSON(ctx, c.client, "summarize", http.MethodPost, c.url, req, &resp, func(r *http.Request) {
		setBearer(r, c.apiKey)
	})
	if err != nil {
		return SummarizationResult{}, err
	}
	return SummarizationResult{
		Text:           resp.Text,
		Provider:       "summarization-provider",
		Model:          resp.Model,
		PromptTokens:   resp.PromptTokens,
		ResponseTokens: resp.ResponseTokens,
	}, nil
}
