package store

import (
	"context"
	"fmt"
)

// UsageRecord is one billed unit of external provider work (transcription
// or summarization, §3).
type UsageRecord struct {
	Provider             string
	Model                string
	Feature              string
	PromptTokens         int
	ResponseTokens       int
	ReasoningTokens      int
	AudioDurationSeconds float64
	Identifier           string // empty if not tied to a source item
}

// InsertUsageRecord appends one usage row. Usage records are append-only
// and never updated or deduplicated.
func (s *Store) InsertUsageRecord(ctx context.Context, rec UsageRecord) error {
	var identifier interface{}
	if rec.Identifier != "" {
		identifier = rec.Identifier
	}
	var audioDuration interface{}
	if rec.AudioDurationSeconds > 0 {
		audioDuration = rec.AudioDurationSeconds
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_records (
			provider, model, feature, prompt_tokens, response_tokens,
			reasoning_tokens, audio_duration_seconds, identifier
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.Provider, rec.Model, rec.Feature, rec.PromptTokens, rec.ResponseTokens,
		rec.ReasoningTokens, audioDuration, identifier)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}
