// Command audiostreamd runs the ingest/broadcast/transcribe/summarize/publish
// daemon: one process, wired the way the teacher's flat main.go wires
// radio.NewServer, extended with the explicit shutdown sequence the
// persistent queue and background job engine require (§2, §5).
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"audiostreamd/config"
	"audiostreamd/internal/api"
	"audiostreamd/internal/cache"
	"audiostreamd/internal/capture"
	"audiostreamd/internal/extractor"
	"audiostreamd/internal/ingest"
	"audiostreamd/internal/jobs"
	"audiostreamd/internal/pipeline"
	"audiostreamd/internal/providers"
	"audiostreamd/internal/singleton"
	"audiostreamd/internal/store"
	"audiostreamd/internal/transcoder"

	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("audiostreamd exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("audiostreamd stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting audiostreamd",
		"port", cfg.Port,
		"extractor", cfg.ExtractorBin,
		"transcoder", cfg.TranscoderBin,
	)

	// The pool is wrapped in a Lazy singleton (§4.9) so every caller that
	// might need it — including future command handlers added to
	// internal/api — shares exactly one pgxpool.Pool and one shutdown path,
	// rather than each holding its own *store.Store reference.
	pool := singleton.New(func() (*store.Store, error) {
		return store.Open(ctx, store.Config{
			DSN:                 cfg.DatabaseURL,
			MaxConnections:      cfg.DBMaxConnections,
			MinConnections:      cfg.DBMinConnections,
			MaxConnLifetime:     cfg.DBMaxConnLifetime,
			MaxConnIdleTime:     cfg.DBMaxConnIdleTime,
			HealthCheckInterval: cfg.DBHealthCheckPeriod,
			AcquireTimeout:      cfg.DBAcquireTimeout,
		})
	}, func(s *store.Store) error {
		s.Close()
		return nil
	})

	st, err := pool.Get()
	if err != nil {
		return err
	}
	// Closed only after every goroutine below has stopped touching it, so
	// the close happens after the errgroup returns, not via defer here.

	captureStore, err := capture.NewStore(cfg.CaptureDir, cfg.CaptureExt, cfg.CaptureRetention)
	if err != nil {
		pool.Close()
		return err
	}

	transcriptCache, err := cache.NewJSONCache(cfg.CacheDir + "/transcripts")
	if err != nil {
		pool.Close()
		return err
	}
	summaryCache, err := cache.NewJSONCache(cfg.CacheDir + "/summaries")
	if err != nil {
		pool.Close()
		return err
	}
	backupSink, err := pipeline.NewFileBackupSink(cfg.BackupDir)
	if err != nil {
		pool.Close()
		return err
	}

	transcriptionClient := providers.NewTranscriptionClient(cfg.TranscriptionURL, cfg.TranscriptionAPIKey, cfg.TranscribeTimeout)
	summarizationClient := providers.NewSummarizationClient(cfg.SummarizationURL, cfg.SummarizationAPIKey, cfg.SummarizeTimeout)
	noteStoreClient := providers.NewNoteStoreClient(cfg.NoteStoreURL, cfg.NoteStoreAPIKey, cfg.PublishTimeout)

	stages := &pipeline.Stages{
		Transcriber:     transcriptionClient,
		Summarizer:      summarizationClient,
		NoteStore:       noteStoreClient,
		BackupSink:      backupSink,
		UsageRecorder:   st,
		SourceLookup:    pipeline.StoreSourceLookup{Store: st},
		Capture:         captureStore,
		TranscriptCache: transcriptCache,
		SummaryCache:    summaryCache,
		Log:             slog.Default(),
	}

	retryPolicy := jobs.DefaultRetryPolicy()
	retryPolicy.MaxAttempts = cfg.JobRetryMaxAttempts
	jobEngine := jobs.New(stages, 256, retryPolicy, slog.Default())

	rawExtractor := extractor.New(cfg.ExtractorBin)
	dedupingExtractor := extractor.NewDeduping(rawExtractor)

	supervisor := ingest.New(
		dedupingExtractor,
		transcoder.Config{Binary: cfg.TranscoderBin},
		captureStore,
		st,
		st,
		jobEngine,
		ingest.Config{
			ChunkSize:                cfg.ChunkSize,
			StopGracePeriod:          cfg.IngestGracePeriod,
			PreFetchThresholdSeconds: float64(cfg.PreFetchThresholdSeconds),
			PostProcessingEnabled:    true,
			ReplayChunks:             cfg.ReplayBufferChunks,
			SubscriptionQueueDepth:   cfg.ClientQueueDepth,
		},
		slog.Default(),
	)

	svc := &api.Service{
		Supervisor: supervisor,
		Store:      st,
		Jobs:       jobEngine,
		Capture:    captureStore,
		Extractor:  dedupingExtractor,
	}
	server := api.NewServer(":"+cfg.Port, svc)

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return server.Start(gctx)
	})

	group.Go(func() error {
		return jobEngine.Run(gctx)
	})

	group.Go(func() error {
		return runRetentionChecker(gctx, captureStore)
	})

	err = group.Wait()

	slog.Info("shutdown sequence: stopping active ingest")
	supervisor.Stop()

	slog.Info("shutdown sequence: closing store")
	pool.Close()

	// A shutdown triggered by the parent context (SIGINT/SIGTERM) surfaces
	// as context.Canceled from whichever goroutine noticed first — that's
	// the expected graceful path, not a failure worth a nonzero exit.
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// runRetentionChecker periodically enforces the capture-directory retention
// policy (§4.8) in the background, the scheduler-style counterpart to the
// job engine and HTTP server the rest of the process coordinates through
// the same errgroup.
func runRetentionChecker(ctx context.Context, captureStore *capture.Store) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			captureStore.EnforceRetentionAsync()
		}
	}
}
