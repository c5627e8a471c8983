package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DinhLiu/arXiv-Crawler/internal/apiclient"
	"github.com/DinhLiu/arXiv-Crawler/internal/arxiv"
	"github.com/DinhLiu/arXiv-Crawler/internal/config"
	"github.com/DinhLiu/arXiv-Crawler/internal/harvest"
	"github.com/DinhLiu/arXiv-Crawler/internal/ident"
	"github.com/DinhLiu/arXiv-Crawler/internal/ledger"
	"github.com/DinhLiu/arXiv-Crawler/internal/logging"
	"github.com/DinhLiu/arXiv-Crawler/internal/monitor"
	"github.com/DinhLiu/arXiv-Crawler/internal/opsserver"
	"github.com/DinhLiu/arXiv-Crawler/internal/output"
	"github.com/DinhLiu/arXiv-Crawler/internal/publisher"
	pubsubpub "github.com/DinhLiu/arXiv-Crawler/internal/publisher/pubsub"
	"github.com/DinhLiu/arXiv-Crawler/internal/sanitize"
	"github.com/DinhLiu/arXiv-Crawler/internal/scholar"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Run the harvest over the configured identifier range",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return runHarvest(cmd.Context(), cfg)
	},
}

const userAgent = "arxiv-harvester/0.1"

// completionEvent is the payload published per finished job.
type completionEvent struct {
	RunID      string   `json:"run_id"`
	PaperID    string   `json:"paper_id"`
	Status     string   `json:"status"`
	Stages     []string `json:"failed_stages,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

func runHarvest(parent context.Context, cfg config.Config) error {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ids, err := ident.Range(cfg.Harvest.YearMonth, cfg.Harvest.First, cfg.Harvest.Last)
	if err != nil {
		return err
	}

	pool, cleanup, err := buildPool(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.Ops.Port > 0 {
		ops := opsserver.New(cfg.Ops.Port, logger.Named("ops"))
		go func() {
			if err := ops.Run(ctx); err != nil {
				logger.Warn("ops server stopped", zap.Error(err))
			}
		}()
	}

	runID := uuid.New()
	logger.Info("harvest starting",
		zap.String("run_id", runID.String()),
		zap.String("year_month", cfg.Harvest.YearMonth),
		zap.Int("first", cfg.Harvest.First),
		zap.Int("last", cfg.Harvest.Last),
		zap.Int("papers", len(ids)),
		zap.Int("workers", cfg.Harvest.Workers),
	)

	outcomes := pool.Run(ctx, ids, cfg.Harvest.Workers)

	summary := harvest.Summarize(outcomes)
	logger.Info("harvest finished",
		zap.String("run_id", runID.String()),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("partial", summary.Partial),
		zap.Int("failed", summary.Failed),
	)

	if err := recordRun(ctx, cfg, runID, outcomes, logger); err != nil {
		return err
	}
	return nil
}

// buildPool wires the worker pool from config. The returned cleanup releases
// any cloud clients.
func buildPool(ctx context.Context, cfg config.Config, logger *zap.Logger) (*harvest.Pool, func(), error) {
	cleanup := func() {}

	var (
		store output.BlobStore
		root  string
	)
	switch cfg.Output.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create storage client: %w", err)
		}
		store, err = output.NewGCSStore(client, cfg.Output.GCSBucket, cfg.Output.GCSPrefix)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() {
			_ = client.Close()
		}
	default:
		fsStore, err := output.NewFSStore(cfg.Output.Root)
		if err != nil {
			return nil, nil, err
		}
		store = fsStore
		root = fsStore.Root()
	}

	pool := &harvest.Pool{
		NewClients: newClientFactory(cfg, logger),
		San:        sanitize.New(cfg.Harvest.KeepExtensions),
		Output:     output.NewManager(store, logger.Named("output")),
		Logger:     logger,
	}

	// Resource monitoring writes JSONL next to the papers, so it only runs
	// against the filesystem backend.
	if cfg.Monitor.Enabled && root != "" {
		sampler, err := monitor.NewSampler(root, cfg.MonitorInterval(), logger.Named("monitor"))
		if err != nil {
			return nil, nil, err
		}
		pool.Monitor = sampler
		pool.DirSize = func(id ident.ID) int64 {
			return monitor.DirectorySize(filepath.Join(root, id.DirName()))
		}
	}

	return pool, cleanup, nil
}

// newClientFactory returns the per-worker client constructor. Every worker
// gets fresh rate-limiter state for both upstreams.
func newClientFactory(cfg config.Config, logger *zap.Logger) func() harvest.ClientSet {
	return func() harvest.ClientSet {
		arxivAPI := apiclient.New(apiclient.Config{
			MinInterval: cfg.ArXivDelay(),
			MaxAttempts: cfg.ArXiv.MaxAttempts,
			Backoff:     cfg.ArXivBackoff(),
			UserAgent:   userAgent,
		}, apiclient.WithLogger(logger.Named("arxiv")))

		scholarAPI := apiclient.New(apiclient.Config{
			MinInterval:       cfg.ScholarDelay(),
			MaxAttempts:       cfg.Scholar.MaxAttempts,
			RateLimitCooldown: cfg.ScholarCooldown(),
			UserAgent:         userAgent,
		}, apiclient.WithLogger(logger.Named("scholar")))

		return harvest.ClientSet{
			Meta: arxiv.New(arxivAPI, arxiv.WithLogger(logger.Named("arxiv"))),
			Refs: scholar.New(scholarAPI,
				scholar.WithAPIKey(cfg.Scholar.APIKey),
				scholar.WithLogger(logger.Named("scholar")),
			),
		}
	}
}

// recordRun persists outcomes to the optional ledger and publishes the
// optional completion events.
func recordRun(
	ctx context.Context,
	cfg config.Config,
	runID uuid.UUID,
	outcomes []harvest.Outcome,
	logger *zap.Logger,
) error {
	if cfg.DB.DSN != "" {
		led, err := ledger.Open(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer led.Close()
		for _, o := range outcomes {
			if err := led.RecordOutcome(ctx, runID, o); err != nil {
				logger.Warn("ledger insert failed",
					zap.String("paper", o.ID.DirName()),
					zap.Error(err),
				)
			}
		}
	}

	if cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		defer func() {
			_ = client.Close()
		}()
		topic := client.Topic(cfg.PubSub.TopicName)
		defer topic.Stop()

		var pub publisher.Publisher = pubsubpub.New(topic)
		for _, o := range outcomes {
			event := completionEvent{
				RunID:      runID.String(),
				PaperID:    o.ID.DirName(),
				Status:     string(o.Status),
				Stages:     o.FailedStages(),
				DurationMS: o.Duration.Milliseconds(),
			}
			if _, err := pub.Publish(ctx, cfg.PubSub.TopicName, event); err != nil {
				logger.Warn("completion publish failed",
					zap.String("paper", o.ID.DirName()),
					zap.Error(err),
				)
			}
		}
	}

	return nil
}
