package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/groblegark/hookrelay/internal/archive"
	"github.com/groblegark/hookrelay/internal/auth"
	"github.com/groblegark/hookrelay/internal/backoff"
	"github.com/groblegark/hookrelay/internal/config"
	"github.com/groblegark/hookrelay/internal/genesys"
	"github.com/groblegark/hookrelay/internal/metrics"
	"github.com/groblegark/hookrelay/internal/queue"
	"github.com/groblegark/hookrelay/internal/relay"
	"github.com/groblegark/hookrelay/internal/ship"
	"github.com/groblegark/hookrelay/internal/sink"
	"github.com/groblegark/hookrelay/internal/status"
	"github.com/groblegark/hookrelay/internal/stream"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the relay until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reg := metrics.New()

		transport, topics, err := buildStream(cfg, logger)
		if err != nil {
			return err
		}

		bulk, cleanup, err := buildSink(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		var deadLetter archive.DeadLetter
		if cfg.ArchiveS3Bucket != "" {
			s3, err := archive.NewS3(ctx, cfg.ArchiveS3Bucket, cfg.ArchiveS3Prefix, cfg.ArchiveS3Region, cfg.ArchiveS3Endpoint)
			if err != nil {
				logger.Error("failed to create dead letter archive, continuing without", "error", err)
			} else {
				deadLetter = s3
				logger.Info("dead letter archive enabled", "bucket", cfg.ArchiveS3Bucket, "prefix", cfg.ArchiveS3Prefix)
			}
		}

		policy := backoff.Policy{Base: cfg.RetryBase, Cap: cfg.RetryCap}
		q := queue.New(cfg.QueueCapacity, cfg.EnqueueWait, reg)
		shipper := ship.New(q, bulk, deadLetter, policy, ship.Config{
			MaxDocs:     cfg.BulkMaxDocs,
			MaxBytes:    cfg.BulkMaxBytes,
			MaxInterval: cfg.BulkMaxInterval,
			Concurrency: cfg.BulkConcurrency,
			MaxRetries:  cfg.MaxRetries,
		}, reg, logger)
		manager := stream.NewManager(transport, buildAuth(cfg), topics, policy, stream.ManagerConfig{
			SubscribeTimeout: cfg.SubscribeTimeout,
			ReadTimeout:      cfg.ReadTimeout,
			Stability:        cfg.StabilityThreshold,
		}, reg, logger)

		var statusSrv *status.Server
		if cfg.StatusAddr != "" {
			statusSrv = status.NewServer(cfg.StatusAddr, reg, logger)
			statusSrv.Start()
		}

		logger.Info("relay started", "transport", cfg.Transport, "sink", cfg.Sink)
		runErr := relay.New(manager, q, shipper, reg, cfg.ShutdownTimeout, logger).Run(ctx)

		if statusSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := statusSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("status server shutdown", "error", err)
			}
		}
		return runErr
	},
}

// buildAuth returns the credential provider for the configured transport. The
// NATS transport has no control plane, so a static empty header suffices.
func buildAuth(cfg *config.Config) auth.Provider {
	if cfg.Transport == "genesys" {
		return auth.NewClientCredentials(cfg.Region, cfg.ClientID, cfg.ClientSecret)
	}
	return auth.Static("")
}

// buildStream assembles the transport and topic source pair.
func buildStream(cfg *config.Config, logger *slog.Logger) (stream.Transport, genesys.TopicSource, error) {
	switch cfg.Transport {
	case "genesys":
		client := genesys.NewClient(cfg.Region, buildAuth(cfg))
		topics, err := buildTopicSource(cfg, client, logger)
		if err != nil {
			return nil, nil, err
		}
		return stream.NewGenesysTransport(client, logger), topics, nil
	case "nats":
		topics := cfg.Topics
		if len(topics) == 0 {
			topics = cfg.FallbackTopics
		}
		return stream.NewNATSTransport(cfg.NATSURL, logger), genesys.StaticTopics(topics), nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// buildTopicSource prefers an explicit topic list; otherwise discovery against
// the available-topics API, falling back to the configured static set.
func buildTopicSource(cfg *config.Config, client *genesys.Client, logger *slog.Logger) (genesys.TopicSource, error) {
	if len(cfg.Topics) > 0 {
		return genesys.StaticTopics(cfg.Topics), nil
	}
	if cfg.AutoDiscover {
		return genesys.NewDiscoveredTopics(client, cfg.TopicInclude, cfg.TopicExclude, cfg.FallbackTopics, logger)
	}
	return genesys.StaticTopics(cfg.FallbackTopics), nil
}

// buildSink returns the bulk sink and a cleanup for its resources.
func buildSink(ctx context.Context, cfg *config.Config) (sink.BulkSink, func(), error) {
	switch cfg.Sink {
	case "elastic":
		return sink.NewElastic(cfg.ElasticURL, cfg.ElasticAuth, cfg.ElasticIndex, cfg.ElasticDatastream), func() {}, nil
	case "postgres":
		pg, err := sink.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, func() { pg.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown sink %q", cfg.Sink)
	}
}
