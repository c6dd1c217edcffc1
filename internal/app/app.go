// Package app builds the long-lived services named by the configuration and
// runs the ingest and admin flows on top of the task engine.
package app

import (
	"context"
	"fmt"
	"io"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/elastic-logger/internal/config"
	"github.com/JakeFAU/elastic-logger/internal/engine"
	"github.com/JakeFAU/elastic-logger/internal/logging"
	"github.com/JakeFAU/elastic-logger/internal/progress"
	"github.com/JakeFAU/elastic-logger/internal/progress/sinks"
	"github.com/JakeFAU/elastic-logger/internal/sink"
	"github.com/JakeFAU/elastic-logger/internal/sink/elastic"
	"github.com/JakeFAU/elastic-logger/internal/sink/gcs"
	sinkMemory "github.com/JakeFAU/elastic-logger/internal/sink/memory"
	"github.com/JakeFAU/elastic-logger/internal/sink/postgres"
	"github.com/JakeFAU/elastic-logger/internal/source"
	"github.com/JakeFAU/elastic-logger/internal/source/kafka"
	sourceMemory "github.com/JakeFAU/elastic-logger/internal/source/memory"
	"github.com/JakeFAU/elastic-logger/internal/source/pubsub"
)

// App holds the configuration and shared services for one CLI invocation.
type App struct {
	Config config.Config
	Logger *zap.Logger
	// Registerer receives the progress gauges; defaults to the global registry.
	Registerer prometheus.Registerer

	gaugesOnce sync.Once
	gauges     *sinks.PrometheusSink
	gaugesErr  error
}

// New builds an App and its logger from cfg.
func New(cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &App{
		Config:     cfg,
		Logger:     logger,
		Registerer: prometheus.DefaultRegisterer,
	}, nil
}

// NewSink opens the configured document store.
func (a *App) NewSink(ctx context.Context) (sink.Backend, error) {
	cfg := a.Config.Sink
	switch cfg.Provider {
	case config.ProviderElastic:
		a.Logger.Info("using elasticsearch sink", zap.String("index", cfg.Elastic.Index))
		s, err := elastic.New(elastic.Config{
			Addresses: cfg.Elastic.Addresses,
			Index:     cfg.Elastic.Index,
			Username:  cfg.Elastic.Username,
			Password:  cfg.Elastic.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize elastic sink: %w", err)
		}
		return s, nil
	case config.ProviderGCS:
		if cfg.GCS.Bucket == "" {
			return nil, fmt.Errorf("sink provider is 'gcs' but sink.gcs.bucket is not set")
		}
		a.Logger.Info("using GCS sink", zap.String("bucket", cfg.GCS.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		s, err := gcs.New(client, gcs.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to initialize gcs sink: %w", err)
		}
		return s, nil
	case config.ProviderPostgres:
		a.Logger.Info("connecting to PostgreSQL", zap.String("table", cfg.Postgres.Table))
		s, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres sink: %w", err)
		}
		return s, nil
	case config.ProviderMemory:
		a.Logger.Info("using in-memory sink; documents are discarded on exit")
		return sinkMemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown sink provider: %s", cfg.Provider)
	}
}

// NewSource opens the configured message stream.
func (a *App) NewSource(ctx context.Context) (source.Client, error) {
	if err := a.Config.ValidateSource(); err != nil {
		return nil, err
	}
	cfg := a.Config.Source
	switch cfg.Provider {
	case config.ProviderKafka:
		a.Logger.Info("using kafka source",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
			zap.String("group", cfg.Kafka.Group))
		s, err := kafka.New(kafka.Config{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			GroupID:     cfg.Kafka.Group,
			BatchSize:   cfg.BatchSize,
			PollTimeout: cfg.Kafka.PollTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize kafka source: %w", err)
		}
		return s, nil
	case config.ProviderPubSub:
		a.Logger.Info("using pub/sub source", zap.String("subscription", cfg.PubSub.Subscription))
		var opts []option.ClientOption
		if cfg.PubSub.Endpoint != "" {
			opts = append(opts,
				option.WithEndpoint(cfg.PubSub.Endpoint),
				option.WithoutAuthentication(),
				option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		s, err := pubsub.New(ctx, pubsub.Config{
			ProjectID:      cfg.PubSub.ProjectID,
			SubscriptionID: cfg.PubSub.Subscription,
			BatchSize:      cfg.BatchSize,
			PollTimeout:    cfg.PubSub.PullTimeout,
		}, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize pubsub source: %w", err)
		}
		return s, nil
	case config.ProviderMemory:
		a.Logger.Info("using in-memory source; nothing will arrive unless records are added")
		return sourceMemory.New(cfg.BatchSize), nil
	default:
		return nil, fmt.Errorf("unknown source provider: %s", cfg.Provider)
	}
}

// NewEngine builds an engine that closes s on shutdown. When monitoring is
// enabled, progress goes to out as an in-place console line, to the debug
// log, and to Prometheus gauges.
func (a *App) NewEngine(s engine.Closer, out io.Writer) (*engine.Engine, error) {
	cfg := a.Config.Engine
	logger := a.Logger.Named("engine")
	opts := []engine.Option{engine.WithLogger(logger)}
	if cfg.Monitor {
		progressSinks := []progress.Sink{sinks.NewLogSink(logger.Named("progress"))}
		if out != nil {
			progressSinks = append(progressSinks, sinks.NewConsoleSink(out))
		}
		if a.Registerer != nil {
			gauges, err := a.progressGauges()
			if err != nil {
				return nil, fmt.Errorf("init progress metrics: %w", err)
			}
			progressSinks = append(progressSinks, gauges)
		}
		opts = append(opts, engine.WithProgressSink(progress.NewHub(progress.Config{Logger: logger}, progressSinks...)))
	}
	return engine.New(engine.Config{
		MaxTasks:        cfg.MaxTasks,
		Monitor:         cfg.Monitor,
		MonitorInterval: cfg.MonitorInterval,
		CloseTimeout:    cfg.CloseTimeout,
	}, s, opts...), nil
}

// progressGauges registers the progress collectors on first use; every
// engine built from a shares them.
func (a *App) progressGauges() (*sinks.PrometheusSink, error) {
	a.gaugesOnce.Do(func() {
		a.gauges, a.gaugesErr = sinks.NewPrometheusSink(a.Registerer)
	})
	return a.gauges, a.gaugesErr
}

// Close flushes the logger. It is called by a Cobra hook after the command
// finishes execution.
func (a *App) Close() {
	// Sync fails on terminals (ENOTTY/EINVAL); there is nowhere to report it.
	_ = a.Logger.Sync()
}
