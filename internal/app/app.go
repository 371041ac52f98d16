package app

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/price-summarizer/internal/config"
	"github.com/yungbote/price-summarizer/internal/convert"
	"github.com/yungbote/price-summarizer/internal/data/db"
	httpserver "github.com/yungbote/price-summarizer/internal/http"
	"github.com/yungbote/price-summarizer/internal/observability"
	"github.com/yungbote/price-summarizer/internal/platform/gcp"
	"github.com/yungbote/price-summarizer/internal/platform/logger"
	"github.com/yungbote/price-summarizer/internal/queue"
)

const serviceName = "price-summarizer"

type App struct {
	Log    *logger.Logger
	Config *config.Config

	metrics      *observability.Metrics
	bucket       gcp.BucketService
	rdb          *goredis.Client
	ledger       *db.Service
	converter    *convert.Converter
	server       *httpserver.Server
	consumer     *queue.Consumer
	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &App{Log: log, Config: cfg}
	a.otelShutdown = observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: serviceName,
		Environment: cfg.Env,
	})
	a.metrics = observability.Init(log)

	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	log, cfg := a.Log, a.Config

	log.Info("Wiring object storage...")
	bucket, err := resolveBucketService(ctx, log, cfg.Storage)
	if err != nil {
		return err
	}
	a.bucket = bucket

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		return err
	}
	a.rdb, a.ledger = clients.Redis, clients.Ledger

	conv, err := wireConverter(log, cfg, bucket, clients, a.metrics)
	if err != nil {
		return err
	}
	a.converter = conv

	server, err := wireServer(log, cfg, conv, clients, a.metrics)
	if err != nil {
		return err
	}
	a.server = server

	if cfg.Queue.URL != "" {
		log.Info("Wiring queue consumer...", "queue", cfg.Queue.Queue)
		consumer, err := queue.NewConsumer(log, queue.Config{
			URL:           cfg.Queue.URL,
			Queue:         cfg.Queue.Queue,
			ConsumerTag:   cfg.Queue.ConsumerTag,
			Prefetch:      cfg.Queue.Prefetch,
			QueueType:     cfg.Queue.Type,
			MaxDeliveries: cfg.Queue.MaxDeliveries,
			RequeueDelay:  cfg.Queue.RequeueDelay.Duration,
		}, conv, a.metrics)
		if err != nil {
			return fmt.Errorf("init queue consumer: %w", err)
		}
		a.consumer = consumer
	}
	return nil
}

// Run serves HTTP and, when configured, consumes the queue until ctx ends.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.server == nil {
		return errors.New("app not initialized")
	}
	if a.ledger != nil {
		a.metrics.StartDBCollector(ctx, a.Log, a.ledger.DB())
	}
	if a.rdb != nil {
		a.metrics.StartRedisCollector(ctx, a.Log, a.rdb)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Run(gctx) })
	if a.consumer != nil {
		g.Go(func() error { return a.consumer.Run(gctx) })
	}
	return g.Wait()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.bucket != nil {
		_ = a.bucket.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.ledger != nil {
		_ = a.ledger.Close()
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(context.Background()); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
