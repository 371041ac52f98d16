package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/price-summarizer/internal/aggregate"
	"github.com/yungbote/price-summarizer/internal/chart"
	"github.com/yungbote/price-summarizer/internal/config"
	"github.com/yungbote/price-summarizer/internal/convert"
	"github.com/yungbote/price-summarizer/internal/data/db"
	runrepo "github.com/yungbote/price-summarizer/internal/data/repos/runs"
	httpserver "github.com/yungbote/price-summarizer/internal/http"
	httpH "github.com/yungbote/price-summarizer/internal/http/handlers"
	httpMW "github.com/yungbote/price-summarizer/internal/http/middleware"
	"github.com/yungbote/price-summarizer/internal/observability"
	"github.com/yungbote/price-summarizer/internal/platform/gcp"
	"github.com/yungbote/price-summarizer/internal/platform/logger"
	"github.com/yungbote/price-summarizer/internal/platform/redisx"
)

// Clients holds the optional backing services. Nil fields are disabled.
type Clients struct {
	Redis  *goredis.Client
	Ledger *db.Service
	Runs   runrepo.RunRepo
}

func wireClients(ctx context.Context, log *logger.Logger, cfg *config.Config) (Clients, error) {
	var out Clients
	if cfg.Redis.Addr != "" {
		log.Info("Connecting to redis...", "addr", cfg.Redis.Addr)
		rdb, err := redisx.NewClient(ctx, redisx.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return out, fmt.Errorf("init redis: %w", err)
		}
		out.Redis = rdb
	}
	if cfg.Database.Driver != "" {
		log.Info("Opening run ledger...", "driver", cfg.Database.Driver)
		svc, err := db.Open(ctx, log, db.Options{
			Driver:      cfg.Database.Driver,
			DSN:         cfg.Database.DSN,
			AutoMigrate: cfg.Database.AutoMigrate,
		})
		if err != nil {
			if out.Redis != nil {
				_ = out.Redis.Close()
			}
			return Clients{}, fmt.Errorf("init ledger: %w", err)
		}
		out.Ledger = svc
		out.Runs = runrepo.NewRunRepo(svc.DB(), log)
	}
	return out, nil
}

func wireConverter(log *logger.Logger, cfg *config.Config, bucket gcp.BucketService, clients Clients, metrics *observability.Metrics) (*convert.Converter, error) {
	delim, err := cfg.Convert.DelimiterRune()
	if err != nil {
		return nil, err
	}

	var renderer *chart.Renderer
	if cfg.Convert.RenderChart {
		renderer, err = chart.NewRenderer(chart.Options{FontPath: cfg.Convert.ChartFont})
		if err != nil {
			return nil, fmt.Errorf("init chart renderer: %w", err)
		}
	}

	deps := convert.Deps{Runs: clients.Runs, Metrics: metrics}
	if clients.Redis != nil {
		deps.Dedup = redisx.NewDeduper(log, clients.Redis, cfg.Redis.DedupTTL.Duration, cfg.Redis.Prefix)
	}

	return convert.New(log, bucket, convert.Config{
		Naming: convert.Naming{
			OutputBucket: cfg.Convert.OutputBucket,
			InputMarker:  cfg.Convert.InputMarker,
			OutputMarker: cfg.Convert.OutputMarker,
		},
		Aggregate: aggregate.Options{
			Delimiter:    delim,
			DecimalComma: cfg.Convert.DecimalComma,
			YearNames:    cfg.Convert.Columns.Year,
			BrandNames:   cfg.Convert.Columns.Brand,
			PriceNames:   cfg.Convert.Columns.Price,
		},
		TmpDir:  cfg.Convert.TmpDir,
		Timeout: cfg.Convert.Timeout.Duration,
		Chart:   renderer,
	}, deps)
}

func wireServer(log *logger.Logger, cfg *config.Config, conv *convert.Converter, clients Clients, metrics *observability.Metrics) (*httpserver.Server, error) {
	var auth *httpMW.AuthMiddleware
	if cfg.Auth.Enabled {
		am, err := httpMW.NewAuthMiddleware(log, httpMW.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Audience:   cfg.Auth.Audience,
			Issuer:     cfg.Auth.Issuer,
		})
		if err != nil {
			return nil, err
		}
		auth = am
	}

	checks := map[string]httpH.Check{}
	if clients.Redis != nil {
		rdb := clients.Redis
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	if clients.Ledger != nil {
		gdb := clients.Ledger.DB()
		checks["ledger"] = func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}

	return httpserver.NewServer(log, httpserver.ServerConfig{
		Addr:              cfg.HTTP.Addr,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout.Duration,
		IdleTimeout:       cfg.HTTP.IdleTimeout.Duration,
		ShutdownTimeout:   cfg.HTTP.ShutdownTimeout.Duration,
	}, httpserver.RouterConfig{
		Log:            log,
		ServiceName:    serviceName,
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		MaxBodySize:    cfg.HTTP.MaxRequestBytes,
		AuthMiddleware: auth,
		Metrics:        metrics,
		EventHandler:   httpH.NewEventHandler(log, conv),
		RunHandler:     httpH.NewRunHandler(clients.Runs),
		HealthHandler:  httpH.NewHealthHandler(checks),
	}), nil
}
