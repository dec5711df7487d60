package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/bucket"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/cache/recordstore"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/config"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/health"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/observability"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/server"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/events"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/fetch"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/hotness/expdecay"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/logger"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/metrics"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/provider"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/provider/openmeteo"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/provider/openweather"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/refresh"
	"github.com/mohammed-shakir/weather-bucket-cache/internal/weather"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()
	// a missing file is fine; real environment variables win
	_ = godotenv.Load(*envFile)

	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "weathercache",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mp := metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(mp.Registerer(), cfg.Metrics.Enabled)
	observability.ExposeBuildInfo(Version)
	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		go func() {
			if err := mp.Serve(ctx, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	}

	appLog.Info("starting weathercache",
		"addr", cfg.Addr,
		"version", Version,
		"store", cfg.Store.Driver,
		"provider", cfg.Upstream.Provider,
		"bucket_scheme", cfg.Bucket.Scheme)

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		appLog.Error("store setup failed", "err", err)
		return 1
	}
	defer closeStore()

	bucketer, err := bucket.New(cfg.Bucket.Scheme, cfg.Bucket.Precision, cfg.Bucket.H3Res)
	if err != nil {
		appLog.Error("bucketer setup failed", "err", err)
		return 1
	}

	upstream, err := newProvider(cfg.Upstream)
	if err != nil {
		appLog.Error("provider setup failed", "err", err)
		return 1
	}

	var pub events.Publisher = events.Noop{}
	if cfg.Kafka.EventsEnabled {
		k, err := events.NewKafka(cfg.Kafka.BrokerList(), cfg.Kafka.EventsTopic, 0, appLog)
		if err != nil {
			appLog.Error("event publisher setup failed", "err", err)
			return 1
		}
		pub = k
	}
	defer func() { _ = pub.Close() }()

	hot := expdecay.New(cfg.HotHalfLife)

	coord := fetch.New(store, upstream, fetch.Options{
		Timeout: cfg.Upstream.Timeout,
		Events:  pub,
		Logger:  appLog.With("component", "fetch"),
	})

	sched, err := refresh.New(store, upstream, refresh.Options{
		Interval:    cfg.Refresh.Interval,
		Concurrency: cfg.Refresh.Concurrency,
		Timeout:     cfg.Upstream.Timeout,
		RunOnStart:  cfg.Refresh.OnStart,
		Ranker:      hot,
		Events:      pub,
		Logger:      appLog.With("component", "refresh"),
	})
	if err != nil {
		appLog.Error("refresh scheduler setup failed", "err", err)
		return 1
	}
	if err := sched.Start(ctx); err != nil {
		appLog.Error("refresh scheduler start failed", "err", err)
		return 1
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			appLog.Warn("refresh scheduler stop", "err", err)
		}
	}()

	if cfg.Kafka.InvalidationEnabled {
		czl := zl.With().Str("component", "kafka_consumer").Logger()
		cons := kafkaconsumer.New(kafkaconsumer.Config{
			Brokers:             cfg.Kafka.BrokerList(),
			Topic:               cfg.Kafka.RefreshTopic,
			GroupID:             cfg.Kafka.GroupID,
			InitialOffsetOldest: false,
			DedupeWindow:        cfg.Kafka.DedupeWindow,
		}, appLog.With("component", "kafka_consumer"), sched, bucketer, &czl)
		go func() {
			if err := cons.Start(ctx); err != nil {
				appLog.Error("kafka refresh consumer exited", "err", err)
			}
		}()
	}

	svc := weather.New(bucketer, store, coord, weather.Options{
		RetryAfter: cfg.WaitRetry,
		Tracker:    hot,
		Logger:     appLog.With("component", "weather"),
	})

	deps := server.Deps{
		Weather: svc,
		Ready:   map[string]health.Check{},
	}
	if p, ok := store.(recordstore.Pinger); ok {
		deps.Ready["store"] = p.Ping
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		deps.Metrics = mp.Handler()
	}

	if err := server.Run(ctx, cfg.Addr, appLog, server.NewHandler(appLog, deps)); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

type closer func()

func openStore(ctx context.Context, cfg config.StoreCfg) (recordstore.Store, closer, error) {
	var (
		base recordstore.Store
		done closer
	)
	switch cfg.Driver {
	case "redis":
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		c, err := redisstore.New(dialCtx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		r := recordstore.NewRedis(c, cfg.KeyPrefix)
		base, done = r, func() { _ = r.Close() }
	case "postgres":
		p, err := recordstore.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		base, done = p, func() { _ = p.Close() }
	case "memory":
		m := recordstore.NewMemory()
		base, done = m, func() { _ = m.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q (want redis|postgres|memory)", cfg.Driver)
	}

	store := recordstore.WithTimeout(base, cfg.OpTimeout)
	if cfg.LocalSize > 0 {
		local, err := recordstore.WithLocal(store, cfg.LocalSize)
		if err != nil {
			done()
			return nil, nil, err
		}
		store = local
	}
	return store, done, nil
}

func newProvider(cfg config.UpstreamCfg) (provider.Client, error) {
	switch cfg.Provider {
	case openweather.Name, "":
		if cfg.APIKey == "" {
			return nil, errors.New("UPSTREAM_API_KEY is required for openweather")
		}
		return openweather.New(httpclient.NewOutbound(cfg.Timeout), openweather.Config{
			URL:         cfg.URL,
			APIKey:      cfg.APIKey,
			Units:       cfg.Units,
			Lang:        cfg.Lang,
			MaxFailures: cfg.BreakerMaxFailures,
			OpenTimeout: cfg.BreakerOpenTimeout,
		}), nil
	case openmeteo.Name:
		return openmeteo.New(cfg.URL, cfg.Units)
	default:
		return nil, fmt.Errorf("unknown provider %q (want openweather|openmeteo)", cfg.Provider)
	}
}
