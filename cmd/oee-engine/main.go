package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/sebastiankruger/shopfloor-oee/internal/config"
	"github.com/sebastiankruger/shopfloor-oee/internal/counter"
	"github.com/sebastiankruger/shopfloor-oee/internal/errors"
	"github.com/sebastiankruger/shopfloor-oee/internal/events"
	"github.com/sebastiankruger/shopfloor-oee/internal/health"
	"github.com/sebastiankruger/shopfloor-oee/internal/logger"
	"github.com/sebastiankruger/shopfloor-oee/internal/metrics"
	"github.com/sebastiankruger/shopfloor-oee/internal/monitor"
	"github.com/sebastiankruger/shopfloor-oee/internal/notify"
	"github.com/sebastiankruger/shopfloor-oee/internal/opcua"
	"github.com/sebastiankruger/shopfloor-oee/internal/resource"
	"github.com/sebastiankruger/shopfloor-oee/internal/schedule"
	"github.com/sebastiankruger/shopfloor-oee/internal/stoppage"
	"github.com/sebastiankruger/shopfloor-oee/internal/store"
	"github.com/sebastiankruger/shopfloor-oee/internal/workorder"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the configuration file")
	pflag.Parse()

	logger.Init("info", "console")

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
		}
	}()

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	log.Info().
		Int("devices", len(cfg.Devices)).
		Str("counterSource", cfg.Counter.Source).
		Str("store", cfg.Store.Path).
		Dur("interval", cfg.Monitor.Interval).
		Msg("Configuration loaded")

	if _, err := resource.FromConfig(cfg.Lines, cfg.Devices); err != nil {
		log.Fatal().Err(err).Msg("Invalid resource hierarchy")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, loader, cfg); err != nil {
		log.Error().Err(err).Msg("Engine stopped with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, loader *config.Loader, cfg *config.Config) error {
	rt := config.NewRuntime(cfg)
	loader.Watch(rt)

	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SeedTaxonomy(ctx, stoppage.DefaultTaxonomy()); err != nil {
		return err
	}
	taxonomy, err := st.LoadTaxonomy(ctx)
	if err != nil {
		return err
	}

	counters, closeCounters, err := openCounterSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCounters()

	gateway, err := schedule.NewGateway(schedule.Config{
		URL:                   cfg.Schedule.URL,
		Timeout:               cfg.Schedule.Timeout,
		DefaultAvailability:   cfg.Schedule.DefaultAvailability,
		DefaultOperatingHours: cfg.Schedule.DefaultOperatingHours,
		ShiftModel:            cfg.Schedule.ShiftModel,
		Timezone:              cfg.Schedule.Timezone,
		DayStart:              cfg.Schedule.DayStart,
	})
	if err != nil {
		return err
	}

	registry := events.NewRegistry()
	notify.RegisterLog(registry)
	if cfg.Notify.WebhookURL != "" {
		notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.Timeout).Register(registry)
		log.Info().Str("url", cfg.Notify.WebhookURL).Msg("Webhook notifications enabled")
	}

	queue := events.NewQueue(cfg.Notify.QueueSize)
	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		queue.Run(context.Background(), registry)
	}()

	stoppages := stoppage.NewService(taxonomy, st.Stoppages(), st.JobIssues(), queue,
		stoppage.WithMaxRetries(cfg.Concurrency.MaxRetries))
	orders := workorder.NewService(st.WorkOrders(), queue,
		workorder.WithMaxRetries(cfg.Concurrency.MaxRetries),
		workorder.WithCompletionObserver(stoppages))

	var calcOpts []metrics.Option
	var monOpts []monitor.Option

	cache, closeCache := openCache(ctx, cfg)
	defer closeCache()
	calcOpts = append(calcOpts, metrics.WithCache(cache))

	var opcuaServer *opcua.Server
	if cfg.OPCUA.Enabled {
		opcuaServer = opcua.NewServer(opcua.Config{
			Port:   cfg.OPCUA.Port,
			Name:   cfg.OPCUA.Name,
			PKIDir: cfg.OPCUA.PKIDir,
		})
		for _, d := range cfg.Devices {
			opcuaServer.AddDevice(d.ID)
		}
		if err := opcuaServer.Start(ctx); err != nil {
			return err
		}
		calcOpts = append(calcOpts, metrics.WithSink(opcuaServer))
		monOpts = append(monOpts, monitor.WithObserver(opcuaServer))
	}

	calc := metrics.NewCalculator(counters, gateway, stoppages, rt, calcOpts...)
	monOpts = append(monOpts, monitor.WithMetrics(calc, cfg.Monitor.MetricsInterval, cfg.Monitor.MetricsPeriod))

	mon := monitor.New(rt, counters, stoppages, orders, monOpts...)
	mon.Start(ctx)

	healthHandler := health.NewHandler(5 * time.Second)
	healthHandler.AddCheck("store", st.Ping)
	healthHandler.AddCheck("monitor", func(context.Context) error {
		if !mon.Running() {
			return errors.New().WithMessage(errors.ErrInternal, "monitor is not running")
		}
		return nil
	})
	if p, ok := counters.(interface{ Ping(context.Context) error }); ok {
		healthHandler.AddCheck("counter_source", p.Ping)
	}

	mux := http.NewServeMux()
	healthHandler.Routes(mux)

	healthServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Health.Port).Msg("Starting health server")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Health server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	mon.Stop()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Health server shutdown error")
	}
	if opcuaServer != nil {
		if err := opcuaServer.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("OPC UA server shutdown error")
		}
	}

	queue.Close()
	select {
	case <-queueDone:
	case <-shutdownCtx.Done():
		log.Warn().Int("pending", queue.Len()).Msg("Outbound events not delivered before shutdown")
	}
	if n := queue.Dropped(); n > 0 {
		log.Warn().Int64("dropped", n).Msg("Outbound events were dropped")
	}

	log.Info().Msg("Engine stopped")
	return nil
}

// openCounterSource builds the configured counter source and its cleanup.
func openCounterSource(ctx context.Context, cfg *config.Config) (counter.Source, func(), error) {
	switch cfg.Counter.Source {
	case "postgres":
		src, err := counter.NewPostgresSource(ctx, cfg.Counter.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil

	case "simulated":
		devices := make([]counter.SimulatedDevice, 0, len(cfg.Devices))
		for _, d := range cfg.Devices {
			devices = append(devices, counter.SimulatedDevice{
				DeviceID:            d.ID,
				ProductionChannel:   d.ProductionChannel,
				RejectChannel:       d.Rejects(),
				TargetRatePerMinute: d.TargetRatePerMinute,
				ScrapRate:           d.Simulation.ScrapRate,
				StopProbability:     d.Simulation.StopProbability,
				MeanStopDuration:    d.Simulation.MeanStopDuration,
				RateNoisePercent:    d.Simulation.RateNoisePercent,
			})
		}
		sim := counter.NewSimulator(devices, cfg.Counter.SimulationSeed)
		simCtx, cancel := context.WithCancel(ctx)
		go sim.Run(simCtx, cfg.Counter.SimulationInterval)

		log.Info().Int("devices", len(devices)).Msg("Simulated counter source running")
		return sim, cancel, nil

	default:
		log.Info().Str("source", "memory").Msg("Counter data source ready")
		return counter.NewMemorySource(), func() {}, nil
	}
}

// openCache returns the Redis cache when configured and reachable, and the
// in-process cache otherwise.
func openCache(ctx context.Context, cfg *config.Config) (metrics.Cache, func()) {
	if cfg.Cache.RedisAddr == "" {
		return metrics.NewMemoryCache(), func() {}
	}

	rc := metrics.NewRedisCache(metrics.RedisOptions{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
		TTL:      cfg.Cache.TTL,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("Redis unavailable, caching results in memory")
		rc.Close()
		return metrics.NewMemoryCache(), func() {}
	}

	log.Info().Str("addr", cfg.Cache.RedisAddr).Msg("Caching latest results in Redis")
	return rc, func() { rc.Close() }
}
