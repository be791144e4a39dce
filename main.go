package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"liqflow/config"
	"liqflow/internal/channel"
	"liqflow/internal/dashboard"
	"liqflow/internal/metrics"
	"liqflow/internal/reader"
	"liqflow/internal/reader/binance"
	"liqflow/internal/reader/bitmex"
	"liqflow/internal/reader/bybit"
	"liqflow/internal/reader/htx"
	"liqflow/internal/reader/okx"
	"liqflow/internal/store"
	"liqflow/internal/summary"
	"liqflow/internal/writer"
	"liqflow/logger"
)

const defaultConfigPath = "config/config.yml"

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	path := config.ResolveConfigPath(*configPath, defaultConfigPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": path}).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Liqflow.Name,
		"version":     cfg.Liqflow.Version,
		"environment": config.AppEnvironment(),
		"asset":       cfg.Asset,
	}).Info("starting liqflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reg *metrics.Registry
	if cfg.Metrics.Prometheus {
		reg = metrics.NewRegistry()
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to open event store")
		os.Exit(1)
	}
	defer closeStore()

	hub := channel.NewHub(st, cfg.Hub.SubscriberBuffer,
		channel.WithMetrics(reg),
		channel.WithStoreTimeout(cfg.Store.Timeout),
	)
	aggregator := summary.NewAggregator(st, hub, cfg.Summary.Timeframes)

	var wg sync.WaitGroup

	if cfg.Metrics.CloudWatch.Enabled {
		cw, err := metrics.NewCloudWatch(ctx, cfg.Metrics.CloudWatch, cfg.Metrics.ReportInterval)
		if err != nil {
			log.WithError(err).Error("failed to create cloudwatch publisher")
			os.Exit(1)
		}
		id := metrics.RegisterMetricHandler(cw.Handle)
		defer metrics.UnregisterMetricHandler(id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			cw.Run(ctx)
		}()
	}

	reporter := metrics.NewReporter(log, cfg.Metrics.ReportInterval, hub.Counters)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reporter.Run(ctx)
	}()

	var kafkaWriter *writer.KafkaWriter
	if cfg.Kafka.Enabled {
		kafkaWriter, err = writer.NewKafkaWriter(cfg.Kafka, hub)
		if err != nil {
			log.WithError(err).Error("failed to create kafka writer")
			os.Exit(1)
		}
		if err := kafkaWriter.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start kafka writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("kafka disabled; skipping writer")
	}

	promHTTP := metricsHandler(reg)
	server := dashboard.NewServer(cfg.Server, cfg.Asset, hub, aggregator, promHTTP, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Run(ctx); err != nil {
			log.WithError(err).Error("http server failed")
			cancel()
		}
	}()

	supervisor := reader.NewSupervisor(reader.Settings{
		ReconnectDelay:   cfg.Reader.ReconnectDelay,
		ReadTimeout:      cfg.Reader.ReadTimeout,
		HandshakeTimeout: cfg.Reader.HandshakeTimeout,
	}, hub, reg)
	if err := supervisor.Start(ctx, connectors(cfg)...); err != nil {
		log.WithError(err).Error("failed to start connectors")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping connectors")
	supervisor.Stop()

	if kafkaWriter != nil {
		log.Info("stopping kafka writer")
		kafkaWriter.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("liqflow stopped")
}

// connectors builds one connector per enabled source.
func connectors(cfg *config.Config) []reader.Connector {
	var out []reader.Connector
	if cfg.Source.Binance.Enabled {
		out = append(out, binance.New(cfg.Source.Binance, cfg.Asset, nil))
	}
	if cfg.Source.Okx.Enabled {
		out = append(out, okx.New(cfg.Source.Okx, cfg.Asset, nil))
	}
	if cfg.Source.Bybit.Enabled {
		out = append(out, bybit.New(cfg.Source.Bybit, cfg.Asset, nil))
	}
	if cfg.Source.Bitmex.Enabled {
		out = append(out, bitmex.New(cfg.Source.Bitmex, cfg.Asset, nil))
	}
	if cfg.Source.Htx.Enabled {
		out = append(out, htx.New(cfg.Source.Htx, cfg.Asset, nil))
	}
	return out
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Store.Backend != "redis" {
		return store.NewRing(cfg.Store.Capacity), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Store.Redis.Addr,
		Password: cfg.Store.Redis.Password,
		DB:       cfg.Store.Redis.DB,
	})
	rs := store.NewRedis(client, cfg.Store.Redis.Key, cfg.Store.Capacity)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Store.Timeout)
	defer cancel()
	if err := rs.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return rs, func() { _ = client.Close() }, nil
}

func metricsHandler(reg *metrics.Registry) http.Handler {
	if reg == nil {
		return nil
	}
	return reg.Handler()
}
