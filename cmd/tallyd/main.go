// Command tallyd serves reports over HTTP.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/ahrav/go-tally/infrastructure/metrics"
	"github.com/ahrav/go-tally/internal/api"
	"github.com/ahrav/go-tally/internal/application"
	"github.com/ahrav/go-tally/internal/logger"
)

func main() {
	envFile := flag.String("env", ".env", "Environment file to load if present")
	requestTimeout := flag.Duration("request-timeout", 2*time.Minute, "Upper bound for one report request")
	flag.Parse()

	log := logger.Get(logger.App)

	cfg, err := application.LoadServiceConfig(*envFile)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if err := logger.Init(cfg.Log); err != nil {
		log.WithError(err).Fatal("failed to initialise logging")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pm := metrics.NewPrometheusMetrics(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, store, err := application.Open(ctx, cfg, application.WithMetrics(pm))
	if err != nil {
		log.WithError(err).Fatal("failed to start engine")
	}

	srv := api.NewServer(engine,
		api.WithGatherer(reg),
		api.WithRequestTimeout(*requestTimeout),
	)

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":  cfg.HTTPAddr,
			"store": store.Name,
		}).Info("listening")
		errCh <- srv.Listen(cfg.HTTPAddr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("server stopped")
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown incomplete")
	}
	if err := store.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("failed to close store")
	}
}
