package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaybus/relaybus/internal/broker"
	"github.com/relaybus/relaybus/internal/config"
	"github.com/relaybus/relaybus/internal/db"
	"github.com/relaybus/relaybus/internal/dispatch"
	"github.com/relaybus/relaybus/internal/health"
	"github.com/relaybus/relaybus/internal/logging"
	"github.com/relaybus/relaybus/internal/metrics"
	"github.com/relaybus/relaybus/internal/registry"
	"github.com/relaybus/relaybus/internal/store"
	"github.com/relaybus/relaybus/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := logging.New("relaybus-dispatcher")

	shutdownTracing, err := tracing.Init(ctx, "relaybus-dispatcher")
	if err != nil {
		logger.Plain().WithError(err).Fatal("tracing init failed")
	}
	defer shutdownTracing()

	pool, err := db.Connect(ctx, cfg.DSN(), int32(cfg.DB.MaxConns))
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	st := store.New(pool)
	if err := st.EnsureSchema(ctx); err != nil {
		logger.Plain().WithError(err).Fatal("schema apply failed")
	}
	reg := registry.New(pool)

	b, err := broker.NewNSQ(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.LookupHTTPAddr)
	if err != nil {
		logger.Plain().WithError(err).Fatal("broker connect failed")
	}

	promReg := prometheus.NewRegistry()
	metrics.MustRegister(promReg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool, b))
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Dispatcher.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("dispatcher HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("dispatcher HTTP server failed")
		}
	}()

	d := dispatch.New(st, reg, b, dispatch.Config{
		EventsTopic:     cfg.NSQ.EventsTopic,
		DeliveriesTopic: cfg.NSQ.DeliveriesTopic,
		DLQTopic:        cfg.NSQ.DLQTopic,
		Channel:         cfg.NSQ.Channel,
		MaxAttempts:     cfg.Dispatcher.MaxAttempts,
		Backoff: dispatch.BackoffConfig{
			BaseDelay:     cfg.Dispatcher.BaseDelay,
			MaxDelay:      cfg.Dispatcher.MaxDelay,
			Schedule:      cfg.Dispatcher.BackoffSchedule,
			JitterPercent: cfg.Dispatcher.JitterPercent,
		},
		CallbackTimeout:  cfg.Dispatcher.CallbackTimeout,
		ChainRetryDelay:  cfg.Dispatcher.ChainRetryDelay,
		MaxInFlight:      cfg.Dispatcher.MaxInFlight,
		RecoveryInterval: cfg.Dispatcher.RecoveryInterval,
		RecoveryAge:      cfg.Dispatcher.RecoveryAge,
		PublishDLQ:       cfg.Dispatcher.PublishDLQ,
	})
	if err := d.Start(ctx); err != nil {
		logger.Plain().WithError(err).Fatal("dispatcher start failed")
	}

	logger.Plain().Info("dispatcher started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down dispatcher")
	cancel()   // stops the recovery loop
	b.Stop()   // stops consumers, drains in-flight handlers
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("dispatcher stopped")
}
