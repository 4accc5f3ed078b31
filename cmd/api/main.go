package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaybus/relaybus/internal/auth"
	"github.com/relaybus/relaybus/internal/broker"
	"github.com/relaybus/relaybus/internal/config"
	"github.com/relaybus/relaybus/internal/db"
	"github.com/relaybus/relaybus/internal/history"
	"github.com/relaybus/relaybus/internal/httpapi"
	"github.com/relaybus/relaybus/internal/logging"
	"github.com/relaybus/relaybus/internal/metrics"
	"github.com/relaybus/relaybus/internal/publish"
	"github.com/relaybus/relaybus/internal/registry"
	"github.com/relaybus/relaybus/internal/replay"
	"github.com/relaybus/relaybus/internal/store"
	"github.com/relaybus/relaybus/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()
	logger := logging.New("relaybus-api")

	shutdownTracing, err := tracing.Init(ctx, "relaybus-api")
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

	b, err := broker.NewNSQ(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.LookupHTTPAddr)
	if err != nil {
		logger.Plain().WithError(err).Fatal("broker connect failed")
	}
	defer b.Stop()

	var validator *auth.JWTValidator
	if cfg.API.JWTPublicKey != "" {
		validator, err = auth.NewJWTValidator(cfg.API.JWTPublicKey, cfg.API.JWTIssuer, cfg.API.JWTAudience)
		if err != nil {
			logger.Plain().WithError(err).Fatal("jwt validator init failed")
		}
	}

	promReg := prometheus.NewRegistry()
	metrics.MustRegister(promReg)

	reg := registry.New(pool)
	publisher := publish.NewService(st, b, cfg.NSQ.EventsTopic)
	replayer := replay.NewService(st, b, cfg.NSQ.EventsTopic)
	hist := history.NewService(st)

	srv := httpapi.NewServer(publisher, reg, hist, replayer, pool, b, validator, promReg)
	httpSrv := &http.Server{Addr: cfg.API.HTTPPort, Handler: srv.Router()}

	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("api server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("api server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down api server")
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("api server stopped")
}
