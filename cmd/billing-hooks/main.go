// Command billing-hooks runs the billing webhook dispatcher as a standalone
// HTTP service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	billinghooks "github.com/goliatone/go-billing-hooks"
	"github.com/goliatone/go-billing-hooks/adapters/gocommand"
	"github.com/goliatone/go-billing-hooks/adapters/zaplogger"
	"github.com/goliatone/go-billing-hooks/core"
	"github.com/goliatone/go-billing-hooks/inbound"
	"github.com/goliatone/go-billing-hooks/webhooks"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "billing-hooks: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	loaded, err := loadConfig(nil)
	if err != nil {
		return err
	}

	logger, err := zaplogger.NewProduction(loaded.Host.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	provider := zaplogger.NewProvider(logger.Zap())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openJobStore(ctx, loaded.Host, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("close job store", "error", err)
		}
	}()

	rt, err := billinghooks.NewRuntime(ctx, core.Config{}, billinghooks.RuntimeOptions{
		Store:          store,
		Logger:         logger,
		LoggerProvider: provider,
		ConfigProvider: core.NewStaticConfigProvider(loaded.Service),
		InstanceID:     loaded.Host.InstanceID,
	})
	if err != nil {
		return err
	}

	registration, err := gocommand.RegisterBillingHooksHandlers(gocommand.NewRegistryAdapter(nil), rt.Service())
	if err != nil {
		return err
	}
	defer registration.Close()

	if err := rt.Start(ctx); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:    loaded.Host.Addr,
		Handler: newRouter(newEventIntake(rt.Service(), loaded.Host), logger),
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", loaded.Host.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), loaded.Host.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}
	report, err := rt.Shutdown(shutdownCtx)
	logger.Info("delivery pipeline stopped",
		"pending", report.Pending,
		"released", report.Released,
		"abandoned", report.Abandoned,
	)
	return err
}

// newEventIntake authenticates inbound events with HMAC when an ingress
// secret is configured.
func newEventIntake(handler inbound.EventHandler, host hostConfig) *inbound.EventIntake {
	var verifier inbound.Verifier
	if host.IngressSecret != "" {
		verifier = webhooks.HMACVerifier{Secret: host.IngressSecret, Tolerance: host.IngressTolerance}
	}
	intake := inbound.NewEventIntake(handler, verifier, inbound.NewMemoryClaimStore())
	intake.KeyTTL = host.IngressDedupeTTL
	return intake
}
