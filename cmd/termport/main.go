// Command termport runs the terminal observation and control server: it
// hosts local shell terminals and exposes them over a streaming gateway
// and a JSON control plane.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/termport/termport/internal/api"
	"github.com/termport/termport/internal/auth"
	"github.com/termport/termport/internal/common/config"
	"github.com/termport/termport/internal/common/logger"
	"github.com/termport/termport/internal/events"
	"github.com/termport/termport/internal/gateway"
	"github.com/termport/termport/internal/host"
	"github.com/termport/termport/internal/registry"
	"github.com/termport/termport/pkg/stream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "termport: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()
	logger.SetDefault(log)

	providedBus, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		return err
	}
	defer busCleanup()

	store, err := auth.NewFileStore(cfg.Auth.StoreDir)
	if err != nil {
		return fmt.Errorf("init credential store: %w", err)
	}
	guard := auth.NewGuard(store, cfg.Auth.KeyName, log)
	freshKey, err := guard.EnsureKey()
	if err != nil {
		return fmt.Errorf("ensure access key: %w", err)
	}
	if freshKey != "" {
		// Printed exactly once; only the digest is persisted.
		fmt.Printf("access key: %s\n", freshKey)
	}

	reg := registry.New(cfg.Registry.ScrollbackLines, nil, providedBus.Bus, log)
	terminalHost := host.New(cfg.Host, providedBus.Bus, log)
	reg.SetCommander(terminalHost)

	dispatcher := stream.NewDispatcher()
	gateway.RegisterHandlers(dispatcher, reg)

	hub := gateway.NewHub(cfg.Gateway.MaxConnections, dispatcher, log)
	notifier := gateway.NewNotifier(hub, reg, providedBus.Bus, log)
	gwHandler := gateway.NewHandler(hub, guard, reg, cfg.Gateway, log)

	apiHandlers := api.NewHandlers(reg, guard, providedBus.Bus, log)
	router := api.NewRouter(apiHandlers, guard, log)
	gwHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCancelled(reg.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCancelled(notifier.Run(gctx))
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("server shutdown incomplete", zap.Error(err))
		}
		terminalHost.Shutdown()
		return nil
	})

	// The first terminal is opened eagerly so a fresh server has something
	// to observe.
	if id, err := terminalHost.Open(ctx, ""); err != nil {
		log.Warn("failed to open initial terminal", zap.Error(err))
	} else {
		terminalHost.SetActive(ctx, id)
	}

	return g.Wait()
}

func ignoreCancelled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
