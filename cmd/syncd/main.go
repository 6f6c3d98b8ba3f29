package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/jackport-sync/internal/archive"
	"github.com/DoyleJ11/jackport-sync/internal/client"
	"github.com/DoyleJ11/jackport-sync/internal/config"
	"github.com/DoyleJ11/jackport-sync/internal/httpapi"
	"github.com/DoyleJ11/jackport-sync/internal/logging"
	"github.com/DoyleJ11/jackport-sync/internal/session"
	"github.com/DoyleJ11/jackport-sync/internal/snapshot"
	"github.com/DoyleJ11/jackport-sync/internal/store"
	"github.com/DoyleJ11/jackport-sync/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("exiting", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) (err error) {
	st := store.NewStore(ctx, logger)
	loader := session.NewLoader(st, snapshot.NewClient(cfg.Endpoint, &http.Client{}), logger)
	facade := client.New(st, loader)

	dial := session.DialerFunc(func(endpoint string) (session.Channel, error) {
		return ws.NewChannel(endpoint, ws.ChannelOptions{MaxInterval: cfg.ReconnectMaxInterval, Log: logger})
	})
	mgr := session.NewManager(dial, st, loader, logger)

	// Build the router *with* the facade injected
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: httpapi.SetupRoutes(facade, logger)}

	g, gctx := errgroup.WithContext(ctx)

	if _, err := mgr.Start(gctx, cfg.Endpoint); err != nil {
		return err
	}

	if cfg.DatabaseURL != "" {
		repo, openErr := archive.Open(cfg.DatabaseURL)
		if openErr != nil {
			mgr.Stop()
			return openErr
		}
		defer func() { err = multierr.Append(err, repo.Close()) }()

		g.Go(func() error { return archive.NewRecorder(repo, logger).Run(gctx, facade) })
	}

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("endpoint", cfg.Endpoint))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		mgr.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
