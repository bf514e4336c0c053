package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/snapwatch"
	"github.com/loykin/snapwatch/internal/config"
	"github.com/loykin/snapwatch/internal/history/factory"
	"github.com/loykin/snapwatch/internal/server"
)

// Serve runs the watcher, the HTTP API and the metrics endpoint until ctx
// is done or one of them fails.
func (c *command) Serve(ctx context.Context, f ServeFlags) error {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	if f.Listen != "" {
		cfg.Server.Enabled = true
		cfg.Server.Listen = f.Listen
	}
	if f.NoServer {
		cfg.Server.Enabled = false
	}
	closeLog := c.setupLogging(cfg)
	defer func() { _ = closeLog.Close() }()

	release, err := acquirePidFile(cfg.Server.PIDFile)
	if err != nil {
		return err
	}
	defer release()

	sink, err := openHistory(cfg)
	if err != nil {
		return err
	}
	opts := snapwatch.Options{
		History:  sink,
		Logger:   slog.Default(),
		DryRun:   f.DryRun,
		OnResult: reportResult(c.out),
	}
	if f.Confirm {
		opts.Confirm = newPrompter(c.in, c.out).Confirm
	}
	svc, err := snapwatch.New(cfg, opts)
	if err != nil {
		_ = factory.Close(sink)
		return err
	}
	defer func() { _ = svc.Close() }()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(ctx) })

	if cfg.Server.Enabled {
		gin.SetMode(gin.ReleaseMode)
		srv := server.NewServer(cfg.Server.Listen, cfg.Server.BasePath, svc)
		g.Go(func() error {
			slog.Info("HTTP API listening", "addr", cfg.Server.Listen, "base", cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if cfg.Metrics.Enabled {
		if err := snapwatch.RegisterMetricsDefault(); err != nil {
			return err
		}
		g.Go(func() error {
			slog.Info("Metrics listening", "addr", cfg.Metrics.Listen)
			return snapwatch.ServeMetrics(ctx, cfg.Metrics.Listen)
		})
	}

	slog.Info("snapwatch started", "entries", len(svc.Entries()), "config", cfg.Path)
	err = g.Wait()
	slog.Info("snapwatch stopping")
	return err
}
