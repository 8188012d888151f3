package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/claude/restkeeper/internal/config"
	"github.com/claude/restkeeper/internal/ingest"
	"github.com/claude/restkeeper/internal/loop"
	restmcp "github.com/claude/restkeeper/internal/mcp"
	"github.com/claude/restkeeper/internal/server"
	"github.com/claude/restkeeper/internal/session"
	"github.com/claude/restkeeper/internal/spool"
	"github.com/claude/restkeeper/internal/storage"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"
	"tailscale.com/tsnet"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const sweepInterval = time.Minute

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	migrateOnly := flag.Bool("migrate-only", false, "run migrations and exit")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	log.Info("RestKeeper starting", "version", Version)

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect database, waiting for it to come up
	dsn := cfg.Database.DSN()
	db, err := storage.Connect(ctx, dsn, cfg.Database.ConnectTimeout, log)
	if err != nil {
		log.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("database connected")

	// Run migrations
	if err := storage.RunMigrations(dsn, "migrations"); err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}
	log.Info("migrations applied")

	if *migrateOnly {
		log.Info("migrate-only: exiting")
		return
	}

	// Local spool for rest periods the database could not take
	sp, err := spool.Open(cfg.Spool.Dir)
	if err != nil {
		log.Error("failed to open spool", "dir", cfg.Spool.Dir, "error", err)
		os.Exit(1)
	}
	defer sp.Close()
	recorder := spool.NewRecorder(db, sp, log)

	// Timers
	events := loop.New(log)
	manager := session.NewManager(events, events.Scheduler(), recorder, session.Config{
		TickInterval:   cfg.Timer.TickInterval(),
		UpperBound:     cfg.Timer.UpperBound,
		DefaultRestSec: cfg.Timer.DefaultRestSec,
	}, log)

	// Create server
	srv := server.New(manager, db, ingest.NewProvider(db, log), cfg.Auth.APIKey, log)

	mcpSrv := restmcp.New(restmcp.Local{History: db, Timers: manager}, Version, log)
	srv.SetMCP(mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return restmcp.WithUserID(ctx, server.UserID(r))
		}),
	))

	// Start server: tsnet or plain HTTP
	var listener net.Listener

	if cfg.Tailscale.Enabled {
		tsServer := &tsnet.Server{
			Hostname: cfg.Tailscale.Hostname,
			Dir:      cfg.Tailscale.StateDir,
		}
		if err := tsServer.Start(); err != nil {
			log.Error("tsnet start failed", "error", err)
			os.Exit(1)
		}
		defer tsServer.Close()

		lc, err := tsServer.LocalClient()
		if err != nil {
			log.Error("tsnet local client failed", "error", err)
			os.Exit(1)
		}
		srv.SetTailscale(lc)

		listener, err = tsServer.Listen("tcp", ":80")
		if err != nil {
			log.Error("tsnet listen failed", "error", err)
			os.Exit(1)
		}
		log.Info("tsnet server starting", "hostname", cfg.Tailscale.Hostname)
	} else {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			log.Error("listen failed", "addr", addr, "error", err)
			os.Exit(1)
		}
		log.Info("server starting", "addr", addr, "mode", "dev (no tailscale)")
	}

	httpSrv := &http.Server{Handler: srv, ReadHeaderTimeout: 10 * time.Second}

	// The loop outlives ctx so that shutdown can dispose timers on it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := events.Run(loopCtx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return recorder.Run(gctx, cfg.Spool.FlushInterval)
	})
	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				n, err := manager.Sweep(gctx, cfg.Timer.CompletedTTL)
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Warn("sweeping timers", "error", err)
				}
				if n > 0 {
					log.Info("swept completed timers", "count", n)
				}
			}
		}
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Disposing timers first ends open event streams.
		manager.Close(shutdownCtx)
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err)
		}
		stopLoop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if n, err := recorder.Flush(flushCtx, 100); err != nil {
		log.Warn("final spool flush failed", "error", err, "flushed", n)
	}
	log.Info("server stopped")
}
