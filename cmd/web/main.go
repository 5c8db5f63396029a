// cmd/web/main.go
//
// Tenancy HTTP entry point.
//
// Start-up sequence
// -----------------
//
//  1. Load configuration (.env → conf/global.yaml → TENANCY_ env), with
//     `vault:` values resolved on demand.
//
//  2. Start the daily rotating logger (tees to console in a TTY).
//
//  3. Build the object graph: registry, core pool, stores, dispatcher,
//     provisioner.  The core schema is migrated before serving.
//
//  4. Start the registry's idle/LRU evictor.
//
//  5. Serve the API (with /health and /metrics) until SIGINT or SIGTERM,
//     then drain in-flight requests and close every pool.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/yanizio/tenancy/internal/app"
	"github.com/yanizio/tenancy/internal/config"
	"github.com/yanizio/tenancy/internal/logger"
	"github.com/yanizio/tenancy/internal/server"
	"github.com/yanizio/tenancy/internal/vault"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("tenancy: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//
	// ── 1.  Config and logger ───────────────────────────────────────────
	//
	cfg, err := config.Load(ctx, vault.NewLazy(ctx, nil))
	if err != nil {
		return err
	}
	logOut, err := logger.New(cfg.Paths.Root, logger.InTTY(), cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = logOut.Sync() }()

	//
	// ── 2.  Object graph and core schema ────────────────────────────────
	//
	a, err := app.Build(ctx, cfg, logOut)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.MigrateCore(ctx)
	if err != nil {
		return err
	}
	logOut.Infow("core schema ready", "version", res.Current, "applied", res.Applied)

	//
	// ── 3.  Evictor and HTTP server ─────────────────────────────────────
	//
	a.Registry.Start(ctx)

	t := server.Timeouts{
		Read:     cfg.HTTP.ReadTimeout,
		Write:    cfg.HTTP.WriteTimeout,
		Idle:     cfg.HTTP.IdleTimeout,
		Shutdown: cfg.HTTP.ShutdownTimeout,
	}
	return server.Run(ctx, server.New(cfg.HTTP.ListenAddr, a.Handler(), t), t, logOut)
}
