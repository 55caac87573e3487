// Command server wires the alert pipeline core into a runnable process:
// configuration load, SQLite-backed store, pipeline and HTTP API startup,
// and signal-based graceful shutdown.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/predmaint/alertcore/internal/config"
	"github.com/predmaint/alertcore/internal/lifecycle"
	"github.com/predmaint/alertcore/internal/httpapi"
	"github.com/predmaint/alertcore/internal/notify"
	"github.com/predmaint/alertcore/internal/observ"
	"github.com/predmaint/alertcore/internal/pipeline"
	"github.com/predmaint/alertcore/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration (defaults embedded if omitted)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	backend, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer backend.Close()

	pl := pipeline.New(cfg, backend)
	lm := lifecycle.New(backend, cfg.Lifecycle)
	notifier := notify.New(cfg.Notify.Enabled, cfg.Notify.WebhookURL)
	defer notifier.Stop()

	api := httpapi.New(cfg.HTTP, lm, backend)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pl.Run(ctx)
	go runRetentionSweep(ctx, backend, cfg.Retention)

	go func() {
		observ.Log("http_server_starting", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observ.LogError("http_server_error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	observ.Log("shutdown_initiated")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		observ.LogError("http_shutdown_error", err)
	}
	observ.Sync()
}

// runRetentionSweep periodically archives RESOLVED alerts older than the
// configured retention window, on the same fixed-tick model as the pipeline's own
// background sweeper.
func runRetentionSweep(ctx context.Context, backend *store.Store, retention config.Retention) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	cutoff := time.Duration(retention.AlertDays) * 24 * time.Hour
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := backend.ArchiveOlderThan(ctx, time.Now().Add(-cutoff))
			if err != nil {
				observ.LogError("retention_sweep_error", err)
				continue
			}
			if n > 0 {
				observ.Log("retention_sweep_archived", zap.Int("count", n))
			}
		}
	}
}
