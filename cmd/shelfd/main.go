// Package main boots the shelf weight-delta resolution service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shelfi/shelfd/internal/config"
	"github.com/shelfi/shelfd/internal/engine"
	httpapi "github.com/shelfi/shelfd/internal/http"
	"github.com/shelfi/shelfd/internal/ingest"
	"github.com/shelfi/shelfd/internal/ledger"
	"github.com/shelfi/shelfd/internal/obs"
	"github.com/shelfi/shelfd/internal/queue"
)

func main() {
	cfg := config.Load()
	obs.InitLogger()
	obs.Logger.Info("service_starting")

	q := queue.New(128)
	led := ledger.New()
	eng := engine.New(cfg, q, led, nil)

	var fc config.FileConfig
	if cfg.ConfigFile != "" {
		var err error
		fc, err = config.LoadFile(cfg.ConfigFile)
		if err != nil {
			obs.Logger.Error("config_file_error", "error", err)
			os.Exit(1)
		}
		if len(fc.Products) > 0 {
			if err := eng.SetRoster(fc.Products); err != nil {
				obs.Logger.Error("roster_error", "error", err)
				os.Exit(1)
			}
			if cfg.CatalogExportPath != "" {
				if err := exportCatalog(eng, cfg.CatalogExportPath); err != nil {
					obs.Logger.Error("catalog_export_error", "path", cfg.CatalogExportPath, "error", err)
					os.Exit(1)
				}
				obs.Logger.Info("catalog_exported", "path", cfg.CatalogExportPath)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx, cfg.QueueHighWatermark)
	go eng.Run(ctx)

	var src *ingest.MQTTSource
	if fc.MQTT.Broker != "" {
		src = ingest.NewMQTTSource(fc.MQTT, q)
		if err := src.Connect(ctx); err != nil {
			obs.Logger.Error("mqtt_connect_error", "error", err)
			os.Exit(1)
		}
	}

	app := httpapi.NewApp(cfg, eng, led, q)
	mux := httpapi.NewRouter(app)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		obs.Logger.Info("http_listen", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obs.Logger.Error("http_server_error", "error", err)
			os.Exit(1)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigc
	obs.Logger.Info("shutdown_signal", "signal", s.String())

	if src != nil {
		src.Disconnect()
	}
	app.StartShutdown()
	obs.Logger.Info("shutdown_drain_begin", "backlog_size", q.BacklogSize())

	ctxDrain, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelDrain()
	if drained := q.DrainUntil(ctxDrain); !drained {
		obs.Logger.Warn("shutdown_drain_timeout")
	} else {
		obs.Logger.Info("shutdown_drain_complete")
	}

	ctxSrv, cancelSrv := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSrv()
	if err := srv.Shutdown(ctxSrv); err != nil {
		obs.Logger.Error("http_shutdown_error", "error", err)
	}
	obs.Logger.Info("service_stopped")
}

// exportCatalog writes the tabular catalog for external inspection, the
// same rows served at /catalog.csv.
func exportCatalog(eng *engine.Engine, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := eng.Catalog().WriteCSV(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
