package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/quantfabric/feedbus/internal/bus"
	"github.com/quantfabric/feedbus/internal/config"
	"github.com/quantfabric/feedbus/internal/database"
	"github.com/quantfabric/feedbus/internal/feed"
	"github.com/quantfabric/feedbus/internal/poller"
	"github.com/quantfabric/feedbus/internal/recorder"
	"github.com/quantfabric/feedbus/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/feedd.local.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// Credentials may live in a local .env; absence is fine.
	godotenv.Load()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting feedd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"exchanges", len(cfg.Exchanges),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Message bus: embedded journal or distributed Redis, chosen by config.
	b, err := bus.Open(bus.Config{
		Mode:         cfg.Bus.Mode,
		JournalPath:  cfg.Bus.JournalPath,
		RingSize:     cfg.Bus.RingSize,
		StreamMaxLen: cfg.Bus.StreamMaxLen,
		Redis: bus.RedisConfig{
			Addr:     cfg.Bus.Redis.Addr,
			Password: cfg.Bus.Redis.Password,
			DB:       cfg.Bus.Redis.DB,
		},
	}, logger)
	if err != nil {
		logger.Error("failed to open bus", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	// Optional tick archiver. A configured but unreachable database is a
	// deployment fault, so it fails startup.
	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Recorder.Database.Host,
			"port", cfg.Recorder.Database.Port,
			"database", cfg.Recorder.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Recorder.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		rec = recorder.New(recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
		}, pool, logger)
		if err := rec.Start(ctx, b); err != nil {
			logger.Error("failed to start recorder", "error", err)
			os.Exit(1)
		}
	}

	manager := feed.NewManager(feed.Config{
		Venues: venuesFromConfig(cfg.Exchanges),
	}, b, logger)

	if err := manager.Start(ctx); err != nil {
		logger.Error("failed to start feed manager", "error", err)
		os.Exit(1)
	}

	var p *poller.Poller
	if cfg.Poller.Enabled {
		p = poller.New(poller.Config{
			Interval:   cfg.Poller.Interval,
			Timeout:    cfg.Poller.Timeout,
			BaseURL:    cfg.Poller.BaseURL,
			VsCurrency: cfg.Poller.VsCurrency,
			Assets:     cfg.Poller.Assets,
		}, manager, logger)
		if err := p.Start(ctx); err != nil {
			logger.Error("failed to start rest poller", "error", err)
			os.Exit(1)
		}
	}

	monitor := feed.NewMonitor(manager, cfg.Health.StalenessThreshold)

	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(monitor, manager, b),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("feedd running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	healthServer.Shutdown(shutdownCtx)
	if p != nil {
		p.Stop(shutdownCtx)
	}
	manager.Stop(shutdownCtx)
	if rec != nil {
		rec.Stop(shutdownCtx)
	}

	logger.Info("feedd stopped")
}

// venuesFromConfig maps the exchanges: YAML section to venue configs,
// skipping disabled entries.
func venuesFromConfig(exchanges map[string]config.ExchangeConfig) []feed.VenueConfig {
	venues := make([]feed.VenueConfig, 0, len(exchanges))
	for name, ec := range exchanges {
		if !ec.Enabled {
			continue
		}
		venues = append(venues, feed.VenueConfig{
			Name:           name,
			Symbols:        ec.Symbols,
			RequiresAuth:   ec.RequiresAuth,
			APIKey:         ec.APIKey,
			APISecret:      ec.APISecret,
			ReconnectDelay: ec.ReconnectDelay,
		})
	}
	return venues
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(monitor *feed.Monitor, manager *feed.Manager, b bus.Bus) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		venues := monitor.Health()

		status := "healthy"
		if !monitor.Healthy() {
			status = "degraded"
			allDown := true
			for _, v := range venues {
				if v.Healthy {
					allDown = false
					break
				}
			}
			if allDown {
				status = "unhealthy"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": status,
			"venues": venues,
		})
	})

	mux.HandleFunc("/debug/ticks", func(w http.ResponseWriter, r *http.Request) {
		snapshot := manager.Snapshot()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"symbols": len(snapshot),
			"ticks":   snapshot,
		})
	})

	mux.HandleFunc("/debug/bus", func(w http.ResponseWriter, r *http.Request) {
		recent := b.Recent(50)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":     len(recent),
			"envelopes": recent,
		})
	})

	return mux
}
