package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/qrrelay/qrrelay/pkg/timegrid"
	"github.com/qrrelay/qrrelay/server/internal/api"
	"github.com/qrrelay/qrrelay/server/internal/attendance"
	"github.com/qrrelay/qrrelay/server/internal/auth"
	"github.com/qrrelay/qrrelay/server/internal/cache"
	"github.com/qrrelay/qrrelay/server/internal/checkcode"
	"github.com/qrrelay/qrrelay/server/internal/config"
	"github.com/qrrelay/qrrelay/server/internal/janitor"
	"github.com/qrrelay/qrrelay/server/internal/metrics"
	"github.com/qrrelay/qrrelay/server/internal/migrate"
	"github.com/qrrelay/qrrelay/server/internal/notify"
	"github.com/qrrelay/qrrelay/server/internal/session"
	"github.com/qrrelay/qrrelay/server/internal/session/postgres"
	"github.com/qrrelay/qrrelay/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file; empty runs on defaults")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
	}

	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Server.Log.Level))
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	sc := cfg.Server.Session
	slog.Info("qrrelay-server starting",
		"config", *configPath,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"storage", cfg.Server.Storage.Driver,
		"cache_ttl", sc.CacheTTL,
		"course_ttl", sc.CourseTTL,
		"sweep_interval", sc.SweepInterval,
		"grid_period", sc.GridPeriod,
		"utc_offset", sc.UTCOffset(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, closeStore, err := openStore(cfg.Server.Storage)
	if err != nil {
		slog.Error("failed to open session store", "driver", cfg.Server.Storage.Driver, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	reg := metrics.New()
	notifier := notify.New(cfg.Server.Notify)
	norm := timegrid.New(sc.UTCOffset())

	// Session cache swept by the janitor; evictions are marked expired in the store.
	sessions := cache.New(norm, reg)
	reg.RegisterGauge("cache_entries", "Sessions currently cached.", func() float64 {
		return float64(sessions.Len())
	})
	jan := janitor.New(sessions, st, janitorPolicy(sc), reg, notifier)
	janDone := make(chan struct{})
	go func() {
		defer close(janDone)
		jan.Run(ctx)
	}()

	svc := attendance.New(st, sessions,
		checkcode.NewRegenerator(norm, sc.GridPeriod),
		servicePolicy(sc), reg, notifier)
	svc.OnScan(jan.Forget)

	// Live feed of active sessions.
	hub := ws.New(svc, cfg.Server.Feed.Interval)
	go hub.Run(ctx)

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, func(next *config.Config) {
				level.Set(parseLevel(next.Server.Log.Level))
				jan.SetPolicy(janitorPolicy(next.Server.Session))
				svc.SetPolicy(servicePolicy(next.Server.Session))
				if next.Server.Session.UTCOffsetHours != sc.UTCOffsetHours || next.Server.Session.GridPeriod != sc.GridPeriod {
					slog.Warn("config: utc_offset_hours and grid_period apply after restart")
				}
			})
			if err != nil {
				slog.Error("config: watch failed", "err", err)
			}
		}()
	}

	requireKey := auth.APIKeyMiddleware(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
		"/api/v1/health",
	)

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", requireKey(api.New(svc, sessions, norm)))
	httpMux.Handle("/ws/sessions", requireKey(hub))
	httpMux.Handle("/metrics", reg)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("qrrelay-server shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	// The janitor and HTTP handlers are the only notifiers; both are done here.
	<-janDone
	notifier.Wait()
}

// openStore returns the configured session store and a func that releases it.
func openStore(sc config.StorageConfig) (session.Store, func(), error) {
	if sc.Driver != "postgres" {
		return session.NewMemoryStore(), func() {}, nil
	}

	dsn := sc.DSN()
	if dsn == "" {
		return nil, nil, fmt.Errorf("environment variable %s is empty", sc.DSNEnv)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	if sc.Migrate {
		if err := migrate.Run(db); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return postgres.New(db), func() { db.Close() }, nil
}

func janitorPolicy(sc config.SessionConfig) janitor.Policy {
	return janitor.Policy{
		CacheTTL:     sc.CacheTTL,
		CourseTTL:    sc.CourseTTL,
		Interval:     sc.SweepInterval,
		StoreTimeout: sc.StoreTimeout,
	}
}

func servicePolicy(sc config.SessionConfig) attendance.Policy {
	return attendance.Policy{
		CourseTTL:    sc.CourseTTL,
		StoreTimeout: sc.StoreTimeout,
	}
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
