package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"

	"github.com/lcalzada-xor/wmesh/internal/app"
	"github.com/lcalzada-xor/wmesh/internal/config"
	"github.com/lcalzada-xor/wmesh/internal/telemetry"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(slog.New(newLogHandler(cfg)))

	shutdownTracer, err := telemetry.InitTracer()
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	application, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("wmesh starting", "addr", cfg.Addr, "router", cfg.Router.Host)
	if err := application.Run(ctx); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

// newLogHandler picks colored terminal output on a TTY and JSON everywhere
// else.
func newLogHandler(cfg *config.Config) slog.Handler {
	level := cfg.SlogLevel()
	if info, err := os.Stderr.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
		return tint.NewHandler(os.Stderr, &tint.Options{Level: level})
	}
	return slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
}
