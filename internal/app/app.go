// Package app wires adapters and services into a running process. It is the
// only place that knows every concrete type.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/wmesh/internal/adapters/hub"
	"github.com/lcalzada-xor/wmesh/internal/adapters/shell"
	"github.com/lcalzada-xor/wmesh/internal/adapters/snmp"
	"github.com/lcalzada-xor/wmesh/internal/adapters/storage"
	"github.com/lcalzada-xor/wmesh/internal/adapters/web"
	"github.com/lcalzada-xor/wmesh/internal/config"
	"github.com/lcalzada-xor/wmesh/internal/core/domain"
	"github.com/lcalzada-xor/wmesh/internal/core/ports"
	"github.com/lcalzada-xor/wmesh/internal/core/services/alert"
	"github.com/lcalzada-xor/wmesh/internal/core/services/dispatch"
	"github.com/lcalzada-xor/wmesh/internal/core/services/knowledge"
	"github.com/lcalzada-xor/wmesh/internal/core/services/locate"
	"github.com/lcalzada-xor/wmesh/internal/core/services/recommend"
	"github.com/lcalzada-xor/wmesh/internal/core/services/signal"
	"github.com/lcalzada-xor/wmesh/internal/core/services/snapshot"
	"github.com/lcalzada-xor/wmesh/internal/telemetry"
)

// Application holds the wired components of the service.
type Application struct {
	Config     *config.Config
	Primary    ports.Shell
	Pool       ports.NodePool
	Hub        ports.Hub
	Snmp       ports.SnmpWalker
	Signals    *signal.Store
	Locator    *locate.Triangulator
	Builder    *snapshot.Builder
	Engine     *recommend.Engine
	Alerts     *alert.Router
	Knowledge  *knowledge.Base
	Dispatcher *dispatch.Dispatcher
	WebServer  *web.Server

	store *storage.SQLiteAdapter
	mqtt  *alert.MQTTPublisher
	log   *slog.Logger
}

// New bootstraps an application from configuration. A missing router host or
// an unopenable data store is a startup failure.
func New(cfg *config.Config) (*Application, error) {
	if cfg.Router.Host == "" {
		return nil, fmt.Errorf("router host is required (set -router or WMESH_ROUTER_HOST)")
	}

	telemetry.InitMetrics()
	clock := clockwork.NewRealClock()
	app := &Application{Config: cfg, log: slog.With("component", "app")}

	shellOpts := shell.Options{
		Host:     cfg.Router.Host,
		Port:     cfg.Router.SSHPort,
		User:     cfg.Router.SSHUser,
		Password: cfg.Router.SSHPassword,
		KeyPath:  cfg.Router.SSHKeyPath,
	}
	app.Primary = shell.NewDeviceShell(shellOpts)
	app.Pool = shell.NewPool(shellOpts)

	if cfg.Hub.Host != "" {
		scheme := "ws"
		if cfg.Hub.UseSSL {
			scheme = "wss"
		}
		app.Hub = hub.New(hub.Options{
			URL:   fmt.Sprintf("%s://%s:%d/api/websocket", scheme, cfg.Hub.Host, cfg.Hub.Port),
			Token: cfg.Hub.AccessToken,
		})
	}
	if len(cfg.Snmp) > 0 {
		app.Snmp = snmp.New(cfg.Snmp)
	}

	store, err := storage.NewSQLiteAdapter(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening alert store: %w", err)
	}
	app.store = store

	kb, err := knowledge.Open(cfg.KnowledgePath(), clock)
	if err != nil {
		return nil, fmt.Errorf("opening knowledge base: %w", err)
	}
	app.Knowledge = kb

	app.Signals = signal.New(0, time.Duration(cfg.Scan.SignalRetentionDays)*24*time.Hour)
	app.Locator = locate.New(locate.Config{
		RefRSSI:  cfg.Scan.PathLossRefRSSI,
		Exponent: cfg.Scan.PathLossExponent,
	})
	for _, pos := range kb.NodePositions() {
		app.Locator.SetNodePosition(pos)
	}

	app.Engine = recommend.New(recommend.Options{
		Primary: app.Primary,
		Pool:    app.Pool,
		Hub:     app.Hub,
		Clock:   clock,
	})
	app.Builder = snapshot.New(snapshot.Options{
		Primary:     app.Primary,
		Pool:        app.Pool,
		Hub:         app.Hub,
		Snmp:        app.Snmp,
		Sink:        app.Signals,
		Recommender: app.Engine,
		Clock:       clock,
	})

	var publishers []ports.AlertPublisher
	if cfg.Alerts.WebhookURL != "" {
		publishers = append(publishers, alert.NewWebhookPublisher(cfg.Alerts.WebhookURL))
	}
	if cfg.Alerts.BrokerURL != "" {
		mq, err := alert.NewMQTTPublisher(cfg.Alerts.BrokerURL, cfg.Alerts.BrokerTopic)
		if err != nil {
			app.log.Warn("mqtt publisher unavailable", "broker", cfg.Alerts.BrokerURL, "error", err)
		} else {
			app.mqtt = mq
			publishers = append(publishers, mq)
		}
	}
	app.Alerts = alert.NewRouter(domain.AlertConfig{
		WebhookURL:  cfg.Alerts.WebhookURL,
		BrokerTopic: cfg.Alerts.BrokerTopic,
	}, store, clock, publishers...)

	app.Dispatcher = dispatch.New(dispatch.Options{
		Primary:   app.Primary,
		Pool:      app.Pool,
		Hub:       app.Hub,
		Snmp:      app.Snmp,
		Builder:   app.Builder,
		Engine:    app.Engine,
		Signals:   app.Signals,
		Locator:   app.Locator,
		Alerts:    app.Alerts,
		Knowledge: app.Knowledge,
		Clock:     clock,
	})
	app.WebServer = web.NewServer(cfg.Addr, app.Dispatcher)

	return app, nil
}

// Run serves until the context is cancelled, then releases every resource in
// shutdown order: intake first, knowledge flush last.
func (app *Application) Run(ctx context.Context) error {
	go app.Knowledge.Run(ctx)
	app.Signals.StartSweeper(ctx)
	go app.scanLoop(ctx)
	go app.watchHangup(ctx)

	err := app.WebServer.Run(ctx)

	app.Dispatcher.Drain()
	app.Pool.Close()
	if derr := app.Primary.Disconnect(); derr != nil {
		app.log.Warn("disconnecting primary shell", "error", derr)
	}
	if app.Hub != nil {
		if herr := app.Hub.Close(); herr != nil {
			app.log.Warn("closing hub connection", "error", herr)
		}
	}
	if app.mqtt != nil {
		app.mqtt.Close()
	}
	if ferr := app.Knowledge.Flush(); ferr != nil {
		app.log.Error("final knowledge flush failed", "error", ferr)
	}
	if serr := app.store.Close(); serr != nil {
		app.log.Warn("closing alert store", "error", serr)
	}
	return err
}

// scanLoop runs periodic scans through the dispatcher so every scan feeds
// the knowledge base and the alert router and shows up in the metrics.
func (app *Application) scanLoop(ctx context.Context) {
	if app.Config.Scan.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(app.Config.Scan.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp := app.Dispatcher.Execute(ctx, dispatch.Request{Action: "scanNetwork"})
			if !resp.Success {
				app.log.Warn("periodic scan failed", "error", resp.Error)
			}
		}
	}
}

// watchHangup reloads the knowledge document on SIGHUP, discarding unflushed
// in-memory changes.
func (app *Application) watchHangup(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	ossignal.Notify(hup, syscall.SIGHUP)
	defer ossignal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := app.Knowledge.Reload(); err != nil {
				app.log.Error("knowledge reload failed", "error", err)
				continue
			}
			for _, pos := range app.Knowledge.NodePositions() {
				app.Locator.SetNodePosition(pos)
			}
			app.log.Info("knowledge base reloaded")
		}
	}
}
