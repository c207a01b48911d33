package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
	"github.com/lcalzada-xor/wmesh/internal/core/ports"
	"github.com/lcalzada-xor/wmesh/internal/telemetry"
)

// Router grades detected problems against the configured thresholds and
// fans surviving alerts out to the publishers. One alert per problem key
// per cooldown period.
type Router struct {
	repo       ports.AlertRepository
	publishers []ports.AlertPublisher
	clock      clockwork.Clock
	log        *slog.Logger

	mu       sync.Mutex
	cfg      domain.AlertConfig
	lastSent map[string]time.Time
}

// NewRouter creates a router. Publishers may be empty; alerts are then only
// persisted.
func NewRouter(cfg domain.AlertConfig, repo ports.AlertRepository, clock clockwork.Clock, publishers ...ports.AlertPublisher) *Router {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Router{
		repo:       repo,
		publishers: publishers,
		clock:      clock,
		log:        slog.With("component", "alerts"),
		cfg:        withDefaults(cfg),
		lastSent:   make(map[string]time.Time),
	}
}

// Configure replaces the thresholds. Cooldown bookkeeping survives so a
// config change does not re-fire everything at once.
func (r *Router) Configure(cfg domain.AlertConfig) {
	r.mu.Lock()
	r.cfg = withDefaults(cfg)
	r.mu.Unlock()
}

// Config returns the active configuration.
func (r *Router) Config() domain.AlertConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// Evaluate detects problems in a snapshot and emits alerts for those at or
// above the minimum severity whose key is not cooling down. Returns the
// alerts actually emitted.
func (r *Router) Evaluate(ctx context.Context, snap *domain.NetworkSnapshot) []domain.Alert {
	r.mu.Lock()
	cfg := r.cfg
	r.mu.Unlock()

	now := r.clock.Now()
	var emitted []domain.Alert
	for _, p := range Detect(snap, cfg) {
		if severityRank(p.Severity) < severityRank(cfg.MinSeverity) {
			continue
		}
		if !r.admit(p.Key, now, cfg.CooldownPerKey) {
			continue
		}

		alert := domain.Alert{
			ID:        uuid.NewString(),
			Key:       p.Key,
			Category:  p.Category,
			Severity:  p.Severity,
			Message:   p.Message,
			DeviceMAC: p.DeviceMAC,
			NodeID:    p.NodeID,
			At:        now,
		}
		if r.repo != nil {
			if err := r.repo.SaveAlert(alert); err != nil {
				r.log.Error("persisting alert failed", "key", alert.Key, "error", err)
			}
		}
		for _, pub := range r.publishers {
			if err := pub.Publish(ctx, alert); err != nil {
				r.log.Warn("alert publish failed", "key", alert.Key, "error", err)
			}
		}
		telemetry.AlertsEmitted.WithLabelValues(alert.Category, string(alert.Severity)).Inc()
		emitted = append(emitted, alert)
	}
	return emitted
}

// History returns persisted alerts from the last given number of hours.
func (r *Router) History(hours int) ([]domain.Alert, error) {
	if r.repo == nil {
		return nil, nil
	}
	if hours <= 0 {
		hours = 24
	}
	return r.repo.ListAlerts(r.clock.Now().Add(-time.Duration(hours) * time.Hour))
}

func (r *Router) admit(key string, now time.Time, cooldown time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.lastSent[key]; ok && now.Sub(last) < cooldown {
		return false
	}
	r.lastSent[key] = now
	return true
}
