// Package snapshot runs the phased collection pipeline that turns live
// device state into an immutable NetworkSnapshot.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
	"github.com/lcalzada-xor/wmesh/internal/core/ports"
	"github.com/lcalzada-xor/wmesh/internal/telemetry"
)

// Phase names one stage of a scan.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseRouter          Phase = "collectingRouter"
	PhaseNeighbors       Phase = "scanningNeighbors"
	PhaseHub             Phase = "collectingHub"
	PhaseSnmp            Phase = "collectingSnmp"
	PhaseAnalysing       Phase = "analysing"
	PhaseRecommendations Phase = "generatingRecommendations"
)

// Progress is one scan progress event.
type Progress struct {
	Phase   Phase  `json:"phase"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// InProgressError is returned when a scan is requested while one is already
// running. It carries the phase the running scan is in.
type InProgressError struct {
	Phase Phase
}

func (e *InProgressError) Error() string {
	return fmt.Sprintf("scan already in progress (phase %s)", e.Phase)
}

// Recommender generates suggestions from a finished snapshot. The
// recommendation engine implements it; the indirection keeps the builder
// ignorant of rule-pack internals.
type Recommender interface {
	Generate(snapshot *domain.NetworkSnapshot, scans map[domain.Band]domain.SpectrumScan, targets []domain.OptimizationTarget) []domain.Suggestion
}

// Result is the outcome of one scan.
type Result struct {
	Snapshot    *domain.NetworkSnapshot
	Suggestions []domain.Suggestion
}

// Options wires a Builder.
type Options struct {
	Primary     ports.Shell
	Pool        ports.NodePool
	Hub         ports.Hub        // nil when no hub is configured
	Snmp        ports.SnmpWalker // nil when no switches are configured
	Sink        ports.MeasurementSink
	Recommender Recommender
	Clock       clockwork.Clock
	OnProgress  func(Progress)
}

// Builder runs scans. Exactly one scan at a time; the published snapshot is
// immutable and replaced wholesale by the next scan.
type Builder struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	scanning bool
	phase    Phase

	stateMu     sync.RWMutex
	snapshot    *domain.NetworkSnapshot
	scans       map[domain.Band]domain.SpectrumScan
	suggestions []domain.Suggestion

	measureMu sync.Mutex
	measured  map[measureKey]time.Time // cross-node RSSI dedup window
}

type measureKey struct {
	device string
	node   string
}

// duplicateWindow suppresses repeated cross-node RSSI probes of the same
// (device, node) pair within one collection wave.
const duplicateWindow = 60 * time.Second

// New creates an idle builder.
func New(opts Options) *Builder {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Builder{
		opts:     opts,
		log:      slog.With("component", "snapshot"),
		phase:    PhaseIdle,
		measured: make(map[measureKey]time.Time),
	}
}

// Scan runs the full pipeline. A concurrent call returns InProgressError
// with the running scan's phase. Phase failures land in the source-health
// vector; only a snapshot invariant violation aborts the scan.
func (b *Builder) Scan(ctx context.Context, targets []domain.OptimizationTarget) (*Result, error) {
	b.mu.Lock()
	if b.scanning {
		phase := b.phase
		b.mu.Unlock()
		return nil, &InProgressError{Phase: phase}
	}
	b.scanning = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.scanning = false
		b.phase = PhaseIdle
		b.mu.Unlock()
	}()

	if len(targets) == 0 {
		targets = domain.AllTargets
	}

	col := newCollected()

	b.runPhase(ctx, col, PhaseRouter, 25, "collecting router state", b.collectRouter)
	b.runPhase(ctx, col, PhaseNeighbors, 45, "scanning neighbor networks", b.scanNeighbors)
	if b.opts.Hub != nil {
		b.runPhase(ctx, col, PhaseHub, 60, "collecting hub state", b.collectHub)
	}
	if b.opts.Snmp != nil {
		b.runPhase(ctx, col, PhaseSnmp, 75, "walking managed switches", b.collectSnmp)
	}

	b.setPhase(PhaseAnalysing, 85, "assembling snapshot")
	snap, err := b.analyse(col)
	if err != nil {
		return nil, err
	}

	b.setPhase(PhaseRecommendations, 95, "generating recommendations")
	var suggestions []domain.Suggestion
	if b.opts.Recommender != nil {
		suggestions = b.opts.Recommender.Generate(snap, col.scans, targets)
	}

	select {
	case <-ctx.Done():
		// Partial state is never published for a cancelled scan.
		return nil, fmt.Errorf("%w: scan", domain.ErrCancelled)
	default:
	}

	b.stateMu.Lock()
	b.snapshot = snap
	b.scans = col.scans
	b.suggestions = suggestions
	b.stateMu.Unlock()

	b.emit(Progress{Phase: PhaseIdle, Percent: 100, Message: "scan complete"})
	return &Result{Snapshot: snap, Suggestions: suggestions}, nil
}

// Current returns the most recently published snapshot, nil before the first
// scan completes.
func (b *Builder) Current() *domain.NetworkSnapshot {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.snapshot
}

// Scans returns the spectrum scans of the last published snapshot.
func (b *Builder) Scans() map[domain.Band]domain.SpectrumScan {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.scans
}

// Suggestions returns the suggestion set of the last published snapshot.
func (b *Builder) Suggestions() []domain.Suggestion {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.suggestions
}

// CurrentPhase reports what the builder is doing.
func (b *Builder) CurrentPhase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

func (b *Builder) runPhase(ctx context.Context, col *collected, phase Phase, percent int, message string, fn func(context.Context, *collected) error) {
	b.setPhase(phase, percent, message)
	start := b.opts.Clock.Now()

	err := fn(ctx, col)
	elapsed := b.opts.Clock.Since(start)
	telemetry.ScanPhaseDuration.WithLabelValues(string(phase)).Observe(elapsed.Seconds())

	health := domain.SourceHealth{
		Available: err == nil,
		Duration:  elapsed.Seconds(),
		At:        b.opts.Clock.Now(),
	}
	if err != nil {
		health.Error = err.Error()
		b.log.Warn("scan phase failed", "phase", phase, "error", err)
	}
	col.health[sourceName(phase)] = health
}

func (b *Builder) setPhase(phase Phase, percent int, message string) {
	b.mu.Lock()
	b.phase = phase
	b.mu.Unlock()
	b.emit(Progress{Phase: phase, Percent: percent, Message: message})
}

func (b *Builder) emit(p Progress) {
	if b.opts.OnProgress != nil {
		b.opts.OnProgress(p)
	}
}

func sourceName(p Phase) string {
	switch p {
	case PhaseRouter:
		return "router"
	case PhaseNeighbors:
		return "neighbors"
	case PhaseHub:
		return "hub"
	case PhaseSnmp:
		return "snmp"
	}
	return string(p)
}

// analyse merges collected state into a validated snapshot and scores it.
func (b *Builder) analyse(col *collected) (*domain.NetworkSnapshot, error) {
	snap := &domain.NetworkSnapshot{
		Timestamp:    b.opts.Clock.Now(),
		Nodes:        col.nodes,
		Radios:       col.radios,
		Devices:      col.deviceList(),
		Neighbors:    col.neighbors,
		Zigbee:       col.zigbee,
		Switches:     col.switches,
		SourceHealth: col.health,
	}

	if len(snap.Nodes) > 0 {
		if err := domain.ValidateSnapshot(snap); err != nil {
			return nil, err
		}
	}

	health := domain.ComputeHealthScore(snap)
	snap.Environment = environmentScore(snap, col.scans, health)
	return snap, nil
}

// environmentScore composes the 0-100 environment summary.
func environmentScore(snap *domain.NetworkSnapshot, scans map[domain.Band]domain.SpectrumScan, health domain.HealthScore) domain.EnvironmentScore {
	env := domain.EnvironmentScore{
		WifiHealth: health.Overall,
		Stability:  health.Stability,
	}

	// Spectrum clarity: crowding of the channels we actually occupy.
	clarity := 100
	for _, scan := range scans {
		for _, cs := range scan.Channels {
			clarity -= 3 * len(cs.Networks)
		}
	}
	if clarity < 0 {
		clarity = 0
	}
	env.SpectrumClarity = clarity

	// Cross-protocol harmony: Wi-Fi vs Zigbee spectral separation.
	harmony := 100
	if snap.Zigbee != nil {
		for _, r := range snap.Radios {
			if r.Band != domain.Band24GHz {
				continue
			}
			harmony -= int(domain.ZigbeeOverlap(r.Channel, snap.Zigbee.CoordinatorChannel) * 80)
		}
		if harmony < 0 {
			harmony = 0
		}
	}
	env.CrossProtocolHarmony = harmony

	env.Overall = (env.WifiHealth*3 + env.SpectrumClarity*2 + env.CrossProtocolHarmony*2 + env.Stability*3) / 10
	return env
}
