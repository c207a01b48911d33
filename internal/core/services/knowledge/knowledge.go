// Package knowledge maintains the long-lived JSON document that survives
// restarts: device profiles, node registry with surveyed positions, scan
// history rings and optimisation history.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
)

const (
	documentVersion = 2
	flushInterval   = 30 * time.Second

	snapshotRingCap = 48
	eventRingCap    = 1000
	historyCap      = 200
)

// DeviceProfile is the accumulated knowledge about one client address.
type DeviceProfile struct {
	MAC         string                 `json:"mac"`
	Hostname    string                 `json:"hostname,omitempty"`
	Vendor      string                 `json:"vendor,omitempty"`
	FirstSeen   time.Time              `json:"first_seen"`
	LastSeen    time.Time              `json:"last_seen"`
	LastNode    string                 `json:"last_node,omitempty"`
	LastRSSI    int                    `json:"last_rssi,omitempty"`
	Disconnects int                    `json:"disconnects"`
	Position    *domain.DevicePosition `json:"position,omitempty"`
}

// NodeRecord is the registry entry of one mesh node.
type NodeRecord struct {
	MAC      string               `json:"mac"`
	Alias    string               `json:"alias,omitempty"`
	Model    string               `json:"model,omitempty"`
	Backhaul domain.Backhaul      `json:"backhaul,omitempty"`
	Position *domain.NodePosition `json:"position,omitempty"`
	LastSeen time.Time            `json:"last_seen"`
}

// SnapshotSummary is one ring entry of scan history.
type SnapshotSummary struct {
	At          time.Time               `json:"at"`
	Nodes       int                     `json:"nodes"`
	Devices     int                     `json:"devices"`
	Environment domain.EnvironmentScore `json:"environment"`
}

// ConnectionEvent records a device joining or leaving.
type ConnectionEvent struct {
	At        time.Time `json:"at"`
	DeviceMAC string    `json:"device"`
	Kind      string    `json:"kind"` // connected or disconnected
	NodeID    string    `json:"node,omitempty"`
}

// OptimizationRecord remembers one applied suggestion.
type OptimizationRecord struct {
	At         time.Time         `json:"at"`
	ActionType string            `json:"action_type"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Outcome    string            `json:"outcome"`
}

// Retention bounds the history rings.
type Retention struct {
	SignalDays  int `json:"signal_days"`
	SnapshotCap int `json:"snapshot_cap"`
	EventCap    int `json:"event_cap"`
}

// Document is the serialised state. Export and import are exact inverses.
type Document struct {
	Version       int                       `json:"version"`
	NetworkID     string                    `json:"network_id"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
	Devices       map[string]*DeviceProfile `json:"devices"`
	Nodes         map[string]*NodeRecord    `json:"nodes"`
	SnmpHosts     []string                  `json:"snmp_hosts,omitempty"`
	ZigbeeDevices map[string]string         `json:"zigbee_devices,omitempty"` // ieee -> name
	Snapshots     []SnapshotSummary         `json:"snapshots,omitempty"`
	Events        []ConnectionEvent         `json:"events,omitempty"`
	Optimizations []OptimizationRecord      `json:"optimizations,omitempty"`
	Retention     Retention                 `json:"retention"`
}

// Base is the knowledge base: one document, a dirty flag, and a writer loop
// that flushes when dirty. All public mutators return synchronously.
type Base struct {
	path  string
	clock clockwork.Clock
	log   *slog.Logger

	mu    sync.RWMutex
	doc   *Document
	dirty bool
}

// Open loads the document at path, or starts a fresh one if none exists.
func Open(path string, clock clockwork.Clock) (*Base, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	b := &Base{path: path, clock: clock, log: slog.With("component", "knowledge")}

	doc, err := readDocument(path)
	if errors.Is(err, fs.ErrNotExist) {
		doc = newDocument(clock.Now())
		b.dirty = true
	} else if err != nil {
		return nil, fmt.Errorf("loading knowledge document: %w", err)
	}
	b.doc = doc
	return b, nil
}

func newDocument(now time.Time) *Document {
	return &Document{
		Version:   documentVersion,
		NetworkID: uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Devices:   make(map[string]*DeviceProfile),
		Nodes:     make(map[string]*NodeRecord),
		Retention: Retention{SignalDays: 7, SnapshotCap: snapshotRingCap, EventCap: eventRingCap},
	}
}

func readDocument(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}
	if doc.Devices == nil {
		doc.Devices = make(map[string]*DeviceProfile)
	}
	if doc.Nodes == nil {
		doc.Nodes = make(map[string]*NodeRecord)
	}
	return &doc, nil
}

// ObserveSnapshot folds one published snapshot into the document: device
// profiles, node registry, history rings and connect/disconnect events.
func (b *Base) ObserveSnapshot(snap *domain.NetworkSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := snap.Timestamp

	present := make(map[string]bool, len(snap.Devices))
	for _, d := range snap.Devices {
		present[d.MAC] = true
		p, ok := b.doc.Devices[d.MAC]
		if !ok {
			p = &DeviceProfile{MAC: d.MAC, FirstSeen: now}
			b.doc.Devices[d.MAC] = p
			b.appendEvent(ConnectionEvent{At: now, DeviceMAC: d.MAC, Kind: "connected", NodeID: d.AttachedNode})
		} else if now.Sub(p.LastSeen) > 2*time.Minute {
			// The device was gone for at least one scan interval.
			p.Disconnects++
			b.appendEvent(ConnectionEvent{At: now, DeviceMAC: d.MAC, Kind: "connected", NodeID: d.AttachedNode})
		}
		if d.Hostname != "" {
			p.Hostname = d.Hostname
		}
		if d.Vendor != "" {
			p.Vendor = d.Vendor
		}
		p.LastSeen = now
		p.LastNode = d.AttachedNode
		if d.RSSI != 0 {
			p.LastRSSI = d.RSSI
		}
	}
	for mac, p := range b.doc.Devices {
		if !present[mac] && p.LastSeen.Equal(b.lastSnapshotAtLocked()) {
			b.appendEvent(ConnectionEvent{At: now, DeviceMAC: mac, Kind: "disconnected", NodeID: p.LastNode})
		}
	}

	for _, n := range snap.Nodes {
		rec, ok := b.doc.Nodes[n.MAC]
		if !ok {
			rec = &NodeRecord{MAC: n.MAC}
			b.doc.Nodes[n.MAC] = rec
		}
		if n.Alias != "" {
			rec.Alias = n.Alias
		}
		if n.Model != "" {
			rec.Model = n.Model
		}
		rec.Backhaul = n.Backhaul
		rec.LastSeen = now
	}

	for host := range snap.Switches {
		if !slices.Contains(b.doc.SnmpHosts, host) {
			b.doc.SnmpHosts = append(b.doc.SnmpHosts, host)
		}
	}
	if snap.Zigbee != nil {
		if b.doc.ZigbeeDevices == nil {
			b.doc.ZigbeeDevices = make(map[string]string)
		}
		for _, zd := range snap.Zigbee.Devices {
			b.doc.ZigbeeDevices[zd.IEEEAddress] = zd.Name
		}
	}

	b.doc.Snapshots = append(b.doc.Snapshots, SnapshotSummary{
		At:          now,
		Nodes:       len(snap.Nodes),
		Devices:     len(snap.Devices),
		Environment: snap.Environment,
	})
	if len(b.doc.Snapshots) > b.snapshotCapLocked() {
		b.doc.Snapshots = b.doc.Snapshots[len(b.doc.Snapshots)-b.snapshotCapLocked():]
	}

	b.markDirtyLocked(now)
}

// A device is marked unstable when it dropped this many times within the
// annotation window.
const (
	unstableWindow = time.Hour
	unstableDrops  = 3
)

// Annotate copies accumulated per-device knowledge back onto a fresh
// snapshot: lifetime disconnect counts, the original first-seen time, and an
// unstable status for devices that dropped repeatedly in the last hour.
// Called after ObserveSnapshot so the current scan is already folded in.
func (b *Base) Annotate(snap *domain.NetworkSnapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cutoff := snap.Timestamp.Add(-unstableWindow)
	recentDrops := make(map[string]int)
	for _, ev := range b.doc.Events {
		if ev.Kind == "disconnected" && ev.At.After(cutoff) {
			recentDrops[ev.DeviceMAC]++
		}
	}

	for i := range snap.Devices {
		d := &snap.Devices[i]
		p, ok := b.doc.Devices[d.MAC]
		if !ok {
			continue
		}
		d.DisconnectCount = p.Disconnects
		if !p.FirstSeen.IsZero() {
			d.FirstSeen = p.FirstSeen
		}
		if d.Status == domain.StatusOnline && recentDrops[d.MAC] >= unstableDrops {
			d.Status = domain.StatusUnstable
		}
	}
}

// RecordOptimization appends one applied suggestion to the history.
func (b *Base) RecordOptimization(s domain.Suggestion, outcome string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doc.Optimizations = append(b.doc.Optimizations, OptimizationRecord{
		At:         b.clock.Now(),
		ActionType: s.ActionType,
		Parameters: s.Parameters,
		Outcome:    outcome,
	})
	if len(b.doc.Optimizations) > historyCap {
		b.doc.Optimizations = b.doc.Optimizations[len(b.doc.Optimizations)-historyCap:]
	}
	b.markDirtyLocked(b.clock.Now())
}

// SetNodePosition stores a surveyed node position. A missing Z is defaulted
// from the floor ordinal.
func (b *Base) SetNodePosition(pos domain.NodePosition, floorHeightM float64) error {
	pos.NodeID = domain.CanonicalMAC(pos.NodeID)
	if pos.Position.Z == 0 && pos.Floor != 0 {
		pos.Position.Z = float64(pos.Floor) * floorHeightM
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.doc.Nodes[pos.NodeID]
	if !ok {
		rec = &NodeRecord{MAC: pos.NodeID}
		b.doc.Nodes[pos.NodeID] = rec
	}
	rec.Position = &pos
	b.markDirtyLocked(b.clock.Now())
	return nil
}

// NodePositions returns every surveyed position.
func (b *Base) NodePositions() []domain.NodePosition {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.NodePosition
	for _, rec := range b.doc.Nodes {
		if rec.Position != nil {
			out = append(out, *rec.Position)
		}
	}
	return out
}

// DeviceProfiles returns a copy of the profile table.
func (b *Base) DeviceProfiles() map[string]DeviceProfile {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]DeviceProfile, len(b.doc.Devices))
	for mac, p := range b.doc.Devices {
		out[mac] = *p
	}
	return out
}

// History returns the snapshot summary ring, oldest first.
func (b *Base) History() []SnapshotSummary {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]SnapshotSummary, len(b.doc.Snapshots))
	copy(out, b.doc.Snapshots)
	return out
}

// Export serialises the document.
func (b *Base) Export() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return json.MarshalIndent(b.doc, "", "  ")
}

// Import replaces the document wholesale. Export of an imported document
// yields the same bytes modulo field ordering.
func (b *Base) Import(raw []byte) error {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrParse, err)
	}
	if doc.Devices == nil {
		doc.Devices = make(map[string]*DeviceProfile)
	}
	if doc.Nodes == nil {
		doc.Nodes = make(map[string]*NodeRecord)
	}
	b.mu.Lock()
	b.doc = &doc
	b.dirty = true
	b.mu.Unlock()
	return nil
}

// Flush writes the document if dirty. Write is atomic (tmp + rename).
func (b *Base) Flush() error {
	b.mu.Lock()
	if !b.dirty {
		b.mu.Unlock()
		return nil
	}
	raw, err := json.MarshalIndent(b.doc, "", "  ")
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.dirty = false
	b.mu.Unlock()

	tmp := b.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return err
	}
	b.log.Debug("knowledge flushed", "bytes", len(raw))
	return nil
}

// Reload re-reads the document from disk, discarding unflushed changes.
// Wired to the configuration-reload signal.
func (b *Base) Reload() error {
	doc, err := readDocument(b.path)
	if err != nil {
		return fmt.Errorf("reloading knowledge document: %w", err)
	}
	b.mu.Lock()
	b.doc = doc
	b.dirty = false
	b.mu.Unlock()
	b.log.Info("knowledge reloaded")
	return nil
}

// Run flushes every interval while dirty, until the context ends; a final
// flush runs on the way out.
func (b *Base) Run(ctx context.Context) {
	ticker := b.clock.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := b.Flush(); err != nil {
				b.log.Error("final knowledge flush failed", "error", err)
			}
			return
		case <-ticker.Chan():
			if err := b.Flush(); err != nil {
				b.log.Error("knowledge flush failed", "error", err)
			}
		}
	}
}

func (b *Base) appendEvent(ev ConnectionEvent) {
	b.doc.Events = append(b.doc.Events, ev)
	limit := b.doc.Retention.EventCap
	if limit <= 0 {
		limit = eventRingCap
	}
	if len(b.doc.Events) > limit {
		b.doc.Events = b.doc.Events[len(b.doc.Events)-limit:]
	}
}

func (b *Base) snapshotCapLocked() int {
	if b.doc.Retention.SnapshotCap > 0 {
		return b.doc.Retention.SnapshotCap
	}
	return snapshotRingCap
}

func (b *Base) lastSnapshotAtLocked() time.Time {
	if len(b.doc.Snapshots) == 0 {
		return time.Time{}
	}
	return b.doc.Snapshots[len(b.doc.Snapshots)-1].At
}

func (b *Base) markDirtyLocked(now time.Time) {
	b.doc.UpdatedAt = now
	b.dirty = true
}
