// Package signal holds the append-only per-(device,node) RSSI history used
// by the triangulator and the signal-history action.
package signal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
	"github.com/lcalzada-xor/wmesh/internal/telemetry"
)

const (
	// DefaultPerKeyCap bounds the sample list of one (device, node) pair.
	DefaultPerKeyCap = 1000
	// DefaultRetention is the age bound applied by the hourly sweep.
	DefaultRetention = 7 * 24 * time.Hour
)

type key struct {
	device string
	node   string
}

// Store maps (deviceAddr, nodeAddr) to an ordered sample list. Appends come
// from a single ingest path (the snapshot builder's measurement fan-in);
// reads are concurrent.
type Store struct {
	mu        sync.RWMutex
	clock     clockwork.Clock
	samples   map[key][]domain.SignalSample
	perKeyCap int
	retention time.Duration
}

// New creates a store with the given per-key cap and retention window.
// Zero values select the defaults.
func New(perKeyCap int, retention time.Duration) *Store {
	return NewWithClock(perKeyCap, retention, clockwork.NewRealClock())
}

// NewWithClock is New with an injected clock, for tests.
func NewWithClock(perKeyCap int, retention time.Duration, clock clockwork.Clock) *Store {
	if perKeyCap <= 0 {
		perKeyCap = DefaultPerKeyCap
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		clock:     clock,
		samples:   make(map[key][]domain.SignalSample),
		perKeyCap: perKeyCap,
		retention: retention,
	}
}

// Record appends one sample. Timestamps within a key are kept monotonically
// non-decreasing: a sample older than the key's tail is clamped forward.
// When the per-key list exceeds the cap the oldest entries are discarded.
func (s *Store) Record(sample domain.SignalSample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.clock.Now()
	}
	sample.DeviceMAC = domain.CanonicalMAC(sample.DeviceMAC)
	sample.NodeMAC = domain.CanonicalMAC(sample.NodeMAC)

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{device: sample.DeviceMAC, node: sample.NodeMAC}
	list := s.samples[k]
	if n := len(list); n > 0 && sample.Timestamp.Before(list[n-1].Timestamp) {
		sample.Timestamp = list[n-1].Timestamp
	}
	list = append(list, sample)
	if len(list) > s.perKeyCap {
		list = append(list[:0], list[len(list)-s.perKeyCap:]...)
	}
	s.samples[k] = list

	telemetry.SignalSamples.Inc()
}

// Recent returns samples for a device from the last hour across all nodes,
// newest last, up to limit. limit <= 0 means no limit.
func (s *Store) Recent(deviceMAC string, limit int) []domain.SignalSample {
	deviceMAC = domain.CanonicalMAC(deviceMAC)
	cutoff := s.clock.Now().Add(-time.Hour)

	s.mu.RLock()
	var out []domain.SignalSample
	for k, list := range s.samples {
		if k.device != deviceMAC {
			continue
		}
		for _, sm := range list {
			if sm.Timestamp.After(cutoff) {
				out = append(out, sm)
			}
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// History returns all retained samples for a device newer than since,
// newest last.
func (s *Store) History(deviceMAC string, since time.Time) []domain.SignalSample {
	deviceMAC = domain.CanonicalMAC(deviceMAC)

	s.mu.RLock()
	var out []domain.SignalSample
	for k, list := range s.samples {
		if k.device != deviceMAC {
			continue
		}
		for _, sm := range list {
			if sm.Timestamp.After(since) {
				out = append(out, sm)
			}
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// LastPerNode returns the freshest sample per node for a device. This is the
// triangulation input.
func (s *Store) LastPerNode(deviceMAC string) map[string]domain.SignalSample {
	deviceMAC = domain.CanonicalMAC(deviceMAC)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.SignalSample)
	for k, list := range s.samples {
		if k.device != deviceMAC || len(list) == 0 {
			continue
		}
		out[k.node] = list[len(list)-1]
	}
	return out
}

// Devices returns the device addresses that currently have samples.
func (s *Store) Devices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for k := range s.samples {
		seen[k.device] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Sweep drops samples older than the retention window and deletes empty
// keys. Returns the number of samples dropped.
func (s *Store) Sweep() int {
	cutoff := s.clock.Now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for k, list := range s.samples {
		i := 0
		for ; i < len(list); i++ {
			if list[i].Timestamp.After(cutoff) {
				break
			}
		}
		if i == 0 {
			continue
		}
		dropped += i
		if i == len(list) {
			delete(s.samples, k)
			continue
		}
		s.samples[k] = append(list[:0], list[i:]...)
	}
	return dropped
}

// StartSweeper runs Sweep hourly until the context is cancelled.
func (s *Store) StartSweeper(ctx context.Context) {
	go func() {
		ticker := s.clock.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				s.Sweep()
			}
		}
	}()
}
