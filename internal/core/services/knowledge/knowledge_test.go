package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
	"github.com/lcalzada-xor/wmesh/internal/core/services/alert"
)

func openTestBase(t *testing.T, clock clockwork.Clock) (*Base, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "network-knowledge.json")
	b, err := Open(path, clock)
	require.NoError(t, err)
	return b, path
}

func sampleSnapshot(at time.Time) *domain.NetworkSnapshot {
	return &domain.NetworkSnapshot{
		Timestamp: at,
		Nodes: []domain.Node{
			{ID: "aa:bb:cc:dd:ee:01", MAC: "aa:bb:cc:dd:ee:01", IsPrimary: true, Alias: "salon", Model: "RT-AX88U"},
		},
		Devices: []domain.Device{
			{MAC: "11:22:33:44:55:66", Hostname: "portatil", Link: domain.LinkWireless5G,
				AttachedNode: "aa:bb:cc:dd:ee:01", RSSI: -58, Status: domain.StatusOnline},
		},
		Environment: domain.EnvironmentScore{Overall: 82},
	}
}

func TestObserveSnapshot_BuildsProfiles(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b, _ := openTestBase(t, clock)

	now := clock.Now()
	b.ObserveSnapshot(sampleSnapshot(now))

	profiles := b.DeviceProfiles()
	require.Contains(t, profiles, "11:22:33:44:55:66")
	p := profiles["11:22:33:44:55:66"]
	assert.Equal(t, "portatil", p.Hostname)
	assert.Equal(t, "aa:bb:cc:dd:ee:01", p.LastNode)
	assert.Equal(t, -58, p.LastRSSI)
	assert.Equal(t, now, p.FirstSeen)

	history := b.History()
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].Devices)
	assert.Equal(t, 82, history[0].Environment.Overall)
}

func TestObserveSnapshot_DisconnectEvent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b, _ := openTestBase(t, clock)

	t0 := clock.Now()
	b.ObserveSnapshot(sampleSnapshot(t0))

	empty := &domain.NetworkSnapshot{Timestamp: t0.Add(time.Minute), Nodes: sampleSnapshot(t0).Nodes}
	b.ObserveSnapshot(empty)

	b.mu.RLock()
	defer b.mu.RUnlock()
	var kinds []string
	for _, ev := range b.doc.Events {
		if ev.DeviceMAC == "11:22:33:44:55:66" {
			kinds = append(kinds, ev.Kind)
		}
	}
	assert.Equal(t, []string{"connected", "disconnected"}, kinds)
}

func TestAnnotate_FlappingDeviceGetsCountAndUnstableStatus(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b, _ := openTestBase(t, clock)

	// Six flap cycles: present, gone for one scan, back after a gap long
	// enough to count as a reconnect.
	at := clock.Now()
	b.ObserveSnapshot(sampleSnapshot(at))
	nodes := sampleSnapshot(at).Nodes
	for i := 0; i < 6; i++ {
		at = at.Add(time.Minute)
		b.ObserveSnapshot(&domain.NetworkSnapshot{Timestamp: at, Nodes: nodes})
		at = at.Add(3 * time.Minute)
		b.ObserveSnapshot(sampleSnapshot(at))
	}

	snap := sampleSnapshot(at)
	b.Annotate(snap)

	d := snap.Devices[0]
	assert.Equal(t, 6, d.DisconnectCount)
	assert.Equal(t, domain.StatusUnstable, d.Status)
	assert.Equal(t, clock.Now(), d.FirstSeen) // profile keeps the original first-seen

	problems := alert.Detect(snap, domain.AlertConfig{})
	keys := make([]string, 0, len(problems))
	for _, p := range problems {
		keys = append(keys, p.Key)
	}
	assert.Contains(t, keys, "flapping:11:22:33:44:55:66")
}

func TestAnnotate_QuietDeviceStaysOnline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b, _ := openTestBase(t, clock)

	now := clock.Now()
	b.ObserveSnapshot(sampleSnapshot(now))

	snap := sampleSnapshot(now.Add(time.Minute))
	b.Annotate(snap)

	assert.Equal(t, 0, snap.Devices[0].DisconnectCount)
	assert.Equal(t, domain.StatusOnline, snap.Devices[0].Status)
}

func TestSetNodePosition_RoundTripWithDefaultedZ(t *testing.T) {
	b, _ := openTestBase(t, clockwork.NewFakeClock())

	pos := domain.NodePosition{
		NodeID:   "AA:BB:CC:DD:EE:02",
		Floor:    1,
		Position: domain.Point3D{X: 4, Y: 7},
	}
	require.NoError(t, b.SetNodePosition(pos, 3.0))

	got := b.NodePositions()
	require.Len(t, got, 1)
	assert.Equal(t, "aa:bb:cc:dd:ee:02", got[0].NodeID)
	assert.Equal(t, 4.0, got[0].Position.X)
	assert.Equal(t, 3.0, got[0].Position.Z) // defaulted from floor
}

func TestExportImport_FixedPoint(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b, _ := openTestBase(t, clock)
	b.ObserveSnapshot(sampleSnapshot(clock.Now()))
	require.NoError(t, b.SetNodePosition(domain.NodePosition{
		NodeID: "aa:bb:cc:dd:ee:01", Position: domain.Point3D{X: 1, Y: 2, Z: 0},
	}, 3))

	first, err := b.Export()
	require.NoError(t, err)

	require.NoError(t, b.Import(first))
	second, err := b.Export()
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))
}

func TestFlushAndReload(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b, path := openTestBase(t, clock)
	b.ObserveSnapshot(sampleSnapshot(clock.Now()))

	require.NoError(t, b.Flush())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "11:22:33:44:55:66")

	// Unflushed changes are discarded by a reload.
	require.NoError(t, b.SetNodePosition(domain.NodePosition{
		NodeID: "aa:bb:cc:dd:ee:09", Position: domain.Point3D{X: 9},
	}, 3))
	require.NoError(t, b.Reload())
	assert.Empty(t, b.NodePositions())
}

func TestFlush_NoopWhenClean(t *testing.T) {
	b, path := openTestBase(t, clockwork.NewFakeClock())
	require.NoError(t, b.Flush())

	info, err := os.Stat(path)
	require.NoError(t, err)
	before := info.ModTime()

	require.NoError(t, b.Flush())
	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before, info.ModTime())
}

func TestRun_FlushesOnShutdown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b, path := openTestBase(t, clock)
	b.ObserveSnapshot(sampleSnapshot(clock.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()
	cancel()
	<-done

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "network_id")
}

func TestOpen_FreshDocument(t *testing.T) {
	b, _ := openTestBase(t, clockwork.NewFakeClock())
	raw, err := b.Export()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version": 2`)
}
