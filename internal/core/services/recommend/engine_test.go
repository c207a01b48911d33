package recommend

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
	"github.com/lcalzada-xor/wmesh/internal/core/ports"
	"github.com/lcalzada-xor/wmesh/internal/core/services/spectrum"
)

type recordingShell struct {
	kv        map[string]string
	commits   int
	restarts  int
	connected bool
}

func newRecordingShell() *recordingShell {
	return &recordingShell{kv: map[string]string{}, connected: true}
}

func (s *recordingShell) Connect(ctx context.Context) error { return nil }
func (s *recordingShell) Exec(ctx context.Context, command string) (string, error) {
	return "", nil
}
func (s *recordingShell) GetKV(ctx context.Context, key string) (string, error) {
	return s.kv[key], nil
}
func (s *recordingShell) SetKV(ctx context.Context, key, value string) error {
	s.kv[key] = value
	return nil
}
func (s *recordingShell) Commit(ctx context.Context) error {
	s.commits++
	return nil
}
func (s *recordingShell) RestartRadio(ctx context.Context) error {
	s.restarts++
	return nil
}
func (s *recordingShell) IsConnected() bool { return s.connected }
func (s *recordingShell) Disconnect() error { return nil }
func (s *recordingShell) ResetCircuit()     {}

type recordingPool struct {
	peers    []domain.MeshPeer
	commands map[string][]string
}

func (p *recordingPool) Initialize(ctx context.Context, primary ports.Shell) error { return nil }
func (p *recordingPool) ExecOn(ctx context.Context, nodeID, command string) (string, error) {
	if p.commands == nil {
		p.commands = map[string][]string{}
	}
	p.commands[nodeID] = append(p.commands[nodeID], command)
	return "", nil
}
func (p *recordingPool) ExecOnAll(ctx context.Context, command string) map[string]ports.ExecResult {
	return nil
}
func (p *recordingPool) Peers() []domain.MeshPeer { return p.peers }
func (p *recordingPool) Close()                   {}

const (
	primaryID = "aa:bb:cc:dd:ee:01"
	peerID    = "aa:bb:cc:dd:ee:02"
)

func crowdedSnapshot() (*domain.NetworkSnapshot, map[domain.Band]domain.SpectrumScan) {
	now := time.Now()
	var neighbors []domain.NeighborAP
	neighbors = append(neighbors, domain.NeighborAP{BSSID: "aa:00:00:00:00:01", Channel: 6, Band: domain.Band24GHz, RSSI: -55})
	for i := 0; i < 6; i++ {
		neighbors = append(neighbors, domain.NeighborAP{
			BSSID: fmt.Sprintf("aa:00:00:00:00:%02x", i+2), Channel: 6, Band: domain.Band24GHz, RSSI: -75,
		})
	}
	scans := map[domain.Band]domain.SpectrumScan{
		domain.Band24GHz: spectrum.Aggregate(domain.Band24GHz, neighbors, now),
	}
	snap := &domain.NetworkSnapshot{
		Timestamp: now,
		Nodes: []domain.Node{
			{ID: primaryID, MAC: primaryID, IsPrimary: true, Mode: "router", Reachable: true},
		},
		Radios: []domain.Radio{
			{NodeID: primaryID, Band: domain.Band24GHz, Channel: 6, WidthMHz: 20, MUMIMO: true, RoamingAssist: true},
		},
		Zigbee: &domain.ZigbeeNetwork{CoordinatorChannel: 15},
	}
	return snap, scans
}

func newTestEngine(shell *recordingShell, pool *recordingPool) *Engine {
	if pool == nil {
		pool = &recordingPool{}
	}
	return New(Options{Primary: shell, Pool: pool, Clock: clockwork.NewFakeClock()})
}

// Channel 6 crowded with seven neighbors and Zigbee on 15: the engine must
// propose channel 11 with high priority.
func TestGenerate_CrowdedChannelSuggestion(t *testing.T) {
	snap, scans := crowdedSnapshot()
	e := newTestEngine(newRecordingShell(), nil)

	got := e.Generate(snap, scans, []domain.OptimizationTarget{domain.TargetMinimiseInterference})
	require.NotEmpty(t, got)

	s := got[0]
	assert.Equal(t, ActionSetChannel, s.ActionType)
	assert.Equal(t, "11", s.Parameters["channel"])
	assert.GreaterOrEqual(t, s.Priority, 8)
	assert.NotEmpty(t, s.Token)
	assert.True(t, s.RequiresRestart)
}

func TestGenerate_ZigbeeProtectionOutranksInterference(t *testing.T) {
	snap, scans := crowdedSnapshot()
	snap.Radios[0].Channel = 4 // overlap(4, 15) is near total
	e := newTestEngine(newRecordingShell(), nil)

	got := e.Generate(snap, scans, domain.AllTargets)
	require.NotEmpty(t, got)
	assert.Equal(t, domain.CategoryZigbee, got[0].Category)
	assert.Equal(t, 9, got[0].Priority)

	// The chosen channel must respect the overlap limit.
	ch := got[0].Parameters["channel"]
	assert.Equal(t, "11", ch)
}

func TestGenerate_DedupesAcrossPacks(t *testing.T) {
	snap, scans := crowdedSnapshot()
	e := newTestEngine(newRecordingShell(), nil)

	// Both rule packs propose the same channel change; one survives.
	got := e.Generate(snap, scans, []domain.OptimizationTarget{
		domain.TargetMinimiseInterference,
		domain.TargetReduceNeighborOverlap,
	})
	count := 0
	for _, s := range got {
		if s.ActionType == ActionSetChannel {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestGenerate_WeakWirelessBackhaul(t *testing.T) {
	snap, scans := crowdedSnapshot()
	snap.Nodes = append(snap.Nodes, domain.Node{
		ID: peerID, MAC: peerID, Backhaul: domain.BackhaulWireless, BackhaulCost: 120, Reachable: true,
	})
	snap.Devices = append(snap.Devices, domain.Device{
		MAC: peerID, Link: domain.LinkWireless5G, AttachedNode: primaryID, RSSI: -76,
	})
	e := newTestEngine(newRecordingShell(), nil)

	got := e.Generate(snap, scans, []domain.OptimizationTarget{domain.TargetBalanceCoverage})
	require.Len(t, got, 1)
	assert.Equal(t, ActionWireBackhaul, got[0].ActionType)
	assert.Equal(t, peerID, got[0].Parameters["node"])
}

func TestGenerate_APModeCleanup(t *testing.T) {
	snap, scans := crowdedSnapshot()
	snap.Nodes[0].Mode = "ap"
	e := newTestEngine(newRecordingShell(), nil)

	got := e.Generate(snap, scans, []domain.OptimizationTarget{domain.TargetMaximiseThroughput})
	features := map[string]bool{}
	for _, s := range got {
		if s.ActionType == ActionDisableFeature {
			features[s.Parameters["feature"]] = true
		}
	}
	for _, want := range []string{"qos", "ids", "traffic_analyzer", "vpn_server", "ddns", "upnp"} {
		assert.True(t, features[want], want)
	}
}

// The full apply flow: pending echo keeps the token, confirmation commits,
// restarts the radio and consumes the token.
func TestApply_Flow(t *testing.T) {
	snap, scans := crowdedSnapshot()
	shell := newRecordingShell()
	e := newTestEngine(shell, nil)
	ctx := context.Background()

	got := e.Generate(snap, scans, []domain.OptimizationTarget{domain.TargetMinimiseInterference})
	require.NotEmpty(t, got)
	token := got[0].Token

	pending, err := e.Apply(ctx, token, false)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, pending.Status)
	assert.Zero(t, shell.commits)

	// Pending echo is idempotent.
	pending2, err := e.Apply(ctx, token, false)
	require.NoError(t, err)
	assert.Equal(t, pending.Suggestion.Token, pending2.Suggestion.Token)

	applied, err := e.Apply(ctx, token, true)
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, applied.Status)
	assert.Equal(t, "11", shell.kv["wl0_channel"])
	assert.Equal(t, 1, shell.commits)
	assert.Equal(t, 1, shell.restarts)

	_, err = e.Apply(ctx, token, true)
	assert.ErrorIs(t, err, domain.ErrUnknownSuggestion)
}

func TestApply_UnknownToken(t *testing.T) {
	e := newTestEngine(newRecordingShell(), nil)
	_, err := e.Apply(context.Background(), "no-such-token", true)
	assert.ErrorIs(t, err, domain.ErrUnknownSuggestion)
}

func TestGenerate_NewSetInvalidatesOldTokens(t *testing.T) {
	snap, scans := crowdedSnapshot()
	e := newTestEngine(newRecordingShell(), nil)

	first := e.Generate(snap, scans, []domain.OptimizationTarget{domain.TargetMinimiseInterference})
	require.NotEmpty(t, first)
	e.Generate(snap, scans, []domain.OptimizationTarget{domain.TargetMinimiseInterference})

	_, err := e.Apply(context.Background(), first[0].Token, true)
	assert.ErrorIs(t, err, domain.ErrUnknownSuggestion)
}

func TestApply_PeerGoesThroughPool(t *testing.T) {
	snap, scans := crowdedSnapshot()
	snap.Nodes = append(snap.Nodes, domain.Node{
		ID: peerID, MAC: peerID, Backhaul: domain.BackhaulWired, Reachable: true,
	})
	snap.Radios = append(snap.Radios, domain.Radio{
		NodeID: peerID, Band: domain.Band24GHz, Channel: 6, WidthMHz: 20, MUMIMO: true, RoamingAssist: true,
	})
	shell := newRecordingShell()
	pool := &recordingPool{peers: []domain.MeshPeer{{MAC: peerID, Reachable: true}}}
	e := New(Options{Primary: shell, Pool: pool, Clock: clockwork.NewFakeClock()})

	got := e.Generate(snap, scans, []domain.OptimizationTarget{domain.TargetMinimiseInterference})

	var peerToken string
	for _, s := range got {
		if s.Parameters["node"] == peerID {
			peerToken = s.Token
		}
	}
	require.NotEmpty(t, peerToken)

	_, err := e.Apply(context.Background(), peerToken, true)
	require.NoError(t, err)
	require.NotEmpty(t, pool.commands[peerID])
	assert.Contains(t, pool.commands[peerID][0], "nvram set wl0_channel=11")
	assert.Contains(t, pool.commands[peerID], "nvram commit")
	assert.Contains(t, pool.commands[peerID], "service restart_wireless")
	assert.Zero(t, shell.commits)
}
