package shell

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
	"github.com/lcalzada-xor/wmesh/internal/core/ports"
)

// stubShell implements ports.Shell with canned behaviour keyed by host.
type stubShell struct {
	host       string
	connectErr error
	responses  map[string]string

	mu           sync.Mutex
	connected    bool
	disconnected int
}

func (s *stubShell) Connect(ctx context.Context) error {
	if s.connectErr != nil {
		return s.connectErr
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *stubShell) Exec(ctx context.Context, command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return "", domain.ErrUnavailable
	}
	if out, ok := s.responses[command]; ok {
		return out, nil
	}
	return "", fmt.Errorf("unscripted command %q on %s", command, s.host)
}

func (s *stubShell) GetKV(ctx context.Context, key string) (string, error) {
	return s.Exec(ctx, "nvram get "+key)
}

func (s *stubShell) SetKV(ctx context.Context, key, value string) error {
	_, err := s.Exec(ctx, fmt.Sprintf("nvram set %s=%s", key, value))
	return err
}

func (s *stubShell) Commit(ctx context.Context) error {
	_, err := s.Exec(ctx, "nvram commit")
	return err
}

func (s *stubShell) RestartRadio(ctx context.Context) error {
	_, err := s.Exec(ctx, "service restart_wireless")
	return err
}

func (s *stubShell) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubShell) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.disconnected++
	return nil
}

func (s *stubShell) ResetCircuit() {}

const membershipList = "<aa:bb:cc:dd:ee:01>192.168.50.1>0>RT-AX88U>salon" +
	"<aa:bb:cc:dd:ee:02>192.168.50.2>45>RT-AX58U>dormitorio" +
	"<aa:bb:cc:dd:ee:03>192.168.50.3>30>RT-AX58U>cocina"

func newTestPool(shells map[string]*stubShell) *Pool {
	p := NewPool(Options{Host: "192.168.50.1", User: "admin"})
	p.factory = func(host string) ports.Shell {
		if sh, ok := shells[host]; ok {
			return sh
		}
		return &stubShell{host: host, connectErr: domain.ErrUnavailable}
	}
	return p
}

func primaryStub() *stubShell {
	return &stubShell{
		host:      "192.168.50.1",
		connected: true,
		responses: map[string]string{"nvram get " + peerListKey: membershipList},
	}
}

func TestPoolInitialize_ToleratesUnreachablePeers(t *testing.T) {
	shells := map[string]*stubShell{
		"192.168.50.1": {host: "192.168.50.1", responses: map[string]string{"uname": "Linux-1\n"}},
		"192.168.50.2": {host: "192.168.50.2", connectErr: fmt.Errorf("%w: dial", domain.ErrUnavailable)},
		"192.168.50.3": {host: "192.168.50.3", responses: map[string]string{"uname": "Linux-3\n"}},
	}
	pool := newTestPool(shells)

	require.NoError(t, pool.Initialize(context.Background(), primaryStub()))

	peers := pool.Peers()
	require.Len(t, peers, 3)
	byMAC := map[string]domain.MeshPeer{}
	for _, p := range peers {
		byMAC[p.MAC] = p
	}
	assert.True(t, byMAC["aa:bb:cc:dd:ee:01"].Reachable)
	assert.False(t, byMAC["aa:bb:cc:dd:ee:02"].Reachable)
	assert.True(t, byMAC["aa:bb:cc:dd:ee:03"].Reachable)
}

func TestPoolExecOn(t *testing.T) {
	shells := map[string]*stubShell{
		"192.168.50.1": {host: "192.168.50.1", responses: map[string]string{"uname": "Linux-1\n"}},
		"192.168.50.2": {host: "192.168.50.2", responses: map[string]string{"uname": "Linux-2\n"}},
		"192.168.50.3": {host: "192.168.50.3", responses: map[string]string{"uname": "Linux-3\n"}},
	}
	pool := newTestPool(shells)
	require.NoError(t, pool.Initialize(context.Background(), primaryStub()))

	out, err := pool.ExecOn(context.Background(), "AA:BB:CC:DD:EE:02", "uname")
	require.NoError(t, err)
	assert.Equal(t, "Linux-2\n", out)

	_, err = pool.ExecOn(context.Background(), "aa:bb:cc:dd:ee:99", "uname")
	assert.ErrorIs(t, err, domain.ErrUnknownNode)
}

func TestPoolExecOnAll_CollectsPerNodeOutcomes(t *testing.T) {
	shells := map[string]*stubShell{
		"192.168.50.1": {host: "192.168.50.1", responses: map[string]string{"uname": "Linux-1\n"}},
		"192.168.50.2": {host: "192.168.50.2", responses: map[string]string{}},
		"192.168.50.3": {host: "192.168.50.3", responses: map[string]string{"uname": "Linux-3\n"}},
	}
	pool := newTestPool(shells)
	require.NoError(t, pool.Initialize(context.Background(), primaryStub()))

	results := pool.ExecOnAll(context.Background(), "uname")
	require.Len(t, results, 3)
	assert.NoError(t, results["aa:bb:cc:dd:ee:01"].Err)
	assert.Equal(t, "Linux-1\n", results["aa:bb:cc:dd:ee:01"].Output)
	assert.Error(t, results["aa:bb:cc:dd:ee:02"].Err)
	assert.Equal(t, "Linux-3\n", results["aa:bb:cc:dd:ee:03"].Output)
}

func TestPoolClose_DisconnectsAll(t *testing.T) {
	shells := map[string]*stubShell{
		"192.168.50.1": {host: "192.168.50.1"},
		"192.168.50.2": {host: "192.168.50.2"},
		"192.168.50.3": {host: "192.168.50.3"},
	}
	pool := newTestPool(shells)
	require.NoError(t, pool.Initialize(context.Background(), primaryStub()))

	pool.Close()
	for host, sh := range shells {
		assert.Equal(t, 1, sh.disconnected, host)
	}

	_, err := pool.ExecOn(context.Background(), "aa:bb:cc:dd:ee:01", "uname")
	assert.ErrorIs(t, err, domain.ErrUnknownNode)
}
