package shell

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
	"github.com/lcalzada-xor/wmesh/internal/core/ports"
)

// peerListKey is the primary's cluster-membership list.
const peerListKey = "cfg_device_list"

// dialConcurrency bounds how many peer shells are opened at once during
// Initialize.
const dialConcurrency = 4

// Pool holds one DeviceShell per reachable mesh peer, discovered from the
// primary's membership list. Node IDs are canonical hardware addresses.
type Pool struct {
	opts Options // credentials and breaker settings shared by all peers
	log  *slog.Logger

	// factory builds a shell for one peer; tests swap it out.
	factory func(host string) ports.Shell

	mu     sync.RWMutex
	peers  []domain.MeshPeer
	shells map[string]ports.Shell // node ID -> connected shell
}

var _ ports.NodePool = (*Pool)(nil)

// NewPool creates an empty pool. Peers are discovered on Initialize.
func NewPool(opts Options) *Pool {
	opts = opts.withDefaults()
	p := &Pool{
		opts:   opts,
		log:    slog.With("component", "nodepool"),
		shells: make(map[string]ports.Shell),
	}
	p.factory = func(host string) ports.Shell {
		peerOpts := opts
		peerOpts.Host = host
		return NewDeviceShell(peerOpts)
	}
	return p
}

// Initialize reads the membership list from the primary and dials every
// listed peer. Peers that fail to connect are recorded as unreachable, not
// fatal; only an unreadable membership list fails initialization.
func (p *Pool) Initialize(ctx context.Context, primary ports.Shell) error {
	raw, err := primary.GetKV(ctx, peerListKey)
	if err != nil {
		return fmt.Errorf("reading membership list: %w", err)
	}
	peers, err := ParsePeerList(raw)
	if err != nil {
		return err
	}

	shells := make(map[string]ports.Shell, len(peers))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dialConcurrency)
	for i := range peers {
		peer := &peers[i]
		g.Go(func() error {
			sh := p.factory(peer.IP)
			if err := sh.Connect(gctx); err != nil {
				p.log.Warn("peer unreachable", "mac", peer.MAC, "ip", peer.IP, "error", err)
				peer.Reachable = false
				return nil
			}
			peer.Reachable = true
			mu.Lock()
			shells[peer.MAC] = sh
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, sh := range shells {
			sh.Disconnect()
		}
		return err
	}

	p.mu.Lock()
	old := p.shells
	p.peers = peers
	p.shells = shells
	p.mu.Unlock()
	for _, sh := range old {
		sh.Disconnect()
	}

	p.log.Info("node pool initialized", "peers", len(peers), "reachable", len(shells))
	return nil
}

// ExecOn runs one command on one peer. Serialisation per peer is provided by
// the peer's shell.
func (p *Pool) ExecOn(ctx context.Context, nodeID, command string) (string, error) {
	sh, err := p.shellFor(nodeID)
	if err != nil {
		return "", err
	}
	return sh.Exec(ctx, command)
}

// ExecOnAll fans a command out to every reachable peer under a shared
// context and collects per-node outcomes. One slow or broken node does not
// hide the others' results.
func (p *Pool) ExecOnAll(ctx context.Context, command string) map[string]ports.ExecResult {
	p.mu.RLock()
	shells := make(map[string]ports.Shell, len(p.shells))
	for id, sh := range p.shells {
		shells[id] = sh
	}
	p.mu.RUnlock()

	results := make(map[string]ports.ExecResult, len(shells))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for id, sh := range shells {
		wg.Add(1)
		go func(id string, sh ports.Shell) {
			defer wg.Done()
			out, err := sh.Exec(ctx, command)
			mu.Lock()
			results[id] = ports.ExecResult{Output: out, Err: err}
			mu.Unlock()
		}(id, sh)
	}
	wg.Wait()
	return results
}

// Peers returns the last discovered membership list.
func (p *Pool) Peers() []domain.MeshPeer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.MeshPeer, len(p.peers))
	copy(out, p.peers)
	return out
}

// Close disconnects every peer shell.
func (p *Pool) Close() {
	p.mu.Lock()
	shells := p.shells
	p.shells = make(map[string]ports.Shell)
	p.mu.Unlock()
	for _, sh := range shells {
		sh.Disconnect()
	}
}

func (p *Pool) shellFor(nodeID string) (ports.Shell, error) {
	nodeID = domain.CanonicalMAC(nodeID)
	p.mu.RLock()
	defer p.mu.RUnlock()
	sh, ok := p.shells[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownNode, nodeID)
	}
	return sh, nil
}
