package snapshot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lcalzada-xor/wmesh/internal/adapters/shell"
	"github.com/lcalzada-xor/wmesh/internal/core/domain"
	"github.com/lcalzada-xor/wmesh/internal/core/services/spectrum"
)

// Router command templates. The output formats are owned by the shell
// parsers; the builder only sequences the calls.
const (
	cmdSysInfo = `echo "productid: $(nvram get productid)"; ` +
		`echo "firmver: $(nvram get firmver)"; ` +
		`echo "uptime: $(cut -d. -f1 /proc/uptime)"`
	cmdARPTable   = "cat /proc/net/arp"
	cmdDHCPLeases = "cat /var/lib/misc/dnsmasq.leases"
)

// bandInterfaces maps each scanned band onto its radio interface. Tri-band
// and 6 GHz radios are collected only where the interface answers.
var bandInterfaces = map[domain.Band]string{
	domain.Band24GHz: "wl0",
	domain.Band5GHz:  "wl1",
}

var bandLinks = map[domain.Band]domain.LinkType{
	domain.Band24GHz: domain.LinkWireless2G,
	domain.Band5GHz:  domain.LinkWireless5G,
	domain.Band6GHz:  domain.LinkWireless6G,
}

// collected accumulates phase output before analysis.
type collected struct {
	primaryMAC string
	nodes      []domain.Node
	radios     []domain.Radio
	devices    map[string]*domain.Device
	neighbors  []domain.NeighborAP
	scans      map[domain.Band]domain.SpectrumScan
	zigbee     *domain.ZigbeeNetwork
	switches   map[string]*domain.SwitchInfo
	health     domain.SourceHealthVector
}

func newCollected() *collected {
	return &collected{
		devices: make(map[string]*domain.Device),
		scans:   make(map[domain.Band]domain.SpectrumScan),
		health:  make(domain.SourceHealthVector),
	}
}

func (c *collected) deviceList() []domain.Device {
	out := make([]domain.Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, *d)
	}
	return out
}

func (b *Builder) collectRouter(ctx context.Context, col *collected) error {
	primary := b.opts.Primary
	if !primary.IsConnected() {
		if err := primary.Connect(ctx); err != nil {
			return fmt.Errorf("connecting primary: %w", err)
		}
	}

	mac, err := primary.GetKV(ctx, "lan_hwaddr")
	if err != nil {
		return fmt.Errorf("reading primary address: %w", err)
	}
	col.primaryMAC = domain.CanonicalMAC(mac)

	now := b.opts.Clock.Now()
	primaryNode := domain.Node{
		ID:        col.primaryMAC,
		MAC:       col.primaryMAC,
		IsPrimary: true,
		Backhaul:  domain.BackhaulWired,
		Reachable: true,
		LastSeen:  now,
	}
	if mode, err := primary.GetKV(ctx, "sw_mode"); err == nil {
		// 1 = router, 3 = access point on this device family.
		if strings.TrimSpace(mode) == "3" {
			primaryNode.Mode = "ap"
		} else {
			primaryNode.Mode = "router"
		}
	}
	if raw, err := primary.Exec(ctx, cmdSysInfo); err == nil {
		info := shell.ParseSysInfo(raw)
		primaryNode.Model = info.Model
		primaryNode.Firmware = info.Firmware
		primaryNode.Uptime = info.UptimeSec
		primaryNode.CPUPercent = info.CPUPercent
		primaryNode.MemoryPercent = info.MemPercent
	}
	col.nodes = append(col.nodes, primaryNode)

	if err := b.opts.Pool.Initialize(ctx, primary); err != nil {
		b.log.Warn("peer discovery failed", "error", err)
	}
	for _, peer := range b.opts.Pool.Peers() {
		col.nodes = append(col.nodes, domain.Node{
			ID:           peer.MAC,
			MAC:          peer.MAC,
			IP:           peer.IP,
			Alias:        peer.Alias,
			Model:        peer.Model,
			Backhaul:     peer.Backhaul(),
			BackhaulCost: peer.Cost,
			Reachable:    peer.Reachable,
			LastSeen:     now,
		})
	}

	for i := range col.nodes {
		if !col.nodes[i].Reachable {
			continue
		}
		col.radios = append(col.radios, b.collectRadios(ctx, col, col.nodes[i].ID)...)
	}

	arp := map[string]string{}
	if raw, err := primary.Exec(ctx, cmdARPTable); err == nil {
		arp = shell.ParseARPTable(raw)
	}
	var leases []shell.Lease
	if raw, err := primary.Exec(ctx, cmdDHCPLeases); err == nil {
		leases = shell.ParseDHCPLeases(raw)
	}

	b.collectClients(ctx, col)

	// Wired devices: leased or ARP-visible addresses with no association.
	for _, lease := range leases {
		d := col.ensureDevice(lease.MAC, now)
		d.IP = lease.IP
		d.Hostname = lease.Hostname
		if d.Link == "" {
			d.Link = domain.LinkWired
		}
	}
	for ip, mac := range arp {
		d := col.ensureDevice(mac, now)
		if d.IP == "" {
			d.IP = ip
		}
		if d.Link == "" {
			d.Link = domain.LinkWired
		}
	}

	attached := make(map[string]int)
	for _, d := range col.devices {
		d.Status = domain.StatusOnline
		if d.AttachedNode != "" {
			attached[d.AttachedNode]++
		}
	}
	for i := range col.nodes {
		col.nodes[i].ConnectedClients = attached[col.nodes[i].ID]
	}
	return nil
}

// collectClients walks every reachable node's radio interfaces for
// associated clients and probes each association's RSSI. Every reading also
// feeds the signal store, which is what makes cross-node trilateration
// possible.
func (b *Builder) collectClients(ctx context.Context, col *collected) {
	now := b.opts.Clock.Now()
	for band, iface := range bandInterfaces {
		cmd := fmt.Sprintf("wl -i %s assoclist", iface)
		for _, node := range col.nodes {
			if !node.Reachable {
				continue
			}
			raw, err := b.execNode(ctx, col, node.ID, cmd)
			if err != nil {
				continue
			}
			for _, mac := range shell.ParseAssocList(raw) {
				d := col.ensureDevice(mac, now)
				d.Link = bandLinks[band]
				d.AttachedNode = node.ID
				d.LastSeen = now

				rssi, ok := b.probeRSSI(ctx, col, node.ID, iface, mac)
				if !ok {
					continue
				}
				d.RSSI = rssi
			}

			// Cross-node measurement: every node reports what it hears of
			// every known wireless client, associated or not.
			for mac, d := range col.devices {
				if !d.Link.Wireless() || d.AttachedNode == node.ID {
					continue
				}
				b.probeRSSI(ctx, col, node.ID, iface, mac)
			}
		}
	}
}

// probeRSSI asks one node for one device's RSSI and records the sample,
// suppressing duplicates inside the measurement window.
func (b *Builder) probeRSSI(ctx context.Context, col *collected, nodeID, iface, deviceMAC string) (int, bool) {
	now := b.opts.Clock.Now()
	key := measureKey{device: deviceMAC, node: nodeID}
	b.measureMu.Lock()
	if last, ok := b.measured[key]; ok && now.Sub(last) < duplicateWindow {
		b.measureMu.Unlock()
		return 0, false
	}
	b.measured[key] = now
	b.measureMu.Unlock()

	raw, err := b.execNode(ctx, col, nodeID, fmt.Sprintf("wl -i %s rssi %s", iface, deviceMAC))
	if err != nil {
		return 0, false
	}
	rssi, err := shell.ParseRSSI(raw)
	if err != nil {
		return 0, false
	}

	if b.opts.Sink != nil {
		b.opts.Sink.Record(domain.SignalSample{
			Timestamp: now,
			DeviceMAC: deviceMAC,
			NodeMAC:   nodeID,
			RSSI:      rssi,
		})
	}
	return rssi, true
}

// collectRadios reads one node's per-band radio settings.
func (b *Builder) collectRadios(ctx context.Context, col *collected, nodeID string) []domain.Radio {
	var radios []domain.Radio
	for band, iface := range bandInterfaces {
		ch, err := b.nodeKV(ctx, col, nodeID, iface+"_channel")
		if err != nil {
			continue
		}
		channel, err := strconv.Atoi(ch)
		if err != nil || !domain.ValidChannel(band, channel) {
			continue
		}
		radio := domain.Radio{NodeID: nodeID, Band: band, Channel: channel, WidthMHz: 20}
		if bw, err := b.nodeKV(ctx, col, nodeID, iface+"_bw"); err == nil {
			if w, err := strconv.Atoi(bw); err == nil && w > 0 {
				radio.WidthMHz = w
			}
		}
		if tx, err := b.nodeKV(ctx, col, nodeID, iface+"_txpower"); err == nil {
			if p, err := strconv.Atoi(tx); err == nil {
				radio.TxPowerPct = p
			}
		}
		if v, err := b.nodeKV(ctx, col, nodeID, iface+"_mumimo"); err == nil {
			radio.MUMIMO = v == "1"
		}
		if v, err := b.nodeKV(ctx, col, nodeID, iface+"_user_rssi"); err == nil {
			radio.RoamingAssist = v != "" && v != "0"
		}
		if v, err := b.nodeKV(ctx, col, nodeID, "smart_connect_x"); err == nil {
			radio.BandSteering = v == "1"
		}
		radios = append(radios, radio)
	}
	return radios
}

func (b *Builder) scanNeighbors(ctx context.Context, col *collected) error {
	now := b.opts.Clock.Now()
	var lastErr error
	for band, iface := range bandInterfaces {
		raw, err := b.opts.Primary.Exec(ctx, fmt.Sprintf("wl -i %s scanresults", iface))
		if err != nil {
			lastErr = err
			continue
		}
		neighbors, err := spectrum.ParseNeighborScan(raw, band, now)
		if err != nil {
			lastErr = err
			continue
		}
		col.neighbors = append(col.neighbors, neighbors...)
		col.scans[band] = spectrum.Aggregate(band, neighbors, now)
	}
	if len(col.scans) == 0 && lastErr != nil {
		return fmt.Errorf("neighbor scan: %w", lastErr)
	}
	return nil
}

func (b *Builder) collectHub(ctx context.Context, col *collected) error {
	hub := b.opts.Hub
	if !hub.Connected() {
		if err := hub.Connect(ctx); err != nil {
			return fmt.Errorf("connecting hub: %w", err)
		}
	}
	network, err := hub.GetZigbeeNetwork(ctx)
	if err != nil {
		return fmt.Errorf("zigbee network: %w", err)
	}
	if devices, err := hub.GetZigbeeDevices(ctx); err == nil {
		network.Devices = devices
	}
	col.zigbee = network
	return nil
}

func (b *Builder) collectSnmp(ctx context.Context, col *collected) error {
	col.switches = b.opts.Snmp.WalkAll(ctx)
	for _, info := range col.switches {
		if info != nil {
			return nil
		}
	}
	if len(col.switches) > 0 {
		return fmt.Errorf("%w: no switch answered", domain.ErrUnavailable)
	}
	return nil
}

func (b *Builder) execNode(ctx context.Context, col *collected, nodeID, cmd string) (string, error) {
	if nodeID == col.primaryMAC {
		return b.opts.Primary.Exec(ctx, cmd)
	}
	return b.opts.Pool.ExecOn(ctx, nodeID, cmd)
}

func (b *Builder) nodeKV(ctx context.Context, col *collected, nodeID, key string) (string, error) {
	if nodeID == col.primaryMAC {
		return b.opts.Primary.GetKV(ctx, key)
	}
	out, err := b.opts.Pool.ExecOn(ctx, nodeID, "nvram get "+key)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *collected) ensureDevice(mac string, now time.Time) *domain.Device {
	mac = domain.CanonicalMAC(mac)
	if d, ok := c.devices[mac]; ok {
		return d
	}
	d := &domain.Device{MAC: mac, FirstSeen: now, LastSeen: now}
	c.devices[mac] = d
	return d
}
