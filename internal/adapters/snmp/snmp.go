// Package snmp walks managed switches for port state, VLANs and PoE draw.
// Collection is best-effort: an unreachable switch yields a nil view, never
// an error that would sink the surrounding scan.
package snmp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/lcalzada-xor/wmesh/internal/config"
	"github.com/lcalzada-xor/wmesh/internal/core/domain"
	"github.com/lcalzada-xor/wmesh/internal/core/ports"
)

// IF-MIB and Q-BRIDGE-MIB subtrees. Octet counters use the 64-bit ifXTable
// variants; PoE draw is the PSE port table, milliwatts.
const (
	oidIfDescr      = ".1.3.6.1.2.1.2.2.1.2"
	oidIfOperStatus = ".1.3.6.1.2.1.2.2.1.8"
	oidIfHighSpeed  = ".1.3.6.1.2.1.31.1.1.1.15"
	oidIfHCInOctets = ".1.3.6.1.2.1.31.1.1.1.6"
	oidIfHCOut      = ".1.3.6.1.2.1.31.1.1.1.10"
	oidVlanName     = ".1.3.6.1.2.1.17.7.1.4.3.1.1"
	oidPoEPortPower = ".1.3.6.1.2.1.105.1.1.1.5"
)

// conn is one open SNMP session; the real one wraps gosnmp.
type conn interface {
	walk(oid string) ([]gosnmp.SnmpPDU, error)
	close() error
}

type gosnmpConn struct {
	g *gosnmp.GoSNMP
}

func (c *gosnmpConn) walk(oid string) ([]gosnmp.SnmpPDU, error) {
	return c.g.BulkWalkAll(oid)
}

func (c *gosnmpConn) close() error {
	return c.g.Conn.Close()
}

func dial(dev config.SnmpDevice, timeout time.Duration) (conn, error) {
	g := &gosnmp.GoSNMP{
		Target:    dev.Host,
		Port:      uint16(dev.Port),
		Community: dev.Community,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   1,
	}
	if err := g.Connect(); err != nil {
		return nil, err
	}
	return &gosnmpConn{g: g}, nil
}

// Client walks the configured switches.
type Client struct {
	devices []config.SnmpDevice
	timeout time.Duration
	log     *slog.Logger

	// dial is the test seam.
	dial func(dev config.SnmpDevice) (conn, error)
}

var _ ports.SnmpWalker = (*Client)(nil)

// New creates a walker over the configured switch list.
func New(devices []config.SnmpDevice) *Client {
	c := &Client{
		devices: devices,
		timeout: 5 * time.Second,
		log:     slog.With("component", "snmp"),
	}
	c.dial = func(dev config.SnmpDevice) (conn, error) {
		return dial(dev, c.timeout)
	}
	return c
}

// Walk collects one switch's view. An unreachable or unresponsive host
// returns (nil, nil); only asking for an unconfigured host is an error.
func (c *Client) Walk(ctx context.Context, host string) (*domain.SwitchInfo, error) {
	dev, ok := c.deviceFor(host)
	if !ok {
		return nil, fmt.Errorf("%w: switch %s not configured", domain.ErrUnknownDevice, host)
	}

	type result struct {
		info *domain.SwitchInfo
	}
	done := make(chan result, 1)
	go func() {
		done <- result{info: c.walkDevice(dev)}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.info, nil
	}
}

// WalkAll collects every configured switch in parallel. The map always has
// one entry per configured host; unreachable hosts map to nil.
func (c *Client) WalkAll(ctx context.Context) map[string]*domain.SwitchInfo {
	out := make(map[string]*domain.SwitchInfo, len(c.devices))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, dev := range c.devices {
		wg.Add(1)
		go func(dev config.SnmpDevice) {
			defer wg.Done()
			info, err := c.Walk(ctx, dev.Host)
			if err != nil {
				info = nil
			}
			mu.Lock()
			out[dev.Host] = info
			mu.Unlock()
		}(dev)
	}
	wg.Wait()
	return out
}

func (c *Client) walkDevice(dev config.SnmpDevice) *domain.SwitchInfo {
	session, err := c.dial(dev)
	if err != nil {
		c.log.Warn("switch unreachable", "host", dev.Host, "error", err)
		return nil
	}
	defer session.close()

	descrs, err := session.walk(oidIfDescr)
	if err != nil {
		c.log.Warn("interface walk failed", "host", dev.Host, "error", err)
		return nil
	}

	portsByIndex := make(map[int]*domain.SwitchPort)
	for _, pdu := range descrs {
		idx, ok := pduIndex(pdu.Name)
		if !ok {
			continue
		}
		portsByIndex[idx] = &domain.SwitchPort{Index: idx, Name: pduString(pdu)}
	}

	// The remaining subtrees enrich what ifDescr established; a switch that
	// answers only part of them still yields a usable view.
	if rows, err := session.walk(oidIfOperStatus); err == nil {
		for _, pdu := range rows {
			if idx, ok := pduIndex(pdu.Name); ok {
				if p := portsByIndex[idx]; p != nil {
					p.Up = pduInt(pdu) == 1
				}
			}
		}
	}
	if rows, err := session.walk(oidIfHighSpeed); err == nil {
		for _, pdu := range rows {
			if idx, ok := pduIndex(pdu.Name); ok {
				if p := portsByIndex[idx]; p != nil {
					p.SpeedMbps = pduInt(pdu)
				}
			}
		}
	}
	if rows, err := session.walk(oidIfHCInOctets); err == nil {
		for _, pdu := range rows {
			if idx, ok := pduIndex(pdu.Name); ok {
				if p := portsByIndex[idx]; p != nil {
					p.InOctets = pduUint(pdu)
				}
			}
		}
	}
	if rows, err := session.walk(oidIfHCOut); err == nil {
		for _, pdu := range rows {
			if idx, ok := pduIndex(pdu.Name); ok {
				if p := portsByIndex[idx]; p != nil {
					p.OutOctets = pduUint(pdu)
				}
			}
		}
	}
	if rows, err := session.walk(oidPoEPortPower); err == nil {
		for _, pdu := range rows {
			if idx, ok := pduIndex(pdu.Name); ok {
				if p := portsByIndex[idx]; p != nil {
					p.PoEWatts = float64(pduInt(pdu)) / 1000
				}
			}
		}
	}

	info := &domain.SwitchInfo{Host: dev.Host}
	for _, p := range portsByIndex {
		info.Ports = append(info.Ports, *p)
	}
	sort.Slice(info.Ports, func(i, j int) bool { return info.Ports[i].Index < info.Ports[j].Index })

	if rows, err := session.walk(oidVlanName); err == nil {
		for _, pdu := range rows {
			if id, ok := pduIndex(pdu.Name); ok {
				info.VLANs = append(info.VLANs, id)
			}
		}
		sort.Ints(info.VLANs)
	}

	return info
}

func (c *Client) deviceFor(host string) (config.SnmpDevice, bool) {
	for _, dev := range c.devices {
		if dev.Host == host {
			return dev, true
		}
	}
	return config.SnmpDevice{}, false
}

// pduIndex extracts the trailing table index of an OID.
func pduIndex(name string) (int, bool) {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return 0, false
	}
	idx, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return 0, false
	}
	return idx, true
}

func pduString(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	}
	return ""
}

func pduInt(pdu gosnmp.SnmpPDU) int64 {
	return gosnmp.ToBigInt(pdu.Value).Int64()
}

func pduUint(pdu gosnmp.SnmpPDU) uint64 {
	return gosnmp.ToBigInt(pdu.Value).Uint64()
}
