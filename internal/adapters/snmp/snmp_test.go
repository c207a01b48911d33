package snmp

import (
	"context"
	"fmt"
	"testing"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/wmesh/internal/config"
	"github.com/lcalzada-xor/wmesh/internal/core/domain"
)

type fakeConn struct {
	tables map[string][]gosnmp.SnmpPDU
	closed bool
}

func (f *fakeConn) walk(oid string) ([]gosnmp.SnmpPDU, error) {
	rows, ok := f.tables[oid]
	if !ok {
		return nil, fmt.Errorf("no such subtree %s", oid)
	}
	return rows, nil
}

func (f *fakeConn) close() error {
	f.closed = true
	return nil
}

func pdu(base string, index int, value any) gosnmp.SnmpPDU {
	return gosnmp.SnmpPDU{Name: fmt.Sprintf("%s.%d", base, index), Value: value}
}

func switchTables() map[string][]gosnmp.SnmpPDU {
	return map[string][]gosnmp.SnmpPDU{
		oidIfDescr: {
			pdu(oidIfDescr, 1, []byte("Port 1")),
			pdu(oidIfDescr, 2, []byte("Port 2")),
			pdu(oidIfDescr, 3, []byte("Port 3")),
		},
		oidIfOperStatus: {
			pdu(oidIfOperStatus, 1, 1),
			pdu(oidIfOperStatus, 2, 2),
			pdu(oidIfOperStatus, 3, 1),
		},
		oidIfHighSpeed: {
			pdu(oidIfHighSpeed, 1, 1000),
			pdu(oidIfHighSpeed, 2, 0),
			pdu(oidIfHighSpeed, 3, 100),
		},
		oidIfHCInOctets: {
			pdu(oidIfHCInOctets, 1, uint64(123456789)),
		},
		oidIfHCOut: {
			pdu(oidIfHCOut, 1, uint64(987654321)),
		},
		oidPoEPortPower: {
			pdu(oidPoEPortPower, 3, 4200), // milliwatts
		},
		oidVlanName: {
			pdu(oidVlanName, 1, []byte("default")),
			pdu(oidVlanName, 20, []byte("iot")),
			pdu(oidVlanName, 10, []byte("lan")),
		},
	}
}

func newTestClient(conns map[string]*fakeConn) *Client {
	var devices []config.SnmpDevice
	for host := range conns {
		devices = append(devices, config.SnmpDevice{Host: host, Port: 161, Community: "public"})
	}
	c := New(devices)
	c.dial = func(dev config.SnmpDevice) (conn, error) {
		fc, ok := conns[dev.Host]
		if !ok || fc == nil {
			return nil, fmt.Errorf("connection refused")
		}
		return fc, nil
	}
	return c
}

func TestWalk_FullView(t *testing.T) {
	fc := &fakeConn{tables: switchTables()}
	c := newTestClient(map[string]*fakeConn{"10.0.0.5": fc})

	info, err := c.Walk(context.Background(), "10.0.0.5")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.True(t, fc.closed)

	require.Len(t, info.Ports, 3)
	assert.Equal(t, "Port 1", info.Ports[0].Name)
	assert.True(t, info.Ports[0].Up)
	assert.Equal(t, int64(1000), info.Ports[0].SpeedMbps)
	assert.Equal(t, uint64(123456789), info.Ports[0].InOctets)
	assert.Equal(t, uint64(987654321), info.Ports[0].OutOctets)

	assert.False(t, info.Ports[1].Up)
	assert.InDelta(t, 4.2, info.Ports[2].PoEWatts, 0.001)

	assert.Equal(t, []int{1, 10, 20}, info.VLANs)
}

func TestWalk_PartialSubtreesTolerated(t *testing.T) {
	tables := map[string][]gosnmp.SnmpPDU{
		oidIfDescr: {pdu(oidIfDescr, 1, []byte("Port 1"))},
	}
	c := newTestClient(map[string]*fakeConn{"10.0.0.5": {tables: tables}})

	info, err := c.Walk(context.Background(), "10.0.0.5")
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Len(t, info.Ports, 1)
	assert.Empty(t, info.VLANs)
	assert.False(t, info.Ports[0].Up)
}

func TestWalk_UnreachableIsNilNotError(t *testing.T) {
	c := newTestClient(map[string]*fakeConn{"10.0.0.5": nil})

	info, err := c.Walk(context.Background(), "10.0.0.5")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestWalk_UnconfiguredHost(t *testing.T) {
	c := newTestClient(map[string]*fakeConn{"10.0.0.5": {tables: switchTables()}})

	_, err := c.Walk(context.Background(), "10.9.9.9")
	assert.ErrorIs(t, err, domain.ErrUnknownDevice)
}

func TestWalkAll_OneEntryPerHost(t *testing.T) {
	c := newTestClient(map[string]*fakeConn{
		"10.0.0.5": {tables: switchTables()},
		"10.0.0.6": nil,
	})

	out := c.WalkAll(context.Background())
	require.Len(t, out, 2)
	assert.NotNil(t, out["10.0.0.5"])
	assert.Nil(t, out["10.0.0.6"])
}
