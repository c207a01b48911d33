package spectrum

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
)

const sampleScan = `
SSID: CasaDelSol
BSSID: AA:BB:CC:00:11:22
Channel: 6
RSSI: -55
Security: WPA2

SSID: MOVISTAR_PLUS
BSSID: aa:bb:cc:00:11:33
Channel: 6
RSSI: -72

SSID:
BSSID: aa:bb:cc:00:11:44
Channel: 11
RSSI: -80

SSID: Broken
BSSID:
Channel: 3
RSSI: -60

SSID: NoChannel
BSSID: aa:bb:cc:00:11:55
Channel: 0
RSSI: -60
`

func TestParseNeighborScan_Blocks(t *testing.T) {
	got, err := ParseNeighborScan(sampleScan, domain.Band24GHz, time.Now())
	require.NoError(t, err)
	require.Len(t, got, 3) // blocks without BSSID or channel are dropped

	assert.Equal(t, "CasaDelSol", got[0].SSID)
	assert.Equal(t, "aa:bb:cc:00:11:22", got[0].BSSID)
	assert.Equal(t, 6, got[0].Channel)
	assert.Equal(t, -55, got[0].RSSI)
	assert.Equal(t, "WPA2", got[0].Security)

	// Hidden network: empty SSID accepted.
	assert.Equal(t, "", got[2].SSID)
	assert.Equal(t, 11, got[2].Channel)
}

func TestParseNeighborScan_KeyValueTolerated(t *testing.T) {
	raw := "SSID=Net1\nBSSID=aa:bb:cc:dd:ee:ff\nChannel=1\nRSSI=-44\n"
	got, err := ParseNeighborScan(raw, domain.Band24GHz, time.Now())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", got[0].BSSID) // colons in the value must not shift the split
	assert.Equal(t, 1, got[0].Channel)
	assert.Equal(t, -44, got[0].RSSI)
}

func TestParseNeighborScan_GarbageIsParseError(t *testing.T) {
	_, err := ParseNeighborScan("total garbage\nnothing here: at all\n", domain.Band24GHz, time.Now())
	assert.ErrorIs(t, err, domain.ErrParse)
}

func TestParseNeighborScan_EmptyInput(t *testing.T) {
	got, err := ParseNeighborScan("", domain.Band24GHz, time.Now())
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestAggregate_UtilisationHeuristic(t *testing.T) {
	now := time.Now()
	var neighbors []domain.NeighborAP
	for i := 0; i < 8; i++ {
		neighbors = append(neighbors, domain.NeighborAP{
			BSSID: fmt.Sprintf("aa:bb:cc:dd:ee:%02x", i), Channel: 6, Band: domain.Band24GHz,
		})
	}
	scan := Aggregate(domain.Band24GHz, neighbors, now)

	require.Contains(t, scan.Channels, 6)
	assert.Equal(t, 100, scan.Channels[6].Utilisation) // min(100, 15*8)
	assert.Len(t, scan.Channels[6].Networks, 8)
}

// Channel 6 crowded with seven neighbors, Zigbee on 15: channel 11 must win
// with no Zigbee penalty (overlap(11,15) = 0).
func TestAssess_CrowdedChannel6WithZigbee15(t *testing.T) {
	now := time.Now()
	var neighbors []domain.NeighborAP
	neighbors = append(neighbors, domain.NeighborAP{BSSID: "aa:00:00:00:00:01", Channel: 6, Band: domain.Band24GHz, RSSI: -55})
	for i := 0; i < 6; i++ {
		neighbors = append(neighbors, domain.NeighborAP{
			BSSID: fmt.Sprintf("aa:00:00:00:00:%02x", i+2), Channel: 6, Band: domain.Band24GHz, RSSI: -75,
		})
	}
	scan := Aggregate(domain.Band24GHz, neighbors, now)

	got := Assess(scan, 6, 15)
	assert.Equal(t, 11, got.Best)
	assert.Greater(t, got.Improvement, ImprovementThreshold(domain.Band24GHz))

	// Zigbee 15 sits at 2425 MHz; channel 11 (2462 MHz) has zero overlap.
	assert.InDelta(t, 0, domain.ZigbeeOverlap(11, 15), 0.001)
}

func TestScoreChannel_ZigbeePenaltyOn24Only(t *testing.T) {
	empty24 := domain.SpectrumScan{Band: domain.Band24GHz, Channels: map[int]domain.ChannelScan{}}
	empty5 := domain.SpectrumScan{Band: domain.Band5GHz, Channels: map[int]domain.ChannelScan{}}

	// Zigbee 15 (2425 MHz) overlaps channel 4 (2427 MHz) almost fully.
	with := ScoreChannel(empty24, 4, 15)
	without := ScoreChannel(empty24, 4, 0)
	assert.Less(t, with, without)

	// No penalty on 5 GHz regardless of Zigbee.
	assert.Equal(t, ScoreChannel(empty5, 36, 15), ScoreChannel(empty5, 36, 0))
}

func TestScoreChannel_PreferredTrioBonus(t *testing.T) {
	empty := domain.SpectrumScan{Band: domain.Band24GHz, Channels: map[int]domain.ChannelScan{}}
	assert.Equal(t, ScoreChannel(empty, 6, 0)-5, ScoreChannel(empty, 3, 0))
}

func TestScoreChannel_ClampsAtZero(t *testing.T) {
	networks := make([]domain.NeighborAP, 30)
	for i := range networks {
		networks[i] = domain.NeighborAP{BSSID: fmt.Sprintf("aa:00:00:00:01:%02x", i), Channel: 6, Band: domain.Band24GHz, RSSI: -50}
	}
	scan := Aggregate(domain.Band24GHz, networks, time.Now())
	assert.Equal(t, 0.0, ScoreChannel(scan, 6, 0))
}
