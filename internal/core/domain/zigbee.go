package domain

import "time"

// ZigbeeRole is the role of a device inside the Zigbee mesh.
type ZigbeeRole string

const (
	ZigbeeCoordinator ZigbeeRole = "coordinator"
	ZigbeeRouter      ZigbeeRole = "router"
	ZigbeeEndDevice   ZigbeeRole = "end"
)

// ZigbeeDevice is one member of the Zigbee network as reported by the hub.
type ZigbeeDevice struct {
	IEEEAddress string     `json:"ieee"`
	Name        string     `json:"name,omitempty"`
	Role        ZigbeeRole `json:"role"`
	LQI         int        `json:"lqi,omitempty"` // 0..255
	Available   bool       `json:"available"`
	LastSeen    time.Time  `json:"last_seen,omitempty"`
}

// ZigbeeNetwork is the hub-side view of the Zigbee mesh.
type ZigbeeNetwork struct {
	CoordinatorChannel int            `json:"channel"` // 11..26
	PanID              string         `json:"pan_id,omitempty"`
	Devices            []ZigbeeDevice `json:"devices,omitempty"`
}

// ZigbeeFreqMHz returns the center frequency of a Zigbee channel (11..26).
func ZigbeeFreqMHz(channel int) float64 {
	if channel < 11 || channel > 26 {
		return 0
	}
	return 2405 + 5*float64(channel-11)
}

// ZigbeeOverlap returns the fraction of a 22 MHz Wi-Fi channel that overlaps
// a 2 MHz Zigbee channel, in [0,1]. Only meaningful on 2.4 GHz.
func ZigbeeOverlap(wifiChannel, zigbeeChannel int) float64 {
	wf := ChannelFreqMHz(Band24GHz, wifiChannel)
	zf := ZigbeeFreqMHz(zigbeeChannel)
	if wf == 0 || zf == 0 {
		return 0
	}
	d := wf - zf
	if d < 0 {
		d = -d
	}
	overlap := 1 - d/22
	if overlap < 0 {
		return 0
	}
	return overlap
}
