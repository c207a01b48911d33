package domain

import "time"

// NeighborAP is a foreign BSS observed during a neighbor scan. An empty SSID
// means a hidden network.
type NeighborAP struct {
	SSID     string    `json:"ssid,omitempty"`
	BSSID    string    `json:"bssid"`
	Channel  int       `json:"channel"`
	Band     Band      `json:"band"`
	RSSI     int       `json:"rssi"`
	Security string    `json:"security,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// ChannelScan aggregates neighbor networks on one channel.
type ChannelScan struct {
	Band        Band         `json:"band"`
	Channel     int          `json:"channel"`
	Networks    []NeighborAP `json:"networks,omitempty"`
	Utilisation int          `json:"utilisation"` // 0..100 heuristic
}

// SpectrumScan is the per-band result of a neighbor sweep.
type SpectrumScan struct {
	Band      Band                `json:"band"`
	Timestamp time.Time           `json:"ts"`
	Channels  map[int]ChannelScan `json:"channels"`
}
