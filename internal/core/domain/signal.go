package domain

import "time"

// SignalSample is one immutable RSSI observation of a device as seen by a
// node. Samples are append-only; the store enforces retention.
type SignalSample struct {
	Timestamp time.Time `json:"ts"`
	DeviceMAC string    `json:"device"`
	NodeMAC   string    `json:"node"`
	RSSI      int       `json:"rssi"` // dBm, negative
	Channel   int       `json:"channel,omitempty"`
	WidthMHz  int       `json:"width_mhz,omitempty"`
	RateMbps  float64   `json:"rate_mbps,omitempty"`
}
