package domain

import (
	"strings"
	"time"
)

// LinkType describes how a client is attached to the network.
type LinkType string

const (
	LinkWired      LinkType = "wired"
	LinkWireless2G LinkType = "wireless-2g"
	LinkWireless5G LinkType = "wireless-5g"
	LinkWireless6G LinkType = "wireless-6g"
)

// Wireless reports whether the link is a Wi-Fi association.
func (l LinkType) Wireless() bool { return l != LinkWired && l != "" }

// DeviceStatus is the coarse availability of a client.
type DeviceStatus string

const (
	StatusOnline   DeviceStatus = "online"
	StatusUnstable DeviceStatus = "unstable"
	StatusOffline  DeviceStatus = "offline"
)

// Device is one client of the network, wired or wireless.
type Device struct {
	MAC             string       `json:"mac"` // canonical lowercase colon-form
	IP              string       `json:"ip,omitempty"`
	Hostname        string       `json:"hostname,omitempty"`
	Vendor          string       `json:"vendor,omitempty"`
	Link            LinkType     `json:"link"`
	AttachedNode    string       `json:"attached_node,omitempty"` // MAC of the serving node
	Status          DeviceStatus `json:"status"`
	RSSI            int          `json:"rssi,omitempty"` // dBm, 0 = unknown
	DisconnectCount int          `json:"disconnects"`
	FirstSeen       time.Time    `json:"first_seen"`
	LastSeen        time.Time    `json:"last_seen"`
}

// CanonicalMAC lowercases a hardware address and normalises separators to
// colons. Input like "AA-BB-CC-DD-EE-FF" or "aabb.ccdd.eeff" becomes
// "aa:bb:cc:dd:ee:ff". Invalid input is returned lowercased as-is; callers
// validate length where it matters.
func CanonicalMAC(mac string) string {
	s := strings.ToLower(strings.TrimSpace(mac))
	s = strings.ReplaceAll(s, "-", ":")
	if strings.Contains(s, ".") && !strings.Contains(s, ":") {
		raw := strings.ReplaceAll(s, ".", "")
		if len(raw) == 12 {
			var b strings.Builder
			for i := 0; i < 12; i += 2 {
				if i > 0 {
					b.WriteByte(':')
				}
				b.WriteString(raw[i : i+2])
			}
			return b.String()
		}
	}
	return s
}
