package domain

import "time"

// AlertConfig tunes the alert router. Zero thresholds keep the defaults.
type AlertConfig struct {
	MinSeverity      Severity      `json:"min_severity"`
	CooldownPerKey   time.Duration `json:"cooldown_per_key"`
	WebhookURL       string        `json:"webhook_url,omitempty"`
	BrokerTopic      string        `json:"broker_topic,omitempty"`
	RSSIWarnDBm      int           `json:"rssi_warn_dbm"`      // default -75
	RSSICriticalDBm  int           `json:"rssi_critical_dbm"`  // default -85
	DisconnectsWarn  int           `json:"disconnects_warn"`   // default 5
	ZigbeeOverlapMax float64       `json:"zigbee_overlap_max"` // default 0.3
}

// Alert is one emitted notification.
type Alert struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Category  string    `json:"category"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	DeviceMAC string    `json:"device,omitempty"`
	NodeID    string    `json:"node,omitempty"`
	At        time.Time `json:"at"`
}
