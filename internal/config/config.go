package config

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// RouterConfig addresses the primary mesh device.
type RouterConfig struct {
	Host        string
	SSHPort     int
	SSHUser     string
	SSHPassword string
	SSHKeyPath  string
	HTTPPort    int
}

// HubConfig addresses the home-automation hub.
type HubConfig struct {
	Host        string
	Port        int
	AccessToken string
	UseSSL      bool
}

// ZigbeeConfig tunes the Zigbee side of the analysis.
type ZigbeeConfig struct {
	CoordinatorType  string // "native" or "bridge"
	PreferredChannel int
}

// SnmpDevice is one managed switch to walk.
type SnmpDevice struct {
	Host       string
	Port       int
	Community  string
	DeviceType string // generic, mikrotik, cisco, ubiquiti
}

// ScanConfig tunes the collection pipeline.
type ScanConfig struct {
	Interval            time.Duration
	SignalRetentionDays int
	PathLossRefRSSI     float64 // reference RSSI at 1 m, dBm
	PathLossExponent    float64
}

// AlertsConfig tunes the alert router's outbound channels.
type AlertsConfig struct {
	WebhookURL  string
	BrokerURL   string // MQTT broker, e.g. tcp://host:1883
	BrokerTopic string
}

// Config holds all application configuration.
type Config struct {
	Router   RouterConfig
	Hub      HubConfig
	Zigbee   ZigbeeConfig
	Scan     ScanConfig
	Snmp     []SnmpDevice
	Alerts   AlertsConfig
	DataDir  string
	DBPath   string
	Addr     string
	LogLevel string
}

// Load parses command line flags and environment variables to populate
// Config. Flags take precedence over environment variables.
func Load() *Config {
	cfg := &Config{}

	cfg.Router.Host = getEnv("WMESH_ROUTER_HOST", "")
	cfg.Router.SSHPort = getEnvInt("WMESH_ROUTER_SSH_PORT", 22)
	cfg.Router.SSHUser = getEnv("WMESH_ROUTER_SSH_USER", "admin")
	cfg.Router.SSHPassword = getEnv("WMESH_ROUTER_SSH_PASSWORD", "")
	cfg.Router.SSHKeyPath = getEnv("WMESH_ROUTER_SSH_KEY", "")
	cfg.Router.HTTPPort = getEnvInt("WMESH_ROUTER_HTTP_PORT", 80)

	cfg.Hub.Host = getEnv("WMESH_HUB_HOST", "")
	cfg.Hub.Port = getEnvInt("WMESH_HUB_PORT", 8123)
	cfg.Hub.AccessToken = getEnv("WMESH_HUB_TOKEN", "")
	cfg.Hub.UseSSL = getEnvBool("WMESH_HUB_SSL", false)

	cfg.Zigbee.CoordinatorType = getEnv("WMESH_ZIGBEE_COORDINATOR", "native")
	cfg.Zigbee.PreferredChannel = getEnvInt("WMESH_ZIGBEE_CHANNEL", 15)

	cfg.Scan.Interval = time.Duration(getEnvInt("WMESH_SCAN_INTERVAL_MS", 30000)) * time.Millisecond
	cfg.Scan.SignalRetentionDays = getEnvInt("WMESH_SIGNAL_RETENTION_DAYS", 7)
	cfg.Scan.PathLossRefRSSI = getEnvFloat("WMESH_PATHLOSS_REF_RSSI", -40)
	cfg.Scan.PathLossExponent = getEnvFloat("WMESH_PATHLOSS_EXPONENT", 3.5)

	cfg.Alerts.WebhookURL = getEnv("WMESH_ALERT_WEBHOOK", "")
	cfg.Alerts.BrokerURL = getEnv("WMESH_ALERT_BROKER", "")
	cfg.Alerts.BrokerTopic = getEnv("WMESH_ALERT_TOPIC", "wmesh/alerts")

	cfg.DataDir = getEnv("WMESH_DATA_DIR", defaultDataDir())
	cfg.Addr = getEnv("WMESH_ADDR", ":8090")
	cfg.LogLevel = getEnv("WMESH_LOG_LEVEL", "info")

	snmpHosts := getEnv("WMESH_SNMP_HOSTS", "")

	flag.StringVar(&cfg.Router.Host, "router", cfg.Router.Host, "Primary mesh router host")
	flag.IntVar(&cfg.Router.SSHPort, "ssh-port", cfg.Router.SSHPort, "Router SSH port")
	flag.StringVar(&cfg.Router.SSHUser, "ssh-user", cfg.Router.SSHUser, "Router SSH user")
	flag.StringVar(&cfg.Hub.Host, "hub", cfg.Hub.Host, "Home-automation hub host")
	flag.IntVar(&cfg.Hub.Port, "hub-port", cfg.Hub.Port, "Hub port")
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP server address")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "Data directory")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (trace|debug|info|warn|error|fatal)")
	flag.StringVar(&snmpHosts, "snmp", snmpHosts, "SNMP switch hosts (comma separated, host[:port[:community]])")
	flag.Parse()

	cfg.Snmp = parseSnmpHosts(snmpHosts)
	cfg.DBPath = filepath.Join(cfg.DataDir, "wmesh.db")

	return cfg
}

// KnowledgePath returns the path of the persistent knowledge document.
func (c *Config) KnowledgePath() string {
	return filepath.Join(c.DataDir, "network-knowledge.json")
}

// SlogLevel maps the configured level name onto a slog level. trace maps to
// a level below debug, fatal above error.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "trace":
		return slog.LevelDebug - 4
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "fatal":
		return slog.LevelError + 4
	default:
		return slog.LevelInfo
	}
}

func parseSnmpHosts(s string) []SnmpDevice {
	var devices []SnmpDevice
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dev := SnmpDevice{Port: 161, Community: "public", DeviceType: "generic"}
		fields := strings.Split(part, ":")
		dev.Host = fields[0]
		if len(fields) > 1 {
			if p, err := strconv.Atoi(fields[1]); err == nil {
				dev.Port = p
			}
		}
		if len(fields) > 2 {
			dev.Community = fields[2]
		}
		devices = append(devices, dev)
	}
	return devices
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// defaultDataDir returns ~/.wmesh, creating it if needed.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Printf("Warning: Could not get user home directory, using current dir: %v", err)
		return "."
	}
	dir := filepath.Join(home, ".wmesh")
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("Warning: Could not create data directory, using current dir: %v", err)
		return "."
	}
	return dir
}
