package shell

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
)

// ParsePeerList parses the primary's cluster-membership list: one
// angle-bracket record per peer, fields separated by '>':
//
//	<mac>ip>cost>model>alias<mac>ip>cost>model>alias...
//
// Cost 0 means wired backhaul, above 0 wireless. Records with a malformed
// hardware address or IP are skipped; a completely unreadable list is a
// parse error.
func ParsePeerList(raw string) ([]domain.MeshPeer, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	records := strings.Split(raw, "<")
	var peers []domain.MeshPeer
	seen := 0
	for _, rec := range records {
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}
		seen++
		fields := strings.Split(rec, ">")
		if len(fields) < 3 {
			continue
		}
		mac := domain.CanonicalMAC(fields[0])
		if len(mac) != 17 {
			continue
		}
		cost, err := strconv.Atoi(strings.TrimSpace(fields[2]))
		if err != nil {
			continue
		}
		peer := domain.MeshPeer{
			MAC:  mac,
			IP:   strings.TrimSpace(fields[1]),
			Cost: cost,
		}
		if len(fields) > 3 {
			peer.Model = strings.TrimSpace(fields[3])
		}
		if len(fields) > 4 {
			peer.Alias = strings.TrimSpace(fields[4])
		}
		peers = append(peers, peer)
	}

	if seen > 0 && len(peers) == 0 {
		sample := raw
		if len(sample) > 120 {
			sample = sample[:120]
		}
		return nil, fmt.Errorf("%w: unreadable peer list %q", domain.ErrParse, sample)
	}
	return peers, nil
}

// ParseARPTable parses /proc/net/arp style output into ip -> mac.
func ParseARPTable(raw string) map[string]string {
	out := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		// IP address, HW type, Flags, HW address, ...
		ip, mac := fields[0], domain.CanonicalMAC(fields[3])
		if !strings.Contains(ip, ".") || len(mac) != 17 || mac == "00:00:00:00:00:00" {
			continue
		}
		out[ip] = mac
	}
	return out
}

// Lease is one DHCP lease row.
type Lease struct {
	MAC      string
	IP       string
	Hostname string
}

// ParseDHCPLeases parses dnsmasq lease files: "expiry mac ip hostname clientid".
func ParseDHCPLeases(raw string) []Lease {
	var leases []Lease
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		mac := domain.CanonicalMAC(fields[1])
		if len(mac) != 17 {
			continue
		}
		hostname := fields[3]
		if hostname == "*" {
			hostname = ""
		}
		leases = append(leases, Lease{MAC: mac, IP: fields[2], Hostname: hostname})
	}
	return leases
}

// ParseAssocList parses "assoclist aa:bb:cc:dd:ee:ff" lines into the set of
// associated client addresses.
func ParseAssocList(raw string) []string {
	var macs []string
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		candidate := domain.CanonicalMAC(fields[len(fields)-1])
		if len(candidate) == 17 {
			macs = append(macs, candidate)
		}
	}
	return macs
}

// ParseRSSI parses the output of a per-station RSSI query. The driver
// answers either a bare number or "rssi is -57".
func ParseRSSI(raw string) (int, error) {
	fields := strings.Fields(strings.TrimSpace(raw))
	for i := len(fields) - 1; i >= 0; i-- {
		if v, err := strconv.Atoi(fields[i]); err == nil && v < 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: no rssi in %q", domain.ErrParse, truncate(raw, 60))
}

// SysInfo is the parsed identity block of a node.
type SysInfo struct {
	Model      string
	Firmware   string
	UptimeSec  int64
	CPUPercent float64
	MemPercent float64
}

// ParseSysInfo parses the "key: value" identity block collected from a node.
func ParseSysInfo(raw string) SysInfo {
	var info SysInfo
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		i := strings.Index(line, ":")
		if i <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:i]))
		value := strings.TrimSpace(line[i+1:])
		switch key {
		case "model", "productid":
			info.Model = value
		case "firmware", "firmver":
			info.Firmware = value
		case "uptime":
			if v, err := strconv.ParseInt(firstToken(value), 10, 64); err == nil {
				info.UptimeSec = v
			}
		case "cpu":
			if v, err := strconv.ParseFloat(strings.TrimSuffix(firstToken(value), "%"), 64); err == nil {
				info.CPUPercent = v
			}
		case "mem", "memory":
			if v, err := strconv.ParseFloat(strings.TrimSuffix(firstToken(value), "%"), 64); err == nil {
				info.MemPercent = v
			}
		}
	}
	return info
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
