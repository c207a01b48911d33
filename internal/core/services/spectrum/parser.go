// Package spectrum parses neighbor scans and scores channels per band,
// accounting for Zigbee co-channel overlap on 2.4 GHz.
package spectrum

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
)

// ParseNeighborScan parses the multi-line block format emitted by the
// router's site survey: blocks start at an "SSID:" header and carry BSSID,
// Channel and RSSI lines. A block is accepted only when its channel is
// positive and its BSSID non-empty. Lines using key=value instead of
// "key: value" are tolerated.
func ParseNeighborScan(raw string, band domain.Band, now time.Time) ([]domain.NeighborAP, error) {
	var (
		out     []domain.NeighborAP
		current *domain.NeighborAP
		lines   int
	)

	flush := func() {
		if current == nil {
			return
		}
		if current.Channel > 0 && current.BSSID != "" {
			out = append(out, *current)
		}
		current = nil
	}

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines++

		key, value, ok := splitField(line)
		if !ok {
			continue
		}

		switch strings.ToLower(key) {
		case "ssid":
			flush()
			current = &domain.NeighborAP{SSID: value, Band: band, LastSeen: now}
		case "bssid":
			if current != nil {
				current.BSSID = domain.CanonicalMAC(value)
			}
		case "channel":
			if current != nil {
				if ch, err := strconv.Atoi(firstField(value)); err == nil {
					current.Channel = ch
				}
			}
		case "rssi", "signal":
			if current != nil {
				if r, err := strconv.Atoi(strings.TrimSuffix(firstField(value), "dBm")); err == nil {
					current.RSSI = r
				}
			}
		case "security", "encryption":
			if current != nil {
				current.Security = value
			}
		}
	}

	flush()

	if lines > 0 && len(out) == 0 {
		sample := raw
		if len(sample) > 120 {
			sample = sample[:120]
		}
		return nil, fmt.Errorf("%w: no valid scan blocks in %q", domain.ErrParse, sample)
	}
	return out, nil
}

func firstField(value string) string {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// splitField accepts "key: value" and "key=value". When both separators
// appear the earlier one wins, so "BSSID=aa:bb:cc:dd:ee:ff" splits at the
// equals sign and not inside the address.
func splitField(line string) (key, value string, ok bool) {
	i := strings.Index(line, ":")
	if eq := strings.Index(line, "="); eq >= 0 && (i < 0 || eq < i) {
		i = eq
	}
	if i <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
}

// Aggregate groups neighbors into per-channel scans with the utilisation
// heuristic min(100, 15 * networksOnChannel).
func Aggregate(band domain.Band, neighbors []domain.NeighborAP, now time.Time) domain.SpectrumScan {
	scan := domain.SpectrumScan{
		Band:      band,
		Timestamp: now,
		Channels:  make(map[int]domain.ChannelScan),
	}
	for _, n := range neighbors {
		if n.Band != band {
			continue
		}
		cs := scan.Channels[n.Channel]
		cs.Band = band
		cs.Channel = n.Channel
		cs.Networks = append(cs.Networks, n)
		util := 15 * len(cs.Networks)
		if util > 100 {
			util = 100
		}
		cs.Utilisation = util
		scan.Channels[n.Channel] = cs
	}
	return scan
}
