package domain

import "fmt"

// ValidateSnapshot enforces the structural invariants of a snapshot before
// publication. A violation is fatal for the scan that produced it.
func ValidateSnapshot(s *NetworkSnapshot) error {
	primaries := 0
	nodeMACs := make(map[string]struct{}, len(s.Nodes))
	nodeIDs := make(map[string]struct{}, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.IsPrimary {
			primaries++
		}
		nodeMACs[n.MAC] = struct{}{}
		nodeIDs[n.ID] = struct{}{}
	}
	if primaries != 1 {
		return fmt.Errorf("%w: snapshot has %d primary nodes", ErrInvariant, primaries)
	}

	for _, r := range s.Radios {
		if _, ok := nodeIDs[r.NodeID]; !ok {
			return fmt.Errorf("%w: radio references unknown node %q", ErrInvariant, r.NodeID)
		}
		if !ValidChannel(r.Band, r.Channel) {
			return fmt.Errorf("%w: channel %d invalid on band %s", ErrInvariant, r.Channel, r.Band)
		}
	}

	for _, d := range s.Devices {
		if d.AttachedNode == "" {
			continue
		}
		if _, ok := nodeMACs[d.AttachedNode]; !ok {
			return fmt.Errorf("%w: device %s attached to unknown node %s", ErrInvariant, d.MAC, d.AttachedNode)
		}
	}
	return nil
}
