package domain

// MeshPeer is one entry of the primary device's cluster-membership list.
// Cost is the advertised hop cost: 0 means wired backhaul, anything above
// means wireless.
type MeshPeer struct {
	MAC       string `json:"mac"`
	IP        string `json:"ip"`
	Cost      int    `json:"cost"`
	Model     string `json:"model,omitempty"`
	Alias     string `json:"alias,omitempty"`
	Reachable bool   `json:"reachable"`
}

// Backhaul derives the backhaul type from the advertised cost.
func (p MeshPeer) Backhaul() Backhaul {
	if p.Cost == 0 {
		return BackhaulWired
	}
	return BackhaulWireless
}
