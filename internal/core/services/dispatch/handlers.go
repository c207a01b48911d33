package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
	"github.com/lcalzada-xor/wmesh/internal/core/services/alert"
	"github.com/lcalzada-xor/wmesh/internal/core/services/recommend"
)

// defaultFloorHeightM spaces floor ordinals when a node position carries no
// explicit Z.
const defaultFloorHeightM = 3.0

// channelInterfaces maps bands onto their wireless interface names.
var channelInterfaces = map[domain.Band]string{
	domain.Band24GHz: "wl0",
	domain.Band5GHz:  "wl1",
}

func (d *Dispatcher) registerAll() {
	d.register("scanNetwork", needShell, d.handleScanNetwork)
	d.register("fullIntelligenceScan", needShell, d.handleFullScan)
	d.register("networkHealth", 0, d.handleNetworkHealth)
	d.register("deviceList", 0, d.handleDeviceList)
	d.register("deviceDetails", 0, d.handleDeviceDetails)
	d.register("deviceSignalHistory", 0, d.handleSignalHistory)
	d.register("meshNodes", 0, d.handleMeshNodes)
	d.register("wifiSettings", 0, d.handleWifiSettings)
	d.register("setWifiChannel", needShell, d.handleSetWifiChannel)
	d.register("problems", 0, d.handleProblems)
	d.register("optimizationSuggestions", 0, d.handleSuggestions)
	d.register("applyOptimization", needShell, d.handleApply)
	d.register("scanZigbee", needHub, d.handleScanZigbee)
	d.register("frequencyConflicts", 0, d.handleFrequencyConflicts)
	d.register("triangulateDevices", 0, d.handleTriangulate)
	d.register("setNodePosition3D", 0, d.handleSetNodePosition)
	d.register("recordSignalMeasurement", 0, d.handleRecordSignal)
	d.register("detectWalls", 0, d.handleDetectWalls)
	d.register("getEnvironmentSummary", 0, d.handleEnvironmentSummary)
	d.register("configureAlerts", 0, d.handleConfigureAlerts)
	d.register("getAlerts", 0, d.handleGetAlerts)
	d.register("resetCircuitBreaker", 0, d.handleResetBreaker)
	d.register("getMetrics", 0, d.handleGetMetrics)
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: parameters: %v", domain.ErrParse, err)
	}
	return v, nil
}

// currentSnapshot returns the last published snapshot or a hint to scan.
func (d *Dispatcher) currentSnapshot() (*domain.NetworkSnapshot, []string, error) {
	snap := d.opts.Builder.Current()
	if snap == nil {
		return nil, []string{"run scanNetwork to collect the first snapshot"},
			fmt.Errorf("no snapshot available yet")
	}
	return snap, nil, nil
}

// runScan drives the builder and feeds the snapshot into the knowledge base
// and the alert router.
func (d *Dispatcher) runScan(ctx context.Context, targets []domain.OptimizationTarget) (any, []string, error) {
	res, err := d.opts.Builder.Scan(ctx, targets)
	if err != nil {
		return nil, nil, err
	}

	d.opts.Knowledge.ObserveSnapshot(res.Snapshot)
	d.opts.Knowledge.Annotate(res.Snapshot)
	d.opts.Alerts.Evaluate(ctx, res.Snapshot)

	var hints []string
	if n := len(res.Suggestions); n > 0 {
		hints = append(hints, fmt.Sprintf("%d optimisation suggestions ready; fetch them with optimizationSuggestions", n))
	}
	return res.Snapshot, hints, nil
}

func (d *Dispatcher) handleScanNetwork(ctx context.Context, _ json.RawMessage) (any, []string, error) {
	return d.runScan(ctx, nil)
}

func (d *Dispatcher) handleFullScan(ctx context.Context, params json.RawMessage) (any, []string, error) {
	p, err := decode[struct {
		Targets []domain.OptimizationTarget `json:"targets"`
	}](params)
	if err != nil {
		return nil, nil, err
	}
	return d.runScan(ctx, p.Targets)
}

func (d *Dispatcher) handleNetworkHealth(_ context.Context, _ json.RawMessage) (any, []string, error) {
	snap, hints, err := d.currentSnapshot()
	if err != nil {
		return nil, hints, err
	}
	return domain.ComputeHealthScore(snap), nil, nil
}

func (d *Dispatcher) handleDeviceList(_ context.Context, params json.RawMessage) (any, []string, error) {
	p, err := decode[struct {
		Filter string `json:"filter"`
	}](params)
	if err != nil {
		return nil, nil, err
	}
	snap, hints, err := d.currentSnapshot()
	if err != nil {
		return nil, hints, err
	}

	if p.Filter == "" {
		p.Filter = "all"
	}
	var out []domain.Device
	for _, dev := range snap.Devices {
		switch p.Filter {
		case "all":
			out = append(out, dev)
		case "wireless":
			if dev.Link.Wireless() {
				out = append(out, dev)
			}
		case "wired":
			if dev.Link == domain.LinkWired {
				out = append(out, dev)
			}
		case "problematic":
			if isProblematic(dev) {
				out = append(out, dev)
			}
		default:
			return nil, nil, fmt.Errorf("unknown filter %q, want all|wireless|wired|problematic", p.Filter)
		}
	}
	return out, nil, nil
}

func isProblematic(dev domain.Device) bool {
	if dev.Status != domain.StatusOnline {
		return true
	}
	if dev.Link.Wireless() && dev.RSSI != 0 && dev.RSSI <= -75 {
		return true
	}
	return dev.DisconnectCount > 5
}

func (d *Dispatcher) handleDeviceDetails(_ context.Context, params json.RawMessage) (any, []string, error) {
	p, err := decode[struct {
		Addr string `json:"addr"`
	}](params)
	if err != nil {
		return nil, nil, err
	}
	snap, hints, err := d.currentSnapshot()
	if err != nil {
		return nil, hints, err
	}

	mac := domain.CanonicalMAC(p.Addr)
	dev, ok := snap.DeviceByMAC(mac)
	if !ok {
		return nil, []string{"run scanNetwork to refresh the device inventory"},
			fmt.Errorf("%w: %s", domain.ErrUnknownDevice, mac)
	}
	return struct {
		Device  domain.Device         `json:"device"`
		Signals []domain.SignalSample `json:"signals,omitempty"`
	}{Device: dev, Signals: d.opts.Signals.Recent(mac, 20)}, nil, nil
}

func (d *Dispatcher) handleSignalHistory(_ context.Context, params json.RawMessage) (any, []string, error) {
	p, err := decode[struct {
		Addr  string `json:"addr"`
		Hours int    `json:"hours"`
	}](params)
	if err != nil {
		return nil, nil, err
	}
	if p.Hours <= 0 {
		p.Hours = 1
	}
	since := d.opts.Clock.Now().Add(-time.Duration(p.Hours) * time.Hour)
	return d.opts.Signals.History(p.Addr, since), nil, nil
}

func (d *Dispatcher) handleMeshNodes(_ context.Context, _ json.RawMessage) (any, []string, error) {
	snap, hints, err := d.currentSnapshot()
	if err != nil {
		return nil, hints, err
	}
	return snap.Nodes, nil, nil
}

func (d *Dispatcher) handleWifiSettings(_ context.Context, _ json.RawMessage) (any, []string, error) {
	snap, hints, err := d.currentSnapshot()
	if err != nil {
		return nil, hints, err
	}
	return snap.Radios, nil, nil
}

func (d *Dispatcher) handleSetWifiChannel(ctx context.Context, params json.RawMessage) (any, []string, error) {
	p, err := decode[struct {
		Band    domain.Band `json:"band"`
		Channel int         `json:"channel"`
	}](params)
	if err != nil {
		return nil, nil, err
	}

	iface, ok := channelInterfaces[p.Band]
	if !ok {
		return nil, nil, fmt.Errorf("unsupported band %q, want 2.4GHz or 5GHz", p.Band)
	}
	if !domain.ValidChannel(p.Band, p.Channel) {
		return nil, nil, fmt.Errorf("channel %d is not valid on %s", p.Channel, p.Band)
	}

	if err := d.opts.Primary.SetKV(ctx, iface+"_channel", fmt.Sprint(p.Channel)); err != nil {
		return nil, nil, err
	}
	if err := d.opts.Primary.Commit(ctx); err != nil {
		return nil, nil, err
	}
	if err := d.opts.Primary.RestartRadio(ctx); err != nil {
		return nil, nil, err
	}
	return map[string]any{"band": p.Band, "channel": p.Channel},
		[]string{"run scanNetwork to confirm the change took effect"}, nil
}

func (d *Dispatcher) handleProblems(_ context.Context, params json.RawMessage) (any, []string, error) {
	p, err := decode[struct {
		Severity domain.Severity `json:"severity"`
	}](params)
	if err != nil {
		return nil, nil, err
	}
	snap, hints, err := d.currentSnapshot()
	if err != nil {
		return nil, hints, err
	}

	problems := alert.Detect(snap, d.opts.Alerts.Config())
	if p.Severity == "" {
		return problems, nil, nil
	}
	var out []domain.Problem
	for _, prob := range problems {
		if severityRank(prob.Severity) >= severityRank(p.Severity) {
			out = append(out, prob)
		}
	}
	return out, nil, nil
}

func severityRank(s domain.Severity) int {
	switch s {
	case domain.SeverityCritical:
		return 2
	case domain.SeverityWarning:
		return 1
	}
	return 0
}

func (d *Dispatcher) handleSuggestions(_ context.Context, _ json.RawMessage) (any, []string, error) {
	suggestions := d.opts.Engine.Suggestions()
	if len(suggestions) == 0 {
		return suggestions, []string{"run scanNetwork to generate fresh suggestions"}, nil
	}
	return suggestions, nil, nil
}

func (d *Dispatcher) handleApply(ctx context.Context, params json.RawMessage) (any, []string, error) {
	p, err := decode[struct {
		Token   string `json:"token"`
		Confirm bool   `json:"confirm"`
	}](params)
	if err != nil {
		return nil, nil, err
	}

	res, err := d.opts.Engine.Apply(ctx, p.Token, p.Confirm)
	if err != nil {
		return nil, nil, err
	}
	if res.Status != recommend.StatusPending {
		d.opts.Knowledge.RecordOptimization(res.Suggestion, string(res.Status))
	}
	var hints []string
	if res.FollowUp != "" {
		hints = append(hints, res.FollowUp)
	}
	return res, hints, nil
}

func (d *Dispatcher) handleScanZigbee(ctx context.Context, _ json.RawMessage) (any, []string, error) {
	network, err := d.opts.Hub.GetZigbeeNetwork(ctx)
	if err != nil {
		return nil, nil, err
	}
	devices, err := d.opts.Hub.GetZigbeeDevices(ctx)
	if err != nil {
		return nil, nil, err
	}
	return struct {
		Network *domain.ZigbeeNetwork `json:"network"`
		Devices []domain.ZigbeeDevice `json:"devices"`
	}{Network: network, Devices: devices}, nil, nil
}

type frequencyConflict struct {
	NodeID        string          `json:"node"`
	Band          domain.Band     `json:"band"`
	WifiChannel   int             `json:"wifi_channel"`
	ZigbeeChannel int             `json:"zigbee_channel"`
	Overlap       float64         `json:"overlap"`
	Severity      domain.Severity `json:"severity"`
}

func (d *Dispatcher) handleFrequencyConflicts(_ context.Context, _ json.RawMessage) (any, []string, error) {
	snap, hints, err := d.currentSnapshot()
	if err != nil {
		return nil, hints, err
	}
	if snap.Zigbee == nil {
		return []frequencyConflict{}, []string{"no zigbee network observed; configure the hub to enable conflict analysis"}, nil
	}

	var out []frequencyConflict
	for _, r := range snap.Radios {
		if r.Band != domain.Band24GHz {
			continue
		}
		overlap := domain.ZigbeeOverlap(r.Channel, snap.Zigbee.CoordinatorChannel)
		if overlap == 0 {
			continue
		}
		severity := domain.SeverityInfo
		switch {
		case overlap > 0.7:
			severity = domain.SeverityCritical
		case overlap > 0.3:
			severity = domain.SeverityWarning
		}
		out = append(out, frequencyConflict{
			NodeID:        r.NodeID,
			Band:          r.Band,
			WifiChannel:   r.Channel,
			ZigbeeChannel: snap.Zigbee.CoordinatorChannel,
			Overlap:       overlap,
			Severity:      severity,
		})
	}
	return out, nil, nil
}

func (d *Dispatcher) handleTriangulate(_ context.Context, params json.RawMessage) (any, []string, error) {
	p, err := decode[struct {
		Addr string `json:"addr"`
	}](params)
	if err != nil {
		return nil, nil, err
	}

	if p.Addr != "" {
		pos, err := d.opts.Locator.Locate(p.Addr, d.opts.Signals.LastPerNode(p.Addr))
		if err != nil {
			return nil, triangulationHints(), err
		}
		return []domain.DevicePosition{pos}, nil, nil
	}

	var out []domain.DevicePosition
	for _, mac := range d.opts.Signals.Devices() {
		pos, err := d.opts.Locator.Locate(mac, d.opts.Signals.LastPerNode(mac))
		if err != nil {
			continue // devices without enough usable readings are skipped
		}
		out = append(out, pos)
	}
	if len(out) == 0 {
		return out, triangulationHints(), nil
	}
	return out, nil, nil
}

func triangulationHints() []string {
	return []string{
		"register node positions with setNodePosition3D",
		"collect RSSI samples with scanNetwork or recordSignalMeasurement",
	}
}

func (d *Dispatcher) handleSetNodePosition(_ context.Context, params json.RawMessage) (any, []string, error) {
	p, err := decode[struct {
		Node    string  `json:"node"`
		Floor   int     `json:"floor"`
		X       float64 `json:"x"`
		Y       float64 `json:"y"`
		Z       float64 `json:"z"`
		Outdoor bool    `json:"outdoor"`
	}](params)
	if err != nil {
		return nil, nil, err
	}
	if p.Node == "" {
		return nil, nil, fmt.Errorf("node address is required")
	}

	pos := domain.NodePosition{
		NodeID:   domain.CanonicalMAC(p.Node),
		Floor:    p.Floor,
		Position: domain.Point3D{X: p.X, Y: p.Y, Z: p.Z},
		Outdoor:  p.Outdoor,
	}
	if err := d.opts.Knowledge.SetNodePosition(pos, defaultFloorHeightM); err != nil {
		return nil, nil, err
	}
	d.opts.Locator.SetNodePosition(pos)

	stored, _ := d.opts.Locator.NodePosition(pos.NodeID)
	return stored, nil, nil
}

func (d *Dispatcher) handleRecordSignal(_ context.Context, params json.RawMessage) (any, []string, error) {
	p, err := decode[struct {
		Device string `json:"device"`
		Node   string `json:"node"`
		RSSI   int    `json:"rssi"`
	}](params)
	if err != nil {
		return nil, nil, err
	}
	if p.Device == "" || p.Node == "" {
		return nil, nil, fmt.Errorf("device and node addresses are required")
	}
	if p.RSSI >= 0 {
		return nil, nil, fmt.Errorf("rssi must be negative dBm, got %d", p.RSSI)
	}

	d.opts.Signals.Record(domain.SignalSample{
		DeviceMAC: p.Device,
		NodeMAC:   p.Node,
		RSSI:      p.RSSI,
	})
	return map[string]string{"recorded": domain.CanonicalMAC(p.Device)}, nil, nil
}

func (d *Dispatcher) handleDetectWalls(_ context.Context, params json.RawMessage) (any, []string, error) {
	p, err := decode[struct {
		Floor *int `json:"floor"`
	}](params)
	if err != nil {
		return nil, nil, err
	}

	samples := make(map[string]map[string]domain.SignalSample)
	var positions []domain.DevicePosition
	for _, mac := range d.opts.Signals.Devices() {
		perNode := d.opts.Signals.LastPerNode(mac)
		pos, err := d.opts.Locator.Locate(mac, perNode)
		if err != nil {
			continue
		}
		positions = append(positions, pos)
		samples[mac] = perNode
	}

	walls, err := d.opts.Locator.DetectWalls(positions, samples, p.Floor)
	if err != nil {
		return nil, triangulationHints(), err
	}
	return walls, nil, nil
}

func (d *Dispatcher) handleEnvironmentSummary(_ context.Context, _ json.RawMessage) (any, []string, error) {
	snap, hints, err := d.currentSnapshot()
	if err != nil {
		return nil, hints, err
	}
	return snap.Environment, nil, nil
}

func (d *Dispatcher) handleConfigureAlerts(_ context.Context, params json.RawMessage) (any, []string, error) {
	cfg, err := decode[domain.AlertConfig](params)
	if err != nil {
		return nil, nil, err
	}
	d.opts.Alerts.Configure(cfg)
	return d.opts.Alerts.Config(), nil, nil
}

func (d *Dispatcher) handleGetAlerts(_ context.Context, params json.RawMessage) (any, []string, error) {
	p, err := decode[struct {
		Hours int `json:"hours"`
	}](params)
	if err != nil {
		return nil, nil, err
	}
	alerts, err := d.opts.Alerts.History(p.Hours)
	if err != nil {
		return nil, nil, err
	}
	return alerts, nil, nil
}

func (d *Dispatcher) handleResetBreaker(_ context.Context, _ json.RawMessage) (any, []string, error) {
	d.opts.Primary.ResetCircuit()
	return map[string]string{"status": "circuit breaker reset"},
		[]string{"retry the failed action; the next shell command reconnects"}, nil
}

func (d *Dispatcher) handleGetMetrics(_ context.Context, _ json.RawMessage) (any, []string, error) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, nil, err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return nil, nil, err
		}
	}
	return map[string]any{
		"format":   "prometheus-text",
		"families": len(families),
		"metrics":  buf.String(),
	}, nil, nil
}
