package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
)

// Shell is one serialised command channel to a networked device. Commands
// issued by different callers are serialised by the implementation; caller
// cancellation of an in-flight command tears the channel down.
type Shell interface {
	Connect(ctx context.Context) error
	Exec(ctx context.Context, command string) (string, error)
	GetKV(ctx context.Context, key string) (string, error)
	SetKV(ctx context.Context, key, value string) error
	Commit(ctx context.Context) error
	RestartRadio(ctx context.Context) error
	IsConnected() bool
	Disconnect() error
	ResetCircuit()
}

// ExecResult is one node's outcome of a fan-out command.
type ExecResult struct {
	Output string
	Err    error
}

// NodePool discovers mesh peers from the primary shell and provides per-peer
// shell access. ExecOn is serialised per node, parallel across nodes.
type NodePool interface {
	Initialize(ctx context.Context, primary Shell) error
	ExecOn(ctx context.Context, nodeID, command string) (string, error)
	ExecOnAll(ctx context.Context, command string) map[string]ExecResult
	Peers() []domain.MeshPeer
	Close()
}

// Event is an unsolicited frame pushed by the hub.
type Event struct {
	Type string
	Data json.RawMessage
}

// HubEntity is a minimal view of one hub entity.
type HubEntity struct {
	EntityID string          `json:"entity_id"`
	State    string          `json:"state"`
	Attrs    json.RawMessage `json:"attributes,omitempty"`
}

// Hub is the authenticated request-response socket to the home-automation
// hub.
type Hub interface {
	Connect(ctx context.Context) error
	Call(ctx context.Context, method string, args map[string]any) (json.RawMessage, error)
	Subscribe(ctx context.Context, eventType string) (<-chan Event, error)
	ListEntities(ctx context.Context) ([]HubEntity, error)
	GetZigbeeDevices(ctx context.Context) ([]domain.ZigbeeDevice, error)
	GetZigbeeNetwork(ctx context.Context) (*domain.ZigbeeNetwork, error)
	GetZigbeeTopology(ctx context.Context) (json.RawMessage, error)
	InvokeService(ctx context.Context, domainName, service string, args map[string]any) error
	Connected() bool
	Close() error
}

// SnmpWalker bulk-walks managed switches. An unreachable host yields a nil
// SwitchInfo, not an error.
type SnmpWalker interface {
	Walk(ctx context.Context, host string) (*domain.SwitchInfo, error)
	WalkAll(ctx context.Context) map[string]*domain.SwitchInfo
}

// MeasurementSink receives RSSI observations from the collection pipeline.
// The signal store implements it; passing it at construction replaces the
// attach-after-build back-pointer of older designs.
type MeasurementSink interface {
	Record(sample domain.SignalSample)
}

// AlertRepository persists emitted alerts for later querying.
type AlertRepository interface {
	SaveAlert(alert domain.Alert) error
	ListAlerts(since time.Time) ([]domain.Alert, error)
}

// AlertPublisher delivers one alert to an external channel (webhook, broker).
type AlertPublisher interface {
	Publish(ctx context.Context, alert domain.Alert) error
}
