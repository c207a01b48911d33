package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
)

type memoryRepo struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (m *memoryRepo) SaveAlert(alert domain.Alert) error {
	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	m.mu.Unlock()
	return nil
}

func (m *memoryRepo) ListAlerts(since time.Time) ([]domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Alert
	for _, a := range m.alerts {
		if !a.At.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func problemSnapshot(at time.Time) *domain.NetworkSnapshot {
	return &domain.NetworkSnapshot{
		Timestamp: at,
		Nodes: []domain.Node{
			{ID: "aa:bb:cc:dd:ee:01", MAC: "aa:bb:cc:dd:ee:01", IsPrimary: true, Reachable: true},
			{ID: "aa:bb:cc:dd:ee:02", MAC: "aa:bb:cc:dd:ee:02", Alias: "cocina", Reachable: false},
		},
		Radios: []domain.Radio{
			{NodeID: "aa:bb:cc:dd:ee:01", Band: domain.Band24GHz, Channel: 4},
		},
		Devices: []domain.Device{
			{MAC: "11:00:00:00:00:01", Hostname: "camara", Link: domain.LinkWireless2G,
				AttachedNode: "aa:bb:cc:dd:ee:01", RSSI: -88},
			{MAC: "11:00:00:00:00:02", Link: domain.LinkWireless5G,
				AttachedNode: "aa:bb:cc:dd:ee:01", RSSI: -77},
			{MAC: "11:00:00:00:00:03", Link: domain.LinkWired, DisconnectCount: 9},
		},
		Zigbee: &domain.ZigbeeNetwork{CoordinatorChannel: 15},
	}
}

func TestDetect_Categories(t *testing.T) {
	got := Detect(problemSnapshot(time.Now()), domain.AlertConfig{})

	byKey := map[string]domain.Problem{}
	for _, p := range got {
		byKey[p.Key] = p
	}

	require.Contains(t, byKey, "weak-signal:11:00:00:00:00:01")
	assert.Equal(t, domain.SeverityCritical, byKey["weak-signal:11:00:00:00:00:01"].Severity)

	require.Contains(t, byKey, "weak-signal:11:00:00:00:00:02")
	assert.Equal(t, domain.SeverityWarning, byKey["weak-signal:11:00:00:00:00:02"].Severity)

	require.Contains(t, byKey, "flapping:11:00:00:00:00:03")
	require.Contains(t, byKey, "node-down:aa:bb:cc:dd:ee:02")

	// Channel 4 sits almost on top of Zigbee 15.
	require.Contains(t, byKey, "zigbee-overlap:aa:bb:cc:dd:ee:01")
	assert.Equal(t, domain.SeverityCritical, byKey["zigbee-overlap:aa:bb:cc:dd:ee:01"].Severity)
}

func TestEvaluate_MinSeverityAndPersistence(t *testing.T) {
	clock := clockwork.NewFakeClock()
	repo := &memoryRepo{}
	r := NewRouter(domain.AlertConfig{MinSeverity: domain.SeverityCritical}, repo, clock)

	emitted := r.Evaluate(context.Background(), problemSnapshot(clock.Now()))
	require.NotEmpty(t, emitted)
	for _, a := range emitted {
		assert.Equal(t, domain.SeverityCritical, a.Severity)
		assert.NotEmpty(t, a.ID)
	}
	assert.Len(t, repo.alerts, len(emitted))
}

func TestEvaluate_CooldownPerKey(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewRouter(domain.AlertConfig{CooldownPerKey: 30 * time.Minute}, &memoryRepo{}, clock)
	snap := problemSnapshot(clock.Now())

	first := r.Evaluate(context.Background(), snap)
	require.NotEmpty(t, first)

	// Same problems immediately again: everything is cooling down.
	again := r.Evaluate(context.Background(), snap)
	assert.Empty(t, again)

	clock.Advance(31 * time.Minute)
	third := r.Evaluate(context.Background(), snap)
	assert.Len(t, third, len(first))
}

func TestWebhookPublisher(t *testing.T) {
	var received domain.Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	pub := NewWebhookPublisher(srv.URL)
	alert := domain.Alert{ID: "a1", Key: "k", Severity: domain.SeverityWarning, Message: "m"}
	require.NoError(t, pub.Publish(context.Background(), alert))
	assert.Equal(t, "a1", received.ID)
}

func TestWebhookPublisher_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	pub := NewWebhookPublisher(srv.URL)
	err := pub.Publish(context.Background(), domain.Alert{ID: "a1"})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
}

func TestRouterHistory(t *testing.T) {
	clock := clockwork.NewFakeClock()
	repo := &memoryRepo{}
	r := NewRouter(domain.AlertConfig{}, repo, clock)

	r.Evaluate(context.Background(), problemSnapshot(clock.Now()))
	got, err := r.History(24)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}
