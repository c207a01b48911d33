package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lcalzada-xor/wmesh/internal/core/domain"
	"github.com/lcalzada-xor/wmesh/internal/core/ports"
)

// WebhookPublisher POSTs each alert as JSON to one URL.
type WebhookPublisher struct {
	url    string
	client *http.Client
}

var _ ports.AlertPublisher = (*WebhookPublisher)(nil)

// NewWebhookPublisher creates a publisher with a traced HTTP client.
func NewWebhookPublisher(url string) *WebhookPublisher {
	return &WebhookPublisher{
		url: url,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Publish delivers one alert. Non-2xx answers are errors so the router can
// log the miss.
func (w *WebhookPublisher) Publish(ctx context.Context, alert domain.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: webhook: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: webhook answered %d", domain.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// MQTTPublisher publishes alerts to one broker topic.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
}

var _ ports.AlertPublisher = (*MQTTPublisher)(nil)

// NewMQTTPublisher connects to the broker. The connection is kept for the
// process lifetime; paho reconnects on its own.
func NewMQTTPublisher(brokerURL, topic string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("wmesh-" + fmt.Sprint(time.Now().UnixNano()%100000)).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("%w: mqtt broker: %v", domain.ErrUnavailable, token.Error())
	}
	return &MQTTPublisher{client: client, topic: topic}, nil
}

// Publish sends one alert at QoS 1.
func (m *MQTTPublisher) Publish(ctx context.Context, alert domain.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.topic, 1, false, body)
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: mqtt publish", domain.ErrCancelled)
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: mqtt publish: %v", domain.ErrUnavailable, err)
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTTPublisher) Close() {
	m.client.Disconnect(250)
}
