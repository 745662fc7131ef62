package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/i474232898/weather-trigger-oracle/internal/monitor"
)

// DefaultAlertTopic is the topic pattern used when none is configured.
const DefaultAlertTopic = "oracle/alerts/{policy_id}"

// MQTTConfig holds broker settings.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // e.g. "oracle/alerts/{policy_id}"
}

// MQTTSink publishes alerts with QoS 1.
type MQTTSink struct {
	client mqtt.Client
	topic  string
}

// NewMQTTSink connects to the broker.
func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.WithField("broker", cfg.Broker).Info("notify: mqtt connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithField("broker", cfg.Broker).WithError(err).Warn("notify: mqtt connection lost")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker: %w", token.Error())
	}
	return NewMQTTSinkWithClient(client, cfg.Topic), nil
}

// NewMQTTSinkWithClient wraps an already connected client.
func NewMQTTSinkWithClient(client mqtt.Client, topic string) *MQTTSink {
	if topic == "" {
		topic = DefaultAlertTopic
	}
	return &MQTTSink{client: client, topic: topic}
}

// Name implements Sink.
func (m *MQTTSink) Name() string { return "mqtt" }

// Send implements Sink.
func (m *MQTTSink) Send(ctx context.Context, alert monitor.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	topic := formatTopic(m.topic, alert.PolicyID)
	token := m.client.Publish(topic, 1, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (m *MQTTSink) Close() {
	m.client.Disconnect(250)
}

func formatTopic(pattern, policyID string) string {
	if policyID == "" {
		policyID = "unassigned"
	}
	return strings.ReplaceAll(pattern, "{policy_id}", policyID)
}
