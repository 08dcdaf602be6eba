package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/phrazzld/medstock-api/internal/config"
)

const connectTimeout = 30 * time.Second

// mqttClient is the subset of mqtt.Client used by MQTTPublisher.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// MQTTPublisher forwards events to an MQTT broker with QoS 0 and no retention.
type MQTTPublisher struct {
	client  mqttClient
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

var _ Publisher = (*MQTTPublisher)(nil)

// NewMQTTPublisher connects to the configured broker.
func NewMQTTPublisher(cfg config.EventsConfig, logger *slog.Logger) (*MQTTPublisher, error) {
	if cfg.MQTTBroker == "" {
		return nil, errors.New("mqtt broker URL is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "mqtt_publisher", "broker", cfg.MQTTBroker)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetUsername(cfg.MQTTUsername)
	opts.SetPassword(cfg.MQTTPassword)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("connection to MQTT broker lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection error: %w", err)
	}

	return newMQTTPublisher(client, cfg.TopicPrefix, cfg.PublishTimeout, logger), nil
}

func newMQTTPublisher(client mqttClient, prefix string, timeout time.Duration, logger *slog.Logger) *MQTTPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTPublisher{
		client:  client,
		prefix:  strings.Trim(prefix, "/"),
		timeout: timeout,
		logger:  logger.With("component", "mqtt_publisher"),
	}
}

func (p *MQTTPublisher) fullTopic(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + "/" + topic
}

// Publish implements Publisher. The broker round trip happens in the
// background; failures are logged.
func (p *MQTTPublisher) Publish(_ context.Context, topic string, payload any) {
	event, err := NewEvent(topic, payload)
	if err != nil {
		p.logger.Error("failed to encode event payload", "topic", topic, "error", err)
		return
	}
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to encode event", "topic", topic, "error", err)
		return
	}

	if !p.client.IsConnected() {
		p.logger.Warn("dropping event, not connected to MQTT broker", "topic", topic, "event_id", event.ID)
		return
	}

	full := p.fullTopic(topic)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		token := p.client.Publish(full, 0, false, body)
		if !token.WaitTimeout(p.timeout) {
			p.logger.Warn("publish timeout", "topic", full, "event_id", event.ID)
			return
		}
		if err := token.Error(); err != nil {
			p.logger.Warn("publish failed", "topic", full, "event_id", event.ID, "error", err)
		}
	}()
}

// Close waits for in-flight publishes and disconnects.
func (p *MQTTPublisher) Close() {
	p.wg.Wait()
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
