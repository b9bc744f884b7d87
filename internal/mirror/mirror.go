// Package mirror republishes device status frames to an MQTT broker so that
// tools outside the WebSocket relay can follow the pump.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const defaultBuffer = 32

// ClientConfig holds MQTT connection settings.
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Connect dials the broker and returns a paho client with auto reconnect.
func Connect(cfg ClientConfig, logger *slog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqtt mirror connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt mirror connection lost", "broker", cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10*time.Second) {
		// ConnectRetry keeps trying in the background.
		logger.Warn("mqtt mirror broker not reachable yet", "broker", cfg.Broker)
		return client, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker: %w", err)
	}
	return client, nil
}

// Publisher is the part of mqtt.Client the mirror needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Mirror queues status frames and publishes them from a single goroutine.
// The relay never waits on the broker: frames are dropped when the queue is
// full.
type Mirror struct {
	client Publisher
	topic  string
	logger *slog.Logger
	queue  chan []byte
}

// New returns a mirror publishing retained frames on topic.
func New(client Publisher, topic string, logger *slog.Logger) *Mirror {
	return &Mirror{
		client: client,
		topic:  topic,
		logger: logger,
		queue:  make(chan []byte, defaultBuffer),
	}
}

// PublishStatus enqueues frame for publication.
func (m *Mirror) PublishStatus(frame []byte) {
	select {
	case m.queue <- frame:
	default:
		m.logger.Warn("mqtt mirror queue full, dropping status", "topic", m.topic)
	}
}

// Run publishes queued frames until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) {
	m.logger.Info("mqtt mirror started", "topic", m.topic)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("mqtt mirror stopped")
			return
		case frame := <-m.queue:
			if err := m.publish(frame); err != nil {
				m.logger.Warn("mqtt mirror publish failed", "topic", m.topic, "error", err)
			}
		}
	}
}

func (m *Mirror) publish(frame []byte) error {
	token := m.client.Publish(m.topic, 0, true, frame)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to %s timed out", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", m.topic, err)
	}
	return nil
}
