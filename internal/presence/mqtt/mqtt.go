// Package mqtt publishes the current status to an MQTT topic.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/tunez/presence/internal/presence"
)

// ErrNotConnected is returned when publishing before Connect succeeded or
// while the client is reconnecting.
var ErrNotConnected = errors.New("mqtt: not connected")

// Config holds MQTT publisher configuration.
type Config struct {
	// Broker is host:port or a full URL (tcp://, ssl://, ws://).
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
	Retain   bool
}

// Publisher implements presence.Publisher for MQTT.
type Publisher struct {
	id     string
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	client    paho.Client
	connected bool
	published uint64
	errors    uint64
}

// New creates an MQTT publisher. Call Connect before publishing.
func New(id string, cfg Config, logger *slog.Logger) *Publisher {
	if id == "" {
		id = "mqtt"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "tunez-presence-" + uuid.NewString()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{id: id, cfg: cfg, logger: logger, now: time.Now}
}

func (p *Publisher) ID() string   { return p.id }
func (p *Publisher) Name() string { return "MQTT" }

func (p *Publisher) IsEnabled() bool {
	return p.cfg.Broker != "" && p.cfg.Topic != ""
}

// ClientID returns the client identifier presented to the broker.
func (p *Publisher) ClientID() string { return p.cfg.ClientID }

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes the broker connection; the client reconnects on its own
// afterwards.
func (p *Publisher) Connect(ctx context.Context) error {
	if !p.IsEnabled() {
		return presence.ErrNotConfigured
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(brokerURL(p.cfg.Broker))
	opts.SetClientID(p.cfg.ClientID)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(paho.Client) {
		p.setConnected(true)
		p.logger.Info("mqtt connection established",
			slog.String("broker", p.cfg.Broker),
			slog.String("client_id", p.cfg.ClientID))
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		p.setConnected(false)
		p.logger.Warn("mqtt connection lost, will auto-reconnect",
			slog.String("broker", p.cfg.Broker),
			slog.Any("err", err))
	}

	client := paho.NewClient(opts)
	p.mu.Lock()
	p.client = client
	p.mu.Unlock()

	p.logger.Info("connecting to mqtt broker", slog.String("broker", p.cfg.Broker))
	token := client.Connect()
	if err := wait(ctx, token, 5*time.Second); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.setConnected(true)
	return nil
}

// Publish sends the JSON payload for status to the configured topic.
func (p *Publisher) Publish(ctx context.Context, status *presence.Status) error {
	p.mu.RLock()
	client, connected := p.client, p.connected
	p.mu.RUnlock()
	if client == nil || !connected {
		p.countError()
		return ErrNotConnected
	}

	payload, err := presence.Encode(status, p.now())
	if err != nil {
		p.countError()
		return fmt.Errorf("encode payload: %w", err)
	}

	token := client.Publish(p.cfg.Topic, p.cfg.QoS, p.cfg.Retain, payload)
	if err := wait(ctx, token, 2*time.Second); err != nil {
		p.countError()
		return fmt.Errorf("mqtt publish: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()

	p.logger.Debug("status published",
		slog.String("topic", p.cfg.Topic),
		slog.Int("qos", int(p.cfg.QoS)),
		slog.Int("size", len(payload)))
	return nil
}

// Stats returns how many publishes succeeded and failed.
func (p *Publisher) Stats() (published, failed uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.published, p.errors
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	p.mu.Lock()
	client := p.client
	p.connected = false
	p.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		p.logger.Info("mqtt disconnected")
	}
	return nil
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *Publisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}

func wait(ctx context.Context, token paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errors.New("timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}
