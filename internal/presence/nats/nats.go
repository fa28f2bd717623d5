// Package nats publishes the current status on a NATS subject.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tunez/presence/internal/presence"
)

// Config holds NATS publisher configuration.
type Config struct {
	URL      string
	Subject  string
	User     string
	Password string
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subj string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// Publisher implements presence.Publisher for NATS.
type Publisher struct {
	id     string
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	conn   conn
}

// New creates a NATS publisher. Call Connect before publishing.
func New(id string, cfg Config, logger *slog.Logger) *Publisher {
	if id == "" {
		id = "nats"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{id: id, cfg: cfg, logger: logger, now: time.Now}
}

func (p *Publisher) ID() string   { return p.id }
func (p *Publisher) Name() string { return "NATS" }

func (p *Publisher) IsEnabled() bool {
	return p.cfg.URL != "" && p.cfg.Subject != ""
}

// Connect dials the server with unlimited reconnects.
func (p *Publisher) Connect(ctx context.Context) error {
	if !p.IsEnabled() {
		return presence.ErrNotConfigured
	}
	opts := []nats.Option{
		nats.Name("tunez-presence"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				p.logger.Warn("nats disconnected", slog.Any("err", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}
	if p.cfg.User != "" {
		opts = append(opts, nats.UserInfo(p.cfg.User, p.cfg.Password))
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	nc, err := nats.Connect(p.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	p.conn = nc
	p.logger.Info("nats connected", slog.String("url", nc.ConnectedUrl()))
	return nil
}

// Publish sends the JSON payload for status and flushes it.
func (p *Publisher) Publish(ctx context.Context, status *presence.Status) error {
	if p.conn == nil {
		return fmt.Errorf("nats: %w", presence.ErrNotConfigured)
	}
	payload, err := presence.Encode(status, p.now())
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := p.conn.Publish(p.cfg.Subject, payload); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}

	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := p.conn.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	p.logger.Debug("status published", slog.String("subject", p.cfg.Subject), slog.Int("size", len(payload)))
	return nil
}

// Close closes the connection.
func (p *Publisher) Close() error {
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	return nil
}
