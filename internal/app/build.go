package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tunez/presence/internal/config"
	"github.com/tunez/presence/internal/history"
	"github.com/tunez/presence/internal/nowplaying"
	"github.com/tunez/presence/internal/observers/mpd"
	"github.com/tunez/presence/internal/observers/mpris"
	"github.com/tunez/presence/internal/observers/mpv"
	"github.com/tunez/presence/internal/presence"
	"github.com/tunez/presence/internal/presence/lastfm"
	"github.com/tunez/presence/internal/presence/mqtt"
	"github.com/tunez/presence/internal/presence/nats"
	"github.com/tunez/presence/internal/ratelimit"
)

// DefaultHistoryKeep is how many history rows survive the startup prune.
const DefaultHistoryKeep = 1000

// FromConfig builds pipeline options from cfg. Network sinks are connected
// here; a sink that cannot connect is logged and left out.
func FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Options, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := Options{
		Limiter:   ratelimit.New(cfg.RateLimit.Quota, cfg.RateInterval()),
		Capacity:  cfg.Queue.Capacity,
		Formatter: cfg.Formatter(),
		Logger:    logger,
	}

	for _, e := range cfg.EnabledSources() {
		obs, err := BuildObserver(e, logger)
		if err != nil {
			return Options{}, err
		}
		opts.Observers = append(opts.Observers, obs)
	}

	for _, e := range cfg.EnabledSinks() {
		sink, err := BuildSink(ctx, e, logger)
		if err != nil {
			logger.Warn("sink unavailable", slog.String("sink", e.ID), slog.Any("err", err))
			continue
		}
		opts.Sinks = append(opts.Sinks, sink)
	}
	return opts, nil
}

// BuildObserver creates the observer for one source entry.
func BuildObserver(e config.Entry, logger *slog.Logger) (nowplaying.Observer, error) {
	logger = logger.With(slog.String("source", e.ID))
	switch e.Type {
	case "mpv":
		return mpv.New(mpv.Options{ID: e.ID, IPCPath: e.String("ipc"), Logger: logger}), nil
	case "mpd":
		return mpd.New(mpd.Options{
			ID:       e.ID,
			Address:  e.String("address"),
			Password: e.String("password"),
			Logger:   logger,
		}), nil
	case "mpris":
		return mpris.New(mpris.Options{Ignore: e.Strings("ignore"), Logger: logger}), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", e.Type)
	}
}

// BuildSink creates and, where needed, connects the publisher for one sink
// entry.
func BuildSink(ctx context.Context, e config.Entry, logger *slog.Logger) (presence.Publisher, error) {
	logger = logger.With(slog.String("sink", e.ID))
	switch e.Type {
	case "history":
		store, err := history.Open(e.String("path"))
		if err != nil {
			return nil, err
		}
		store.SetID(e.ID)
		if removed, err := store.Prune(ctx, e.Int("keep", DefaultHistoryKeep)); err != nil {
			logger.Warn("prune history", slog.Any("err", err))
		} else if removed > 0 {
			logger.Debug("pruned history", slog.Int64("removed", removed))
		}
		return store, nil
	case "mqtt":
		p := mqtt.New(e.ID, mqtt.Config{
			Broker:   e.String("broker"),
			Topic:    e.String("topic"),
			ClientID: e.String("client_id"),
			Username: e.String("username"),
			Password: e.String("password"),
			QoS:      byte(e.Int("qos", 0)),
			Retain:   e.Bool("retain", true),
		}, logger)
		if err := p.Connect(ctx); err != nil {
			// The client keeps retrying in the background.
			logger.Warn("mqtt not connected yet", slog.Any("err", err))
		}
		return p, nil
	case "nats":
		p := nats.New(e.ID, nats.Config{
			URL:      e.String("url"),
			Subject:  e.String("subject"),
			User:     e.String("user"),
			Password: e.String("password"),
		}, logger)
		if err := p.Connect(ctx); err != nil {
			return nil, err
		}
		return p, nil
	case "lastfm":
		return lastfm.New(e.ID, lastfm.Config{
			APIKey:     e.String("api_key"),
			APISecret:  e.String("api_secret"),
			SessionKey: e.String("session_key"),
		}), nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", e.Type)
	}
}
