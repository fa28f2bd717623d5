package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tunez/presence/internal/nowplaying"
	"github.com/tunez/presence/internal/race"
	"github.com/tunez/presence/internal/status"
)

// Source yields the next current-track value, waiting as long as needed.
type Source interface {
	Get(ctx context.Context) (*nowplaying.Track, error)
}

// Sender publishes one status. *Manager implements it.
type Sender interface {
	Publish(ctx context.Context, status *Status) error
}

// LoopOptions configures a Loop.
type LoopOptions struct {
	Formatter status.Formatter
	Logger    *slog.Logger
	Now       func() time.Time
}

// Loop is the single consumer that turns current-track changes into
// published statuses until shutdown is set.
type Loop struct {
	source   Source
	sender   Sender
	shutdown *race.Event
	opts     LoopOptions

	published atomic.Int64
}

// NewLoop creates a loop reading from source and publishing to sender.
func NewLoop(source Source, sender Sender, shutdown *race.Event, opts LoopOptions) *Loop {
	if opts.Formatter == (status.Formatter{}) {
		opts.Formatter = status.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Loop{source: source, sender: sender, shutdown: shutdown, opts: opts}
}

// Run consumes until the shutdown event is set, returning nil, or until ctx
// is done, returning ctx.Err(). Nothing is published once shutdown is set.
// A value still pending stays in the source; one taken in the same instant
// shutdown was set is dropped.
func (l *Loop) Run(ctx context.Context) error {
	l.opts.Logger.Debug("presence loop started")
	defer l.opts.Logger.Debug("presence loop stopped")

	for {
		next, stop := race.Either(ctx, l.source.Get, l.shutdown.Wait)
		if stop.Done {
			if stop.Err != nil {
				return stop.Err
			}
			return nil
		}
		if next.Err != nil {
			if errors.Is(next.Err, context.Canceled) || errors.Is(next.Err, context.DeadlineExceeded) {
				return next.Err
			}
			l.opts.Logger.Error("read current track", slog.Any("err", next.Err))
			continue
		}
		if l.shutdown.IsSet() {
			return nil
		}

		st := l.render(next.Value)
		if st != nil {
			l.opts.Logger.Info("will set status", slog.String("status", st.Text))
		} else {
			l.opts.Logger.Info("will clear status")
		}
		if err := l.sender.Publish(ctx, st); err != nil {
			l.opts.Logger.Warn("publish status", slog.Any("err", err))
		}
		l.published.Add(1)
	}
}

// Published returns how many statuses were handed to the sender.
func (l *Loop) Published() int64 { return l.published.Load() }

func (l *Loop) render(track *nowplaying.Track) *Status {
	if track == nil {
		return nil
	}
	return &Status{
		Text:  l.opts.Formatter.Format(track.Artist, track.Title),
		Track: *track,
		At:    l.opts.Now(),
	}
}
