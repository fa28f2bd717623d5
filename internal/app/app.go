// Package app wires observers, the pending-update queue and the presence
// publishers into one running pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tunez/presence/internal/nowplaying"
	"github.com/tunez/presence/internal/presence"
	"github.com/tunez/presence/internal/queue"
	"github.com/tunez/presence/internal/race"
	"github.com/tunez/presence/internal/ratelimit"
	"github.com/tunez/presence/internal/status"
	"github.com/tunez/presence/internal/watch"
)

// Options configures an App.
type Options struct {
	Limiter   *ratelimit.Limiter
	Capacity  int
	Formatter status.Formatter
	Observers []nowplaying.Observer
	Sinks     []presence.Publisher
	Logger    *slog.Logger
}

// App is a running presence pipeline.
type App struct {
	opts     Options
	logger   *slog.Logger
	queue    *queue.Queue[*nowplaying.Track]
	registry *nowplaying.Registry
	manager  *presence.Manager
	loop     *presence.Loop
	shutdown *race.Event

	mu      sync.Mutex
	started []nowplaying.Observer
	done    chan struct{}
	runErr  error
}

// New assembles the pipeline. Nothing runs until Start.
func New(opts Options) *App {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	q := queue.New(opts.Limiter, nowplaying.Equal, queue.Options{Capacity: opts.Capacity, Logger: opts.Logger})
	mgr := presence.NewManager(opts.Logger)
	for _, s := range opts.Sinks {
		mgr.Register(s)
	}
	shutdown := race.NewEvent()

	return &App{
		opts:     opts,
		logger:   opts.Logger,
		queue:    q,
		registry: nowplaying.NewRegistry(q, opts.Logger),
		manager:  mgr,
		loop: presence.NewLoop(q, mgr, shutdown, presence.LoopOptions{
			Formatter: opts.Formatter,
			Logger:    opts.Logger,
		}),
		shutdown: shutdown,
		done:     make(chan struct{}),
	}
}

// Start runs the publish loop and starts every observer. An observer that
// fails to start is logged and skipped; Start fails only when none started.
func (a *App) Start(ctx context.Context) error {
	if a.manager.EnabledCount() == 0 {
		a.logger.Warn("no enabled sinks, statuses are only logged")
	}
	go func() {
		err := a.loop.Run(ctx)
		a.mu.Lock()
		a.runErr = err
		a.mu.Unlock()
		close(a.done)
	}()

	var errs []error
	for _, obs := range a.opts.Observers {
		if err := obs.Start(a.registry); err != nil {
			a.logger.Error("start observer", slog.String("observer", obs.Name()), slog.Any("err", err))
			errs = append(errs, fmt.Errorf("%s: %w", obs.Name(), err))
			continue
		}
		a.logger.Info("observer started", slog.String("observer", obs.Name()))
		a.mu.Lock()
		a.started = append(a.started, obs)
		a.mu.Unlock()
	}
	if len(a.opts.Observers) > 0 && len(a.started) == 0 {
		return fmt.Errorf("no observer started: %w", errors.Join(errs...))
	}
	return nil
}

// Done is closed when the publish loop has returned.
func (a *App) Done() <-chan struct{} { return a.done }

// Shutdown closes observers, stops the loop, waits for in-flight publishes
// until ctx expires and finally closes the sinks.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	started := a.started
	a.started = nil
	a.mu.Unlock()

	var errs []error
	for _, obs := range started {
		if err := obs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", obs.Name(), err))
		}
	}

	a.shutdown.Set()
	select {
	case <-a.done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for loop: %w", ctx.Err()))
	}

	if err := a.manager.Wait(ctx); err != nil {
		a.logger.Warn("in-flight publishes abandoned", slog.Any("err", err))
		errs = append(errs, err)
	}
	if err := a.manager.Close(); err != nil {
		errs = append(errs, err)
	}

	a.mu.Lock()
	runErr := a.runErr
	a.mu.Unlock()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		errs = append(errs, runErr)
	}
	return errors.Join(errs...)
}

// Snapshot reports the pipeline state for the watch view.
func (a *App) Snapshot() watch.Snapshot {
	last, published := a.manager.Last()
	snap := watch.Snapshot{
		Sources:   a.registry.Snapshot(),
		Last:      last,
		Published: published,
		Pending:   a.queue.Len(),
		Dropped:   a.queue.Dropped(),
	}
	for _, p := range a.manager.Publishers() {
		if p.IsEnabled() {
			snap.Sinks = append(snap.Sinks, p.ID())
		}
	}
	if a.opts.Limiter != nil {
		snap.PermitsUsed = a.opts.Limiter.Used()
		snap.Quota = a.opts.Limiter.Quota()
		snap.Window = a.opts.Limiter.Interval()
	}
	return snap
}
