// Package mpd watches an MPD server's player subsystem.
package mpd

import (
	"errors"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"

	"github.com/tunez/presence/internal/nowplaying"
)

// Options configures the Observer.
type Options struct {
	// ID is the source id; defaults to "mpd:" plus Address.
	ID string
	// Address is host:port, or a socket path for unix connections.
	Address  string
	Password string
	Logger   *slog.Logger
	// RetryInterval is how long to wait before reconnecting after the
	// server went away.
	RetryInterval time.Duration
}

var errWatcherClosed = errors.New("mpd watcher closed")

// Observer reports MPD's current song to a nowplaying.Notifier.
type Observer struct {
	opts Options

	mu       sync.Mutex
	notifier nowplaying.Notifier
	started  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates an observer for the server at opts.Address.
func New(opts Options) *Observer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 5 * time.Second
	}
	if opts.ID == "" {
		opts.ID = "mpd:" + opts.Address
	}
	return &Observer{opts: opts, done: make(chan struct{})}
}

// Name is the source id used for registry updates.
func (o *Observer) Name() string { return o.opts.ID }

func (o *Observer) network() string {
	if strings.HasPrefix(o.opts.Address, "/") || strings.HasPrefix(o.opts.Address, "@") {
		return "unix"
	}
	return "tcp"
}

// Start begins watching in the background. MPD does not have to be running
// yet; the observer keeps reconnecting until Close.
func (o *Observer) Start(n nowplaying.Notifier) error {
	if o.opts.Address == "" {
		return errors.New("mpd: no address")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	select {
	case <-o.done:
		return nowplaying.ErrObserverClosed
	default:
	}
	if o.started {
		return errors.New("mpd: already started")
	}
	o.started = true
	o.notifier = n

	o.wg.Add(1)
	go o.supervise()
	return nil
}

// supervise opens a watcher, follows it until it fails and starts over
// after RetryInterval. The source is reported absent while disconnected.
func (o *Observer) supervise() {
	defer o.wg.Done()
	defer o.report(nil)

	for {
		w, err := mpd.NewWatcher(o.network(), o.opts.Address, o.opts.Password, "player")
		if err != nil {
			o.opts.Logger.Debug("mpd unavailable", slog.String("addr", o.opts.Address), slog.Any("err", err))
			o.report(nil)
		} else {
			o.opts.Logger.Debug("mpd watcher connected", slog.String("addr", o.opts.Address))
			err = o.watch(w)
			if cerr := closeWatcher(w); cerr != nil {
				o.opts.Logger.Debug("mpd watcher close", slog.Any("err", cerr))
			}
			if err == nil {
				return
			}
			o.opts.Logger.Warn("mpd connection lost, reconnecting",
				slog.String("addr", o.opts.Address), slog.Any("err", err))
			o.report(nil)
		}

		select {
		case <-o.done:
			return
		case <-time.After(o.opts.RetryInterval):
		}
	}
}

// watch refreshes on every player event. It returns nil once the observer
// is closed and the watcher error otherwise.
func (o *Observer) watch(w *mpd.Watcher) error {
	o.refresh()
	for {
		select {
		case <-o.done:
			return nil
		case err, ok := <-w.Error:
			if !ok {
				return errWatcherClosed
			}
			return err
		case subsystem, ok := <-w.Event:
			if !ok {
				return errWatcherClosed
			}
			o.opts.Logger.Debug("mpd idle event", slog.String("subsystem", subsystem))
			o.refresh()
		}
	}
}

// closeWatcher closes w while draining its channels. A failed watcher keeps
// sending on Error until Close stops it.
func closeWatcher(w *mpd.Watcher) error {
	errc := make(chan error, 1)
	go func() { errc <- w.Close() }()

	events, errs := w.Event, w.Error
	for {
		select {
		case err := <-errc:
			return err
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		}
	}
}

// refresh reads status and current song over a short-lived connection.
func (o *Observer) refresh() {
	c, err := mpd.DialAuthenticated(o.network(), o.opts.Address, o.opts.Password)
	if err != nil {
		o.opts.Logger.Warn("mpd dial", slog.Any("err", err))
		o.report(nil)
		return
	}
	defer c.Close()

	status, err := c.Status()
	if err != nil {
		o.opts.Logger.Warn("mpd status", slog.Any("err", err))
		o.report(nil)
		return
	}
	if status["state"] != "play" {
		o.report(nil)
		return
	}
	song, err := c.CurrentSong()
	if err != nil {
		o.opts.Logger.Warn("mpd current song", slog.Any("err", err))
		o.report(nil)
		return
	}
	o.report(trackFromAttrs(song))
}

func (o *Observer) report(track *nowplaying.Track) {
	o.mu.Lock()
	n := o.notifier
	o.mu.Unlock()
	if n != nil {
		n.Notify(o.Name(), track)
	}
}

// trackFromAttrs maps MPD song attributes to a track. Streams often carry
// only Name, and untagged files only file.
func trackFromAttrs(song mpd.Attrs) *nowplaying.Track {
	artist := strings.TrimSpace(song["Artist"])
	if artist == "" {
		artist = strings.TrimSpace(song["AlbumArtist"])
	}
	title := strings.TrimSpace(song["Title"])
	if title == "" {
		title = strings.TrimSpace(song["Name"])
	}
	if title == "" && song["file"] != "" {
		base := path.Base(song["file"])
		title = strings.TrimSuffix(base, path.Ext(base))
	}
	if artist == "" && title == "" {
		return nil
	}
	return &nowplaying.Track{Artist: artist, Title: title}
}

// Close stops watching and reports the source as absent.
func (o *Observer) Close() error {
	o.mu.Lock()
	select {
	case <-o.done:
	default:
		close(o.done)
	}
	o.mu.Unlock()
	o.wg.Wait()
	return nil
}
