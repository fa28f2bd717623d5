// Package mpris watches every MPRIS media player on the D-Bus session bus.
package mpris

import (
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/tunez/presence/internal/nowplaying"
)

const (
	busPrefix       = "org.mpris.MediaPlayer2."
	objectPath      = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	playerInterface = "org.mpris.MediaPlayer2.Player"
	propsInterface  = "org.freedesktop.DBus.Properties"
	dbusInterface   = "org.freedesktop.DBus"
)

// Options configures the Observer.
type Options struct {
	Logger *slog.Logger
	// Ignore lists bus names (with or without the MPRIS prefix) to skip,
	// e.g. browsers that expose every tab as a player.
	Ignore []string
}

// Observer reports every MPRIS player as its own source, keyed by bus name.
type Observer struct {
	opts Options
	conn *dbus.Conn

	signals chan *dbus.Signal
	done    chan struct{}
	wg      sync.WaitGroup

	tracker *tracker
}

// New creates an MPRIS observer.
func New(opts Options) *Observer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Observer{opts: opts, done: make(chan struct{})}
}

func (o *Observer) Name() string { return "mpris" }

// Start connects to the session bus, subscribes to player signals and
// reports the players already running.
func (o *Observer) Start(n nowplaying.Notifier) error {
	select {
	case <-o.done:
		return nowplaying.ErrObserverClosed
	default:
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connect session bus: %w", err)
	}
	o.conn = conn

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(dbusInterface),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg0Namespace("org.mpris.MediaPlayer2"),
	); err != nil {
		conn.Close()
		return fmt.Errorf("match NameOwnerChanged: %w", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(objectPath),
		dbus.WithMatchInterface(propsInterface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		conn.Close()
		return fmt.Errorf("match PropertiesChanged: %w", err)
	}

	o.tracker = newTracker(n, o.fetch, o.opts.Ignore, o.opts.Logger)
	o.signals = make(chan *dbus.Signal, 32)
	conn.Signal(o.signals)

	var names []string
	if err := conn.BusObject().Call(dbusInterface+".ListNames", 0).Store(&names); err != nil {
		o.opts.Logger.Warn("mpris: list names", slog.Any("err", err))
	}
	for _, name := range names {
		if !strings.HasPrefix(name, busPrefix) {
			continue
		}
		var owner string
		if err := conn.BusObject().Call(dbusInterface+".GetNameOwner", 0, name).Store(&owner); err != nil {
			continue
		}
		o.tracker.appeared(name, owner)
	}

	o.wg.Add(1)
	go o.loop()
	return nil
}

func (o *Observer) loop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.done:
			return
		case sig, ok := <-o.signals:
			if !ok {
				o.tracker.clear()
				return
			}
			o.tracker.handle(sig)
		}
	}
}

// fetch reads PlaybackStatus and Metadata from a player.
func (o *Observer) fetch(name string) (string, map[string]dbus.Variant, error) {
	obj := o.conn.Object(name, objectPath)
	var status string
	if err := obj.StoreProperty(playerInterface+".PlaybackStatus", &status); err != nil {
		return "", nil, err
	}
	var md map[string]dbus.Variant
	if err := obj.StoreProperty(playerInterface+".Metadata", &md); err != nil {
		return status, nil, err
	}
	return status, md, nil
}

// Close unsubscribes and reports every known player as absent.
func (o *Observer) Close() error {
	select {
	case <-o.done:
		return nil
	default:
		close(o.done)
	}
	o.wg.Wait()
	if o.tracker != nil {
		o.tracker.clear()
	}
	if o.conn != nil {
		o.conn.RemoveSignal(o.signals)
		return o.conn.Close()
	}
	return nil
}

type player struct {
	name   string
	status string
	track  *nowplaying.Track
}

// tracker holds per-player state and turns D-Bus signals into notifications.
type tracker struct {
	notifier nowplaying.Notifier
	fetch    func(name string) (string, map[string]dbus.Variant, error)
	ignore   map[string]bool
	logger   *slog.Logger

	mu      sync.Mutex
	byOwner map[string]*player
}

func newTracker(n nowplaying.Notifier, fetch func(string) (string, map[string]dbus.Variant, error), ignore []string, logger *slog.Logger) *tracker {
	t := &tracker{
		notifier: n,
		fetch:    fetch,
		ignore:   make(map[string]bool),
		logger:   logger,
		byOwner:  make(map[string]*player),
	}
	for _, name := range ignore {
		if !strings.HasPrefix(name, busPrefix) {
			name = busPrefix + name
		}
		t.ignore[name] = true
	}
	return t
}

func (t *tracker) handle(sig *dbus.Signal) {
	switch sig.Name {
	case dbusInterface + ".NameOwnerChanged":
		if len(sig.Body) != 3 {
			return
		}
		name, _ := sig.Body[0].(string)
		oldOwner, _ := sig.Body[1].(string)
		newOwner, _ := sig.Body[2].(string)
		if !strings.HasPrefix(name, busPrefix) {
			return
		}
		if oldOwner != "" {
			t.vanished(oldOwner)
		}
		if newOwner != "" {
			t.appeared(name, newOwner)
		}
	case propsInterface + ".PropertiesChanged":
		if len(sig.Body) < 2 {
			return
		}
		iface, _ := sig.Body[0].(string)
		if iface != playerInterface {
			return
		}
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		var invalidated []string
		if len(sig.Body) > 2 {
			invalidated, _ = sig.Body[2].([]string)
		}
		t.changed(sig.Sender, changed, invalidated)
	}
}

func (t *tracker) appeared(name, owner string) {
	if t.ignore[name] {
		return
	}
	p := &player{name: name}
	status, md, err := t.fetch(name)
	if err != nil {
		t.logger.Debug("mpris: read player", slog.String("name", name), slog.Any("err", err))
	}
	p.status = status
	p.track = parseMetadata(md)

	t.mu.Lock()
	t.byOwner[owner] = p
	t.mu.Unlock()
	t.emit(p)
}

func (t *tracker) vanished(owner string) {
	t.mu.Lock()
	p, ok := t.byOwner[owner]
	delete(t.byOwner, owner)
	t.mu.Unlock()
	if ok {
		t.notifier.Notify(p.name, nil)
	}
}

func (t *tracker) changed(owner string, changed map[string]dbus.Variant, invalidated []string) {
	t.mu.Lock()
	p, ok := t.byOwner[owner]
	t.mu.Unlock()
	if !ok {
		return
	}

	refetch := false
	for _, prop := range invalidated {
		if prop == "PlaybackStatus" || prop == "Metadata" {
			refetch = true
		}
	}
	if refetch {
		status, md, err := t.fetch(p.name)
		if err == nil {
			p.status = status
			p.track = parseMetadata(md)
		}
	}
	if v, ok := changed["PlaybackStatus"]; ok {
		if s, ok := v.Value().(string); ok {
			p.status = s
		}
	}
	if v, ok := changed["Metadata"]; ok {
		if md, ok := v.Value().(map[string]dbus.Variant); ok {
			p.track = parseMetadata(md)
		}
	}
	t.emit(p)
}

func (t *tracker) emit(p *player) {
	if p.status == "Playing" && p.track != nil {
		track := *p.track
		t.notifier.Notify(p.name, &track)
		return
	}
	t.notifier.Notify(p.name, nil)
}

func (t *tracker) clear() {
	t.mu.Lock()
	players := t.byOwner
	t.byOwner = make(map[string]*player)
	t.mu.Unlock()
	for _, p := range players {
		t.notifier.Notify(p.name, nil)
	}
}

// parseMetadata reads xesam:artist (first entry) and xesam:title, falling
// back to the file name from xesam:url.
func parseMetadata(md map[string]dbus.Variant) *nowplaying.Track {
	if md == nil {
		return nil
	}
	var track nowplaying.Track
	if v, ok := md["xesam:artist"]; ok {
		switch a := v.Value().(type) {
		case []string:
			if len(a) > 0 {
				track.Artist = strings.TrimSpace(a[0])
			}
		case string:
			track.Artist = strings.TrimSpace(a)
		}
	}
	if v, ok := md["xesam:title"]; ok {
		if s, ok := v.Value().(string); ok {
			track.Title = strings.TrimSpace(s)
		}
	}
	if track.Title == "" {
		if v, ok := md["xesam:url"]; ok {
			if s, ok := v.Value().(string); ok {
				if u, err := url.Parse(s); err == nil && u.Path != "" {
					base := path.Base(u.Path)
					track.Title = strings.TrimSuffix(base, path.Ext(base))
				}
			}
		}
	}
	if track.Artist == "" && track.Title == "" {
		return nil
	}
	return &track
}
