// Package mpv watches a running mpv instance over its JSON IPC socket.
package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"

	"github.com/tunez/presence/internal/nowplaying"
)

// Options configures the Observer.
type Options struct {
	// ID is the source id; defaults to "mpv:" plus IPCPath.
	ID string
	// IPCPath is the socket mpv was started with (--input-ipc-server).
	IPCPath string
	Logger  *slog.Logger
	Dial    func(ctx context.Context, network, addr string) (net.Conn, error)
	// ConnectTimeout bounds one round of connection attempts.
	ConnectTimeout time.Duration
	// RetryInterval is the pause between rounds while mpv is not running.
	RetryInterval time.Duration
	// ReadTags reads artist and title from a local file. Defaults to
	// reading embedded tags.
	ReadTags func(path string) (artist, title string, err error)
}

// Observer reports mpv's current track to a nowplaying.Notifier.
type Observer struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conn     net.Conn
	notifier nowplaying.Notifier
	started  bool
	state    state
	tagCache map[string]nowplaying.Track

	wg sync.WaitGroup
}

type state struct {
	paused   bool
	idle     bool
	metadata map[string]string
	path     string
}

// New creates an observer for the socket at opts.IPCPath.
func New(opts Options) *Observer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ReadTags == nil {
		opts.ReadTags = readTags
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 2 * time.Second
	}
	if opts.ID == "" {
		opts.ID = "mpv:" + opts.IPCPath
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Observer{
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		state:    state{idle: true},
		tagCache: make(map[string]nowplaying.Track),
	}
}

// Name is the source id used for registry updates.
func (o *Observer) Name() string { return o.opts.ID }

// Start begins observing in the background. mpv does not have to be
// running yet; the observer reconnects every time mpv comes back until
// Close.
func (o *Observer) Start(n nowplaying.Notifier) error {
	o.opts.Logger.Debug("starting mpv observer", slog.String("ipc_path", o.opts.IPCPath))
	if o.opts.IPCPath == "" {
		return errors.New("mpv: no ipc path")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ctx.Err() != nil {
		return nowplaying.ErrObserverClosed
	}
	if o.started {
		return errors.New("mpv: already started")
	}
	o.started = true
	o.notifier = n

	o.wg.Add(1)
	go o.supervise()
	return nil
}

func (o *Observer) supervise() {
	defer o.wg.Done()
	defer o.report(nil)

	for {
		if err := o.session(); err != nil && o.ctx.Err() == nil {
			o.opts.Logger.Debug("mpv unavailable", slog.String("ipc_path", o.opts.IPCPath), slog.Any("err", err))
		}
		select {
		case <-o.ctx.Done():
			return
		case <-time.After(o.opts.RetryInterval):
		}
	}
}

// session connects once and follows mpv until the connection drops.
func (o *Observer) session() error {
	ctx, cancel := context.WithTimeout(o.ctx, o.opts.ConnectTimeout)
	conn, err := o.connect(ctx)
	cancel()
	if err != nil {
		return err
	}

	o.mu.Lock()
	if o.ctx.Err() != nil {
		o.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	o.conn = conn
	o.state = state{idle: true}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.conn = nil
		o.mu.Unlock()
		_ = conn.Close()
	}()

	if err := o.observeProperties(); err != nil {
		return err
	}
	o.readLoop(conn)
	return nil
}

func (o *Observer) connect(ctx context.Context) (net.Conn, error) {
	dial := o.opts.Dial
	if dial == nil {
		dial = (&net.Dialer{Timeout: 2 * time.Second}).DialContext
	}
	var (
		conn net.Conn
		err  error
	)
	baseDelay := 50 * time.Millisecond
	maxDelay := 500 * time.Millisecond
	maxRetries := 10
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := 0; i < maxRetries; i++ {
		conn, err = dial(ctx, "unix", o.opts.IPCPath)
		if err == nil {
			o.opts.Logger.Debug("connected to mpv ipc", slog.Int("attempt", i+1))
			return conn, nil
		}
		if i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<uint(i))
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(float64(delay) * 0.2 * rng.Float64())
		o.opts.Logger.Debug("mpv ipc connection failed, retrying",
			slog.Int("attempt", i+1), slog.Any("err", err), slog.Duration("delay", delay+jitter))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect mpv ipc: %w", ctx.Err())
		case <-time.After(delay + jitter):
		}
	}
	return nil, fmt.Errorf("connect mpv ipc: %w", err)
}

var observed = []string{"pause", "idle-active", "metadata", "path"}

func (o *Observer) observeProperties() error {
	for i, p := range observed {
		if err := o.send(map[string]any{
			"command": []any{"observe_property", i + 1, p},
		}); err != nil {
			return fmt.Errorf("observe %s: %w", p, err)
		}
	}
	return nil
}

func (o *Observer) send(cmd map[string]any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conn == nil {
		return errors.New("mpv not connected")
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	_, err = o.conn.Write(append(b, '\n'))
	return err
}

// Close disconnects, stops reconnecting and reports the source as absent.
func (o *Observer) Close() error {
	o.cancel()
	o.mu.Lock()
	if o.conn != nil {
		_ = o.conn.Close()
	}
	o.mu.Unlock()
	o.wg.Wait()
	return nil
}

type ipcMessage struct {
	Event string          `json:"event"`
	Name  string          `json:"name"`
	Data  json.RawMessage `json:"data"`
}

func (o *Observer) readLoop(conn net.Conn) {
	defer o.report(nil)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg ipcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			o.opts.Logger.Debug("mpv: undecodable message", slog.Any("err", err))
			continue
		}
		if msg.Event != "property-change" {
			continue
		}
		if o.apply(msg) {
			o.report(o.current())
		}
	}

	select {
	case <-o.ctx.Done():
	default:
		o.opts.Logger.Info("mpv connection closed", slog.Any("err", scanner.Err()))
	}
}

// apply folds one property change into the state and reports whether it
// was one of the observed properties.
func (o *Observer) apply(msg ipcMessage) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch msg.Name {
	case "pause":
		var b bool
		_ = json.Unmarshal(msg.Data, &b)
		o.state.paused = b
	case "idle-active":
		var b bool
		_ = json.Unmarshal(msg.Data, &b)
		o.state.idle = b
	case "metadata":
		o.state.metadata = decodeMetadata(msg.Data)
	case "path":
		var p string
		_ = json.Unmarshal(msg.Data, &p)
		o.state.path = p
	default:
		return false
	}
	return true
}

func (o *Observer) report(track *nowplaying.Track) {
	o.mu.Lock()
	n := o.notifier
	o.mu.Unlock()
	if n != nil {
		n.Notify(o.Name(), track)
	}
}

func (o *Observer) current() *nowplaying.Track {
	o.mu.Lock()
	st := o.state
	o.mu.Unlock()

	if st.paused || st.idle {
		return nil
	}
	if t, ok := fromMetadata(st.metadata); ok {
		return &t
	}
	if st.path == "" {
		return nil
	}
	t := o.fromPath(st.path)
	return &t
}

// decodeMetadata lower-cases keys and keeps only string values. A null or
// missing metadata property decodes to nil.
func decodeMetadata(raw json.RawMessage) map[string]string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[strings.ToLower(k)] = s
		}
	}
	return out
}

func fromMetadata(md map[string]string) (nowplaying.Track, bool) {
	if title := strings.TrimSpace(md["title"]); title != "" {
		return nowplaying.Track{Artist: strings.TrimSpace(md["artist"]), Title: title}, true
	}
	if icy := strings.TrimSpace(md["icy-title"]); icy != "" {
		if artist, title, ok := strings.Cut(icy, " - "); ok {
			return nowplaying.Track{Artist: strings.TrimSpace(artist), Title: strings.TrimSpace(title)}, true
		}
		return nowplaying.Track{Title: icy}, true
	}
	return nowplaying.Track{}, false
}

func (o *Observer) fromPath(p string) nowplaying.Track {
	local, ok := localPath(p)
	if ok {
		o.mu.Lock()
		cached, hit := o.tagCache[local]
		o.mu.Unlock()
		if hit {
			return cached
		}
		artist, title, err := o.opts.ReadTags(local)
		if err == nil && strings.TrimSpace(title) != "" {
			t := nowplaying.Track{Artist: strings.TrimSpace(artist), Title: strings.TrimSpace(title)}
			o.mu.Lock()
			o.tagCache[local] = t
			o.mu.Unlock()
			return t
		}
		if err != nil {
			o.opts.Logger.Debug("mpv: no tags", slog.String("path", local), slog.Any("err", err))
		}
		return nowplaying.Track{Title: baseName(filepath.Base(local))}
	}
	if u, err := url.Parse(p); err == nil && u.Path != "" && u.Path != "/" {
		return nowplaying.Track{Title: baseName(path.Base(u.Path))}
	}
	return nowplaying.Track{Title: p}
}

func localPath(p string) (string, bool) {
	if strings.HasPrefix(p, "file://") {
		if u, err := url.Parse(p); err == nil {
			return u.Path, true
		}
	}
	if strings.Contains(p, "://") {
		return "", false
	}
	return p, true
}

func baseName(name string) string {
	if ext := filepath.Ext(name); ext != "" && ext != name {
		return strings.TrimSuffix(name, ext)
	}
	return name
}

func readTags(p string) (string, string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", "", err
	}
	defer f.Close()
	md, err := tag.ReadFrom(f)
	if err != nil {
		return "", "", err
	}
	return md.Artist(), md.Title(), nil
}
