package mpd

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunez/presence/internal/nowplaying"
)

func TestTrackFromAttrs(t *testing.T) {
	tests := []struct {
		name string
		song mpd.Attrs
		want *nowplaying.Track
	}{
		{"tagged", mpd.Attrs{"Artist": "A", "Title": "T", "file": "a/t.flac"}, &nowplaying.Track{Artist: "A", Title: "T"}},
		{"album artist fallback", mpd.Attrs{"AlbumArtist": "AA", "Title": "T"}, &nowplaying.Track{Artist: "AA", Title: "T"}},
		{"stream name", mpd.Attrs{"Name": "Radio X", "file": "http://x/stream"}, &nowplaying.Track{Title: "Radio X"}},
		{"file name", mpd.Attrs{"file": "music/01 Intro.mp3"}, &nowplaying.Track{Title: "01 Intro"}},
		{"trimmed", mpd.Attrs{"Artist": " A ", "Title": " T "}, &nowplaying.Track{Artist: "A", Title: "T"}},
		{"empty", mpd.Attrs{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, trackFromAttrs(tt.song))
		})
	}
}

func TestNetwork(t *testing.T) {
	assert.Equal(t, "tcp", New(Options{Address: "localhost:6600"}).network())
	assert.Equal(t, "unix", New(Options{Address: "/run/mpd/socket"}).network())
	assert.Equal(t, "mpd:localhost:6600", New(Options{Address: "localhost:6600"}).Name())
	assert.Equal(t, "living-room", New(Options{ID: "living-room", Address: "localhost:6600"}).Name())
}

func TestStartRequiresAddress(t *testing.T) {
	assert.Error(t, New(Options{}).Start(newRecorder()))
}

// fakeServer speaks enough of the MPD protocol for the observer: status,
// currentsong and idle on the player subsystem.
type fakeServer struct {
	t    *testing.T
	path string

	mu     sync.Mutex
	ln     net.Listener
	conns  map[*fakeConn]struct{}
	state  string
	artist string
	title  string
}

type fakeConn struct {
	net.Conn
	wmu     sync.Mutex
	idling  bool
	pending bool
}

func (c *fakeConn) send(lines ...string) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, _ = fmt.Fprint(c.Conn, strings.Join(lines, "\n")+"\n")
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	s := &fakeServer{
		t:     t,
		path:  filepath.Join(os.TempDir(), "tunez-presence-mpd-"+t.Name()+".sock"),
		conns: make(map[*fakeConn]struct{}),
		state: "stop",
	}
	s.listen()
	t.Cleanup(func() {
		s.kill()
		_ = os.Remove(s.path)
	})
	return s
}

func (s *fakeServer) listen() {
	s.t.Helper()
	_ = os.Remove(s.path)
	ln, err := net.Listen("unix", s.path)
	require.NoError(s.t, err)
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			c := &fakeConn{Conn: conn}
			s.mu.Lock()
			s.conns[c] = struct{}{}
			s.mu.Unlock()
			go s.serve(c)
		}
	}()
}

func (s *fakeServer) serve(c *fakeConn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		c.Close()
	}()
	c.send("OK MPD 0.23.5")

	scanner := bufio.NewScanner(c)
	for scanner.Scan() {
		cmd := scanner.Text()
		s.mu.Lock()
		switch {
		case cmd == "status":
			c.send("volume: 100", "state: "+s.state, "OK")
		case cmd == "currentsong":
			if s.state == "stop" {
				c.send("OK")
			} else {
				c.send("file: music/song.flac", "Artist: "+s.artist, "Title: "+s.title, "OK")
			}
		case strings.HasPrefix(cmd, "idle"):
			if c.pending {
				c.pending = false
				c.send("changed: player", "OK")
			} else {
				c.idling = true
			}
		case cmd == "noidle":
			if c.idling {
				c.idling = false
				c.send("OK")
			}
		case cmd == "ping":
			c.send("OK")
		case cmd == "close":
			s.mu.Unlock()
			return
		default:
			c.send("ACK [5@0] {} unknown command")
		}
		s.mu.Unlock()
	}
}

// set changes the player state and wakes idle clients.
func (s *fakeServer) set(state, artist, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state, s.artist, s.title = state, artist, title
	for c := range s.conns {
		if c.idling {
			c.idling = false
			c.send("changed: player", "OK")
		} else {
			c.pending = true
		}
	}
}

// kill stops listening and drops every client, like a crashed server.
func (s *fakeServer) kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		s.ln.Close()
		s.ln = nil
	}
	for c := range s.conns {
		c.Close()
	}
}

// recorder keeps the latest notification.
type recorder struct {
	mu     sync.Mutex
	source string
	track  *nowplaying.Track
	calls  int
	notify chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 1)}
}

func (r *recorder) Notify(source string, track *nowplaying.Track) {
	r.mu.Lock()
	r.source, r.track = source, track
	r.calls++
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recorder) lastSource() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.source
}

func (r *recorder) waitFor(t *testing.T, want *nowplaying.Track) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		r.mu.Lock()
		got, calls := r.track, r.calls
		r.mu.Unlock()
		if calls > 0 && assert.ObjectsAreEqual(want, got) {
			return
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %v, last notify %v", want, got)
		}
	}
}

func TestObserverFollowsPlayer(t *testing.T) {
	srv := newFakeServer(t)
	srv.set("play", "A", "T")

	obs := New(Options{ID: "mpd", Address: srv.path, RetryInterval: 20 * time.Millisecond})
	rec := newRecorder()
	require.NoError(t, obs.Start(rec))
	defer obs.Close()

	rec.waitFor(t, &nowplaying.Track{Artist: "A", Title: "T"})
	assert.Equal(t, "mpd", rec.lastSource())

	srv.set("stop", "", "")
	rec.waitFor(t, nil)

	srv.set("play", "B", "U")
	rec.waitFor(t, &nowplaying.Track{Artist: "B", Title: "U"})

	srv.set("pause", "B", "U")
	rec.waitFor(t, nil)
}

func TestObserverReportsAbsenceWhileServerIsDown(t *testing.T) {
	srv := newFakeServer(t)
	srv.set("play", "A", "T")

	obs := New(Options{Address: srv.path, RetryInterval: 20 * time.Millisecond})
	rec := newRecorder()
	require.NoError(t, obs.Start(rec))
	defer obs.Close()
	rec.waitFor(t, &nowplaying.Track{Artist: "A", Title: "T"})

	srv.kill()
	rec.waitFor(t, nil)

	srv.listen()
	rec.waitFor(t, &nowplaying.Track{Artist: "A", Title: "T"})

	require.NoError(t, obs.Close())
	rec.waitFor(t, nil)
}

func TestObserverWaitsForServer(t *testing.T) {
	srv := newFakeServer(t)
	srv.kill()

	obs := New(Options{Address: srv.path, RetryInterval: 20 * time.Millisecond})
	rec := newRecorder()
	require.NoError(t, obs.Start(rec))
	defer obs.Close()
	rec.waitFor(t, nil)

	srv.set("play", "A", "T")
	srv.listen()
	rec.waitFor(t, &nowplaying.Track{Artist: "A", Title: "T"})
}

func TestStartAfterClose(t *testing.T) {
	obs := New(Options{Address: "localhost:6600"})
	assert.NoError(t, obs.Close())
	assert.ErrorIs(t, obs.Start(nil), nowplaying.ErrObserverClosed)
}
