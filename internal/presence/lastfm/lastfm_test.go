package lastfm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunez/presence/internal/nowplaying"
	"github.com/tunez/presence/internal/presence"
)

func TestNew(t *testing.T) {
	p := New("", Config{})
	assert.Equal(t, "lastfm", p.ID())
	assert.False(t, p.IsEnabled(), "expected disabled without api key")

	p = New("test", Config{APIKey: "key", APISecret: "secret"})
	assert.False(t, p.IsEnabled(), "expected disabled without session key")

	p = New("test", Config{APIKey: "key", APISecret: "secret", SessionKey: "session"})
	assert.True(t, p.IsEnabled())
}

func TestSign(t *testing.T) {
	p := New("test", Config{APIKey: "key", APISecret: "secret", SessionKey: "sk"})
	params := map[string]string{"b": "2", "a": "1", "format": "json"}

	want := md5.Sum([]byte("a1b2secret"))
	assert.Equal(t, hex.EncodeToString(want[:]), p.sign(params))
}

type capture struct {
	mu    sync.Mutex
	forms []url.Values
}

func (c *capture) handler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		c.mu.Lock()
		c.forms = append(c.forms, r.PostForm)
		c.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestPublishNowPlaying(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK, `{"nowplaying":{}}`))
	defer srv.Close()

	p := New("test", Config{APIKey: "key", APISecret: "secret", SessionKey: "sk", Endpoint: srv.URL})
	err := p.Publish(context.Background(), &presence.Status{
		Text:  "Artist — Title",
		Track: nowplaying.Track{Artist: "Artist", Title: "Title"},
	})
	require.NoError(t, err)

	require.Len(t, c.forms, 1)
	form := c.forms[0]
	assert.Equal(t, "track.updateNowPlaying", form.Get("method"))
	assert.Equal(t, "Artist", form.Get("artist"))
	assert.Equal(t, "Title", form.Get("track"))
	assert.Equal(t, "json", form.Get("format"))
	assert.NotEmpty(t, form.Get("api_sig"))
}

func TestPublishClearIsNoop(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK, `{}`))
	defer srv.Close()

	p := New("test", Config{APIKey: "key", APISecret: "secret", SessionKey: "sk", Endpoint: srv.URL})
	require.NoError(t, p.Publish(context.Background(), nil))
	assert.Empty(t, c.forms)
}

func TestPublishErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"http unauthorized", http.StatusUnauthorized, ``, presence.ErrUnauthorized},
		{"http rate limited", http.StatusTooManyRequests, ``, presence.ErrRateLimited},
		{"api invalid session", http.StatusOK, `{"error":9,"message":"Invalid session key"}`, presence.ErrUnauthorized},
		{"api rate limited", http.StatusOK, `{"error":29,"message":"Rate limit exceeded"}`, presence.ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &capture{}
			srv := httptest.NewServer(c.handler(tt.status, tt.body))
			defer srv.Close()

			p := New("test", Config{APIKey: "key", APISecret: "secret", SessionKey: "sk", Endpoint: srv.URL})
			err := p.Publish(context.Background(), &presence.Status{Track: nowplaying.Track{Artist: "a", Title: "t"}})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPublishNotConfigured(t *testing.T) {
	p := New("test", Config{})
	err := p.Publish(context.Background(), &presence.Status{})
	assert.ErrorIs(t, err, presence.ErrNotConfigured)
}
