package presence

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/tunez/presence/internal/nowplaying"
)

var (
	ErrNotConfigured = errors.New("presence: not configured")
	ErrUnauthorized  = errors.New("presence: unauthorized")
	ErrRateLimited   = errors.New("presence: rate limited")
)

// Status is what gets published. A nil *Status clears the presence.
type Status struct {
	// Text is the formatted, byte-bounded status line.
	Text string
	// Track is the raw track the text was formatted from, for sinks that
	// understand artist and title separately.
	Track nowplaying.Track
	At    time.Time
}

// Describe renders an optional status for logs.
func Describe(s *Status) string {
	if s == nil {
		return "<cleared>"
	}
	return s.Text
}

// Payload is the JSON document message-bus sinks publish.
type Payload struct {
	Status  string    `json:"status"`
	Artist  string    `json:"artist"`
	Title   string    `json:"title"`
	Cleared bool      `json:"cleared"`
	At      time.Time `json:"at"`
}

// Encode renders status as a JSON payload. A nil status encodes as cleared,
// stamped with now.
func Encode(s *Status, now time.Time) ([]byte, error) {
	p := Payload{Cleared: true, At: now}
	if s != nil {
		p = Payload{
			Status: s.Text,
			Artist: s.Track.Artist,
			Title:  s.Track.Title,
			At:     s.At,
		}
		if p.At.IsZero() {
			p.At = now
		}
	}
	return json.Marshal(p)
}
