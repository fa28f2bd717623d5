// Package nowplaying aggregates playback state reported by independent
// sources into a single current track.
package nowplaying

import (
	"errors"
	"fmt"
)

// ErrObserverClosed is returned by observers used after Close.
var ErrObserverClosed = errors.New("nowplaying: observer closed")

// Track is what a source reports while it is playing. A nil *Track means
// nothing is playing.
type Track struct {
	Artist string
	Title  string
}

func (t Track) String() string {
	return fmt.Sprintf("%q by %q", t.Title, t.Artist)
}

// Equal compares two optional tracks by value.
func Equal(a, b *Track) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Describe renders an optional track for logs.
func Describe(t *Track) string {
	if t == nil {
		return "nothing"
	}
	return t.String()
}

// Notifier receives playback state changes from sources.
type Notifier interface {
	Notify(sourceID string, track *Track)
}

// Observer is a source of playback events: a media player integration that
// reports Notify(sourceID, track) whenever its state changes.
type Observer interface {
	// Name returns a human-readable name for logs.
	Name() string
	// Start subscribes to the underlying player(s) and begins emitting
	// events to n from background goroutines.
	Start(n Notifier) error
	// Close releases every subscription. Sources the observer announced are
	// reported as no longer playing.
	Close() error
}
