package nowplaying

import (
	"log/slog"
	"sync"
)

// Sink receives the current track whenever it changes.
type Sink interface {
	Put(track *Track) bool
}

// Entry is one playing source in priority order.
type Entry struct {
	SourceID string
	Track    Track
}

// Registry tracks which sources are playing and derives the current track.
//
// The first source to start playing keeps priority for as long as it keeps
// playing; later sources only take over once every older one has stopped.
// Updating a source's track does not change its position.
type Registry struct {
	mu     sync.Mutex
	order  []string
	tracks map[string]Track

	sink   Sink
	logger *slog.Logger
}

// NewRegistry creates a registry that pushes current-track changes to sink.
func NewRegistry(sink Sink, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tracks: make(map[string]Track),
		sink:   sink,
		logger: logger,
	}
}

// Notify records the state of one source. A nil track removes the source.
// Safe for concurrent use; mutations are applied one at a time and the
// resulting changes reach the sink in the same order.
func (r *Registry) Notify(sourceID string, track *Track) {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := r.current()
	if track == nil {
		r.remove(sourceID)
	} else {
		if _, ok := r.tracks[sourceID]; !ok {
			r.order = append(r.order, sourceID)
		}
		r.tracks[sourceID] = *track
	}
	after := r.current()

	if Equal(before, after) {
		return
	}
	r.logger.Info("current track changed",
		slog.String("source", sourceID),
		slog.String("track", Describe(after)))
	if r.sink != nil {
		r.sink.Put(after)
	}
}

// Current returns the track of the oldest source still playing, or nil.
func (r *Registry) Current() *Track {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current()
}

// Snapshot returns the playing sources in priority order.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, Entry{SourceID: id, Track: r.tracks[id]})
	}
	return out
}

// Len returns the number of playing sources.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

func (r *Registry) current() *Track {
	if len(r.order) == 0 {
		return nil
	}
	t := r.tracks[r.order[0]]
	return &t
}

func (r *Registry) remove(sourceID string) {
	if _, ok := r.tracks[sourceID]; !ok {
		return
	}
	delete(r.tracks, sourceID)
	for i, id := range r.order {
		if id == sourceID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
