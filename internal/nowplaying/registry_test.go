package nowplaying

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu    sync.Mutex
	items []*Track
}

func (s *recordingSink) Put(t *Track) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, t)
	return true
}

func (s *recordingSink) pushed() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Track(nil), s.items...)
}

func track(artist, title string) *Track { return &Track{Artist: artist, Title: title} }

func TestEqual(t *testing.T) {
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, track("a", "b")))
	assert.False(t, Equal(track("a", "b"), nil))
	assert.True(t, Equal(track("a", "b"), track("a", "b")))
	assert.False(t, Equal(track("a", "b"), track("a", "c")))
}

func TestRegistryFirstSourceKeepsPriority(t *testing.T) {
	sink := &recordingSink{}
	r := NewRegistry(sink, nil)

	r.Notify("A", track("Artist A", "Song A"))
	r.Notify("B", track("Artist B", "Song B"))
	require.Equal(t, track("Artist A", "Song A"), r.Current())

	r.Notify("A", nil)
	require.Equal(t, track("Artist B", "Song B"), r.Current())

	// A starts again while B still plays: A now ranks behind B.
	r.Notify("A", track("Artist A", "Song A2"))
	require.Equal(t, track("Artist B", "Song B"), r.Current())

	assert.Equal(t, []*Track{
		track("Artist A", "Song A"),
		track("Artist B", "Song B"),
	}, sink.pushed())

	assert.Equal(t, []Entry{
		{SourceID: "B", Track: Track{Artist: "Artist B", Title: "Song B"}},
		{SourceID: "A", Track: Track{Artist: "Artist A", Title: "Song A2"}},
	}, r.Snapshot())
}

func TestRegistryUpdateKeepsPosition(t *testing.T) {
	sink := &recordingSink{}
	r := NewRegistry(sink, nil)

	r.Notify("A", track("x", "1"))
	r.Notify("B", track("y", "1"))
	r.Notify("A", track("x", "2"))

	assert.Equal(t, track("x", "2"), r.Current())
	assert.Equal(t, []*Track{track("x", "1"), track("x", "2")}, sink.pushed())
}

func TestRegistryLowerPriorityChangesAreNotPushed(t *testing.T) {
	sink := &recordingSink{}
	r := NewRegistry(sink, nil)

	r.Notify("A", track("x", "1"))
	r.Notify("B", track("y", "1"))
	r.Notify("B", track("y", "2"))
	r.Notify("B", nil)

	assert.Equal(t, []*Track{track("x", "1")}, sink.pushed())
}

func TestRegistryRepeatedNotifyIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	r := NewRegistry(sink, nil)

	r.Notify("A", track("x", "1"))
	r.Notify("A", track("x", "1"))
	r.Notify("A", nil)
	r.Notify("A", nil)
	r.Notify("ghost", nil)

	assert.Equal(t, []*Track{track("x", "1"), nil}, sink.pushed())
	assert.Nil(t, r.Current())
	assert.Zero(t, r.Len())
}

func TestRegistryIdenticalTrackFromNextSourceIsNotPushed(t *testing.T) {
	sink := &recordingSink{}
	r := NewRegistry(sink, nil)

	r.Notify("A", track("x", "1"))
	r.Notify("B", track("x", "1"))
	r.Notify("A", nil)

	assert.Equal(t, []*Track{track("x", "1")}, sink.pushed())
}

func TestRegistryConcurrentNotify(t *testing.T) {
	sink := &recordingSink{}
	r := NewRegistry(sink, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("source-%d", i)
			for j := 0; j < 50; j++ {
				r.Notify(id, track(id, fmt.Sprint(j)))
			}
			r.Notify(id, nil)
		}(i)
	}
	wg.Wait()

	assert.Nil(t, r.Current())
	pushed := sink.pushed()
	require.NotEmpty(t, pushed)
	assert.Nil(t, pushed[len(pushed)-1])
	for i := 1; i < len(pushed); i++ {
		assert.False(t, Equal(pushed[i-1], pushed[i]), "consecutive duplicate at %d", i)
	}
}
