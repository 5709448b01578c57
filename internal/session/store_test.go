package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	s := NewStore(nil)
	require.NotNil(t, s)
	assert.Empty(t, s.All())
}

func entryFor(t *testing.T, s *Store, connector string) Entry {
	t.Helper()
	for _, entry := range s.All() {
		if entry.Connector == connector {
			return entry
		}
	}
	t.Fatalf("connector %s has no entry", connector)
	return Entry{}
}

func TestGetMissing(t *testing.T) {
	s := NewStore(nil)
	ref, ok := s.Get("eDP-1")
	assert.False(t, ok)
	assert.Equal(t, None, ref.Kind)
}

func TestSetReturnsPrevious(t *testing.T) {
	s := NewStore(nil)

	prev := s.Set("eDP-1", URLReference("https://a.example"))
	assert.Equal(t, Reference{}, prev, "first Set on a connector replaces None")

	prev = s.Set("eDP-1", PathReference("/pics/a.png", "http://127.0.0.1:1/t/a.png"))
	assert.Equal(t, URLReference("https://a.example"), prev)

	got, ok := s.Get("eDP-1")
	require.True(t, ok)
	assert.Equal(t, Path, got.Kind)
	assert.Equal(t, "/pics/a.png", got.Path)
}

func TestEnsureCreatesNoneOnce(t *testing.T) {
	s := NewStore(nil)
	var events []Event
	s.OnChange(func(ev Event) { events = append(events, ev) })

	assert.True(t, s.Ensure("eDP-1"))
	entry := entryFor(t, s, "eDP-1")
	assert.Equal(t, None, entry.Reference.Kind)
	assert.Equal(t, 0, entry.Revision)

	s.Set("eDP-1", URLReference("https://a.example"))
	assert.False(t, s.Ensure("eDP-1"))

	ref, _ := s.Get("eDP-1")
	assert.Equal(t, URLReference("https://a.example"), ref, "Ensure never alters an existing entry")
	assert.Len(t, events, 2)
}

func TestSetIsPerConnector(t *testing.T) {
	s := NewStore(nil)
	s.Set("eDP-1", URLReference("https://a.example"))
	s.Set("HDMI-1", URLReference("https://b.example"))

	a, _ := s.Get("eDP-1")
	b, _ := s.Get("HDMI-1")
	assert.Equal(t, "https://a.example", a.URL)
	assert.Equal(t, "https://b.example", b.URL)
}

func TestRevisionAndTimestamp(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(fixed)
	s := NewStore(clock)

	assert.True(t, s.Ensure("HDMI-1"))
	s.Set("eDP-1", URLReference("https://a.example"))
	clock.Advance(time.Minute)
	s.Set("eDP-1", URLReference("https://a.example"))

	entry := entryFor(t, s, "eDP-1")
	assert.Equal(t, 2, entry.Revision)
	assert.Equal(t, fixed.Add(time.Minute), entry.UpdatedAt)
	assert.Equal(t, fixed, entryFor(t, s, "HDMI-1").UpdatedAt)
}

func TestAllSortedCopies(t *testing.T) {
	s := NewStore(nil)
	s.Set("HDMI-1", URLReference("https://b.example"))
	s.Set("DP-1", URLReference("https://a.example"))

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "DP-1", all[0].Connector)
	assert.Equal(t, "HDMI-1", all[1].Connector)

	all[0].Reference.URL = "mutated"
	got, _ := s.Get("DP-1")
	assert.Equal(t, "https://a.example", got.URL, "All must return copies")
}

func TestOnChangeSeesCommitOrder(t *testing.T) {
	s := NewStore(nil)
	var events []Event
	s.OnChange(func(ev Event) {
		events = append(events, ev)
	})

	s.Set("eDP-1", URLReference("https://a.example"))
	s.Set("eDP-1", PathReference("/pics/a.png", "addr"))

	require.Len(t, events, 2)
	assert.Equal(t, None, events[0].Previous.Kind)
	assert.Equal(t, URL, events[0].Entry.Reference.Kind)
	assert.Equal(t, URL, events[1].Previous.Kind)
	assert.Equal(t, "/pics/a.png", events[1].Entry.Reference.Path)
	assert.Equal(t, 2, events[1].Entry.Revision)
}

func TestSetBlocksReadersUntilObserverReturns(t *testing.T) {
	s := NewStore(nil)

	observerStarted := make(chan struct{})
	release := make(chan struct{})
	s.OnChange(func(Event) {
		close(observerStarted)
		<-release
	})

	go s.Set("eDP-1", URLReference("https://a.example"))
	<-observerStarted

	readDone := make(chan Reference)
	go func() {
		ref, _ := s.Get("eDP-1")
		readDone <- ref
	}()

	select {
	case <-readDone:
		t.Fatal("Get completed while Set was still committing")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	assert.Equal(t, "https://a.example", (<-readDone).URL)
}

func TestConcurrentAccess(t *testing.T) {
	s := NewStore(nil)
	var wg sync.WaitGroup
	const goroutines = 50

	for i := 0; i < goroutines; i++ {
		wg.Add(2)
		connector := fmt.Sprintf("out-%d", i%5)

		go func() {
			defer wg.Done()
			s.Set(connector, URLReference("https://a.example"))
			s.Set(connector, PathReference("/pics/a.png", "addr"))
		}()

		go func() {
			defer wg.Done()
			s.Get(connector)
			s.All()
		}()
	}

	wg.Wait()
	assert.Len(t, s.All(), 5)
}
