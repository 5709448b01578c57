// Package topology holds the latest known set of display connectors.
//
// The rendering front end is the only writer. Readers load whichever snapshot
// was published most recently; intermediate snapshots published between two
// reads are never observed. This is a value cell, not a delivery queue.
package topology

import (
	"slices"
	"sync"
)

// Snapshot is an immutable set of connector names in the order the front end
// reported them. The zero value is an empty snapshot.
type Snapshot struct {
	version    uint64
	connectors []string
}

// Version increases by one on every Publish. The initial snapshot is version 0.
func (s Snapshot) Version() uint64 { return s.version }

// Connectors returns a copy of the connector names.
func (s Snapshot) Connectors() []string { return slices.Clone(s.connectors) }

func (s Snapshot) Len() int { return len(s.connectors) }

func (s Snapshot) Contains(connector string) bool {
	return slices.Contains(s.connectors, connector)
}

// Cell is a single-writer, multi-reader holder for the current Snapshot.
type Cell struct {
	mu      sync.RWMutex
	current Snapshot
	changed chan struct{}
}

func NewCell() *Cell {
	return &Cell{changed: make(chan struct{})}
}

// Publish replaces the snapshot wholesale and wakes every reader waiting on
// Changed. Duplicate names are dropped; the input slice is copied.
func (c *Cell) Publish(connectors []string) Snapshot {
	names := make([]string, 0, len(connectors))
	for _, name := range connectors {
		if name == "" || slices.Contains(names, name) {
			continue
		}
		names = append(names, name)
	}

	c.mu.Lock()
	c.current = Snapshot{version: c.current.version + 1, connectors: names}
	snap := c.current
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
	return snap
}

// Load returns the most recently published snapshot.
func (c *Cell) Load() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Changed returns a channel that is closed on the next Publish. Take the
// channel before calling Load so a publish in between is not missed.
func (c *Cell) Changed() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changed
}
