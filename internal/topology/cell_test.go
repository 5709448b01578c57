package topology

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCellIsEmpty(t *testing.T) {
	c := NewCell()
	snap := c.Load()
	assert.Equal(t, uint64(0), snap.Version())
	assert.Empty(t, snap.Connectors())
	assert.False(t, snap.Contains("eDP-1"))
}

func TestPublishReplacesWholesale(t *testing.T) {
	c := NewCell()
	c.Publish([]string{"eDP-1", "HDMI-1"})
	c.Publish([]string{"DP-2"})

	snap := c.Load()
	assert.Equal(t, uint64(2), snap.Version())
	assert.Equal(t, []string{"DP-2"}, snap.Connectors())
	assert.False(t, snap.Contains("eDP-1"))
}

func TestPublishDropsDuplicatesAndEmpty(t *testing.T) {
	c := NewCell()
	snap := c.Publish([]string{"eDP-1", "", "HDMI-1", "eDP-1"})
	assert.Equal(t, []string{"eDP-1", "HDMI-1"}, snap.Connectors())
}

func TestSnapshotIsolatedFromCaller(t *testing.T) {
	c := NewCell()
	input := []string{"eDP-1", "HDMI-1"}
	c.Publish(input)
	input[0] = "mutated"

	got := c.Load().Connectors()
	got[1] = "mutated-too"

	assert.Equal(t, []string{"eDP-1", "HDMI-1"}, c.Load().Connectors())
}

func TestChangedClosedOnPublish(t *testing.T) {
	c := NewCell()
	ch := c.Changed()

	select {
	case <-ch:
		t.Fatal("Changed closed before any Publish")
	default:
	}

	c.Publish([]string{"eDP-1"})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Changed not closed by Publish")
	}

	select {
	case <-c.Changed():
		t.Fatal("fresh Changed channel already closed")
	default:
	}
}

func TestLateReaderSeesOnlyLatest(t *testing.T) {
	c := NewCell()
	for i := 0; i < 50; i++ {
		c.Publish([]string{fmt.Sprintf("out-%d", i), fmt.Sprintf("aux-%d", i)})
	}

	snap := c.Load()
	assert.Equal(t, uint64(50), snap.Version())
	assert.Equal(t, []string{"out-49", "aux-49"}, snap.Connectors())
}

func TestConcurrentReadersNeverSeePartialSnapshot(t *testing.T) {
	c := NewCell()
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				names := c.Load().Connectors()
				if len(names) == 0 {
					continue
				}
				// Every published set is {out-N, aux-N}; a mix of two
				// generations would mean a torn read.
				var n, m int
				_, err1 := fmt.Sscanf(names[0], "out-%d", &n)
				_, err2 := fmt.Sscanf(names[1], "aux-%d", &m)
				if err1 != nil || err2 != nil || n != m {
					t.Errorf("torn snapshot: %v", names)
					return
				}
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		c.Publish([]string{fmt.Sprintf("out-%d", i), fmt.Sprintf("aux-%d", i)})
	}
	close(stop)
	wg.Wait()

	require.Equal(t, uint64(1000), c.Load().Version())
}
