package positioning

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestDistanceMeters tests the great-circle distance against known
// reference distances.
func TestDistanceMeters(t *testing.T) {
	assert.Equal(t, 0.0, DistanceMeters(3.1390, 101.6869, 3.1390, 101.6869))

	// KLCC to KL Sentral is roughly 3.9 km.
	d := DistanceMeters(3.1579, 101.7120, 3.1340, 101.6860)
	assert.InDelta(t, 3950, d, 300)

	// One degree of latitude is about 111 km everywhere.
	d = DistanceMeters(3.0, 101.0, 4.0, 101.0)
	assert.InDelta(t, 111195, d, 200)
}

// TestWatchByPolling tests that the polling watcher forwards the first
// fix, suppresses jitter under the threshold, and closes on cancel.
func TestWatchByPolling(t *testing.T) {
	var (
		mu    sync.Mutex
		fixes = []Position{
			{Latitude: 3.1000, Longitude: 101.6000},
			{Latitude: 3.1001, Longitude: 101.6001}, // ~16 m, under threshold
			{Latitude: 3.2000, Longitude: 101.6000}, // ~11 km, over threshold
		}
		next int
	)
	fetch := func(context.Context) (Position, error) {
		mu.Lock()
		defer mu.Unlock()
		pos := fixes[next]
		if next < len(fixes)-1 {
			next++
		}
		return pos, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	stream := watchByPolling(ctx, 100, 5*time.Millisecond, fetch)

	first := <-stream
	assert.Equal(t, 3.1000, first.Latitude)

	second := <-stream
	assert.Equal(t, 3.2000, second.Latitude, "sub-threshold jitter must be suppressed")

	cancel()
	_, open := <-stream
	assert.False(t, open)
}
