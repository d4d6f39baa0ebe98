package location

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/floodwatch/location-agent/internal/models"
	"github.com/floodwatch/location-agent/pkg/positioning"
)

// fakeRequester is a scriptable position requester. When gate is set,
// every call blocks until the gate closes or the request context is
// cancelled.
type fakeRequester struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
	coord models.Coordinate
	err   error
}

func (f *fakeRequester) ConfigFor(models.Priority) AcquisitionConfig {
	return AcquisitionConfig{
		Timeout:          time.Second,
		DesiredAccuracy:  positioning.AccuracyCoarse,
		MaxAcceptableAge: time.Minute,
	}
}

func (f *fakeRequester) RequestPosition(ctx context.Context, _ AcquisitionConfig) (models.Coordinate, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	coord, err := f.coord, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.Coordinate{}, ErrCancelled
		}
	}

	if err != nil {
		return models.Coordinate{}, err
	}
	if coord.CapturedAt.IsZero() {
		coord.CapturedAt = time.Now()
	}
	coord.Source = models.SourceSensor
	return coord, nil
}

func (f *fakeRequester) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var testDefault = models.Coordinate{Latitude: 3.1390, Longitude: 101.6869}

func newTestCoordinator(requester *fakeRequester, clock clockwork.Clock) (*Coordinator, *Cache, *UpdateHub) {
	cache := NewCache(DefaultTierWindows(), clock, nil, zerolog.Nop())
	hub := NewUpdateHub()
	coordinator := NewCoordinator(requester, cache, hub, testDefault, 3, zerolog.Nop())
	return coordinator, cache, hub
}

// TestCoordinator_Deduplication tests that N concurrent same-priority
// callers share one hardware request and one result.
func TestCoordinator_Deduplication(t *testing.T) {
	gate := make(chan struct{})
	requester := &fakeRequester{
		gate:  gate,
		coord: models.Coordinate{Latitude: 5.0, Longitude: 6.0},
	}
	coordinator, _, _ := newTestCoordinator(requester, clockwork.NewFakeClock())

	const callers = 5
	results := make(chan models.Coordinate, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			coord, err := coordinator.Acquire(context.Background(), models.PriorityNormal, false)
			results <- coord
			errs <- err
		}()
	}

	// Let every caller join the in-flight request before releasing it.
	time.Sleep(100 * time.Millisecond)
	close(gate)

	for i := 0; i < callers; i++ {
		assert.NoError(t, <-errs)
		coord := <-results
		assert.Equal(t, 5.0, coord.Latitude)
		assert.Equal(t, 6.0, coord.Longitude)
	}
	assert.Equal(t, 1, requester.callCount())
}

// TestCoordinator_CacheHitShortCircuits tests that a warm cache answers
// without touching the hardware.
func TestCoordinator_CacheHitShortCircuits(t *testing.T) {
	requester := &fakeRequester{}
	coordinator, cache, _ := newTestCoordinator(requester, clockwork.NewFakeClock())

	cache.Put(models.Coordinate{Latitude: 2.0, Longitude: 3.0, CapturedAt: time.Now(), Source: models.SourceSensor})

	coord, err := coordinator.Acquire(context.Background(), models.PriorityFast, false)

	assert.NoError(t, err)
	assert.Equal(t, 2.0, coord.Latitude)
	assert.Equal(t, models.SourceCache, coord.Source)
	assert.Equal(t, 0, requester.callCount())
}

// TestCoordinator_SkipSensorReturnsDefault tests the sensorless path on
// an empty cache.
func TestCoordinator_SkipSensorReturnsDefault(t *testing.T) {
	requester := &fakeRequester{}
	coordinator, _, _ := newTestCoordinator(requester, clockwork.NewFakeClock())

	coord, err := coordinator.Acquire(context.Background(), models.PriorityFast, true)

	assert.NoError(t, err)
	assert.Equal(t, testDefault.Latitude, coord.Latitude)
	assert.Equal(t, testDefault.Longitude, coord.Longitude)
	assert.Equal(t, models.SourceDefault, coord.Source)
	assert.Equal(t, 0, requester.callCount())
}

// TestCoordinator_ThoroughPreempts tests that a Thorough request cancels
// in-flight requests and their followers observe cancellation.
func TestCoordinator_ThoroughPreempts(t *testing.T) {
	gate := make(chan struct{})
	requester := &fakeRequester{
		gate:  gate,
		coord: models.Coordinate{Latitude: 7.0, Longitude: 8.0},
	}
	coordinator, _, _ := newTestCoordinator(requester, clockwork.NewFakeClock())

	followerErrs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := coordinator.Acquire(context.Background(), models.PriorityNormal, false)
			followerErrs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)

	type outcome struct {
		coord models.Coordinate
		err   error
	}
	thoroughDone := make(chan outcome, 1)
	go func() {
		coord, err := coordinator.Acquire(context.Background(), models.PriorityThorough, false)
		thoroughDone <- outcome{coord, err}
	}()

	// Preemption cancels the in-flight request before the hardware call
	// resolves; followers must observe cancellation immediately.
	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, <-followerErrs, ErrCancelled)
	}

	close(gate)
	result := <-thoroughDone
	assert.NoError(t, result.err)
	assert.Equal(t, 7.0, result.coord.Latitude)
}

// TestCoordinator_FallbackToCache tests that a failed acquisition
// degrades to the loosest cache tier.
func TestCoordinator_FallbackToCache(t *testing.T) {
	requester := &fakeRequester{err: ErrTimeout}
	clock := clockwork.NewFakeClock()
	coordinator, cache, _ := newTestCoordinator(requester, clock)

	cache.Put(models.Coordinate{Latitude: 4.0, Longitude: 5.0, CapturedAt: time.Now(), Source: models.SourceSensor})
	// Expired for the Normal tier, still acceptable at the loosest tier.
	clock.Advance(2 * time.Minute)

	coord, err := coordinator.Acquire(context.Background(), models.PriorityNormal, false)

	assert.NoError(t, err)
	assert.Equal(t, 4.0, coord.Latitude)
	assert.Equal(t, models.SourceCache, coord.Source)
	assert.Equal(t, 1, requester.callCount())
}

// TestCoordinator_FallbackToDefault tests the end of the fallback chain.
func TestCoordinator_FallbackToDefault(t *testing.T) {
	requester := &fakeRequester{err: ErrServiceUnavailable}
	coordinator, _, _ := newTestCoordinator(requester, clockwork.NewFakeClock())

	coord, err := coordinator.Acquire(context.Background(), models.PriorityNormal, false)

	assert.NoError(t, err)
	assert.Equal(t, testDefault.Latitude, coord.Latitude)
	assert.Equal(t, models.SourceDefault, coord.Source)
}

// TestCoordinator_PermissionDeniedSurfaces tests that permission denial
// is the one failure propagated verbatim.
func TestCoordinator_PermissionDeniedSurfaces(t *testing.T) {
	requester := &fakeRequester{err: ErrPermissionDenied}
	coordinator, _, _ := newTestCoordinator(requester, clockwork.NewFakeClock())

	_, err := coordinator.Acquire(context.Background(), models.PriorityNormal, false)

	assert.ErrorIs(t, err, ErrPermissionDenied)
}

// TestCoordinator_InflightCapEvictsOldest tests that admitting beyond
// the cap cancels the longest-running acquisition.
func TestCoordinator_InflightCapEvictsOldest(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	requester := &fakeRequester{
		gate:  gate,
		coord: models.Coordinate{Latitude: 1.0, Longitude: 1.0},
	}
	cache := NewCache(DefaultTierWindows(), clockwork.NewFakeClock(), nil, zerolog.Nop())
	coordinator := NewCoordinator(requester, cache, NewUpdateHub(), testDefault, 2, zerolog.Nop())

	oldestErr := make(chan error, 1)
	go func() {
		_, err := coordinator.Acquire(context.Background(), models.PriorityBackground, false)
		oldestErr <- err
	}()
	time.Sleep(30 * time.Millisecond)

	go func() {
		_, _ = coordinator.Acquire(context.Background(), models.PriorityFast, false)
	}()
	time.Sleep(30 * time.Millisecond)

	go func() {
		_, _ = coordinator.Acquire(context.Background(), models.PriorityNormal, false)
	}()

	assert.ErrorIs(t, <-oldestErr, ErrCancelled)
}

// TestCoordinator_SuccessfulAcquisitionBroadcasts tests that accepted
// fixes reach update subscribers and the cache.
func TestCoordinator_SuccessfulAcquisitionBroadcasts(t *testing.T) {
	requester := &fakeRequester{coord: models.Coordinate{Latitude: 9.0, Longitude: 10.0}}
	coordinator, cache, hub := newTestCoordinator(requester, clockwork.NewFakeClock())

	updates, handle := hub.Subscribe(1)
	defer hub.Unsubscribe(handle)

	_, err := coordinator.Acquire(context.Background(), models.PriorityNormal, false)
	assert.NoError(t, err)

	select {
	case update := <-updates:
		assert.Equal(t, 9.0, update.Latitude)
	case <-time.After(time.Second):
		t.Fatal("expected a broadcast update")
	}

	cached, ok := cache.Get(models.TierUltraFresh)
	assert.True(t, ok)
	assert.Equal(t, 9.0, cached.Latitude)
}
