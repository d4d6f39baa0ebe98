package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/floodwatch/location-agent/internal/models"
)

// defaultMaxInflight caps concurrent hardware requests across all
// priority classes.
const defaultMaxInflight = 3

// positionRequester is the slice of the acquirer the coordinator needs.
type positionRequester interface {
	ConfigFor(priority models.Priority) AcquisitionConfig
	RequestPosition(ctx context.Context, cfg AcquisitionConfig) (models.Coordinate, error)
}

// inflightRequest is one dispatched hardware acquisition. Concurrent
// callers of the same priority class attach to it as followers and all
// observe the same outcome.
type inflightRequest struct {
	id         string
	priority   models.Priority
	generation uint64
	startedAt  time.Time
	cancel     context.CancelFunc

	once  sync.Once
	done  chan struct{}
	coord models.Coordinate
	err   error
}

// complete resolves the request exactly once, for every follower.
func (r *inflightRequest) complete(coord models.Coordinate, err error) {
	r.once.Do(func() {
		r.coord = coord
		r.err = err
		close(r.done)
	})
}

// Coordinator arbitrates concurrent acquisition requests: it serves
// cache hits, deduplicates same-priority callers onto one hardware
// call, lets Thorough requests preempt everything else, bounds the
// number of in-flight acquisitions, and degrades through the fallback
// chain (sensor -> cache -> default) on failure.
type Coordinator struct {
	acquirer     positionRequester
	cache        *Cache
	hub          *UpdateHub
	defaultCoord models.Coordinate
	maxInflight  int
	logger       zerolog.Logger

	mu          sync.Mutex // guards admission, preemption and generations
	inflight    cmap.ConcurrentMap[string, *inflightRequest]
	generations map[models.Priority]uint64
}

// NewCoordinator creates a coordinator. defaultCoord is returned when
// both the sensor and the cache have nothing to offer; a default always
// exists, so callers are never left without a coordinate.
func NewCoordinator(acquirer positionRequester, cache *Cache, hub *UpdateHub,
	defaultCoord models.Coordinate, maxInflight int, logger zerolog.Logger) *Coordinator {
	if maxInflight <= 0 {
		maxInflight = defaultMaxInflight
	}
	defaultCoord.Source = models.SourceDefault
	return &Coordinator{
		acquirer:     acquirer,
		cache:        cache,
		hub:          hub,
		defaultCoord: defaultCoord,
		maxInflight:  maxInflight,
		logger:       logger,
		inflight:     cmap.New[*inflightRequest](),
		generations:  make(map[models.Priority]uint64),
	}
}

// tierFor maps a request priority to the cache tier consulted first.
// Low priorities accept loose tiers; Thorough wants the freshest fix.
func tierFor(priority models.Priority) models.ValidityTier {
	switch priority {
	case models.PriorityBackground:
		return models.TierStaleAcceptable
	case models.PriorityFast:
		return models.TierValid
	case models.PriorityNormal:
		return models.TierFresh
	default:
		return models.TierUltraFresh
	}
}

// Acquire returns a coordinate for the given priority. With skipSensor
// set it never touches the hardware and answers from the loosest cache
// tier or the configured default. Otherwise a cache hit at the
// priority's tier short-circuits; on a miss the caller joins or starts
// an in-flight acquisition and awaits its shared outcome.
func (c *Coordinator) Acquire(ctx context.Context, priority models.Priority, skipSensor bool) (models.Coordinate, error) {
	if skipSensor {
		return c.bestAvailable(), nil
	}

	if coord, ok := c.cache.Get(tierFor(priority)); ok {
		c.logger.Debug().
			Str("priority", priority.String()).
			Dur("cache_age", coord.CacheAge).
			Msg("Serving location from cache")
		return coord, nil
	}

	req := c.admit(priority)

	select {
	case <-ctx.Done():
		return models.Coordinate{}, ErrCancelled
	case <-req.done:
	}

	return c.resolve(priority, req.coord, req.err)
}

// admit joins an existing in-flight request of the same priority class
// or dispatches a new one, enforcing preemption and the global cap.
func (c *Coordinator) admit(priority models.Priority) *inflightRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	if priority == models.PriorityThorough {
		// Thorough requests preempt everything currently in flight.
		for item := range c.inflight.IterBuffered() {
			c.cancelLocked(item.Val, "preempted by thorough request")
		}
	} else if existing, ok := c.inflight.Get(priority.String()); ok {
		c.logger.Debug().
			Str("priority", priority.String()).
			Str("request_id", existing.id).
			Msg("Joining in-flight acquisition")
		return existing
	}

	if c.inflight.Count() >= c.maxInflight {
		if oldest := c.oldestLocked(); oldest != nil {
			c.cancelLocked(oldest, "in-flight cap exceeded")
		}
	}

	c.generations[priority]++
	runCtx, cancel := context.WithCancel(context.Background())
	req := &inflightRequest{
		id:         uuid.New().String(),
		priority:   priority,
		generation: c.generations[priority],
		startedAt:  time.Now(),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	c.inflight.Set(priority.String(), req)

	go c.run(runCtx, req)
	return req
}

// cancelLocked cancels an in-flight request and bumps its priority's
// generation, so the eventual hardware result is discarded instead of
// poisoning the cache. Followers observe ErrCancelled immediately.
func (c *Coordinator) cancelLocked(req *inflightRequest, reason string) {
	c.generations[req.priority]++
	c.inflight.Remove(req.priority.String())
	req.cancel()
	req.complete(models.Coordinate{}, ErrCancelled)
	c.logger.Debug().
		Str("priority", req.priority.String()).
		Str("request_id", req.id).
		Str("reason", reason).
		Msg("Cancelled in-flight acquisition")
}

// oldestLocked returns the longest-running in-flight request.
func (c *Coordinator) oldestLocked() *inflightRequest {
	var oldest *inflightRequest
	for item := range c.inflight.IterBuffered() {
		if oldest == nil || item.Val.startedAt.Before(oldest.startedAt) {
			oldest = item.Val
		}
	}
	return oldest
}

// run executes one hardware acquisition and applies its result if the
// request is still current for its priority class.
func (c *Coordinator) run(ctx context.Context, req *inflightRequest) {
	cfg := c.acquirer.ConfigFor(req.priority)
	c.logger.Debug().
		Str("priority", req.priority.String()).
		Str("request_id", req.id).
		Dur("timeout", cfg.Timeout).
		Msg("Dispatching position request")

	coord, err := c.acquirer.RequestPosition(ctx, cfg)

	c.mu.Lock()
	current := c.generations[req.priority] == req.generation
	if current {
		c.inflight.Remove(req.priority.String())
	}
	c.mu.Unlock()

	if !current {
		// A cancelled or superseded request; its late result must not
		// be applied.
		c.logger.Debug().
			Str("request_id", req.id).
			Msg("Discarding result of superseded acquisition")
		req.complete(models.Coordinate{}, ErrCancelled)
		return
	}

	if err == nil {
		if !c.cache.Put(coord) {
			c.logger.Debug().Str("request_id", req.id).Msg("Cache rejected acquisition result as stale")
		}
		c.hub.Broadcast(coord)
	}
	req.complete(coord, err)
}

// resolve turns a shared acquisition outcome into the caller's result.
// Only permission denial and cancellation surface as errors; every
// other failure degrades to the cache or the configured default.
func (c *Coordinator) resolve(priority models.Priority, coord models.Coordinate, err error) (models.Coordinate, error) {
	if err == nil {
		return coord, nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrCancelled) {
		return models.Coordinate{}, err
	}

	c.logger.Warn().
		Err(err).
		Str("priority", priority.String()).
		Msg("Acquisition failed, falling back")
	return c.bestAvailable(), nil
}

// bestAvailable returns the loosest-tier cache entry or the configured
// default coordinate.
func (c *Coordinator) bestAvailable() models.Coordinate {
	if coord, ok := c.cache.Get(models.TierStaleAcceptable); ok {
		return coord
	}
	return c.defaultCoord
}

// InflightCount reports the number of hardware acquisitions currently
// in flight.
func (c *Coordinator) InflightCount() int {
	return c.inflight.Count()
}
