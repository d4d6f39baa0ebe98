package location

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/floodwatch/location-agent/internal/models"
	"github.com/floodwatch/location-agent/pkg/store"
)

// cacheStoreKey is the key under which the last fix is persisted.
const cacheStoreKey = "location/last_fix"

// TierWindows maps each validity tier to its maximum acceptable age.
type TierWindows map[models.ValidityTier]time.Duration

// DefaultTierWindows returns the standard validity windows.
func DefaultTierWindows() TierWindows {
	return TierWindows{
		models.TierUltraFresh:      10 * time.Second,
		models.TierFresh:           time.Minute,
		models.TierValid:           10 * time.Minute,
		models.TierStaleAcceptable: 30 * time.Minute,
	}
}

// Cache holds the single most recent known coordinate and answers
// validity queries at different tiers of strictness. Writes are stamped
// with the cache's own clock, never a caller-supplied timestamp, and
// results captured before the current entry are rejected so a slow
// acquisition cannot overwrite a newer fix.
type Cache struct {
	mu      sync.RWMutex
	entry   *models.CacheEntry
	windows TierWindows
	clock   clockwork.Clock
	kv      store.KeyValueStore // nil disables persistence
	logger  zerolog.Logger
}

// NewCache creates a cache with the given validity windows. kv may be
// nil to run without persistence.
func NewCache(windows TierWindows, clock clockwork.Clock, kv store.KeyValueStore, logger zerolog.Logger) *Cache {
	if windows == nil {
		windows = DefaultTierWindows()
	}
	return &Cache{
		windows: windows,
		clock:   clock,
		kv:      kv,
		logger:  logger,
	}
}

// Load restores the persisted entry, if any. Entries older than the
// loosest tier are discarded on load.
func (c *Cache) Load() error {
	if c.kv == nil {
		return nil
	}

	raw, found, err := c.kv.Get(cacheStoreKey)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	var record models.CacheRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return err
	}

	if c.clock.Since(record.StoredAt) >= c.windows[models.TierStaleAcceptable] {
		c.logger.Debug().Time("stored_at", record.StoredAt).Msg("Discarding expired persisted location")
		return nil
	}

	c.mu.Lock()
	c.entry = &models.CacheEntry{
		Coordinate: models.Coordinate{
			Latitude:   record.Latitude,
			Longitude:  record.Longitude,
			Accuracy:   record.Accuracy,
			CapturedAt: record.StoredAt,
			Source:     models.SourceCache,
		},
		StoredAt: record.StoredAt,
	}
	c.mu.Unlock()

	c.logger.Info().
		Float64("latitude", record.Latitude).
		Float64("longitude", record.Longitude).
		Time("stored_at", record.StoredAt).
		Msg("Restored persisted location")
	return nil
}

// Put replaces the cached entry with the given coordinate, stamping it
// with the current time. It returns false when the write is rejected
// because the candidate was captured before the current entry's fix,
// so a late result from a slow acquisition cannot clobber a newer one.
func (c *Cache) Put(coord models.Coordinate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry != nil && !coord.CapturedAt.IsZero() && coord.CapturedAt.Before(c.entry.Coordinate.CapturedAt) {
		c.logger.Debug().
			Time("candidate_captured_at", coord.CapturedAt).
			Time("current_captured_at", c.entry.Coordinate.CapturedAt).
			Msg("Rejected stale location write")
		return false
	}

	coord.CacheAge = 0
	c.entry = &models.CacheEntry{
		Coordinate: coord,
		StoredAt:   c.clock.Now(),
	}
	c.persist(*c.entry)
	return true
}

// Get returns a copy of the cached coordinate if it is still valid for
// the given tier. The age bound is exclusive: an entry exactly at the
// tier's maximum age is expired for that tier.
func (c *Cache) Get(tier models.ValidityTier) (models.Coordinate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.entry == nil {
		return models.Coordinate{}, false
	}

	age := c.clock.Since(c.entry.StoredAt)
	if age >= c.windows[tier] {
		return models.Coordinate{}, false
	}

	coord := c.entry.Coordinate
	coord.Source = models.SourceCache
	coord.CacheAge = age
	return coord, true
}

// EvictExpired drops the entry once it is beyond the loosest tier's
// window. Invoked periodically by the background scheduler.
func (c *Cache) EvictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entry == nil {
		return
	}
	if c.clock.Since(c.entry.StoredAt) >= c.windows[models.TierStaleAcceptable] {
		c.logger.Debug().Time("stored_at", c.entry.StoredAt).Msg("Evicted expired location entry")
		c.entry = nil
	}
}

// persist writes the record through to the key-value store. Persistence
// failures are logged, not propagated; the in-memory entry stands.
func (c *Cache) persist(entry models.CacheEntry) {
	if c.kv == nil {
		return
	}

	record := models.CacheRecord{
		Latitude:  entry.Coordinate.Latitude,
		Longitude: entry.Coordinate.Longitude,
		Accuracy:  entry.Coordinate.Accuracy,
		StoredAt:  entry.StoredAt,
	}
	raw, err := json.Marshal(record)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to serialize location record")
		return
	}
	if err := c.kv.Set(cacheStoreKey, raw); err != nil {
		c.logger.Error().Err(err).Msg("Failed to persist location record")
	}
}
