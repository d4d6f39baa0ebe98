package location

import (
	"context"

	"github.com/floodwatch/location-agent/internal/models"
)

// Subsystem is the location facade exposed to the rest of the
// application. It owns the coordinator, cache, region table and update
// hub; its lifetime is managed explicitly by the agent.
type Subsystem struct {
	coordinator *Coordinator
	cache       *Cache
	regions     *RegionSet
	hub         *UpdateHub
}

// NewSubsystem assembles the location facade from its parts.
func NewSubsystem(coordinator *Coordinator, cache *Cache, regions *RegionSet, hub *UpdateHub) *Subsystem {
	return &Subsystem{
		coordinator: coordinator,
		cache:       cache,
		regions:     regions,
		hub:         hub,
	}
}

// AcquireLocation returns the device coordinate at the given priority.
func (s *Subsystem) AcquireLocation(ctx context.Context, priority models.Priority, skipSensor bool) (models.Coordinate, error) {
	return s.coordinator.Acquire(ctx, priority, skipSensor)
}

// Region classifies a coordinate into a named region.
func (s *Subsystem) Region(lat, lon float64) string {
	return s.regions.Classify(lat, lon)
}

// IsWithinCoverage reports whether the point lies inside the supported
// geographic area.
func (s *Subsystem) IsWithinCoverage(lat, lon float64) bool {
	return s.regions.IsWithinCoverage(lat, lon)
}

// NearestCoveredPoint maps an out-of-coverage point to the closest
// supported coordinate.
func (s *Subsystem) NearestCoveredPoint(lat, lon float64) models.Coordinate {
	return s.regions.NearestCoveredPoint(lat, lon)
}

// SubscribeUpdates registers for location updates.
func (s *Subsystem) SubscribeUpdates(buffer int) (<-chan models.Coordinate, string) {
	return s.hub.Subscribe(buffer)
}

// UnsubscribeUpdates removes a subscription by handle.
func (s *Subsystem) UnsubscribeUpdates(handle string) {
	s.hub.Unsubscribe(handle)
}

// Cache exposes the cache for maintenance callers (the scheduler).
func (s *Subsystem) Cache() *Cache {
	return s.cache
}

// Hub exposes the update hub for broadcasting callers (the scheduler's
// movement watcher).
func (s *Subsystem) Hub() *UpdateHub {
	return s.hub
}
