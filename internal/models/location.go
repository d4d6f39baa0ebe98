package models

import (
	"time"
)

// Source identifies where a coordinate came from.
type Source string

const (
	SourceSensor  Source = "sensor"
	SourceCache   Source = "cache"
	SourceDefault Source = "default"
)

// Coordinate represents a geographical position with associated metadata.
// Instances are immutable once created; they are produced by the acquirer
// or by the configured default fallback.
type Coordinate struct {
	Latitude   float64       `json:"latitude"`
	Longitude  float64       `json:"longitude"`
	Accuracy   float64       `json:"accuracy"` // estimated error radius in meters, 0 when the fix reports none
	CapturedAt time.Time     `json:"captured_at"`
	Source     Source        `json:"source"`
	CacheAge   time.Duration `json:"cache_age,omitempty"` // set on cache hits only
}

// CacheEntry is the single record owned by the location cache. It is
// replaced wholesale on every accepted write, never merged.
type CacheEntry struct {
	Coordinate Coordinate
	StoredAt   time.Time
}

// CacheRecord is the persisted form of the cache entry.
type CacheRecord struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	StoredAt  time.Time `json:"stored_at"`
}

// TelemetryLocation is the payload published to the location telemetry topic.
type TelemetryLocation struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Source    Source    `json:"source"`
	Region    string    `json:"region,omitempty"`
}
