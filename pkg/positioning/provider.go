package positioning

import (
	"context"
	"errors"
	"math"
	"time"
)

// Accuracy is the accuracy class requested from the positioning hardware.
type Accuracy int

const (
	AccuracyCoarse Accuracy = iota
	AccuracyFine
	AccuracyFinest
)

// PermissionStatus is the outcome of a permission negotiation.
type PermissionStatus int

const (
	PermissionGranted PermissionStatus = iota
	PermissionDenied
)

// Position is a raw reading from the positioning capability.
type Position struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64 // meters, 0 when unknown
	Timestamp time.Time
}

// RequestOptions bounds a single position request.
type RequestOptions struct {
	DesiredAccuracy Accuracy
	Timeout         time.Duration
	MaxAge          time.Duration // accept a capability-internal fix no older than this
}

var (
	// ErrUnavailable indicates the positioning capability cannot serve
	// requests right now (no device, no signal, no network).
	ErrUnavailable = errors.New("positioning service unavailable")
	// ErrNoFix indicates the capability responded but produced no usable fix.
	ErrNoFix = errors.New("no position fix available")
)

// Capability is the device positioning interface consumed by the
// location subsystem. Implementations wrap a concrete position source
// (serial GPS, network geolocation).
type Capability interface {
	// RequestPermission negotiates access to the position source. A
	// denial is expected to be sticky for the process lifetime.
	RequestPermission(ctx context.Context) (PermissionStatus, error)

	// CurrentPosition issues a single position request bound by opts.
	CurrentPosition(ctx context.Context, opts RequestOptions) (Position, error)

	// WatchPosition emits a position whenever the device has moved more
	// than thresholdMeters since the last emitted fix, sampling at the
	// given interval. The stream closes when ctx is cancelled.
	WatchPosition(ctx context.Context, thresholdMeters float64, interval time.Duration) (<-chan Position, error)
}

const earthRadiusMeters = 6371000.0

// DistanceMeters returns the great-circle distance between two points
// using the Haversine formula.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// watchByPolling implements WatchPosition for capabilities whose
// underlying source has no native movement events. It polls fetch at
// the given interval and forwards fixes that moved beyond the threshold.
func watchByPolling(ctx context.Context, thresholdMeters float64, interval time.Duration,
	fetch func(context.Context) (Position, error)) <-chan Position {
	out := make(chan Position, 1)

	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last Position
		var haveLast bool

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pos, err := fetch(ctx)
				if err != nil {
					continue
				}
				if haveLast && DistanceMeters(last.Latitude, last.Longitude, pos.Latitude, pos.Longitude) < thresholdMeters {
					continue
				}
				last = pos
				haveLast = true
				select {
				case out <- pos:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
