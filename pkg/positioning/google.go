package positioning

import (
	"context"
	"time"

	"googlemaps.github.io/maps"
)

// GoogleGeolocationProvider resolves the device position through the
// Google Maps Geolocation API. It is network-based and advisory: the
// subsystem uses it when no local sensor is available.
type GoogleGeolocationProvider struct {
	client *maps.Client
}

// NewGoogleGeolocationProvider creates a provider backed by the Google
// Maps Geolocation API.
func NewGoogleGeolocationProvider(apiKey string) (*GoogleGeolocationProvider, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GoogleGeolocationProvider{client: c}, nil
}

// RequestPermission reports granted whenever an API client exists; the
// API needs no per-device consent.
func (g *GoogleGeolocationProvider) RequestPermission(_ context.Context) (PermissionStatus, error) {
	if g.client == nil {
		return PermissionDenied, nil
	}
	return PermissionGranted, nil
}

// CurrentPosition issues a geolocation request considering the caller's
// IP. Accuracy class is not negotiable with the API; the response
// carries its own accuracy estimate.
func (g *GoogleGeolocationProvider) CurrentPosition(ctx context.Context, opts RequestOptions) (Position, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req := &maps.GeolocationRequest{ConsiderIP: true}
	resp, err := g.client.Geolocate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Position{}, ctx.Err()
		}
		return Position{}, ErrUnavailable
	}

	return Position{
		Latitude:  resp.Location.Lat,
		Longitude: resp.Location.Lng,
		Accuracy:  resp.Accuracy,
		Timestamp: time.Now(),
	}, nil
}

// WatchPosition polls the API at the given interval and forwards fixes
// that moved beyond thresholdMeters.
func (g *GoogleGeolocationProvider) WatchPosition(ctx context.Context, thresholdMeters float64, interval time.Duration) (<-chan Position, error) {
	return watchByPolling(ctx, thresholdMeters, interval, func(ctx context.Context) (Position, error) {
		return g.CurrentPosition(ctx, RequestOptions{DesiredAccuracy: AccuracyCoarse, Timeout: interval})
	}), nil
}
