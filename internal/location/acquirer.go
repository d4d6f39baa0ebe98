package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/floodwatch/location-agent/internal/models"
	"github.com/floodwatch/location-agent/pkg/positioning"
)

// heartbeatInterval is how often a pending hardware request logs
// progress, purely for observability.
const heartbeatInterval = 6 * time.Second

// AcquisitionConfig bounds a single hardware position request.
type AcquisitionConfig struct {
	Timeout          time.Duration
	DesiredAccuracy  positioning.Accuracy
	MaxAcceptableAge time.Duration
}

type permissionState int

const (
	permissionUnknown permissionState = iota
	permissionGranted
	permissionDenied
)

// Acquirer wraps the device positioning capability behind priority-
// derived configurations, negotiates permission once, and classifies
// failures into the subsystem's error taxonomy.
type Acquirer struct {
	capability  positioning.Capability
	environment EnvironmentClassifier
	logger      zerolog.Logger

	mu         sync.Mutex
	permission permissionState
}

// NewAcquirer creates an acquirer over the given positioning capability.
func NewAcquirer(capability positioning.Capability, environment EnvironmentClassifier, logger zerolog.Logger) *Acquirer {
	return &Acquirer{
		capability:  capability,
		environment: environment,
		logger:      logger,
	}
}

// ConfigFor derives the acquisition configuration for a priority. A
// constrained sensor environment extends timeouts by half and drops the
// accuracy expectation one class, since fixes arrive slower there.
func (a *Acquirer) ConfigFor(priority models.Priority) AcquisitionConfig {
	var cfg AcquisitionConfig
	switch priority {
	case models.PriorityThorough:
		cfg = AcquisitionConfig{Timeout: 40 * time.Second, DesiredAccuracy: positioning.AccuracyFinest, MaxAcceptableAge: 10 * time.Second}
	case models.PriorityNormal:
		cfg = AcquisitionConfig{Timeout: 20 * time.Second, DesiredAccuracy: positioning.AccuracyFine, MaxAcceptableAge: time.Minute}
	default: // Fast and Background share the short, coarse profile
		cfg = AcquisitionConfig{Timeout: 8 * time.Second, DesiredAccuracy: positioning.AccuracyCoarse, MaxAcceptableAge: 2 * time.Minute}
	}

	if a.environment != nil && a.environment.Constrained() {
		cfg.Timeout += cfg.Timeout / 2
		if cfg.DesiredAccuracy > positioning.AccuracyCoarse {
			cfg.DesiredAccuracy--
		}
	}
	return cfg
}

// RequestPosition negotiates permission, issues one hardware request
// bound by cfg, and returns the resulting coordinate. Failures are
// classified into the subsystem taxonomy; permission denial is sticky
// and never retried.
func (a *Acquirer) RequestPosition(ctx context.Context, cfg AcquisitionConfig) (models.Coordinate, error) {
	if err := a.ensurePermission(ctx); err != nil {
		return models.Coordinate{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	stopHeartbeat := a.startHeartbeat(reqCtx)
	defer stopHeartbeat()

	pos, err := a.capability.CurrentPosition(reqCtx, positioning.RequestOptions{
		DesiredAccuracy: cfg.DesiredAccuracy,
		Timeout:         cfg.Timeout,
		MaxAge:          cfg.MaxAcceptableAge,
	})
	if err != nil {
		return models.Coordinate{}, a.classify(ctx, err)
	}

	capturedAt := pos.Timestamp
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}
	return models.Coordinate{
		Latitude:   pos.Latitude,
		Longitude:  pos.Longitude,
		Accuracy:   pos.Accuracy,
		CapturedAt: capturedAt,
		Source:     models.SourceSensor,
	}, nil
}

// ensurePermission negotiates positioning permission exactly once per
// process. A denial is remembered and reported immediately afterwards.
func (a *Acquirer) ensurePermission(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.permission {
	case permissionGranted:
		return nil
	case permissionDenied:
		return ErrPermissionDenied
	}

	status, err := a.capability.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if status != positioning.PermissionGranted {
		a.permission = permissionDenied
		a.logger.Warn().Msg("Positioning permission denied")
		return ErrPermissionDenied
	}

	a.permission = permissionGranted
	a.logger.Info().Msg("Positioning permission granted")
	return nil
}

// startHeartbeat logs progress while a hardware request is pending.
func (a *Acquirer) startHeartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		started := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				a.logger.Debug().
					Dur("waiting", time.Since(started)).
					Msg("Position request still pending")
			}
		}
	}()
	return func() { close(done) }
}

// classify maps an underlying failure onto the subsystem taxonomy. The
// caller context distinguishes cancellation from a genuine timeout.
func (a *Acquirer) classify(callerCtx context.Context, err error) error {
	switch {
	case errors.Is(callerCtx.Err(), context.Canceled):
		return ErrCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	case errors.Is(err, positioning.ErrUnavailable):
		return ErrServiceUnavailable
	case errors.Is(err, positioning.ErrNoFix):
		return ErrServiceUnavailable
	default:
		return fmt.Errorf("%w: %v", ErrUnknown, err)
	}
}
