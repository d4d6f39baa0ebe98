package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/floodwatch/location-agent/internal/models"
	"github.com/floodwatch/location-agent/pkg/positioning"
)

// tickTimeout bounds one background refresh, generously above the
// longest acquisition timeout.
const tickTimeout = 60 * time.Second

// locationAcquirer is the slice of the location subsystem the
// scheduler needs.
type locationAcquirer interface {
	AcquireLocation(ctx context.Context, priority models.Priority, skipSensor bool) (models.Coordinate, error)
}

// cacheMaintainer covers the cache operations driven by the scheduler.
type cacheMaintainer interface {
	Put(coord models.Coordinate) bool
	EvictExpired()
}

// updateBroadcaster delivers movement fixes to subscribers.
type updateBroadcaster interface {
	Broadcast(coord models.Coordinate)
}

// SchedulerService keeps the location cache warm. It refreshes at a
// foreground cadence, slows down when the application is backgrounded,
// reacts to significant-movement events from the positioning capability,
// and periodically evicts expired cache entries. Refresh failures are
// logged and swallowed; the next tick simply tries again.
type SchedulerService struct {
	// Configuration fields
	foregroundInterval time.Duration
	backgroundInterval time.Duration
	evictionInterval   time.Duration
	movementThreshold  float64
	watchInterval      time.Duration

	// Dependencies
	coordinator locationAcquirer
	cache       cacheMaintainer
	hub         updateBroadcaster
	capability  positioning.Capability
	lifecycle   <-chan models.LifecycleEvent
	logger      zerolog.Logger

	// Internal state management
	mu         sync.Mutex
	mode       models.SchedulerMode
	lastRun    time.Time
	scheduler  gocron.Scheduler
	refreshJob gocron.Job
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	running    bool
}

// NewSchedulerService creates a new SchedulerService instance with the provided configuration.
func NewSchedulerService(foregroundInterval, backgroundInterval, evictionInterval time.Duration,
	movementThreshold float64, watchInterval time.Duration, coordinator locationAcquirer,
	cache cacheMaintainer, hub updateBroadcaster, capability positioning.Capability,
	lifecycle <-chan models.LifecycleEvent, logger zerolog.Logger) *SchedulerService {
	return &SchedulerService{
		foregroundInterval: foregroundInterval,
		backgroundInterval: backgroundInterval,
		evictionInterval:   evictionInterval,
		movementThreshold:  movementThreshold,
		watchInterval:      watchInterval,
		coordinator:        coordinator,
		cache:              cache,
		hub:                hub,
		capability:         capability,
		lifecycle:          lifecycle,
		logger:             logger,
		mode:               models.SchedulerStopped,
	}
}

// Start transitions the scheduler to Active: one immediate warm-up
// acquisition, then repeating refresh and eviction jobs.
func (s *SchedulerService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn().Msg("SchedulerService is already running")
		return errors.New("scheduler service is already running")
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	s.scheduler = scheduler
	s.ctx, s.cancel = context.WithCancel(context.Background())

	refreshJob, err := s.scheduler.NewJob(
		gocron.DurationJob(s.foregroundInterval),
		gocron.NewTask(s.refreshTick),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("location_refresh_job"),
	)
	if err != nil {
		return err
	}
	s.refreshJob = refreshJob

	_, err = s.scheduler.NewJob(
		gocron.DurationJob(s.evictionInterval),
		gocron.NewTask(s.cache.EvictExpired),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("location_cache_eviction_job"),
	)
	if err != nil {
		return err
	}

	s.scheduler.Start()
	s.running = true
	s.mode = models.SchedulerActive

	// Preemptive warm-up so the first caller finds a warm cache.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.refreshTick()
	}()

	if s.lifecycle != nil {
		s.wg.Add(1)
		go s.consumeLifecycle()
	}

	s.wg.Add(1)
	go s.watchMovement()

	s.logger.Info().
		Dur("foreground_interval", s.foregroundInterval).
		Dur("background_interval", s.backgroundInterval).
		Msg("SchedulerService started")
	return nil
}

// Stop gracefully stops the SchedulerService, ensuring all goroutines are terminated.
func (s *SchedulerService) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Warn().Msg("SchedulerService is not running")
		return errors.New("scheduler service is not running")
	}
	s.running = false
	s.mode = models.SchedulerStopped
	s.cancel()
	scheduler := s.scheduler
	s.mu.Unlock()

	if err := scheduler.Shutdown(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to shut down scheduler")
	}
	s.wg.Wait()

	s.logger.Info().Msg("SchedulerService stopped")
	return nil
}

// Mode returns the scheduler's current state machine mode.
func (s *SchedulerService) Mode() models.SchedulerMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// refreshTick performs one Background-priority acquisition. A cache hit
// short-circuits inside the coordinator, so a warm cache costs no
// sensor wake-up.
func (s *SchedulerService) refreshTick() {
	ctx, cancel := context.WithTimeout(s.ctx, tickTimeout)
	defer cancel()

	if _, err := s.coordinator.AcquireLocation(ctx, models.PriorityBackground, false); err != nil {
		s.logger.Warn().Err(err).Msg("Background location refresh failed")
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()
}

// consumeLifecycle drives the Active <-> Backgrounded transitions.
func (s *SchedulerService) consumeLifecycle() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-s.lifecycle:
			if !ok {
				return
			}
			s.onLifecycleEvent(event)
		}
	}
}

// onLifecycleEvent re-arms the refresh job at the cadence matching the
// new application state.
func (s *SchedulerService) onLifecycleEvent(event models.LifecycleEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	switch event {
	case models.LifecycleForeground:
		if s.mode == models.SchedulerActive {
			return
		}
		s.mode = models.SchedulerActive
		s.retargetLocked(s.foregroundInterval)
		s.logger.Info().Msg("Scheduler entering foreground cadence")

		// Warm the cache right away on returning to the foreground.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.refreshTick()
		}()
	case models.LifecycleBackground, models.LifecycleInactive:
		if s.mode == models.SchedulerBackgrounded {
			return
		}
		s.mode = models.SchedulerBackgrounded
		s.retargetLocked(s.backgroundInterval)
		s.logger.Info().Msg("Scheduler entering background cadence")
	}
}

// retargetLocked replaces the refresh job's interval.
func (s *SchedulerService) retargetLocked(interval time.Duration) {
	job, err := s.scheduler.Update(
		s.refreshJob.ID(),
		gocron.DurationJob(interval),
		gocron.NewTask(s.refreshTick),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("location_refresh_job"),
	)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to retarget refresh job")
		return
	}
	s.refreshJob = job
}

// watchMovement consumes significant-movement fixes and writes them
// straight to the cache, bypassing the refresh timer.
func (s *SchedulerService) watchMovement() {
	defer s.wg.Done()

	stream, err := s.capability.WatchPosition(s.ctx, s.movementThreshold, s.watchInterval)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Movement watcher unavailable")
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case pos, ok := <-stream:
			if !ok {
				return
			}
			coord := models.Coordinate{
				Latitude:   pos.Latitude,
				Longitude:  pos.Longitude,
				Accuracy:   pos.Accuracy,
				CapturedAt: pos.Timestamp,
				Source:     models.SourceSensor,
			}
			if s.cache.Put(coord) {
				s.hub.Broadcast(coord)
				s.logger.Debug().
					Float64("latitude", pos.Latitude).
					Float64("longitude", pos.Longitude).
					Msg("Significant movement detected, cache updated")
			}
		}
	}
}
