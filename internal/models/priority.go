package models

// Priority orders acquisition requests and selects the acquisition
// configuration (timeout, accuracy, max acceptable age).
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityFast
	PriorityNormal
	PriorityThorough
)

// String returns the priority name used for logging and registry keys.
func (p Priority) String() string {
	switch p {
	case PriorityBackground:
		return "background"
	case PriorityFast:
		return "fast"
	case PriorityNormal:
		return "normal"
	case PriorityThorough:
		return "thorough"
	default:
		return "unknown"
	}
}

// ValidityTier is a named maximum-age window used to decide whether a
// cached coordinate is still acceptable. Tiers are totally ordered by
// permissiveness: an entry valid for UltraFresh is valid for every
// looser tier.
type ValidityTier int

const (
	TierUltraFresh ValidityTier = iota
	TierFresh
	TierValid
	TierStaleAcceptable
)

// String returns the tier name used for logging.
func (t ValidityTier) String() string {
	switch t {
	case TierUltraFresh:
		return "ultra_fresh"
	case TierFresh:
		return "fresh"
	case TierValid:
		return "valid"
	case TierStaleAcceptable:
		return "stale_acceptable"
	default:
		return "unknown"
	}
}

// LifecycleEvent is an application lifecycle transition consumed by the
// background scheduler.
type LifecycleEvent int

const (
	LifecycleForeground LifecycleEvent = iota
	LifecycleBackground
	LifecycleInactive
)

// SchedulerMode is the background scheduler's state machine mode.
type SchedulerMode int

const (
	SchedulerStopped SchedulerMode = iota
	SchedulerActive
	SchedulerBackgrounded
)
