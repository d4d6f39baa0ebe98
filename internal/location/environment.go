package location

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/host"
)

// EnvironmentClassifier reports whether the agent runs in a constrained
// sensor environment (virtualized or emulated host), where GPS fixes
// are slower or less available and acquisition limits should relax.
// It is injected as a strategy so detection stays unit-testable.
type EnvironmentClassifier interface {
	Constrained() bool
}

// StaticEnvironment is a fixed classification, used for configuration
// overrides and tests.
type StaticEnvironment bool

// Constrained returns the fixed classification.
func (s StaticEnvironment) Constrained() bool { return bool(s) }

// HostEnvironment classifies the sensor environment from host metadata.
// The probe runs once, safe under concurrent acquisitions; the result
// is cached for the process lifetime.
type HostEnvironment struct {
	logger      zerolog.Logger
	probe       sync.Once
	constrained bool
}

// NewHostEnvironment creates a host-metadata based classifier.
func NewHostEnvironment(logger zerolog.Logger) *HostEnvironment {
	return &HostEnvironment{logger: logger}
}

// Constrained reports true when the host is a virtualization guest.
func (h *HostEnvironment) Constrained() bool {
	h.probe.Do(func() {
		info, err := host.Info()
		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to probe host environment, assuming unconstrained")
			return
		}

		h.constrained = info.VirtualizationSystem != "" && info.VirtualizationRole == "guest"
		if h.constrained {
			h.logger.Info().
				Str("virtualization", info.VirtualizationSystem).
				Msg("Constrained sensor environment detected, relaxing acquisition limits")
		}
	})
	return h.constrained
}
