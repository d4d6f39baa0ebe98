package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/floodwatch/location-agent/internal/models"
	"github.com/floodwatch/location-agent/internal/utils"
	"github.com/floodwatch/location-agent/pkg/identity"
	"github.com/floodwatch/location-agent/pkg/mqtt"
)

// updateSource is the slice of the location subsystem the telemetry
// publisher needs: an update subscription and region classification.
type updateSource interface {
	SubscribeUpdates(buffer int) (<-chan models.Coordinate, string)
	UnsubscribeUpdates(handle string)
	Region(lat, lon float64) string
}

// TelemetryService publishes location updates to an MQTT topic so
// companion services can follow the device. Publishing is advisory:
// failures are logged and never block the location subsystem.
type TelemetryService struct {
	// Configuration fields
	topic string
	qos   int

	// Dependencies
	deviceInfo identity.DeviceInfoInterface
	mqttClient mqtt.MQTTClient
	source     updateSource
	logger     zerolog.Logger

	// Internal state management
	pool    *utils.WorkerPool
	handle  string
	updates <-chan models.Coordinate
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewTelemetryService creates a new TelemetryService instance with the provided configuration.
func NewTelemetryService(topic string, qos int, deviceInfo identity.DeviceInfoInterface,
	mqttClient mqtt.MQTTClient, source updateSource, logger zerolog.Logger) *TelemetryService {
	return &TelemetryService{
		topic:      topic,
		qos:        qos,
		deviceInfo: deviceInfo,
		mqttClient: mqttClient,
		source:     source,
		logger:     logger,
		running:    false,
	}
}

// Start subscribes to location updates and begins publishing them.
func (t *TelemetryService) Start() error {
	if t.running {
		t.logger.Warn().Msg("TelemetryService is already running")
		return errors.New("telemetry service is already running")
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.pool = utils.NewWorkerPool(1)
	t.updates, t.handle = t.source.SubscribeUpdates(16)
	t.running = true

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		for {
			select {
			case <-t.ctx.Done():
				t.logger.Info().Msg("TelemetryService is stopping")
				return
			case coord, ok := <-t.updates:
				if !ok {
					return
				}
				t.pool.Submit(func() { t.publish(coord) })
			}
		}
	}()

	t.logger.Info().
		Str("topic", t.topic).
		Int("qos", t.qos).
		Msg("TelemetryService started")
	return nil
}

// Stop gracefully stops the TelemetryService, ensuring all goroutines are terminated.
func (t *TelemetryService) Stop() error {
	if !t.running {
		t.logger.Warn().Msg("TelemetryService is not running")
		return errors.New("telemetry service is not running")
	}

	t.source.UnsubscribeUpdates(t.handle)
	t.cancel()
	t.wg.Wait()
	t.pool.Shutdown()

	t.running = false
	t.logger.Info().Msg("TelemetryService stopped")
	return nil
}

// publish serializes one location update and sends it to the MQTT topic.
func (t *TelemetryService) publish(coord models.Coordinate) {
	message := models.TelemetryLocation{
		DeviceID:  t.deviceInfo.GetDeviceID(),
		Timestamp: time.Now(),
		Latitude:  coord.Latitude,
		Longitude: coord.Longitude,
		Accuracy:  coord.Accuracy,
		Source:    coord.Source,
		Region:    t.source.Region(coord.Latitude, coord.Longitude),
	}

	payload, err := json.Marshal(message)
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to serialize telemetry message")
		return
	}

	token := t.mqttClient.Publish(t.topic, byte(t.qos), false, payload)
	if token.Wait() && token.Error() != nil {
		t.logger.Error().
			Err(token.Error()).
			Str("topic", t.topic).
			Msg("Failed to publish location telemetry")
		return
	}

	t.logger.Debug().
		Str("topic", t.topic).
		Str("region", message.Region).
		Msg("Location telemetry published")
}
