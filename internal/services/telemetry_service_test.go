package services

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/floodwatch/location-agent/internal/models"
	"github.com/floodwatch/location-agent/tests/mocks"
)

// fakeUpdateSource hands out one scripted update channel.
type fakeUpdateSource struct {
	mu           sync.Mutex
	updates      chan models.Coordinate
	region       string
	unsubscribed []string
}

func newFakeUpdateSource(region string) *fakeUpdateSource {
	return &fakeUpdateSource{
		updates: make(chan models.Coordinate, 16),
		region:  region,
	}
}

func (f *fakeUpdateSource) SubscribeUpdates(_ int) (<-chan models.Coordinate, string) {
	return f.updates, "subscription-1"
}

func (f *fakeUpdateSource) UnsubscribeUpdates(handle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, handle)
}

func (f *fakeUpdateSource) Region(_, _ float64) string {
	return f.region
}

// TestTelemetryService_StartStop tests the lifecycle guards.
func TestTelemetryService_StartStop(t *testing.T) {
	mockClient := new(mocks.MockMQTTClient)
	mockDevice := new(mocks.MockDeviceInfo)
	source := newFakeUpdateSource("Kuala Lumpur")

	s := NewTelemetryService("floodwatch/location", 1, mockDevice, mockClient, source, zerolog.Nop())

	assert.NoError(t, s.Start())

	err := s.Start()
	assert.Error(t, err)
	assert.Equal(t, "telemetry service is already running", err.Error())

	assert.NoError(t, s.Stop())
	source.mu.Lock()
	assert.Equal(t, []string{"subscription-1"}, source.unsubscribed)
	source.mu.Unlock()

	err = s.Stop()
	assert.Error(t, err)
	assert.Equal(t, "telemetry service is not running", err.Error())
}

// TestTelemetryService_PublishesUpdates tests that a broadcast location
// lands on the MQTT topic with the device id and region attached.
func TestTelemetryService_PublishesUpdates(t *testing.T) {
	mockClient := new(mocks.MockMQTTClient)
	mockToken := new(mocks.MockToken)
	mockDevice := new(mocks.MockDeviceInfo)
	source := newFakeUpdateSource("Kuala Lumpur")

	mockDevice.On("GetDeviceID").Return("device-001")
	mockToken.On("Wait").Return(true)
	mockToken.On("Error").Return(nil)

	var (
		mu       sync.Mutex
		payloads [][]byte
	)
	mockClient.On("Publish", "floodwatch/location", byte(1), false, mock.Anything).
		Run(func(args mock.Arguments) {
			mu.Lock()
			payloads = append(payloads, args.Get(3).([]byte))
			mu.Unlock()
		}).
		Return(mockToken)

	s := NewTelemetryService("floodwatch/location", 1, mockDevice, mockClient, source, zerolog.Nop())
	assert.NoError(t, s.Start())
	defer func() { assert.NoError(t, s.Stop()) }()

	source.updates <- models.Coordinate{
		Latitude:  3.1390,
		Longitude: 101.6869,
		Accuracy:  9.5,
		Source:    models.SourceSensor,
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(payloads) == 1
	}, 2*time.Second, 10*time.Millisecond)

	var message models.TelemetryLocation
	mu.Lock()
	assert.NoError(t, json.Unmarshal(payloads[0], &message))
	mu.Unlock()
	assert.Equal(t, "device-001", message.DeviceID)
	assert.Equal(t, 3.1390, message.Latitude)
	assert.Equal(t, 101.6869, message.Longitude)
	assert.Equal(t, models.SourceSensor, message.Source)
	assert.Equal(t, "Kuala Lumpur", message.Region)
}

// TestTelemetryService_PublishFailureIsNonFatal tests that a broker
// error never takes the service down.
func TestTelemetryService_PublishFailureIsNonFatal(t *testing.T) {
	mockClient := new(mocks.MockMQTTClient)
	mockToken := new(mocks.MockToken)
	mockDevice := new(mocks.MockDeviceInfo)
	source := newFakeUpdateSource("Selangor")

	mockDevice.On("GetDeviceID").Return("device-001")
	mockToken.On("Wait").Return(true)
	mockToken.On("Error").Return(errors.New("broker unreachable"))

	published := make(chan struct{}, 1)
	mockClient.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			select {
			case published <- struct{}{}:
			default:
			}
		}).
		Return(mockToken)

	s := NewTelemetryService("floodwatch/location", 1, mockDevice, mockClient, source, zerolog.Nop())
	assert.NoError(t, s.Start())

	source.updates <- models.Coordinate{Latitude: 3.0, Longitude: 101.5, Source: models.SourceSensor}

	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a publish attempt")
	}

	assert.NoError(t, s.Stop())
	mockClient.AssertExpectations(t)
	mockToken.AssertExpectations(t)
}
