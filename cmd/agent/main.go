package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/floodwatch/location-agent/internal/location"
	"github.com/floodwatch/location-agent/internal/models"
	"github.com/floodwatch/location-agent/internal/service_registry"
	"github.com/floodwatch/location-agent/internal/utils"
	"github.com/floodwatch/location-agent/pkg/file"
	"github.com/floodwatch/location-agent/pkg/identity"
	"github.com/floodwatch/location-agent/pkg/mqtt"
	"github.com/floodwatch/location-agent/pkg/positioning"
	"github.com/floodwatch/location-agent/pkg/store"
)

// Fallback coordinate when neither sensor nor cache can answer: Kuala
// Lumpur city centre, overridable through the configuration.
const (
	fallbackLatitude  = 3.1390
	fallbackLongitude = 101.6869
)

func main() {
	// Set up structured logging with JSON output
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration from file
	config, err := utils.LoadConfig("configs/config.yaml", fileClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize DeviceInfo
	deviceInfo := identity.NewDeviceInfo(config.Identity.DeviceFile, fileClient)
	if err := deviceInfo.LoadDeviceInfo(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load device information")
	}

	// Static region reference data, loaded once
	regions, err := location.LoadRegions(config.Location.RegionsFile, fileClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load region table")
	}

	// Persistent store for the cached location record
	var kv store.KeyValueStore
	if config.Location.StorePath != "" {
		sqliteStore, err := store.NewSQLiteStore(config.Location.StorePath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open location store")
		}
		defer sqliteStore.Close()
		kv = sqliteStore
	}

	cache := location.NewCache(location.DefaultTierWindows(), clockwork.NewRealClock(), kv, log)
	if err := cache.Load(); err != nil {
		log.Warn().Err(err).Msg("Failed to restore persisted location")
	}

	// Select the positioning capability
	var capability positioning.Capability
	switch config.Location.Provider {
	case "google":
		capability, err = positioning.NewGoogleGeolocationProvider(config.Location.MapsAPIKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Google geolocation provider")
		}
	default:
		capability = positioning.NewSerialNMEAProvider(config.Location.GPSDevicePort, config.Location.GPSDeviceBaudRate)
	}

	var environment location.EnvironmentClassifier
	if config.Location.ForceConstrained {
		environment = location.StaticEnvironment(true)
	} else {
		environment = location.NewHostEnvironment(log)
	}

	defaultCoord := models.Coordinate{
		Latitude:  config.Location.DefaultLatitude,
		Longitude: config.Location.DefaultLongitude,
		Source:    models.SourceDefault,
	}
	if defaultCoord.Latitude == 0 && defaultCoord.Longitude == 0 {
		defaultCoord.Latitude = fallbackLatitude
		defaultCoord.Longitude = fallbackLongitude
	}

	acquirer := location.NewAcquirer(capability, environment, log)
	hub := location.NewUpdateHub()
	coordinator := location.NewCoordinator(acquirer, cache, hub, defaultCoord, config.Location.MaxInflight, log)
	subsystem := location.NewSubsystem(coordinator, cache, regions, hub)

	// Initialize the shared MQTT connection when telemetry is enabled
	var mqttClient mqtt.MQTTClient
	if config.Telemetry.Enabled {
		clientID := config.MQTT.ClientID + "-" + uuid.New().String()
		log.Info().Str("client_id", clientID).Msg("Using MQTT client ID")

		mqttService := mqtt.NewMqttService(fileClient)
		if err := mqttService.Initialize(config.MQTT.Broker, clientID, config.MQTT.CACertificate); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
		}
		defer mqttService.Disconnect(250)
		mqttClient = mqttService
	}

	// Application lifecycle transitions: SIGUSR1 backgrounds the agent,
	// SIGUSR2 brings it back to the foreground.
	lifecycle := make(chan models.LifecycleEvent, 1)
	lifecycleSignals := make(chan os.Signal, 1)
	signal.Notify(lifecycleSignals, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for sig := range lifecycleSignals {
			switch sig {
			case syscall.SIGUSR1:
				lifecycle <- models.LifecycleBackground
			case syscall.SIGUSR2:
				lifecycle <- models.LifecycleForeground
			}
		}
	}()

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(mqttClient, log)
	if err := serviceRegistry.RegisterServices(config, deviceInfo, subsystem, capability, lifecycle); err != nil {
		log.Fatal().Err(err).Msg("Failed to register services")
	}

	// Start all registered services in the registry
	if err := serviceRegistry.StartServices(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Failed to stop services cleanly")
	}
}
