package utils

import (
	"time"

	"github.com/floodwatch/location-agent/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	MQTT struct {
		Broker        string `yaml:"broker"`         // MQTT broker address
		ClientID      string `yaml:"client_id"`      // MQTT client ID
		CACertificate string `yaml:"ca_certificate"` // Path to the CA certificate, empty for plaintext
	} `yaml:"mqtt"`

	Identity struct {
		DeviceFile string `yaml:"device_file"` // Path to the device identity file
	} `yaml:"identity"`

	Location struct {
		Provider          string  `yaml:"provider"`        // Position source: "serial" or "google"
		GPSDevicePort     string  `yaml:"gps_device_port"` // UNIX port where the GPS sensor is mounted
		GPSDeviceBaudRate int     `yaml:"gps_baud_rate"`   // The baud rate for the GPS sensor
		MapsAPIKey        string  `yaml:"maps_api_key"`    // Google Maps API key
		StorePath         string  `yaml:"store_path"`      // Path to the persistent location store
		RegionsFile       string  `yaml:"regions_file"`    // Optional region table override
		MaxInflight       int     `yaml:"max_inflight"`    // Cap on concurrent hardware acquisitions
		DefaultLatitude   float64 `yaml:"default_latitude"`
		DefaultLongitude  float64 `yaml:"default_longitude"`
		ForceConstrained  bool    `yaml:"force_constrained"` // Override environment detection
	} `yaml:"location"`

	Scheduler struct {
		Enabled            bool          `yaml:"enabled"`             // Enable/disable background updates
		ForegroundInterval time.Duration `yaml:"foreground_interval"` // Refresh cadence while foregrounded
		BackgroundInterval time.Duration `yaml:"background_interval"` // Refresh cadence while backgrounded
		EvictionInterval   time.Duration `yaml:"eviction_interval"`   // Cache maintenance cadence
		MovementThreshold  float64       `yaml:"movement_threshold"`  // Significant-movement threshold in meters
		WatchInterval      time.Duration `yaml:"watch_interval"`      // Movement watcher sampling interval
	} `yaml:"scheduler"`

	Telemetry struct {
		Enabled bool   `yaml:"enabled"` // Enable/disable the MQTT telemetry publisher
		Topic   string `yaml:"topic"`   // MQTT topic for location telemetry
		QOS     int    `yaml:"qos"`     // MQTT QoS level for telemetry messages
	} `yaml:"telemetry"`
}

// LoadConfig loads the YAML configuration from the specified file.
// It returns a pointer to the Config struct and an error if loading fails.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	err := fileClient.ReadYamlFile(filename, &config)
	if err != nil {
		return nil, err
	}

	return &config, nil
}
