package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration values.
type Config struct {
	// gpsd
	GPSDHost           string
	GPSDPort           int
	GPSDTimeout        time.Duration
	GPSDReadTimeout    time.Duration
	GPSDReconnectShort time.Duration
	GPSDReconnectLong  time.Duration

	// MQTT
	MQTTBroker          string
	MQTTClientIDGPS     string
	MQTTClientIDConsole string

	// Topics
	TopicGPSPosition string
	TopicGPSVelocity string
	TopicGPSQuality  string

	// Web Server
	WebServerPort int

	// Display
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds

	// NMEA relay
	GPSSerialPort   string
	GPSBaudRate     int
	RelayListenAddr string

	// Logging
	LogLevel  string
	LogFormat string
}

// Keys lists every key setValue understands, in file order.
var Keys = []string{
	"GPSD_HOST", "GPSD_PORT", "GPSD_TIMEOUT_MS", "GPSD_READ_TIMEOUT_MS",
	"GPSD_RECONNECT_SHORT_MS", "GPSD_RECONNECT_LONG_MS",
	"MQTT_BROKER", "MQTT_CLIENT_ID_GPS", "MQTT_CLIENT_ID_CONSOLE",
	"TOPIC_GPS_POSITION", "TOPIC_GPS_VELOCITY", "TOPIC_GPS_QUALITY",
	"WEB_SERVER_PORT",
	"DISPLAY_I2C_ADDR", "DISPLAY_UPDATE_INTERVAL",
	"GPS_SERIAL_PORT", "GPS_BAUD_RATE", "RELAY_LISTEN_ADDR",
	"LOG_LEVEL", "LOG_FORMAT",
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a Config for a local gpsd and a local MQTT broker.
func Default() *Config {
	return &Config{
		GPSDHost:           "localhost",
		GPSDPort:           2947,
		GPSDTimeout:        5 * time.Second,
		GPSDReadTimeout:    time.Second,
		GPSDReconnectShort: time.Second,
		GPSDReconnectLong:  5 * time.Second,

		MQTTBroker:          "tcp://localhost:1883",
		MQTTClientIDGPS:     "gps-streamer-producer",
		MQTTClientIDConsole: "gps-streamer-console",

		TopicGPSPosition: "gps/position",
		TopicGPSVelocity: "gps/velocity",
		TopicGPSQuality:  "gps/quality",

		WebServerPort: 8080,

		DisplayI2CAddr:        0x3C,
		DisplayUpdateInterval: 500,

		GPSSerialPort:   "/dev/serial0",
		GPSBaudRate:     9600,
		RelayListenAddr: ":2947",

		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Load reads the KEY=VALUE configuration file over the defaults, then applies
// environment variables with the same key names. An empty path skips the file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		values, err := godotenv.Read(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			if err := cfg.setValue(key, strings.TrimSpace(values[key])); err != nil {
				return nil, fmt.Errorf("config file %s: %w", configPath, err)
			}
		}
	}

	for _, key := range Keys {
		value, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if err := cfg.setValue(key, strings.TrimSpace(value)); err != nil {
			return nil, fmt.Errorf("environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// gpsd
	case "GPSD_HOST":
		c.GPSDHost = value
	case "GPSD_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GPSD_PORT %q: %w", value, err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("GPSD_PORT must be 1-65535, got %d", port)
		}
		c.GPSDPort = port
	case "GPSD_TIMEOUT_MS":
		return setMillis(&c.GPSDTimeout, key, value)
	case "GPSD_READ_TIMEOUT_MS":
		return setMillis(&c.GPSDReadTimeout, key, value)
	case "GPSD_RECONNECT_SHORT_MS":
		return setMillis(&c.GPSDReconnectShort, key, value)
	case "GPSD_RECONNECT_LONG_MS":
		return setMillis(&c.GPSDReconnectLong, key, value)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_GPS":
		c.MQTTClientIDGPS = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value

	// Topics
	case "TOPIC_GPS_POSITION":
		c.TopicGPSPosition = value
	case "TOPIC_GPS_VELOCITY":
		c.TopicGPSVelocity = value
	case "TOPIC_GPS_QUALITY":
		c.TopicGPSQuality = value

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", port)
		}
		c.WebServerPort = port

	// Display
	case "DISPLAY_I2C_ADDR":
		addr, err := strconv.ParseUint(value, 0, 16)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, err)
		}
		c.DisplayI2CAddr = uint16(addr)
	case "DISPLAY_UPDATE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_UPDATE_INTERVAL %q: %w", value, err)
		}
		if interval <= 0 {
			return fmt.Errorf("DISPLAY_UPDATE_INTERVAL must be positive, got %d", interval)
		}
		c.DisplayUpdateInterval = interval

	// NMEA relay
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GPS_BAUD_RATE %q: %w", value, err)
		}
		c.GPSBaudRate = rate
	case "RELAY_LISTEN_ADDR":
		c.RelayListenAddr = value

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)
	case "LOG_FORMAT":
		c.LogFormat = strings.ToLower(value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func setMillis(dst *time.Duration, key, value string) error {
	ms, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if ms <= 0 {
		return fmt.Errorf("%s must be positive, got %d", key, ms)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.GPSDHost == "" {
		return fmt.Errorf("GPSD_HOST is required")
	}
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.GPSDReconnectShort > c.GPSDReconnectLong {
		return fmt.Errorf("GPSD_RECONNECT_SHORT_MS (%v) must not exceed GPSD_RECONNECT_LONG_MS (%v)",
			c.GPSDReconnectShort, c.GPSDReconnectLong)
	}
	if c.GPSBaudRate <= 0 {
		return fmt.Errorf("GPS_BAUD_RATE must be positive, got %d", c.GPSBaudRate)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
