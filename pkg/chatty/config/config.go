// Package config loads and saves the chatty configuration: the XMPP
// account, the Home Assistant connection, the notification recipients
// and the room registry the command handlers work with.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/chatty/pkg/chatty/announce"
	"github.com/jholhewres/chatty/pkg/chatty/hass"
	"github.com/jholhewres/chatty/pkg/chatty/xmpp"
)

// Config holds the full application configuration.
type Config struct {
	// XMPP configures the chat session.
	XMPP xmpp.Config `yaml:"xmpp"`

	// HomeAssistant configures the automation host connection.
	HomeAssistant hass.Config `yaml:"home_assistant"`

	// Recipients are the JIDs that receive every notification,
	// in order. Loaded once; read-only for the process lifetime.
	Recipients []string `yaml:"recipients"`

	// Rooms is the fixed room registry for the heating commands.
	Rooms []RoomConfig `yaml:"rooms"`

	// WindowSensors are checked by the departure scene.
	WindowSensors []SensorConfig `yaml:"window_sensors"`

	// CarHeaterSwitch is the switch entity of the car pre-heater.
	CarHeaterSwitch string `yaml:"car_heater_switch"`

	// Announcements are cron-scheduled broadcasts.
	Announcements []announce.Announcement `yaml:"announcements"`

	// History configures the message audit log.
	History HistoryConfig `yaml:"history"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// RoomConfig maps a room to its thermostat entity.
type RoomConfig struct {
	Name          string  `yaml:"name"`
	Entity        string  `yaml:"entity"`
	ArrivalTemp   float64 `yaml:"arrival_temp"`
	DepartureTemp float64 `yaml:"departure_temp"`
}

// SensorConfig names a window or door contact.
type SensorConfig struct {
	Name   string `yaml:"name"`
	Entity string `yaml:"entity"`
}

// HistoryConfig configures the message log.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is "debug", "info" or "warn".
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		XMPP:          xmpp.DefaultConfig(),
		HomeAssistant: hass.DefaultConfig(),
		History: HistoryConfig{
			Path: "./data/chatty.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFile reads a YAML config file, overlaying the defaults. .env
// files are loaded first so the password can come from the
// environment.
func LoadFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML bytes into a Config, starting from the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// Save writes the config with restricted permissions, backing up an
// existing file first.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindFile searches the standard config locations.
func FindFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"chatty.yaml",
		"chatty.yml",
		"configs/chatty.yaml",
		"/etc/chatty/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadEnvFiles loads .env files without overwriting existing
// environment variables.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}
