// Package hass talks to the Home Assistant host: entity state reads
// and service calls over the REST API, and event delivery over the
// WebSocket API. The command handlers consume it through the narrow
// Host interface so they can be tested against a fake.
package hass

import "context"

// Host is the automation host seen by the command handlers.
type Host interface {
	// State returns the state string of an entity (e.g. "heat", "off",
	// "on" for a window sensor).
	State(ctx context.Context, entityID string) (string, error)

	// Attribute returns a single attribute of an entity, or nil when
	// the entity has no such attribute.
	Attribute(ctx context.Context, entityID, name string) (any, error)

	// CallService invokes a Home Assistant service, e.g.
	// ("climate", "set_temperature", {"entity_id": ..., "temperature": 21.5}).
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// Config holds the Home Assistant connection configuration.
type Config struct {
	// URL is the base URL, e.g. "http://homeassistant.local:8123".
	URL string `yaml:"url"`

	// Token is a long-lived access token.
	Token string `yaml:"token"`

	// NotifyEvent is the event type that triggers a chat notification.
	NotifyEvent string `yaml:"notify_event"`

	// NotifyService is the notify service name whose calls are relayed
	// to chat (domain "notify", e.g. service "jabber" for
	// notify.jabber).
	NotifyService string `yaml:"notify_service"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NotifyEvent:   "NOTIFY_JABBER",
		NotifyService: "jabber",
	}
}
