package hass

import (
	"encoding/json"
	"testing"
)

func TestWSURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://homeassistant.local:8123", "ws://homeassistant.local:8123/api/websocket"},
		{"https://ha.example.org", "wss://ha.example.org/api/websocket"},
		{"http://ha.local/", "ws://ha.local/api/websocket"},
	}
	for _, tt := range tests {
		if got := wsURL(tt.base); got != tt.want {
			t.Errorf("wsURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestDecodeEvent(t *testing.T) {
	s := NewStream(DefaultConfig(), nil)

	event := func(eventType, data string) *wsEvent {
		return &wsEvent{EventType: eventType, Data: json.RawMessage(data)}
	}

	t.Run("notify event", func(t *testing.T) {
		msg, ok := s.decodeEvent(event("NOTIFY_JABBER", `{"message":"door open"}`))
		if !ok || msg != "door open" {
			t.Errorf("decodeEvent() = %q, %v", msg, ok)
		}
	})

	t.Run("notify event without message", func(t *testing.T) {
		if _, ok := s.decodeEvent(event("NOTIFY_JABBER", `{}`)); ok {
			t.Error("empty message should not decode")
		}
	})

	t.Run("notify service call", func(t *testing.T) {
		data := `{"domain":"notify","service":"jabber","service_data":{"message":"washer done"}}`
		msg, ok := s.decodeEvent(event("call_service", data))
		if !ok || msg != "washer done" {
			t.Errorf("decodeEvent() = %q, %v", msg, ok)
		}
	})

	t.Run("other service call ignored", func(t *testing.T) {
		data := `{"domain":"notify","service":"mobile_app","service_data":{"message":"x"}}`
		if _, ok := s.decodeEvent(event("call_service", data)); ok {
			t.Error("foreign notify service should not decode")
		}
	})

	t.Run("other domain ignored", func(t *testing.T) {
		data := `{"domain":"light","service":"turn_on","service_data":{"message":"x"}}`
		if _, ok := s.decodeEvent(event("call_service", data)); ok {
			t.Error("foreign domain should not decode")
		}
	})

	t.Run("unrelated event ignored", func(t *testing.T) {
		if _, ok := s.decodeEvent(event("state_changed", `{}`)); ok {
			t.Error("unrelated event should not decode")
		}
	})
}
