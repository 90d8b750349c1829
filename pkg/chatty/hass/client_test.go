package hass

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := DefaultConfig()
	cfg.URL = srv.URL
	cfg.Token = "test-token"
	return NewClient(cfg, nil)
}

func TestState(t *testing.T) {
	client := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/states/climate.kueche" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"entity_id": "climate.kueche",
			"state":     "heat",
		})
	})

	state, err := client.State(context.Background(), "climate.kueche")
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if state != "heat" {
		t.Errorf("State() = %q, want heat", state)
	}
}

func TestAttribute(t *testing.T) {
	client := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"entity_id": "climate.kueche",
			"state":     "heat",
			"attributes": map[string]any{
				"temperature":         21.5,
				"current_temperature": 19.0,
			},
		})
	})

	t.Run("present", func(t *testing.T) {
		got, err := client.Attribute(context.Background(), "climate.kueche", "temperature")
		if err != nil {
			t.Fatalf("Attribute() error = %v", err)
		}
		if got != 21.5 {
			t.Errorf("Attribute() = %v, want 21.5", got)
		}
	})

	t.Run("missing returns nil", func(t *testing.T) {
		got, err := client.Attribute(context.Background(), "climate.kueche", "humidity")
		if err != nil {
			t.Fatalf("Attribute() error = %v", err)
		}
		if got != nil {
			t.Errorf("Attribute() = %v, want nil", got)
		}
	})
}

func TestCallService(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	client := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			t.Errorf("method = %q", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte("[]"))
	})

	err := client.CallService(context.Background(), "climate", "set_temperature", map[string]any{
		"entity_id":   "climate.kueche",
		"temperature": 21.5,
	})
	if err != nil {
		t.Fatalf("CallService() error = %v", err)
	}
	if gotPath != "/api/services/climate/set_temperature" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["entity_id"] != "climate.kueche" || gotBody["temperature"] != 21.5 {
		t.Errorf("body = %v", gotBody)
	}
}

func TestErrorStatus(t *testing.T) {
	client := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	})

	if _, err := client.State(context.Background(), "climate.kueche"); err == nil {
		t.Fatal("State() should fail on a 401")
	}
	if err := client.CallService(context.Background(), "switch", "turn_on", nil); err == nil {
		t.Fatal("CallService() should fail on a 401")
	}
}
