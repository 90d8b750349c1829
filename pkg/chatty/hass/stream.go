// stream.go listens on the Home Assistant WebSocket API for the two
// inbound notification triggers: the configured notify event (default
// NOTIFY_JABBER) and calls to the notify service (default
// notify.jabber). Home Assistant does not let an external process
// register a service, so relaying is done the way bridges usually do
// it: subscribe to call_service events and filter for our service.
package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// NotifyRequest is a request to fan a message out to the chat
// recipients.
type NotifyRequest struct {
	Message string
}

// Stream delivers notification requests from Home Assistant.
type Stream struct {
	cfg    Config
	logger *slog.Logger

	// notifications buffers decoded notify requests.
	notifications chan NotifyRequest

	// seq numbers outgoing WebSocket commands.
	seq atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewStream creates an event stream listener.
func NewStream(cfg Config, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		cfg:           cfg,
		logger:        logger.With("component", "hass-stream"),
		notifications: make(chan NotifyRequest, 32),
	}
}

// Notifications returns the channel of decoded notify requests.
func (s *Stream) Notifications() <-chan NotifyRequest {
	return s.notifications
}

// Start runs the listen loop in the background. Connection failures
// are retried with backoff.
func (s *Stream) Start(ctx context.Context) error {
	if s.cfg.URL == "" {
		return fmt.Errorf("hass: url is required for the event stream")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.run()
	return nil
}

// Stop tears the stream down.
func (s *Stream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// run reconnects the WebSocket session until the context ends.
func (s *Stream) run() {
	backoff := time.Second
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		err := s.session()
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Warn("event stream disconnected", "error", err, "backoff", backoff)

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// wsMessage is the envelope of every WebSocket API frame.
type wsMessage struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Event   *wsEvent        `json:"event,omitempty"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

type wsEvent struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// session runs one authenticated WebSocket session until it fails.
func (s *Stream) session() error {
	conn, _, err := websocket.DefaultDialer.DialContext(s.ctx, wsURL(s.cfg.URL), http.Header{})
	if err != nil {
		return fmt.Errorf("hass: dialing websocket: %w", err)
	}
	defer conn.Close()

	// Auth handshake: auth_required -> auth -> auth_ok.
	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("hass: reading auth challenge: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("hass: unexpected first frame %q", hello.Type)
	}
	if err := conn.WriteJSON(map[string]string{
		"type":         "auth",
		"access_token": s.cfg.Token,
	}); err != nil {
		return fmt.Errorf("hass: sending auth: %w", err)
	}
	var authResult wsMessage
	if err := conn.ReadJSON(&authResult); err != nil {
		return fmt.Errorf("hass: reading auth result: %w", err)
	}
	if authResult.Type != "auth_ok" {
		return fmt.Errorf("hass: authentication rejected: %s", authResult.Message)
	}

	// Subscribe to both trigger paths.
	if err := s.subscribe(conn, s.cfg.NotifyEvent); err != nil {
		return err
	}
	if err := s.subscribe(conn, "call_service"); err != nil {
		return err
	}

	s.logger.Info("event stream connected",
		"event", s.cfg.NotifyEvent, "service", "notify."+s.cfg.NotifyService)

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("hass: reading event: %w", err)
		}
		if msg.Type != "event" || msg.Event == nil {
			continue
		}
		s.handleEvent(msg.Event)
	}
}

// subscribe registers an event subscription.
func (s *Stream) subscribe(conn *websocket.Conn, eventType string) error {
	if err := conn.WriteJSON(map[string]any{
		"id":         s.seq.Add(1),
		"type":       "subscribe_events",
		"event_type": eventType,
	}); err != nil {
		return fmt.Errorf("hass: subscribing to %s: %w", eventType, err)
	}
	return nil
}

// handleEvent filters raw events down to notify requests.
func (s *Stream) handleEvent(evt *wsEvent) {
	message, ok := s.decodeEvent(evt)
	if !ok {
		return
	}
	select {
	case s.notifications <- NotifyRequest{Message: message}:
	default:
		s.logger.Warn("notification buffer full, dropping message")
	}
}

// decodeEvent extracts the notification text from an event, returning
// false when the event is not a notify trigger.
func (s *Stream) decodeEvent(evt *wsEvent) (string, bool) {
	switch evt.EventType {
	case s.cfg.NotifyEvent:
		var data struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(evt.Data, &data); err != nil || data.Message == "" {
			return "", false
		}
		return data.Message, true

	case "call_service":
		var data struct {
			Domain      string `json:"domain"`
			Service     string `json:"service"`
			ServiceData struct {
				Message string `json:"message"`
			} `json:"service_data"`
		}
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			return "", false
		}
		if data.Domain != "notify" || data.Service != s.cfg.NotifyService {
			return "", false
		}
		if data.ServiceData.Message == "" {
			return "", false
		}
		return data.ServiceData.Message, true
	}
	return "", false
}

// wsURL converts the configured base URL into the WebSocket endpoint.
func wsURL(base string) string {
	url := strings.TrimSuffix(base, "/")
	if after, ok := strings.CutPrefix(url, "https://"); ok {
		url = "wss://" + after
	} else if after, ok := strings.CutPrefix(url, "http://"); ok {
		url = "ws://" + after
	}
	return url + "/api/websocket"
}
