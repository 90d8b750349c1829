package xmpp

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory transport for the session loop.
type fakeTransport struct {
	recvCh    chan Message
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	sent []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		recvCh: make(chan Message, 8),
		done:   make(chan struct{}),
	}
}

func (f *fakeTransport) Announce() error { return nil }
func (f *fakeTransport) Roster() error   { return nil }
func (f *fakeTransport) Ping() error     { return nil }

func (f *fakeTransport) SendChat(to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+": "+body)
	return nil
}

func (f *fakeTransport) Recv() (Message, error) {
	select {
	case m := <-f.recvCh:
		return m, nil
	case <-f.done:
		return Message{}, errors.New("connection closed")
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

// eventRecorder collects connection events on a channel.
type eventRecorder struct {
	events chan ConnectionEvent
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{events: make(chan ConnectionEvent, 32)}
}

func (r *eventRecorder) OnConnectionChange(evt ConnectionEvent) {
	r.events <- evt
}

// waitState waits for the next event with the given state.
func waitState(t *testing.T, r *eventRecorder, state ConnectionState) ConnectionEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-r.events:
			if evt.State == state {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", state)
		}
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JID = "bot@example.org"
	cfg.Password = "secret"
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.PingInterval = time.Hour
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestStartValidatesConfig(t *testing.T) {
	s := New(Config{}, quietLogger())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() with empty credentials should fail")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	s := New(testConfig(), quietLogger())
	if err := s.Send("user@example.org", "hi"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestConnectAndReceive(t *testing.T) {
	tr := newFakeTransport()
	s := New(testConfig(), quietLogger())
	s.dial = func(Config, *slog.Logger) (transport, error) { return tr, nil }

	rec := newEventRecorder()
	s.AddConnectionObserver(rec)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Terminate()

	evt := waitState(t, rec, StateConnected)
	if evt.Resumed {
		t.Error("first connect should not be marked resumed")
	}
	if !s.IsConnected() {
		t.Error("IsConnected() = false after connect")
	}

	tr.recvCh <- Message{From: "user@example.org/phone", Body: "hallo", Type: "chat"}
	select {
	case msg := <-s.Receive():
		if msg.From != "user@example.org/phone" || msg.Body != "hallo" {
			t.Errorf("received %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestReceiveFiltersStanzas(t *testing.T) {
	tr := newFakeTransport()
	s := New(testConfig(), quietLogger())
	s.dial = func(Config, *slog.Logger) (transport, error) { return tr, nil }

	rec := newEventRecorder()
	s.AddConnectionObserver(rec)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Terminate()
	waitState(t, rec, StateConnected)

	// Neither of these may reach the application.
	tr.recvCh <- Message{From: "room@muc", Body: "noise", Type: "groupchat"}
	tr.recvCh <- Message{From: "user@example.org", Body: "", Type: "chat"}
	// This one must.
	tr.recvCh <- Message{From: "user@example.org", Body: "real", Type: "normal"}

	select {
	case msg := <-s.Receive():
		if msg.Body != "real" {
			t.Errorf("got %q, want the filtered stanzas dropped", msg.Body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSendWhileConnected(t *testing.T) {
	tr := newFakeTransport()
	s := New(testConfig(), quietLogger())
	s.dial = func(Config, *slog.Logger) (transport, error) { return tr, nil }

	rec := newEventRecorder()
	s.AddConnectionObserver(rec)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Terminate()
	waitState(t, rec, StateConnected)

	if err := s.Send("user@example.org", "hi"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.sent) != 1 || tr.sent[0] != "user@example.org: hi" {
		t.Errorf("sent = %v", tr.sent)
	}
}

func TestReconnectMarksResumed(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	transports := []transport{first, second}

	var mu sync.Mutex
	s := New(testConfig(), quietLogger())
	s.dial = func(Config, *slog.Logger) (transport, error) {
		mu.Lock()
		defer mu.Unlock()
		tr := transports[0]
		if len(transports) > 1 {
			transports = transports[1:]
		}
		return tr, nil
	}

	rec := newEventRecorder()
	s.AddConnectionObserver(rec)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Terminate()

	evt := waitState(t, rec, StateConnected)
	if evt.Resumed {
		t.Error("first connect marked resumed")
	}

	// Drop the connection; the session must come back immediately.
	first.Close()

	evt = waitState(t, rec, StateConnected)
	if !evt.Resumed {
		t.Error("reconnect not marked resumed")
	}
}

func TestDialFailureRetries(t *testing.T) {
	tr := newFakeTransport()
	var mu sync.Mutex
	attempts := 0

	s := New(testConfig(), quietLogger())
	s.dial = func(Config, *slog.Logger) (transport, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return nil, errors.New("server down")
		}
		return tr, nil
	}

	rec := newEventRecorder()
	s.AddConnectionObserver(rec)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Terminate()

	waitState(t, rec, StateConnected)
	mu.Lock()
	defer mu.Unlock()
	if attempts < 2 {
		t.Errorf("attempts = %d, want at least 2", attempts)
	}
}

func TestTerminate(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		tr := newFakeTransport()
		s := New(testConfig(), quietLogger())
		s.dial = func(Config, *slog.Logger) (transport, error) { return tr, nil }

		rec := newEventRecorder()
		s.AddConnectionObserver(rec)
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		waitState(t, rec, StateConnected)

		s.Terminate()
		s.Terminate()
		if s.State() != StateDisconnected {
			t.Errorf("State() = %q after terminate", s.State())
		}
		if s.IsConnected() {
			t.Error("IsConnected() = true after terminate")
		}
	})

	t.Run("without start", func(t *testing.T) {
		s := New(testConfig(), quietLogger())
		finished := make(chan struct{})
		go func() {
			s.Terminate()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(2 * time.Second):
			t.Fatal("Terminate() without Start blocked")
		}
	})
}
