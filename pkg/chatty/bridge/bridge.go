// Package bridge wires the XMPP session, the command dispatcher and
// the Home Assistant event stream into the running application: it
// fans notifications out to the configured recipients, dispatches
// inbound chat messages and replies to the sender. Every outbound send
// goes through the delivery guard, so a failed send degrades to a log
// line instead of taking the session down.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jholhewres/chatty/pkg/chatty/command"
	"github.com/jholhewres/chatty/pkg/chatty/hass"
	"github.com/jholhewres/chatty/pkg/chatty/history"
	"github.com/jholhewres/chatty/pkg/chatty/xmpp"
)

// reconnectedNotice is broadcast when the session recovers from a
// connection loss.
const reconnectedNotice = "Reconnected after connection loss."

// Session is the slice of the XMPP session the bridge needs.
type Session interface {
	Start(ctx context.Context) error
	Send(to, body string) error
	Receive() <-chan xmpp.Message
	Terminate()
}

// Options configures a Bridge.
type Options struct {
	Session    Session
	Dispatcher *command.Dispatcher

	// Recipients receive every notification, in order.
	Recipients []string

	// Notifications is the Home Assistant notify request stream.
	// Optional.
	Notifications <-chan hass.NotifyRequest

	// History is the message audit log. Optional.
	History *history.Store

	Logger *slog.Logger
}

// Bridge is the application core.
type Bridge struct {
	session       Session
	dispatcher    *command.Dispatcher
	recipients    []string
	notifications <-chan hass.NotifyRequest
	history       *history.Store
	logger        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Bridge. Nothing runs until Start.
func New(opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		session:       opts.Session,
		dispatcher:    opts.Dispatcher,
		recipients:    append([]string(nil), opts.Recipients...),
		notifications: opts.Notifications,
		history:       opts.History,
		logger:        logger.With("component", "bridge"),
	}
}

// Start launches the session and the processing loops.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	if err := b.session.Start(b.ctx); err != nil {
		return err
	}

	b.wg.Add(1)
	go b.receiveLoop()

	if b.notifications != nil {
		b.wg.Add(1)
		go b.notifyLoop()
	}
	return nil
}

// Stop shuts the bridge down: the session is terminated and in-flight
// message handlers are waited for.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.session.Terminate()
	b.wg.Wait()
}

// Notify sends a message to every configured recipient through the
// delivery guard.
func (b *Bridge) Notify(message string) {
	for _, recipient := range b.recipients {
		b.logger.Info("sending notification", "to", recipient)
		b.deliver(recipient, message)
	}
}

// OnConnectionChange implements xmpp.ConnectionObserver. Every
// Connected transition except the first one in the process lifetime
// announces the recovery to all recipients.
func (b *Bridge) OnConnectionChange(evt xmpp.ConnectionEvent) {
	if evt.State == xmpp.StateConnected && evt.Resumed {
		b.Notify(reconnectedNotice)
	}
}

// receiveLoop dispatches inbound chat messages. Each message runs in
// its own goroutine so a slow host query does not block the next
// message or the reconnect machinery.
func (b *Bridge) receiveLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-b.session.Receive():
			if !ok {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleMessage(msg)
			}()
		}
	}
}

// notifyLoop fans Home Assistant notify requests out to the
// recipients.
func (b *Bridge) notifyLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case req, ok := <-b.notifications:
			if !ok {
				return
			}
			b.Notify(req.Message)
		}
	}
}

// handleMessage runs one inbound message through the dispatcher and
// sends the reply, if any, back to the sender.
func (b *Bridge) handleMessage(msg xmpp.Message) {
	b.logger.Info("incoming message", "from", msg.From, "body", msg.Body)
	b.record("in", msg.From, msg.Body)

	reply := b.dispatcher.Dispatch(msg.Body)
	if reply == "" {
		return
	}
	b.deliver(msg.From, reply)
}

// deliver is the outbound delivery guard: send failures never reach
// the caller. A send while disconnected and any other transport fault
// both degrade to a warning.
func (b *Bridge) deliver(to, body string) {
	err := b.session.Send(to, body)
	switch {
	case err == nil:
		b.record("out", to, body)
	case errors.Is(err, xmpp.ErrNotConnected):
		b.logger.Warn("not connected, message dropped", "to", to)
	default:
		b.logger.Warn("sending message failed", "to", to, "error", err)
	}
}

// record appends to the audit log when one is configured.
func (b *Bridge) record(direction, address, body string) {
	if b.history == nil {
		return
	}
	if err := b.history.Append(direction, address, body); err != nil {
		b.logger.Warn("writing history failed", "error", err)
	}
}

// Compile-time interface verification.
var _ xmpp.ConnectionObserver = (*Bridge)(nil)
