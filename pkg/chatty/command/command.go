// Package command implements the chat command dispatcher. Inbound
// messages are matched against registered verbs by longest prefix; the
// matching handler produces the reply text.
package command

import (
	"log/slog"
	"strings"
)

// FallbackReply is sent when no registered verb matches the message.
const FallbackReply = "Sorry, but... what?"

// HandlerFunc processes a matched message and returns the reply text.
// The message arrives lowercased. An empty reply means nothing is sent
// back to the sender.
type HandlerFunc func(message string) string

// Command pairs a verb with its handler.
type Command struct {
	Verb    string
	Handler HandlerFunc
}

// Dispatcher holds the ordered command registry. All registration
// happens at startup; the registry is read-only afterwards, so Dispatch
// is safe for concurrent use without locking.
type Dispatcher struct {
	commands []Command
	logger   *slog.Logger
}

// New creates an empty dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{logger: logger.With("component", "dispatcher")}
}

// Register appends a command to the registry. Verbs are stored
// lowercased so matching is case-insensitive. Duplicate or overlapping
// verbs are not rejected: the longest matching verb wins, and among
// verbs of equal length the one registered first wins.
func (d *Dispatcher) Register(verb string, handler HandlerFunc) {
	d.commands = append(d.commands, Command{
		Verb:    strings.ToLower(verb),
		Handler: handler,
	})
}

// Verbs returns the registered verbs in registration order.
func (d *Dispatcher) Verbs() []string {
	verbs := make([]string, 0, len(d.commands))
	for _, c := range d.commands {
		verbs = append(verbs, c.Verb)
	}
	return verbs
}

// Dispatch lowercases the message, selects the command whose verb is
// the longest prefix of it and runs the handler. The strictly-greater
// length comparison keeps the first registration when two verbs of
// equal length both match. Without a match the fixed fallback reply is
// returned.
func (d *Dispatcher) Dispatch(raw string) string {
	message := strings.ToLower(raw)

	var best Command
	for _, c := range d.commands {
		if strings.HasPrefix(message, c.Verb) && len(c.Verb) > len(best.Verb) {
			best = c
		}
	}

	if best.Verb == "" {
		d.logger.Info("no matching command", "message", message)
		return FallbackReply
	}

	d.logger.Info("running command", "verb", best.Verb)
	return best.Handler(message)
}
