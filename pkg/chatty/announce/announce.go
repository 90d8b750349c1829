// Package announce runs scheduled announcements: cron-triggered
// messages or commands whose output is fanned out to the chat
// recipients (a morning heating report, a weekly reminder).
package announce

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Announcement is one scheduled entry.
type Announcement struct {
	// ID names the entry in logs.
	ID string `yaml:"id"`

	// Schedule is a cron expression; @daily, @every 1h and friends
	// work too.
	Schedule string `yaml:"schedule"`

	// Message is the text to broadcast.
	Message string `yaml:"message"`

	// Command, when set, is dispatched like an inbound chat message
	// and its reply is broadcast instead of Message.
	Command string `yaml:"command"`

	// Disabled skips the entry without removing it from the config.
	Disabled bool `yaml:"disabled"`
}

// Handler runs one announcement when its schedule fires.
type Handler func(Announcement)

// Announcer schedules the configured announcements.
type Announcer struct {
	entries []Announcement
	handler Handler
	cron    *cron.Cron
	logger  *slog.Logger
}

// New creates an Announcer. Start registers and runs the schedules.
func New(entries []Announcement, handler Handler, logger *slog.Logger) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{
		entries: append([]Announcement(nil), entries...),
		handler: handler,
		cron:    cron.New(),
		logger:  logger.With("component", "announce"),
	}
}

// Start registers all enabled entries and starts the scheduler. A bad
// schedule expression fails the whole start.
func (a *Announcer) Start() error {
	for _, entry := range a.entries {
		if entry.Disabled {
			continue
		}
		entry := entry
		_, err := a.cron.AddFunc(entry.Schedule, func() {
			a.logger.Info("announcement fired", "id", entry.ID)
			a.handler(entry)
		})
		if err != nil {
			return fmt.Errorf("announce: scheduling %q: %w", entry.ID, err)
		}
		a.logger.Info("announcement scheduled",
			"id", entry.ID, "schedule", entry.Schedule)
	}
	a.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (a *Announcer) Stop() {
	ctx := a.cron.Stop()
	<-ctx.Done()
}

// Count returns the number of active entries.
func (a *Announcer) Count() int {
	n := 0
	for _, e := range a.entries {
		if !e.Disabled {
			n++
		}
	}
	return n
}
