package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jholhewres/chatty/pkg/chatty/announce"
	"github.com/jholhewres/chatty/pkg/chatty/automation"
	"github.com/jholhewres/chatty/pkg/chatty/bridge"
	"github.com/jholhewres/chatty/pkg/chatty/command"
	"github.com/jholhewres/chatty/pkg/chatty/config"
	"github.com/jholhewres/chatty/pkg/chatty/hass"
	"github.com/jholhewres/chatty/pkg/chatty/history"
	"github.com/jholhewres/chatty/pkg/chatty/xmpp"
)

// newServeCmd creates the `chatty serve` command that runs the bridge.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge between Home Assistant and XMPP",
		Long: `Connect to the XMPP server and to Home Assistant, relay
notifications to the configured recipients and answer chat commands.

Examples:
  chatty serve
  chatty serve --config ./chatty.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, configPath, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)
	config.ResolvePassword(cfg, logger)

	if len(cfg.Recipients) == 0 {
		logger.Warn("no recipients configured, notifications go nowhere")
	}

	// ── Automation host ──
	host := hass.NewClient(cfg.HomeAssistant, logger)
	stream := hass.NewStream(cfg.HomeAssistant, logger)

	// ── Command registry ──
	dispatcher := command.New(logger)
	auto := automation.New(host, automationConfig(cfg), logger)
	auto.RegisterAll(dispatcher)

	// ── Message log ──
	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(cfg.History.Path, logger)
		if err != nil {
			logger.Warn("history disabled, opening store failed", "error", err)
			store = nil
		} else {
			defer store.Close()
		}
	}

	// ── Session and bridge ──
	session := xmpp.New(cfg.XMPP, logger)
	br := bridge.New(bridge.Options{
		Session:       session,
		Dispatcher:    dispatcher,
		Recipients:    cfg.Recipients,
		Notifications: stream.Notifications(),
		History:       store,
		Logger:        logger,
	})
	session.AddConnectionObserver(br)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := stream.Start(ctx); err != nil {
		logger.Warn("event stream not started", "error", err)
	}
	if err := br.Start(ctx); err != nil {
		return err
	}

	// ── Scheduled announcements ──
	var announcer *announce.Announcer
	if len(cfg.Announcements) > 0 {
		announcer = announce.New(cfg.Announcements, func(a announce.Announcement) {
			if a.Command != "" {
				if reply := dispatcher.Dispatch(a.Command); reply != "" {
					br.Notify(reply)
				}
				return
			}
			br.Notify(a.Message)
		}, logger)
		if err := announcer.Start(); err != nil {
			logger.Error("starting announcements failed", "error", err)
		}
	}

	logger.Info("chatty started",
		"config", configPath,
		"jid", cfg.XMPP.JID,
		"recipients", len(cfg.Recipients),
		"rooms", len(cfg.Rooms))

	// ── Wait for shutdown ──
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	if announcer != nil {
		announcer.Stop()
	}
	stream.Stop()
	br.Stop()
	logger.Info("chatty stopped")
	return nil
}

// automationConfig builds the handler registries from the config.
func automationConfig(cfg *config.Config) automation.Config {
	ac := automation.Config{CarHeater: cfg.CarHeaterSwitch}
	for _, r := range cfg.Rooms {
		ac.Rooms = append(ac.Rooms, automation.Room{
			Name:          r.Name,
			Entity:        r.Entity,
			ArrivalTemp:   r.ArrivalTemp,
			DepartureTemp: r.DepartureTemp,
		})
	}
	for _, s := range cfg.WindowSensors {
		ac.Sensors = append(ac.Sensors, automation.Sensor{
			Name:   s.Name,
			Entity: s.Entity,
		})
	}
	return ac
}
