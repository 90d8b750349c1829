// Package automation implements the builtin chat commands that read
// and mutate Home Assistant state: the arrival and departure scenes,
// heating queries and control, and the car pre-heater.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/chatty/pkg/chatty/command"
	"github.com/jholhewres/chatty/pkg/chatty/hass"
)

// apologyReply is returned when argument parsing or a service call
// fails. Users get an apology, never a stack trace.
const apologyReply = "Sorry, that did not work out."

// Room maps a room name to its thermostat entity and the target
// temperatures of the presence scenes.
type Room struct {
	Name          string
	Entity        string
	ArrivalTemp   float64
	DepartureTemp float64

	// key is the lowercase match key, precomputed in New.
	key string
}

// Sensor is a window or door contact checked by the departure scene.
type Sensor struct {
	Name   string
	Entity string
}

// Config holds the fixed registries the handlers work against. All of
// it is immutable after New.
type Config struct {
	Rooms   []Room
	Sensors []Sensor

	// CarHeater is the switch entity of the car pre-heater.
	CarHeater string
}

// Commands is the builtin command set.
type Commands struct {
	host    hass.Host
	rooms   []Room
	sensors []Sensor
	car     string
	timeout time.Duration
	logger  *slog.Logger
}

// New builds the command set. The room registry is copied and never
// mutated afterwards.
func New(host hass.Host, cfg Config, logger *slog.Logger) *Commands {
	if logger == nil {
		logger = slog.Default()
	}
	rooms := make([]Room, len(cfg.Rooms))
	copy(rooms, cfg.Rooms)
	for i := range rooms {
		rooms[i].key = strings.ToLower(rooms[i].Name)
	}
	return &Commands{
		host:    host,
		rooms:   rooms,
		sensors: append([]Sensor(nil), cfg.Sensors...),
		car:     cfg.CarHeater,
		timeout: 10 * time.Second,
		logger:  logger.With("component", "automation"),
	}
}

// RegisterAll wires the builtin command set into the dispatcher.
func (c *Commands) RegisterAll(d *command.Dispatcher) {
	d.Register("help", c.Help)
	d.Register("hallo", c.Arrival)
	d.Register("tschüss", c.Departure)
	d.Register("heizung", c.Heating)
	d.Register("temperatur", c.Heating)
	d.Register("auto", c.CarPreheat)
}

// Help returns the usage text.
func (c *Commands) Help(string) string {
	return strings.Join([]string{
		"I know these commands:",
		"  help - this text",
		"  hallo - arrival scene, heats the rooms up",
		"  tschüss - departure scene, lowers the heating and checks the windows",
		"  heizung [room] [temp|an|aus] - query or set the heaters",
		"  temperatur - same as heizung",
		"  auto - pre-heat the car",
	}, "\n")
}

// Arrival heats every room up to its arrival setpoint.
func (c *Commands) Arrival(string) string {
	ctx, cancel := c.callCtx()
	defer cancel()
	for _, room := range c.rooms {
		err := c.host.CallService(ctx, "climate", "set_temperature", map[string]any{
			"entity_id":   room.Entity,
			"temperature": room.ArrivalTemp,
		})
		if err != nil {
			c.logger.Warn("arrival scene: setting temperature failed",
				"room", room.Name, "error", err)
		}
	}
	return "Welcome home! Heating is coming up."
}

// Departure lowers every room to its departure setpoint, then checks
// the window sensors. Open windows produce a warning naming each
// sensor's state; the heating is lowered either way.
func (c *Commands) Departure(string) string {
	ctx, cancel := c.callCtx()
	defer cancel()
	for _, room := range c.rooms {
		err := c.host.CallService(ctx, "climate", "set_temperature", map[string]any{
			"entity_id":   room.Entity,
			"temperature": room.DepartureTemp,
		})
		if err != nil {
			c.logger.Warn("departure scene: setting temperature failed",
				"room", room.Name, "error", err)
		}
	}

	open := false
	lines := make([]string, 0, len(c.sensors))
	for _, sensor := range c.sensors {
		state, err := c.host.State(ctx, sensor.Entity)
		if err != nil {
			c.logger.Warn("departure scene: reading sensor failed",
				"sensor", sensor.Name, "error", err)
			state = "unknown"
		}
		if state == "on" {
			open = true
		}
		lines = append(lines, fmt.Sprintf("%s: %s", sensor.Name, state))
	}

	if open {
		return "Watch out, something is still open:\n" +
			strings.Join(lines, "\n") +
			"\nHeating was lowered anyway."
	}
	return "Everything closed, heating lowered. Goodbye!"
}

// Heating handles the heater query/set command. One token reports all
// rooms, two tokens report a single room, three tokens set a value.
func (c *Commands) Heating(message string) string {
	fields := strings.Fields(message)
	switch len(fields) {
	case 0:
		return apologyReply
	case 1:
		return c.reportAll()
	case 2:
		room, ok := c.resolveRoom(fields[1])
		if !ok {
			return fmt.Sprintf("I do not know the room %q.", fields[1])
		}
		return c.roomReport(room)
	default:
		return c.setRoom(fields[1], fields[2])
	}
}

// CarPreheat switches the car pre-heater on.
func (c *Commands) CarPreheat(string) string {
	ctx, cancel := c.callCtx()
	defer cancel()
	err := c.host.CallService(ctx, "switch", "turn_on", map[string]any{
		"entity_id": c.car,
	})
	if err != nil {
		c.logger.Warn("car pre-heat failed", "entity", c.car, "error", err)
	}
	return "The car is warming up."
}

// reportAll returns one report line per configured room.
func (c *Commands) reportAll() string {
	lines := make([]string, 0, len(c.rooms))
	for _, room := range c.rooms {
		lines = append(lines, c.roomReport(room))
	}
	return strings.Join(lines, "\n")
}

// roomReport formats one room as "<Room> [ <setpoint>°C | <current>°C ]",
// with the literal "off" in place of the setpoint when the heater is
// off. Read failures degrade to "?" values.
func (c *Commands) roomReport(room Room) string {
	ctx, cancel := c.callCtx()
	defer cancel()

	value := "?"
	state, err := c.host.State(ctx, room.Entity)
	if err != nil {
		c.logger.Warn("reading heater state failed", "room", room.Name, "error", err)
	} else if state == "off" {
		value = "off"
	} else {
		setpoint, err := c.host.Attribute(ctx, room.Entity, "temperature")
		if err != nil {
			c.logger.Warn("reading setpoint failed", "room", room.Name, "error", err)
		} else if t, ok := asTemperature(setpoint); ok {
			value = formatTemp(t) + "°C"
		}
	}

	current := "?"
	cur, err := c.host.Attribute(ctx, room.Entity, "current_temperature")
	if err != nil {
		c.logger.Warn("reading temperature failed", "room", room.Name, "error", err)
	} else if t, ok := asTemperature(cur); ok {
		current = formatTemp(t)
	}

	return fmt.Sprintf("%s [ %s | %s°C ]", room.Name, value, current)
}

// setRoom applies an on/off/temperature value to a room's heater.
func (c *Commands) setRoom(roomToken, value string) string {
	room, ok := c.resolveRoom(roomToken)
	if !ok {
		return fmt.Sprintf("I do not know the room %q.", roomToken)
	}
	reply, err := c.applyValue(room, value)
	if err != nil {
		c.logger.Warn("heater command failed",
			"room", room.Name, "value", value, "error", err)
		return apologyReply
	}
	return reply
}

// applyValue interprets the value token: the on/off synonyms switch
// the heater, anything else must parse as a temperature. A comma works
// as decimal separator.
func (c *Commands) applyValue(room Room, value string) (string, error) {
	ctx, cancel := c.callCtx()
	defer cancel()

	switch value {
	case "an", "on":
		err := c.host.CallService(ctx, "climate", "turn_on", map[string]any{
			"entity_id": room.Entity,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s heater is on.", room.Name), nil

	case "aus", "off":
		err := c.host.CallService(ctx, "climate", "turn_off", map[string]any{
			"entity_id": room.Entity,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s heater is off.", room.Name), nil
	}

	temp, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64)
	if err != nil {
		return "", fmt.Errorf("parsing temperature %q: %w", value, err)
	}
	err = c.host.CallService(ctx, "climate", "set_temperature", map[string]any{
		"entity_id":   room.Entity,
		"temperature": temp,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s set to %s°C.", room.Name, formatTemp(temp)), nil
}

// resolveRoom matches a token as a prefix of a room name. The match is
// case-sensitive against the lowercase room key (dispatch lowercases
// the message first); the first match in registry order wins.
func (c *Commands) resolveRoom(token string) (Room, bool) {
	for _, room := range c.rooms {
		if strings.HasPrefix(room.key, token) {
			return room, true
		}
	}
	return Room{}, false
}

// callCtx bounds a single host interaction.
func (c *Commands) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

// asTemperature converts the loosely typed attribute values the API
// returns into a float.
func asTemperature(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

// formatTemp renders a temperature without trailing zeros.
func formatTemp(t float64) string {
	return strconv.FormatFloat(t, 'f', -1, 64)
}
