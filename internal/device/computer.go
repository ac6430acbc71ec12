package device

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"fleethub/pkg/fleet"
)

const (
	computerPingMaxInterval = 30 * time.Second
	shutdownInterval        = 30 * time.Second
	rebootInterval          = 30 * time.Second
	maxTimeToShutdown       = 900 * time.Second
	maxTimeToReboot         = 900 * time.Second
	powerCycleAfterShutdown = 10 * time.Second
)

// Bus is the subset of the bus client a Computer needs: subscribing to
// its own probe/<name>/+ topic and publishing command topics to it.
type Bus interface {
	Subscribe(filter string, handler func(topic string, payload []byte))
	Publish(topic string, payload []byte, qos byte)
}

// probeResult is the wire shape a probe agent publishes on
// probe/<name>/<field>: either {"data":{"result":...}} or
// {"error":{"message":...,"errors":[...]}}.
type probeResult struct {
	Data *struct {
		Result json.RawMessage `json:"result"`
	} `json:"data"`
	Error *struct {
		Message string   `json:"message"`
		Errors  []string `json:"errors"`
	} `json:"error"`
}

// Computer is an MQTT-heartbeat-driven device: liveness comes from a
// probe agent publishing to probe/<name>/ping (or .../connected on
// startup) rather than from ICMP, and shutdown/reboot are commands
// published to the agent on manager/<name>/<command>; shutdown is
// confirmed by the probe going quiet.
type Computer struct {
	*WOLable
	noopClass

	bus        Bus
	probeTopic string
	probeBase  string
	lastPingAt time.Time
	powerSched *PowerScheduler
}

// NewComputer wires a Computer onto bus, subscribing its probe topic
// immediately. The subscription stays in place for the Computer's
// lifetime; it is not removed when liveness lapses.
func NewComputer(manager Manager, emit EventFunc, logger *slog.Logger, rec fleet.DeviceRecord, bus Bus) *Computer {
	c := &Computer{
		WOLable:    NewWOLable(manager, emit, logger, rec),
		bus:        bus,
		powerSched: NewPowerScheduler(manager),
	}
	c.shouldICMP = false
	c.probeBase = "manager/" + rec.Name
	c.probeTopic = "probe/" + rec.Name + "/+"
	c.setField("is_muted", true)
	bus.Subscribe(c.probeTopic, c.onProbeMessage)
	return c
}

// Cancel supersedes WOLable's task/should-flag cancellation with also
// cancelling any power-cycle scheduled by a previous Shutdown, so a new
// Wake issued before the settle delay elapses never gets its feed
// flipped back off underneath it.
func (c *Computer) Cancel() {
	c.Base.Cancel()
	c.powerSched.Cancel()
}

// Wake supersedes WOLable's inherited Wake only to also cancel any
// power-cycle a previous Shutdown scheduled, since WOLable.Wake's own
// Cancel() call resolves to Base.Cancel and never sees powerSched.
func (c *Computer) Wake(ctx context.Context) {
	c.powerSched.Cancel()
	c.WOLable.Wake(ctx)
}

func (c *Computer) Capabilities() fleet.CapabilitySet {
	if c.IsMonitoringOnly() {
		return fleet.NewCapabilitySet()
	}
	return fleet.NewCapabilitySet(fleet.CapWake, fleet.CapShutdown, fleet.CapReboot)
}

// Update overrides ICMPable's ICMP polling with a pure heartbeat-age
// check: the device is "on" as long as a probe message arrived within
// computerPingMaxInterval, with no adapter call at all.
func (c *Computer) Update(ctx context.Context) {
	c.mu.Lock()
	last := c.lastPingAt
	c.mu.Unlock()
	if time.Since(last) < computerPingMaxInterval {
		if !c.shouldFlag("reboot") {
			c.SetIsOnline(fleet.StateOn)
		}
	} else {
		c.SetIsOnline(fleet.StateOff)
	}
}

// onProbeMessage dispatches a field reported over probe/<name>/<field>,
// generalizing the original's on_<field> attribute lookup into a small
// explicit table plus a fallback generic-field path for anything the
// probe agent reports that isn't specially handled.
func (c *Computer) onProbeMessage(topic string, payload []byte) {
	field := topicSuffix(topic)
	switch field {
	case "connected":
		c.mu.Lock()
		c.lastPingAt = time.Now()
		c.mu.Unlock()
		c.SetIsOnline(fleet.StateOn)
	case "ping":
		c.mu.Lock()
		c.lastPingAt = time.Now()
		c.mu.Unlock()
		if !c.shouldFlag("reboot") {
			c.SetIsOnline(fleet.StateOn)
		}
	case "mute":
		c.setField("is_muted", true)
		c.event("is_muted", true)
	case "unmute":
		c.setField("is_muted", false)
		c.event("is_muted", false)
	case "shutdown":
		// confirmation echo from the probe agent; no action needed.
	default:
		c.handleGenericField(field, payload)
	}
}

func (c *Computer) handleGenericField(field string, payload []byte) {
	var res probeResult
	if err := json.Unmarshal(payload, &res); err != nil {
		c.reportError("probe:"+field, err)
		return
	}
	if res.Error != nil {
		c.reportError("probe:"+field, probeReportedError(res.Error.Message, res.Error.Errors))
		return
	}
	if res.Data == nil {
		return
	}
	var value any
	if err := json.Unmarshal(res.Data.Result, &value); err != nil {
		return
	}
	last := c.field(field, nil)
	if !equalField(last, value) {
		c.setField(field, value)
		c.event(field, value)
	}
}

type probeError struct{ msg string }

func (e probeError) Error() string { return e.msg }

func probeReportedError(msg string, extra []string) error {
	full := msg
	for _, e := range extra {
		full += ": " + e
	}
	return probeError{msg: full}
}

func topicSuffix(topic string) string {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			return topic[i+1:]
		}
	}
	return topic
}

// Shutdown publishes a shutdown command on manager/<name>/shutdown,
// repeating it every shutdownInterval while the device is still
// reporting ON, until it goes quiet or maxTimeToShutdown elapses — then
// power-cycles the PDU feed, since a computer that stays hard-off for 10s
// after losing its heartbeat is assumed to need a power nudge on next
// wake. A shutdown cancelled by a superseding action does not power-cycle.
func (c *Computer) Shutdown(ctx context.Context) {
	c.Cancel()
	c.setShouldFlag("shutdown", c.IsOnline() == fleet.StateOn)

	c.startTask(ctx, "shutdown", func(taskCtx context.Context) {
		runActionLoop(taskCtx, c.Base, "shutdown",
			func() bool { return c.IsOnline() != fleet.StateOn },
			func(attemptCtx context.Context) error {
				c.mu.Lock()
				c.lastPingAt = time.Time{}
				c.mu.Unlock()
				c.bus.Publish(c.probeBase+"/shutdown", nil, 1)
				return nil
			},
			shutdownInterval, maxTimeToShutdown,
			func() {
				if taskCtx.Err() != nil {
					return
				}
				setPowerForPorts(c.manager, c.PowerPorts(), false)
				c.powerSched.Schedule(c.PowerPorts(), true, powerCycleAfterShutdown)
			},
		)
	})
}

// Reboot publishes a reboot command on manager/<name>/reboot until the device
// confirms it came back online (or the deadline elapses); unlike
// Shutdown it never power-cycles, since a reboot command implies the
// OS handles its own restart.
func (c *Computer) Reboot(ctx context.Context) {
	c.Cancel()
	c.setShouldFlag("reboot", c.IsOnline() == fleet.StateOn)

	c.startTask(ctx, "reboot", func(taskCtx context.Context) {
		runActionLoop(taskCtx, c.Base, "reboot",
			func() bool { return c.IsOnline() == fleet.StateOn && !c.shouldFlag("reboot") },
			func(attemptCtx context.Context) error {
				c.bus.Publish(c.probeBase+"/reboot", nil, 1)
				return nil
			},
			rebootInterval, maxTimeToReboot,
			func() {},
		)
	})
}

func (c *Computer) Mute(ctx context.Context) {
	c.bus.Publish(c.probeBase+"/mute", nil, 1)
}

func (c *Computer) Unmute(ctx context.Context) {
	c.bus.Publish(c.probeBase+"/unmute", nil, 1)
}
