package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"fleethub/internal/capability"
	"fleethub/internal/group"
	"fleethub/pkg/fleet"
)

// wireEvent is the bus wire shape for every published event topic:
// {"data":{"event":{"target","type","value"}}}.
type wireEvent struct {
	Data struct {
		Event fleet.Event `json:"event"`
	} `json:"data"`
}

func makeWireEvent(target int, eventType string, value any) wireEvent {
	return makeTargetedWireEvent(strconv.Itoa(target), eventType, value)
}

func makeTargetedWireEvent(target string, eventType string, value any) wireEvent {
	var e wireEvent
	e.Data.Event = fleet.Event{Target: target, Type: eventType, Value: value}
	return e
}

// emitDeviceEvent publishes a device field transition to
// manager/device_event and, for is_online transitions, re-publishes the
// aggregate state of every tag and location containing the device.
func (m *Manager) emitDeviceEvent(target int, field string, value any) {
	m.publish("manager/device_event", makeWireEvent(target, field, value))

	if field != "is_online" {
		return
	}

	m.mu.RLock()
	var tags []*group.Tag
	var locations []*group.Location
	for _, t := range m.tags {
		for _, d := range t.Devices() {
			if d.ID() == target {
				tags = append(tags, t)
				break
			}
		}
	}
	for _, l := range m.locations {
		for _, d := range l.Devices() {
			if d.ID() == target {
				locations = append(locations, l)
				break
			}
		}
	}
	m.mu.RUnlock()

	for _, t := range tags {
		m.emitTagEvent(t.ID(), "is_online", string(t.IsOnline()))
	}
	for _, l := range locations {
		m.emitLocationEvent(l.ID(), "is_online", string(l.IsOnline()))
	}
}

func (m *Manager) emitTagEvent(target int, field string, value any) {
	m.publish("manager/tag_event", makeWireEvent(target, field, value))
}

func (m *Manager) emitLocationEvent(target int, field string, value any) {
	m.publish("manager/location_event", makeWireEvent(target, field, value))
}

// emitProbeNotSubscribed reports a probe message addressed to an fqdn
// with no constructed device behind it, using the same "errors" event
// type as Base.reportError but with a fleet.ErrorEvent value (message
// and millisecond timestamp), keyed by fqdn instead of a device ID since
// no device exists to own the event.
func (m *Manager) emitProbeNotSubscribed(fqdn string) {
	err := capability.NewError("probe", capability.KindNotSubscribed, fmt.Errorf("Device not subscribed: %s", fqdn))
	m.logger.Debug("probe routing: unknown fqdn", "fqdn", fqdn, "err", err)
	ev := fleet.NewErrorEvent(err.Cause.Error())
	m.publish("manager/device_event", makeTargetedWireEvent(fqdn, "errors", ev))
}

func (m *Manager) publish(topic string, event wireEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		m.logger.Warn("failed to marshal event", "topic", topic, "err", err)
		return
	}
	m.bus.Publish(topic, payload, 1)
}

// recordAudit writes one AuditEntry for a routed command, independent
// of whether dispatch later succeeds or fails — the audit trail records
// intent, not adapter outcome.
func (m *Manager) recordAudit(ctx context.Context, targetKind, targetID, method string, cause error) {
	if m.audit == nil {
		return
	}
	entry := fleet.AuditEntry{
		CreatedAt:     time.Now(),
		CorrelationID: uuid.NewString(),
		TargetKind:    targetKind,
		TargetID:      targetID,
		Method:        method,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := m.audit.Record(ctx, entry); err != nil {
		m.logger.Warn("failed to record audit entry", "err", err)
	}
}
