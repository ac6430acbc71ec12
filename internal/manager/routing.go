package manager

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"fleethub/pkg/fleet"
)

// methodPayload is the wire shape of api/device|tag|location/<method>,
// matching original_source/manager.py's device_method/tag_method/
// location_method dispatch: {"data":{"id":N},"params":{...}}.
type methodPayload struct {
	Data struct {
		ID int `json:"id"`
	} `json:"data"`
	Params json.RawMessage `json:"params,omitempty"`
}

// calendarPayload is the wire shape of calendar/<edge>/<kind>/<method>.
type calendarPayload struct {
	Data struct {
		ID int `json:"id"`
	} `json:"data"`
}

// registerRoutes wires every bus command topic the manager understands.
func (m *Manager) registerRoutes() {
	m.bus.Subscribe("api/data-refresh", m.onDataRefresh)
	m.bus.Subscribe("api/subscribe_devices", m.onSubscribeDevices)
	m.bus.Subscribe("api/device/+", m.onDeviceMethod)
	m.bus.Subscribe("api/tag/+", m.onTagMethod)
	m.bus.Subscribe("api/location/+", m.onLocationMethod)
	m.bus.Subscribe("calendar/+/+/+", m.onCalendarEdge)
	m.bus.Subscribe("knx/switch/+", m.onKNXSwitch)
	m.bus.Subscribe("fac/+/+", m.onFireAlarm)
	m.bus.Subscribe("probe/+/+", m.onProbeRoute)
}

// onProbeRoute validates that probe/<fqdn>/<field> addresses a
// constructed device. Routing the field itself to the device is each
// device's own job (Computer subscribes its own probe/<name>/+ topic);
// this only catches the case no device claims the fqdn at all, per an
// unknown host otherwise silently dropping its probe traffic.
func (m *Manager) onProbeRoute(topic string, _ []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return
	}
	fqdn := parts[1]
	m.mu.RLock()
	_, ok := m.byName[fqdn]
	m.mu.RUnlock()
	if !ok {
		m.emitProbeNotSubscribed(fqdn)
	}
}

func (m *Manager) onDataRefresh(_ string, _ []byte) {
	ctx := context.Background()
	inv, err := m.inv.Fetch(ctx)
	if err != nil {
		m.logger.Warn("api/data-refresh inventory fetch failed", "err", err)
		return
	}
	m.applyInventory(inv)
}

func (m *Manager) onSubscribeDevices(_ string, payload []byte) {
	var list []fleet.DeviceRecord
	if err := json.Unmarshal(payload, &list); err != nil {
		var single fleet.DeviceRecord
		if err := json.Unmarshal(payload, &single); err != nil {
			m.logger.Warn("api/subscribe_devices: invalid payload", "err", err)
			return
		}
		list = []fleet.DeviceRecord{single}
	}
	m.mergeDevices(list)
}

func (m *Manager) mergeDevices(records []fleet.DeviceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		if existing, ok := m.devices[rec.ID]; ok {
			existing.SetData(rec)
			continue
		}
		d, err := m.construct(rec)
		if err != nil {
			m.logger.Warn("failed to construct device from subscribe_devices", "name", rec.Name, "err", err)
			continue
		}
		m.devices[rec.ID] = d
		m.byName[rec.Name] = d
	}
}

func lastTopicSegment(topic string) string {
	parts := strings.Split(topic, "/")
	return parts[len(parts)-1]
}

func (m *Manager) onDeviceMethod(topic string, payload []byte) {
	method := lastTopicSegment(topic)
	var p methodPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		m.logger.Warn("api/device: invalid payload", "err", err)
		return
	}
	d, ok := m.deviceByID(p.Data.ID)
	if !ok {
		m.logger.Warn("device method: device not subscribed", "id", p.Data.ID, "method", method)
		return
	}
	m.recordAudit(context.Background(), "device", strconv.Itoa(p.Data.ID), method, nil)
	invokeMethod(context.Background(), d, method)
}

func (m *Manager) onTagMethod(topic string, payload []byte) {
	method := lastTopicSegment(topic)
	var p methodPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		m.logger.Warn("api/tag: invalid payload", "err", err)
		return
	}
	t, ok := m.tagByID(p.Data.ID)
	if !ok {
		m.logger.Warn("tag method: tag not subscribed", "id", p.Data.ID, "method", method)
		return
	}
	m.recordAudit(context.Background(), "tag", strconv.Itoa(p.Data.ID), method, nil)
	invokeGroupMethod(context.Background(), t, method, false)
}

func (m *Manager) onLocationMethod(topic string, payload []byte) {
	method := lastTopicSegment(topic)
	var p methodPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		m.logger.Warn("api/location: invalid payload", "err", err)
		return
	}
	l, ok := m.locationByID(p.Data.ID)
	if !ok {
		m.logger.Warn("location method: location not subscribed", "id", p.Data.ID, "method", method)
		return
	}
	m.recordAudit(context.Background(), "location", strconv.Itoa(p.Data.ID), method, nil)
	invokeGroupMethod(context.Background(), l, method, false)
}

// onCalendarEdge handles calendar/<edge>/<kind>/<method>: invoke method
// on the addressed entity, then record the calendar edge on it so a
// later KNX wake during an active "shutdown" window is suppressed.
func (m *Manager) onCalendarEdge(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 {
		return
	}
	edge, kind, method := parts[1], parts[2], parts[3]

	var p calendarPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		m.logger.Warn("calendar edge: invalid payload", "err", err)
		return
	}

	ctx := context.Background()
	switch kind {
	case "device":
		if d, ok := m.deviceByID(p.Data.ID); ok {
			m.recordAudit(ctx, "device", strconv.Itoa(p.Data.ID), method, nil)
			invokeMethod(ctx, d, method)
		}
	case "tag":
		if t, ok := m.tagByID(p.Data.ID); ok {
			m.recordAudit(ctx, "tag", strconv.Itoa(p.Data.ID), method, nil)
			invokeGroupMethod(ctx, t, method, false)
			t.CalendarEdge(edge, method)
		}
	case "location":
		if l, ok := m.locationByID(p.Data.ID); ok {
			m.recordAudit(ctx, "location", strconv.Itoa(p.Data.ID), method, nil)
			invokeGroupMethod(ctx, l, method, false)
			l.CalendarEdge(edge, method)
		}
	}
}

// onKNXSwitch treats the payload as a {state: bool}-equivalent value:
// a bare JSON boolean, or an object carrying a "state" field.
func (m *Manager) onKNXSwitch(topic string, payload []byte) {
	idStr := lastTopicSegment(topic)
	id, err := strconv.Atoi(idStr)
	if err != nil {
		m.logger.Warn("knx/switch: invalid location id", "topic", topic)
		return
	}
	on, ok := parseKNXState(payload)
	if !ok {
		m.logger.Warn("knx/switch: unparseable payload", "topic", topic)
		return
	}
	l, ok := m.locationByID(id)
	if !ok {
		m.logger.Warn("knx/switch: location not subscribed", "id", id)
		return
	}
	l.KNXSwitch(context.Background(), on)
}

func parseKNXState(payload []byte) (bool, bool) {
	var b bool
	if err := json.Unmarshal(payload, &b); err == nil {
		return b, true
	}
	var obj struct {
		State bool `json:"state"`
	}
	if err := json.Unmarshal(payload, &obj); err == nil {
		return obj.State, true
	}
	return false, false
}

// onFireAlarm handles fac/<method>/<id1,id2,...>: fans the named method
// (scram/unscram) out across every listed location, with no payload.
func (m *Manager) onFireAlarm(topic string, _ []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return
	}
	method := parts[1]
	ids := strings.Split(parts[2], ",")

	ctx := context.Background()
	for _, idStr := range ids {
		id, err := strconv.Atoi(strings.TrimSpace(idStr))
		if err != nil {
			continue
		}
		l, ok := m.locationByID(id)
		if !ok {
			m.logger.Warn("fire alarm: location not subscribed", "id", id)
			continue
		}
		m.recordAudit(ctx, "location", strconv.Itoa(id), method, nil)
		invokeGroupMethod(ctx, l, method, false)
	}
}
