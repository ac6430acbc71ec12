// Package device implements the per-device state machines: online-state
// hysteresis, named task slots for in-flight actions, and the event
// diffing that feeds the bus's manager/device_event topic.
package device

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"fleethub/internal/capability"
	"fleethub/internal/metrics"
	"fleethub/pkg/fleet"
)

// EventFunc is invoked whenever a tracked field changes value. target is
// the device ID, field is e.g. "is_online", "should_wake", "errors".
type EventFunc func(target int, field string, value any)

// Class names the concrete device implementation, used for metrics
// labels and class-resolution logging.
type Class string

const (
	ClassICMPable   Class = "ICMPable"
	ClassWOLable    Class = "WOLable"
	ClassComputer   Class = "Computer"
	ClassPJLink     Class = "PJLink"
	ClassGudePDU    Class = "GudePDU"
	ClassWebOSTV    Class = "WebOSTV"
	ClassBrightSign Class = "BrightSign"
)

// Controllable is the uniform surface the manager and group layers drive
// a device through. Every method must return promptly (the long-running
// work runs in a named task slot) and must never panic.
type Controllable interface {
	ID() int
	Name() string
	Role() string
	Class() Class
	Capabilities() fleet.CapabilitySet
	IsOnline() fleet.OnlineState
	IsTagged(tagName string) bool
	IsLocated(locationID int) bool
	IsIdle() bool

	SetData(rec fleet.DeviceRecord)
	Update(ctx context.Context)
	Fetch()
	Cancel()

	Wake(ctx context.Context)
	Shutdown(ctx context.Context)
	Reboot(ctx context.Context)
	Mute(ctx context.Context)
	Unmute(ctx context.Context)
	Scram(ctx context.Context)
	Unscram(ctx context.Context)
}

// Manager is the subset of manager behavior devices need: looking up a
// PDU peer by name to flip a power feed, and reporting errors.
type Manager interface {
	DeviceByName(name string) (Controllable, bool)
}

// Base holds the state every device class shares: identity, tag/location
// membership, the online-state hysteresis counter, named task slots, and
// the generic field store used for event diffing.
type Base struct {
	manager Manager
	emit    EventFunc
	logger  *slog.Logger

	mu            sync.Mutex
	id            int
	name          string
	role          string
	tagNames      []string
	locationID    int
	interfaces    []fleet.NetworkInterface
	primaryIP     fleet.PrimaryIP
	powerPorts    []fleet.PowerPort
	deviceType    fleet.DeviceType
	capabilities  fleet.CapabilitySet
	isInitialized bool
	isOnline      fleet.OnlineState
	offlineCount  int
	fields        map[string]any
	should        map[string]bool

	tasksMu sync.Mutex
	tasks   map[string]context.CancelFunc

	// sessionMu serializes adapter sessions against a single physical
	// device, so a watch poll and an in-flight wake never race on the
	// same TCP/SNMP/websocket session.
	sessionMu sync.Mutex

	class Class
}

// NewBase constructs the shared device state. capabilities is the
// class's static capability list; it is hidden entirely for devices
// tagged as monitoring-only, mirroring the "ctrl mon" tag carve-out.
func NewBase(manager Manager, emit EventFunc, logger *slog.Logger, class Class, capabilities fleet.CapabilitySet, rec fleet.DeviceRecord) *Base {
	b := &Base{
		manager:      manager,
		emit:         emit,
		logger:       logger,
		class:        class,
		capabilities: capabilities,
		isOnline:     fleet.StateOff,
		fields:       make(map[string]any),
		should:       make(map[string]bool),
		tasks:        make(map[string]context.CancelFunc),
	}
	b.applyData(rec)
	return b
}

func (b *Base) ID() int { b.mu.Lock(); defer b.mu.Unlock(); return b.id }

func (b *Base) Name() string { b.mu.Lock(); defer b.mu.Unlock(); return b.name }

func (b *Base) Role() string { b.mu.Lock(); defer b.mu.Unlock(); return b.role }

func (b *Base) Class() Class { return b.class }

// Capabilities returns the empty set for monitoring-tagged devices,
// otherwise the class's static set.
func (b *Base) Capabilities() fleet.CapabilitySet {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.tagNames {
		if t == fleet.MonitoringTag {
			return fleet.NewCapabilitySet()
		}
	}
	return b.capabilities
}

// IsMonitoringOnly reports whether the device carries the "ctrl mon"
// tag. Subclasses built on ICMPable (which itself always declares an
// empty capability set) check this directly rather than inspecting
// Base.Capabilities(), which would always read empty regardless of the
// tag.
func (b *Base) IsMonitoringOnly() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.tagNames {
		if t == fleet.MonitoringTag {
			return true
		}
	}
	return false
}

func (b *Base) IsTagged(tagName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.tagNames {
		if t == tagName {
			return true
		}
	}
	return false
}

func (b *Base) IsLocated(locationID int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locationID != 0 && b.locationID == locationID
}

func (b *Base) IsIdle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, v := range b.should {
		if v {
			return false
		}
	}
	return true
}

func (b *Base) IsOnline() fleet.OnlineState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isOnline
}

// SetData re-applies an inventory record onto an already-constructed
// device (the "Updated" path in inventory sync, vs. "Subscribed" for a
// brand new device).
func (b *Base) SetData(rec fleet.DeviceRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applyData(rec)
}

func (b *Base) applyData(rec fleet.DeviceRecord) {
	b.id = rec.ID
	b.name = rec.Name
	b.role = rec.Role
	b.tagNames = append([]string(nil), rec.Tags...)
	b.locationID = rec.LocationID
	b.interfaces = rec.Interfaces
	b.primaryIP = rec.PrimaryIP
	b.powerPorts = rec.PowerPorts
	b.deviceType = rec.DeviceType
}

// PrimaryHost returns the device's primary IP with any CIDR suffix
// stripped, or "" if the device has none.
func (b *Base) PrimaryHost() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.primaryIP.Host()
}

func (b *Base) Interfaces() []fleet.NetworkInterface {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interfaces
}

func (b *Base) PowerPorts() []fleet.PowerPort {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.powerPorts
}

func (b *Base) DeviceType() fleet.DeviceType {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deviceType
}

// event diffs value against the last-emitted value for field and, if
// changed, stores and publishes it.
func (b *Base) event(field string, value any) {
	b.mu.Lock()
	last, existed := b.fields[field]
	changed := !existed || !equalField(last, value)
	if changed {
		b.fields[field] = value
	}
	id := b.id
	b.mu.Unlock()
	if changed && b.emit != nil {
		b.emit(id, field, value)
	}
}

// equalField compares two event values for the purpose of change
// detection. Adapter payloads frequently carry slices and maps (lamp
// tables, error sets), which are not comparable with ==, so this always
// goes through reflect.DeepEqual rather than risk a runtime panic on an
// uncomparable dynamic type.
func equalField(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// field reads back the last value stored for a field by event, or the
// given default if never set.
func (b *Base) field(name string, def any) any {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.fields[name]; ok {
		return v
	}
	return def
}

func (b *Base) setField(name string, value any) {
	b.mu.Lock()
	b.fields[name] = value
	b.mu.Unlock()
}

// SetIsOnline applies hysteresis: three consecutive OFF observations are
// required before a non-OFF device is actually reported OFF, absorbing
// the transient drop-outs ICMP/probe polling produces.
func (b *Base) SetIsOnline(value fleet.OnlineState) {
	b.mu.Lock()
	b.isInitialized = true
	if value == fleet.StateOff && b.offlineCount < 3 {
		b.offlineCount++
		b.mu.Unlock()
		return
	}
	b.offlineCount = 0
	changed := b.isOnline != value
	if changed {
		b.isOnline = value
	}
	id := b.id
	b.mu.Unlock()
	if changed && b.emit != nil {
		b.emit(id, "is_online", string(value))
		metrics.SetDevicesByState(string(b.class), string(value), 1)
	}

	// Reconcile should_* targets against the observed state: should_wake
	// is meaningless once the device is ON, should_shutdown is
	// meaningless once it is OFF or PARTIAL. This runs independently of
	// the action loop that set the flag, so an externally observed state
	// change (not just the action loop's own polling) clears it too.
	switch value {
	case fleet.StateOn:
		if b.shouldFlag("wake") {
			b.setShouldFlag("wake", false)
		}
	case fleet.StateOff, fleet.StatePartial:
		if b.shouldFlag("shutdown") {
			b.setShouldFlag("shutdown", false)
		}
	}
}

// shouldFlag reads/writes one of the "should_<action>" targets that
// drive an action loop (should_wake, should_shutdown, should_reboot).
func (b *Base) shouldFlag(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.should[name]
}

func (b *Base) setShouldFlag(name string, value bool) {
	b.mu.Lock()
	b.should[name] = value
	id := b.id
	b.mu.Unlock()
	if b.emit != nil {
		b.emit(id, "should_"+name, value)
	}
}

// startTask replaces any existing task registered under name, cancelling
// its predecessor first, and runs fn in a new goroutine under a
// cancellable context.
func (b *Base) startTask(ctx context.Context, name string, fn func(context.Context)) {
	taskCtx, cancel := context.WithCancel(ctx)

	b.tasksMu.Lock()
	if existing, ok := b.tasks[name]; ok {
		existing()
	}
	b.tasks[name] = cancel
	b.tasksMu.Unlock()

	go func() {
		defer func() {
			b.tasksMu.Lock()
			if b.tasks[name] != nil {
				delete(b.tasks, name)
			}
			b.tasksMu.Unlock()
		}()
		fn(taskCtx)
	}()
}

// Cancel clears every should_<action> flag and cancels every in-flight
// task slot, used before starting a new action that supersedes whatever
// this device is currently doing.
func (b *Base) Cancel() {
	b.mu.Lock()
	names := make([]string, 0, len(b.should))
	for k := range b.should {
		names = append(names, k)
	}
	b.mu.Unlock()
	for _, n := range names {
		b.setShouldFlag(n, false)
	}

	b.tasksMu.Lock()
	cancels := make([]context.CancelFunc, 0, len(b.tasks))
	for _, c := range b.tasks {
		cancels = append(cancels, c)
	}
	b.tasks = make(map[string]context.CancelFunc)
	b.tasksMu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// Fetch publishes the fields every device class reports regardless of
// type: class name, capability list, and online state.
func (b *Base) Fetch() {
	b.event("class", string(b.class))
	caps := make([]string, 0)
	for c := range b.Capabilities() {
		caps = append(caps, string(c))
	}
	b.event("capabilities", caps)
	b.event("is_online", string(b.IsOnline()))
}

// reportError publishes a device "errors" event whose value maps the
// adapter name to the error kind and message. The event carries no
// timestamp and no argument list, and an identical repeat of the last
// error is not re-published.
func (b *Base) reportError(adapter string, err error) {
	if err == nil {
		return
	}
	b.logger.Debug("device adapter error", "device", b.Name(), "adapter", adapter, "err", err)
	kind := ""
	if ce, ok := err.(*capability.Error); ok {
		kind = string(ce.Kind)
	}
	b.event("errors", map[string]string{adapter: kind + ": " + err.Error()})
}

func (b *Base) lockSession() {
	b.sessionMu.Lock()
}

func (b *Base) unlockSession() {
	b.sessionMu.Unlock()
}

// noopClass implements the no-op Wake/Shutdown/Reboot/Mute/Unmute/Scram/
// Unscram methods so each concrete device only has to override what its
// capability set actually supports, mirroring the Python base class's
// blanket "method not implemented" fallback but as a typed no-op instead
// of a dynamically dispatched stub.
type noopClass struct{}

func (noopClass) Wake(context.Context)     {}
func (noopClass) Shutdown(context.Context) {}
func (noopClass) Reboot(context.Context)   {}
func (noopClass) Mute(context.Context)     {}
func (noopClass) Unmute(context.Context)   {}
func (noopClass) Scram(context.Context)    {}
func (noopClass) Unscram(context.Context)  {}
