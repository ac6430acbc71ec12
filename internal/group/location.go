package group

import (
	"context"
	"sync"

	"fleethub/internal/device"
	"fleethub/pkg/fleet"
)

// Location groups devices by physical room. Its direct wake/shutdown
// targets are the subset of its devices tagged as "E-Nummer" elements
// (the KNX-actuated power elements in the room), or all of its devices
// when the location has no E-Nummer tag; everything else in the
// room is reached only indirectly, through whichever Tag also contains
// it, grounded on original_source/locations.py's Location class which
// keeps its own element list separate from the room's full device list.
type Location struct {
	emit EventFunc

	mu       sync.RWMutex
	id       int
	name     string
	elements []device.Controllable
	devices  []device.Controllable
	knx      fleet.KNXState

	hasCalendarEvent  bool
	lastCalendarEvent string
}

func NewLocation(emit EventFunc, rec fleet.LocationRecord) *Location {
	return &Location{emit: emit, id: rec.ID, name: rec.Name, knx: fleet.KNXUndefined}
}

func (l *Location) ID() int      { return l.id }
func (l *Location) Name() string { return l.name }

// SetDevices replaces the location's full device list and the subset
// tagged as E-Nummer elements, resolved by the manager from the
// location record's device/tag ID lists.
func (l *Location) SetDevices(devices, elements []device.Controllable) {
	l.mu.Lock()
	l.devices = devices
	l.elements = elements
	l.mu.Unlock()
}

func (l *Location) Devices() []device.Controllable {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]device.Controllable(nil), l.devices...)
}

func (l *Location) Elements() []device.Controllable {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]device.Controllable(nil), l.elements...)
}

func (l *Location) IsOnline() GroupState {
	return aggregateState(l.Devices())
}

func (l *Location) Fetch() {
	l.emit(l.id, "is_online", string(l.IsOnline()))
	l.mu.RLock()
	knx := l.knx
	l.mu.RUnlock()
	l.emit(l.id, "knx_switch", string(knx))
}

func (l *Location) CalendarEdge(edge, methodName string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hasCalendarEvent = edge == "start"
	l.lastCalendarEvent = methodName
}

func (l *Location) suppressedByCalendar(fromKNX bool, method string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fromKNX && method == "wake" && l.hasCalendarEvent && l.lastCalendarEvent == "shutdown"
}

// KNXSwitch records a wall-switch reading and, on a falling/rising
// edge, drives wake/shutdown the same way a manual API call would,
// unless a running calendar event says otherwise (a calendar-driven
// shutdown should not be immediately undone by a stale switch bounce).
func (l *Location) KNXSwitch(ctx context.Context, on bool) {
	l.mu.Lock()
	prev := l.knx
	next := fleet.KNXOff
	if on {
		next = fleet.KNXOn
	}
	l.knx = next
	l.mu.Unlock()

	if next == prev {
		return
	}
	l.emit(l.id, "knx_switch", string(next))

	if on {
		l.Wake(ctx, true)
	} else {
		l.Shutdown(ctx, true)
	}
}

// Wake stages PDUs/switches/displays/computers across the location's
// element set exactly like Tag.Wake; a Location's elements are the
// E-Nummer power actuators for the room, or every device in the room
// when it has no E-Nummer tag.
func (l *Location) Wake(ctx context.Context, fromKNX bool) {
	if l.suppressedByCalendar(fromKNX, "wake") {
		return
	}
	pdus, switches, displays, computers, other := classify(l.Elements())

	if len(pdus) > 0 {
		callCapable(ctx, pdus, fleet.CapWake, func(d device.Controllable, c context.Context) { d.Wake(c) })
		waitForStates(ctx, pdus, groupWaitTimeout, fleet.StateOn)
	}
	if len(switches) > 0 {
		callCapable(ctx, switches, fleet.CapWake, func(d device.Controllable, c context.Context) { d.Wake(c) })
		waitForStates(ctx, switches, groupWaitTimeout, fleet.StateOn)
	}
	if len(displays) > 0 {
		callCapable(ctx, displays, fleet.CapWake, func(d device.Controllable, c context.Context) { d.Wake(c) })
		waitForStates(ctx, displays, groupWaitTimeout, fleet.StateOn)
	}
	if len(computers) > 0 {
		callCapable(ctx, computers, fleet.CapWake, func(d device.Controllable, c context.Context) { d.Wake(c) })
	}
	if len(other) > 0 {
		callCapable(ctx, other, fleet.CapWake, func(d device.Controllable, c context.Context) { d.Wake(c) })
	}
}

func (l *Location) Shutdown(ctx context.Context, fromKNX bool) {
	if l.suppressedByCalendar(fromKNX, "shutdown") {
		return
	}
	pdus, switches, displays, computers, other := classify(l.Elements())

	if len(computers) > 0 {
		callCapable(ctx, computers, fleet.CapShutdown, func(d device.Controllable, c context.Context) { d.Shutdown(c) })
		waitForStates(ctx, computers, groupWaitTimeout, fleet.StateOff)
	}
	if len(displays) > 0 {
		callCapable(ctx, displays, fleet.CapShutdown, func(d device.Controllable, c context.Context) { d.Shutdown(c) })
		waitForStates(ctx, displays, groupWaitTimeout, fleet.StateOff, fleet.StatePartial)
	}
	if len(other) > 0 {
		callCapable(ctx, other, fleet.CapShutdown, func(d device.Controllable, c context.Context) { d.Shutdown(c) })
	}
	if len(switches) > 0 {
		callCapable(ctx, switches, fleet.CapShutdown, func(d device.Controllable, c context.Context) { d.Shutdown(c) })
	}
	if len(pdus) > 0 {
		callCapable(ctx, pdus, fleet.CapShutdown, func(d device.Controllable, c context.Context) { d.Shutdown(c) })
	}
}

// Scram/Unscram act on the E-Nummer elements directly (Scram on their
// computers and displays, Unscram on every element), bypassing
// capability filtering exactly like Tag's, since a fire alarm must
// reach those actuators regardless of their advertised capability set.
func (l *Location) Scram(ctx context.Context) {
	_, _, displays, computers, _ := classify(l.Elements())

	var muteable, other []device.Controllable
	for _, c := range computers {
		if c.Capabilities().Has(fleet.CapMute) {
			muteable = append(muteable, c)
		} else {
			other = append(other, c)
		}
	}

	callAll(ctx, muteable, func(d device.Controllable, c context.Context) { d.Mute(c) })
	callAll(ctx, other, func(d device.Controllable, c context.Context) { d.Shutdown(c) })
	waitForStates(ctx, other, groupWaitTimeout, fleet.StateOff)
	callAll(ctx, displays, func(d device.Controllable, c context.Context) { d.Shutdown(c) })
}

func (l *Location) Unscram(ctx context.Context) {
	elements := l.Elements()
	_, _, displays, _, _ := classify(elements)

	var unmuteable, other []device.Controllable
	for _, d := range elements {
		if d.Capabilities().Has(fleet.CapUnmute) {
			unmuteable = append(unmuteable, d)
		} else {
			other = append(other, d)
		}
	}

	callAll(ctx, unmuteable, func(d device.Controllable, c context.Context) { d.Unmute(c) })
	callAll(ctx, displays, func(d device.Controllable, c context.Context) { d.Wake(c) })
	waitForStates(ctx, displays, groupWaitTimeout, fleet.StateOn)
	callAll(ctx, other, func(d device.Controllable, c context.Context) { d.Wake(c) })
}

func (l *Location) Cancel() {
	for _, d := range l.Devices() {
		d.Cancel()
	}
}
