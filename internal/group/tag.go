package group

import (
	"context"
	"sync"
	"time"

	"fleethub/internal/device"
	"fleethub/pkg/fleet"
)

const groupWaitTimeout = 300 * time.Second

// Tag groups devices sharing an inventory tag and drives staged
// wake/shutdown sequences across them: PDUs and switches first (and
// waited on), then displays, then computers and everything else fired
// concurrently without a wait.
type Tag struct {
	emit EventFunc

	mu                sync.RWMutex
	id                int
	name              string
	description       string
	devices           []device.Controllable
	hasCalendarEvent  bool
	lastCalendarEvent string
}

func NewTag(emit EventFunc, rec fleet.TagRecord) *Tag {
	return &Tag{emit: emit, id: rec.ID, name: rec.Name, description: rec.Description}
}

func (t *Tag) ID() int         { return t.id }
func (t *Tag) Name() string    { return t.name }
func (t *Tag) Description() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.description
}

// SetDevices replaces the tag's member list, resolved by the manager
// from the tag record's device ID list against the live device set.
func (t *Tag) SetDevices(devices []device.Controllable) {
	t.mu.Lock()
	t.devices = devices
	t.mu.Unlock()
}

func (t *Tag) Devices() []device.Controllable {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]device.Controllable(nil), t.devices...)
}

func (t *Tag) IsOnline() GroupState {
	return aggregateState(t.Devices())
}

func (t *Tag) Fetch() {
	t.emit(t.id, "is_online", string(t.IsOnline()))
}

// CalendarEdge records a calendar event entering or leaving the tag's
// schedule, so a KNX-originated wake arriving during a scheduled
// shutdown window can be suppressed exactly as the original's
// has_calendar_event/last_calendar_method pair does.
func (t *Tag) CalendarEdge(edge, methodName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hasCalendarEvent = edge == "start"
	t.lastCalendarEvent = methodName
}

func (t *Tag) suppressedByCalendar(fromKNX bool, method string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return fromKNX && method == "wake" && t.hasCalendarEvent && t.lastCalendarEvent == "shutdown"
}

// Wake stages PDUs, then network switches, then display devices —
// waiting for each stage to report ON before moving to the next — and
// finally fires computers and any other devices without waiting.
func (t *Tag) Wake(ctx context.Context, fromKNX bool) {
	if t.suppressedByCalendar(fromKNX, "wake") {
		return
	}
	pdus, switches, displays, computers, other := classify(t.Devices())

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

// Shutdown stages the reverse order: computers and displays first
// (waited on), then switches and PDUs fired without a wait.
func (t *Tag) Shutdown(ctx context.Context, fromKNX bool) {
	if t.suppressedByCalendar(fromKNX, "shutdown") {
		return
	}
	pdus, switches, displays, computers, other := classify(t.Devices())

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

// Scram mutes every muteable computer immediately, then shuts down the
// rest (waiting for confirmation) and shuts down displays, bypassing
// each device's own capability-suppression rule: a fire-alarm scram
// acts even on monitoring-only devices (see DESIGN.md Open Question).
func (t *Tag) Scram(ctx context.Context) {
	_, _, displays, computers, _ := classify(t.Devices())

	var muteable, other []device.Controllable
	for _, c := range computers {
		if c.Capabilities().Has(fleet.CapMute) {
			muteable = append(muteable, c)
		} else {
			other = append(other, c)
		}
	}

	callAllBypass(ctx, muteable, func(d device.Controllable, c context.Context) { d.Mute(c) })
	callAllBypass(ctx, other, func(d device.Controllable, c context.Context) { d.Shutdown(c) })
	waitForStates(ctx, other, groupWaitTimeout, fleet.StateOff)
	callAllBypass(ctx, displays, func(d device.Controllable, c context.Context) { d.Shutdown(c) })
}

// Unscram reverses Scram: unmute first, then wake displays and every
// other device, waiting for displays to confirm.
func (t *Tag) Unscram(ctx context.Context) {
	_, _, displays, _, _ := classify(t.Devices())
	all := t.Devices()

	var unmuteable, other []device.Controllable
	for _, d := range all {
		if d.Capabilities().Has(fleet.CapUnmute) {
			unmuteable = append(unmuteable, d)
		} else {
			other = append(other, d)
		}
	}

	callAllBypass(ctx, unmuteable, func(d device.Controllable, c context.Context) { d.Unmute(c) })
	callAllBypass(ctx, displays, func(d device.Controllable, c context.Context) { d.Wake(c) })
	waitForStates(ctx, displays, groupWaitTimeout, fleet.StateOn)
	callAllBypass(ctx, other, func(d device.Controllable, c context.Context) { d.Wake(c) })
}

// callAllBypass calls fn on every device regardless of its advertised
// capability set, used only by Scram/Unscram.
func callAllBypass(ctx context.Context, devices []device.Controllable, fn func(device.Controllable, context.Context)) {
	callAll(ctx, devices, fn)
}

func (t *Tag) Cancel() {
	for _, d := range t.Devices() {
		d.Cancel()
	}
}
