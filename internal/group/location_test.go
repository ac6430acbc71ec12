package group

import (
	"context"
	"testing"

	"fleethub/internal/device"
	"fleethub/pkg/fleet"
)

func TestLocationKNXSwitchOnTriggersWake(t *testing.T) {
	comp := newFakeDevice(1, "pc1", "", device.ClassComputer, fleet.NewCapabilitySet(fleet.CapWake))
	var emit recordingEmit
	loc := NewLocation(emit.emit, fleet.LocationRecord{ID: 1, Name: "room-a"})
	loc.SetDevices([]device.Controllable{comp}, []device.Controllable{comp})

	loc.KNXSwitch(context.Background(), true)

	if !comp.calledWith("wake") {
		t.Fatal("expected KNX switch-on to wake the location's elements")
	}
}

func TestLocationKNXSwitchOffTriggersShutdown(t *testing.T) {
	comp := newFakeDevice(1, "pc1", "", device.ClassComputer, fleet.NewCapabilitySet(fleet.CapShutdown))
	comp.setState(fleet.StateOn)
	var emit recordingEmit
	loc := NewLocation(emit.emit, fleet.LocationRecord{ID: 1, Name: "room-a"})
	loc.SetDevices([]device.Controllable{comp}, []device.Controllable{comp})
	loc.KNXSwitch(context.Background(), true)

	loc.KNXSwitch(context.Background(), false)

	if !comp.calledWith("shutdown") {
		t.Fatal("expected KNX switch-off to shut down the location's elements")
	}
}

func TestLocationKNXSwitchIgnoresRepeatedSameState(t *testing.T) {
	comp := newFakeDevice(1, "pc1", "", device.ClassComputer, fleet.NewCapabilitySet(fleet.CapWake))
	var emit recordingEmit
	loc := NewLocation(emit.emit, fleet.LocationRecord{ID: 1, Name: "room-a"})
	loc.SetDevices([]device.Controllable{comp}, []device.Controllable{comp})

	loc.KNXSwitch(context.Background(), true)
	comp.record("reset-marker")
	loc.KNXSwitch(context.Background(), true)

	calls := 0
	for _, c := range comp.calls {
		if c == "wake" {
			calls++
		}
	}
	if calls != 1 {
		t.Fatalf("expected wake to fire once on the rising edge only, got %d calls", calls)
	}
}

func TestLocationWakeSuppressedDuringCalendarShutdown(t *testing.T) {
	comp := newFakeDevice(1, "pc1", "", device.ClassComputer, fleet.NewCapabilitySet(fleet.CapWake))
	var emit recordingEmit
	loc := NewLocation(emit.emit, fleet.LocationRecord{ID: 1, Name: "room-a"})
	loc.SetDevices([]device.Controllable{comp}, []device.Controllable{comp})

	loc.CalendarEdge("start", "shutdown")
	loc.Wake(context.Background(), true)

	if comp.calledWith("wake") {
		t.Fatal("expected KNX-originated wake to be suppressed during a calendar shutdown window")
	}
}

func TestLocationScramBypassesCapabilityFiltering(t *testing.T) {
	display := newFakeDevice(1, "tv1", "Monitor", device.ClassWebOSTV, fleet.NewCapabilitySet())
	var emit recordingEmit
	loc := NewLocation(emit.emit, fleet.LocationRecord{ID: 1, Name: "room-a"})
	loc.SetDevices([]device.Controllable{display}, []device.Controllable{display})

	loc.Scram(context.Background())

	if !display.calledWith("shutdown") {
		t.Fatal("expected scram to shut down a display with no advertised shutdown capability")
	}
}

func TestLocationFetchEmitsKNXState(t *testing.T) {
	var emit recordingEmit
	loc := NewLocation(emit.emit, fleet.LocationRecord{ID: 1, Name: "room-a"})
	loc.SetDevices(nil, nil)

	loc.Fetch()

	found := false
	for _, e := range emit.events {
		if e.Type == "knx_switch" && e.Value == string(fleet.KNXUndefined) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected Fetch to publish the initial UNDEFINED knx_switch state")
	}
}
