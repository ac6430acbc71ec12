package group

import (
	"context"
	"sync"
	"testing"

	"fleethub/internal/device"
	"fleethub/pkg/fleet"
)

// fakeDevice is a minimal device.Controllable double for group-package
// tests: it records every method call and lets a test script its
// online state and class/role.
type fakeDevice struct {
	mu    sync.Mutex
	id    int
	name  string
	role  string
	class device.Class
	caps  fleet.CapabilitySet
	state fleet.OnlineState
	calls []string
}

func newFakeDevice(id int, name, role string, class device.Class, caps fleet.CapabilitySet) *fakeDevice {
	return &fakeDevice{id: id, name: name, role: role, class: class, caps: caps, state: fleet.StateOff}
}

func (f *fakeDevice) ID() int                            { return f.id }
func (f *fakeDevice) Name() string                       { return f.name }
func (f *fakeDevice) Role() string                       { return f.role }
func (f *fakeDevice) Class() device.Class                { return f.class }
func (f *fakeDevice) Capabilities() fleet.CapabilitySet  { return f.caps }
func (f *fakeDevice) IsTagged(string) bool               { return false }
func (f *fakeDevice) IsLocated(int) bool                 { return false }
func (f *fakeDevice) IsIdle() bool                        { return true }
func (f *fakeDevice) SetData(fleet.DeviceRecord)          {}
func (f *fakeDevice) Update(context.Context)              {}
func (f *fakeDevice) Fetch()                              {}

func (f *fakeDevice) IsOnline() fleet.OnlineState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeDevice) setState(s fleet.OnlineState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeDevice) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeDevice) calledWith(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeDevice) Cancel()                     { f.record("cancel") }
func (f *fakeDevice) Wake(context.Context)        { f.record("wake"); f.setState(fleet.StateOn) }
func (f *fakeDevice) Shutdown(context.Context)    { f.record("shutdown"); f.setState(fleet.StateOff) }
func (f *fakeDevice) Reboot(context.Context)      { f.record("reboot") }
func (f *fakeDevice) Mute(context.Context)        { f.record("mute") }
func (f *fakeDevice) Unmute(context.Context)      { f.record("unmute") }
func (f *fakeDevice) Scram(context.Context)       { f.record("scram") }
func (f *fakeDevice) Unscram(context.Context)     { f.record("unscram") }

func TestAggregateState(t *testing.T) {
	on := newFakeDevice(1, "a", "", device.ClassComputer, nil)
	on.setState(fleet.StateOn)
	off := newFakeDevice(2, "b", "", device.ClassComputer, nil)

	if aggregateState(nil) != GroupOffline {
		t.Fatal("expected empty group to be OFFLINE")
	}
	if aggregateState([]device.Controllable{on}) != GroupOnline {
		t.Fatal("expected all-on group to be ONLINE")
	}
	if aggregateState([]device.Controllable{on, off}) != GroupPartial {
		t.Fatal("expected mixed group to be PARTIAL")
	}
	if aggregateState([]device.Controllable{off}) != GroupOffline {
		t.Fatal("expected all-off group to be OFFLINE")
	}
}

func TestClassifyBucketsByClassAndRole(t *testing.T) {
	pdu := newFakeDevice(1, "pdu1", "", device.ClassGudePDU, nil)
	sw := newFakeDevice(2, "sw1", "Netzwerkswitch", device.ClassICMPable, nil)
	display := newFakeDevice(3, "tv1", "Monitor", device.ClassWebOSTV, nil)
	comp := newFakeDevice(4, "pc1", "", device.ClassComputer, nil)
	other := newFakeDevice(5, "misc", "", device.ClassICMPable, nil)

	pdus, switches, displays, computers, others := classify([]device.Controllable{pdu, sw, display, comp, other})
	if len(pdus) != 1 || pdus[0] != pdu {
		t.Fatalf("expected pdu bucket to contain pdu, got %v", pdus)
	}
	if len(switches) != 1 || switches[0] != sw {
		t.Fatalf("expected switch bucket to contain sw, got %v", switches)
	}
	if len(displays) != 1 || displays[0] != display {
		t.Fatalf("expected display bucket to contain display, got %v", displays)
	}
	if len(computers) != 1 || computers[0] != comp {
		t.Fatalf("expected computer bucket to contain comp, got %v", computers)
	}
	if len(others) != 1 || others[0] != other {
		t.Fatalf("expected other bucket to contain other, got %v", others)
	}
}

func TestCallCapableSkipsUnsupportedDevices(t *testing.T) {
	capable := newFakeDevice(1, "a", "", device.ClassComputer, fleet.NewCapabilitySet(fleet.CapWake))
	incapable := newFakeDevice(2, "b", "", device.ClassComputer, fleet.NewCapabilitySet())

	callCapable(context.Background(), []device.Controllable{capable, incapable}, fleet.CapWake,
		func(d device.Controllable, c context.Context) { d.Wake(c) })

	if !capable.calledWith("wake") {
		t.Fatal("expected capable device to be woken")
	}
	if incapable.calledWith("wake") {
		t.Fatal("expected incapable device to be skipped")
	}
}

func TestWaitForStatesReturnsOnceAllMatch(t *testing.T) {
	d1 := newFakeDevice(1, "a", "", device.ClassComputer, nil)
	d1.setState(fleet.StateOn)
	d2 := newFakeDevice(2, "b", "", device.ClassComputer, nil)
	d2.setState(fleet.StateOn)

	ctx, cancel := context.WithTimeout(context.Background(), groupWaitTimeout)
	defer cancel()
	waitForStates(ctx, []device.Controllable{d1, d2}, groupWaitTimeout, fleet.StateOn)
}
