package group

import (
	"context"
	"sync"
	"testing"
	"time"

	"fleethub/internal/device"
	"fleethub/pkg/fleet"
)

type recordingEmit struct {
	mu     sync.Mutex
	events []fleet.Event
}

func (r *recordingEmit) emit(target int, field string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fleet.Event{Type: field, Value: value})
}

func TestTagWakeReachesPDUsDisplaysAndComputers(t *testing.T) {
	pdu := newFakeDevice(1, "pdu1", "", device.ClassGudePDU, fleet.NewCapabilitySet(fleet.CapWake))
	display := newFakeDevice(2, "tv1", "Monitor", device.ClassWebOSTV, fleet.NewCapabilitySet(fleet.CapWake))
	comp := newFakeDevice(3, "pc1", "", device.ClassComputer, fleet.NewCapabilitySet(fleet.CapWake))

	var emit recordingEmit
	tag := NewTag(emit.emit, fleet.TagRecord{ID: 1, Name: "room-a"})
	tag.SetDevices([]device.Controllable{pdu, display, comp})

	tag.Wake(context.Background(), false)

	if !pdu.calledWith("wake") || !display.calledWith("wake") || !comp.calledWith("wake") {
		t.Fatal("expected every device to receive wake")
	}
}

func TestTagWakeSuppressedByCalendarShutdown(t *testing.T) {
	comp := newFakeDevice(1, "pc1", "", device.ClassComputer, fleet.NewCapabilitySet(fleet.CapWake))
	var emit recordingEmit
	tag := NewTag(emit.emit, fleet.TagRecord{ID: 1, Name: "room-a"})
	tag.SetDevices([]device.Controllable{comp})

	tag.CalendarEdge("start", "shutdown")
	tag.Wake(context.Background(), true)

	if comp.calledWith("wake") {
		t.Fatal("expected KNX-originated wake to be suppressed during a calendar shutdown window")
	}
}

func TestTagWakeNotSuppressedWhenNotFromKNX(t *testing.T) {
	comp := newFakeDevice(1, "pc1", "", device.ClassComputer, fleet.NewCapabilitySet(fleet.CapWake))
	var emit recordingEmit
	tag := NewTag(emit.emit, fleet.TagRecord{ID: 1, Name: "room-a"})
	tag.SetDevices([]device.Controllable{comp})

	tag.CalendarEdge("start", "shutdown")
	tag.Wake(context.Background(), false)

	if !comp.calledWith("wake") {
		t.Fatal("expected an explicit API wake to proceed even during a calendar shutdown window")
	}
}

func TestTagScramMutesCapableComputersAndShutsDownOthers(t *testing.T) {
	muteable := newFakeDevice(1, "pc1", "", device.ClassComputer, fleet.NewCapabilitySet(fleet.CapMute))
	plain := newFakeDevice(2, "pc2", "", device.ClassComputer, fleet.NewCapabilitySet())
	display := newFakeDevice(3, "tv1", "Monitor", device.ClassWebOSTV, fleet.NewCapabilitySet())

	var emit recordingEmit
	tag := NewTag(emit.emit, fleet.TagRecord{ID: 1, Name: "room-a"})
	tag.SetDevices([]device.Controllable{muteable, plain, display})

	tag.Scram(context.Background())

	if !muteable.calledWith("mute") {
		t.Fatal("expected mute-capable computer to be muted, not shut down")
	}
	if muteable.calledWith("shutdown") {
		t.Fatal("expected mute-capable computer not to be shut down")
	}
	if !plain.calledWith("shutdown") {
		t.Fatal("expected non-muteable computer to be shut down even without the shutdown capability")
	}
	if !display.calledWith("shutdown") {
		t.Fatal("expected display to be shut down regardless of capability")
	}
}

func TestTagUnscramUnmutesAndWakesDisplays(t *testing.T) {
	unmuteable := newFakeDevice(1, "pc1", "", device.ClassComputer, fleet.NewCapabilitySet(fleet.CapUnmute))
	display := newFakeDevice(2, "tv1", "Monitor", device.ClassWebOSTV, fleet.NewCapabilitySet())

	var emit recordingEmit
	tag := NewTag(emit.emit, fleet.TagRecord{ID: 1, Name: "room-a"})
	tag.SetDevices([]device.Controllable{unmuteable, display})

	tag.Unscram(context.Background())

	if !unmuteable.calledWith("unmute") {
		t.Fatal("expected unmute-capable device to be unmuted")
	}
	if !display.calledWith("wake") {
		t.Fatal("expected display to be woken regardless of capability")
	}
}

func TestTagCancelPropagatesToEveryDevice(t *testing.T) {
	d1 := newFakeDevice(1, "a", "", device.ClassComputer, nil)
	d2 := newFakeDevice(2, "b", "", device.ClassComputer, nil)
	var emit recordingEmit
	tag := NewTag(emit.emit, fleet.TagRecord{ID: 1, Name: "room-a"})
	tag.SetDevices([]device.Controllable{d1, d2})

	tag.Cancel()

	if !d1.calledWith("cancel") || !d2.calledWith("cancel") {
		t.Fatal("expected Cancel to propagate to every member device")
	}
}

func TestTagFetchEmitsIsOnline(t *testing.T) {
	comp := newFakeDevice(1, "pc1", "", device.ClassComputer, nil)
	comp.setState(fleet.StateOn)
	var emit recordingEmit
	tag := NewTag(emit.emit, fleet.TagRecord{ID: 1, Name: "room-a"})
	tag.SetDevices([]device.Controllable{comp})

	tag.Fetch()

	emit.mu.Lock()
	defer emit.mu.Unlock()
	if len(emit.events) != 1 || emit.events[0].Type != "is_online" || emit.events[0].Value != string(GroupOnline) {
		t.Fatalf("expected a single is_online=ONLINE event, got %v", emit.events)
	}
}

func TestTagWakeIsTimelyWithStaggeredFanOut(t *testing.T) {
	devices := make([]device.Controllable, 0, 5)
	for i := 0; i < 5; i++ {
		devices = append(devices, newFakeDevice(i, "d", "", device.ClassComputer, fleet.NewCapabilitySet(fleet.CapWake)))
	}
	var emit recordingEmit
	tag := NewTag(emit.emit, fleet.TagRecord{ID: 1, Name: "room-a"})
	tag.SetDevices(devices)

	start := time.Now()
	tag.Wake(context.Background(), false)
	if time.Since(start) > 2*time.Second {
		t.Fatal("expected computer stage fan-out to complete quickly")
	}
}
