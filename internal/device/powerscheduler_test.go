package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"fleethub/pkg/fleet"
)

type fakePDU struct {
	*Base
	noopClass

	mu    sync.Mutex
	feeds map[int]bool
}

func (f *fakePDU) Update(context.Context) {}

func (f *fakePDU) WritePowerFeed(id int, value bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.feeds == nil {
		f.feeds = make(map[int]bool)
	}
	changed := f.feeds[id] != value
	f.feeds[id] = value
	return changed
}

func (f *fakePDU) feedValue(id int) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.feeds[id]
	return v, ok
}

type fakeManager struct {
	byName map[string]Controllable
}

func (m *fakeManager) DeviceByName(name string) (Controllable, bool) {
	d, ok := m.byName[name]
	return d, ok
}

func newFakePDU(name string) *fakePDU {
	pdu := &fakePDU{}
	pdu.Base = NewBase(nil, nil, discardLogger(), ClassGudePDU, fleet.NewCapabilitySet(), fleet.DeviceRecord{ID: 1, Name: name})
	return pdu
}

func testPorts(peer string, feed int) []fleet.PowerPort {
	return []fleet.PowerPort{{LinkPeers: []fleet.PowerLinkPeer{{PanelName: peer, FeedIndex: feed}}}}
}

func TestPowerSchedulerSchedulesDelayedWrite(t *testing.T) {
	pdu := newFakePDU("pdu-1")
	mgr := &fakeManager{byName: map[string]Controllable{"pdu-1": pdu}}
	sched := NewPowerScheduler(mgr)

	sched.Schedule(testPorts("pdu-1", 0), true, 10*time.Millisecond)

	if v, ok := pdu.feedValue(0); ok && v {
		t.Fatal("expected feed not yet written before delay elapses")
	}

	time.Sleep(50 * time.Millisecond)
	v, ok := pdu.feedValue(0)
	if !ok || !v {
		t.Fatalf("expected feed 0 written true after delay, got %v, %v", v, ok)
	}
}

func TestPowerSchedulerCancelPreventsWrite(t *testing.T) {
	pdu := newFakePDU("pdu-2")
	mgr := &fakeManager{byName: map[string]Controllable{"pdu-2": pdu}}
	sched := NewPowerScheduler(mgr)

	sched.Schedule(testPorts("pdu-2", 0), true, 10*time.Millisecond)
	sched.Cancel()

	time.Sleep(50 * time.Millisecond)
	if _, ok := pdu.feedValue(0); ok {
		t.Fatal("expected cancelled schedule to never write the feed")
	}
}

func TestPowerSchedulerScheduleCancelsPredecessor(t *testing.T) {
	pdu := newFakePDU("pdu-3")
	mgr := &fakeManager{byName: map[string]Controllable{"pdu-3": pdu}}
	sched := NewPowerScheduler(mgr)

	sched.Schedule(testPorts("pdu-3", 0), true, 10*time.Millisecond)
	sched.Schedule(testPorts("pdu-3", 0), false, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	v, ok := pdu.feedValue(0)
	if !ok || v {
		t.Fatalf("expected the second scheduled write (off) to win, got %v, %v", v, ok)
	}
}
