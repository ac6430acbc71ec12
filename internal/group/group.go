// Package group implements Tag and Location: the two ways devices are
// addressed collectively. Both stage actions across a fixed dependency
// order (PDUs and network switches before displays before computers for
// wake, the reverse for shutdown) and fan remaining devices out
// concurrently within a stage.
package group

import (
	"context"
	"time"

	"fleethub/internal/device"
	"fleethub/pkg/fleet"
)

// GroupState mirrors fleet.OnlineState's three values for a group's
// aggregate liveness: OFFLINE if no member is on, ONLINE if every
// member is on, PARTIAL otherwise.
type GroupState string

const (
	GroupOffline GroupState = "OFFLINE"
	GroupPartial GroupState = "PARTIAL"
	GroupOnline  GroupState = "ONLINE"
)

// EventFunc publishes one field transition for a tag or location target.
type EventFunc func(target int, field string, value any)

func aggregateState(devices []device.Controllable) GroupState {
	if len(devices) == 0 {
		return GroupOffline
	}
	online := 0
	for _, d := range devices {
		if d.IsOnline() == fleet.StateOn {
			online++
		}
	}
	switch {
	case online == 0:
		return GroupOffline
	case online == len(devices):
		return GroupOnline
	default:
		return GroupPartial
	}
}

// classify splits devices into the role buckets a staged wake/shutdown
// sequence needs, grounded on original_source/tags.py's network_switches
// /pdus/display_devices/computers/other_devices properties.
func classify(devices []device.Controllable) (pdus, switches, displays, computers, other []device.Controllable) {
	for _, d := range devices {
		switch {
		case d.Class() == device.ClassGudePDU:
			pdus = append(pdus, d)
		case d.Role() == "Netzwerkswitch":
			switches = append(switches, d)
		case d.Role() == "Monitor" || d.Role() == "Projektor":
			displays = append(displays, d)
		case d.Class() == device.ClassComputer:
			computers = append(computers, d)
		default:
			other = append(other, d)
		}
	}
	return
}

// callAll invokes fn on every device concurrently, with a small
// stagger between launches (grounded on the original's per-device
// asyncio.sleep(random.random()) between TaskGroup creations, which
// exists to avoid slamming every adapter in a stage at the exact same
// instant) and waits for all of them to return.
func callAll(ctx context.Context, devices []device.Controllable, fn func(device.Controllable, context.Context)) {
	done := make(chan struct{}, len(devices))
	for i, d := range devices {
		go func(i int, d device.Controllable) {
			time.Sleep(time.Duration(i%5) * 50 * time.Millisecond)
			fn(d, ctx)
			done <- struct{}{}
		}(i, d)
	}
	for range devices {
		<-done
	}
}

// waitForStates polls until every device in devices reports one of the
// target states, or timeout elapses.
func waitForStates(ctx context.Context, devices []device.Controllable, timeout time.Duration, states ...fleet.OnlineState) {
	deadline := time.Now().Add(timeout)
	for {
		allMatch := true
		for _, d := range devices {
			matched := false
			for _, s := range states {
				if d.IsOnline() == s {
					matched = true
					break
				}
			}
			if !matched {
				allMatch = false
				break
			}
		}
		if allMatch || time.Now().After(deadline) || ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// callCapable filters devices to those advertising capability cap before
// calling fn on them, mirroring the original's "method_name in
// d.capabilities" guard so group fan-out never calls an unsupported
// action on a device.
func callCapable(ctx context.Context, devices []device.Controllable, cap fleet.Capability, fn func(device.Controllable, context.Context)) {
	var capable []device.Controllable
	for _, d := range devices {
		if d.Capabilities().Has(cap) {
			capable = append(capable, d)
		}
	}
	callAll(ctx, capable, fn)
}
