package manager

import (
	"context"

	"fleethub/internal/device"
)

// groupTarget is the method surface Tag and Location share, letting
// onTagMethod/onLocationMethod/onFireAlarm/onCalendarEdge dispatch
// through one helper instead of duplicating a switch per entity kind.
type groupTarget interface {
	Wake(ctx context.Context, fromKNX bool)
	Shutdown(ctx context.Context, fromKNX bool)
	Scram(ctx context.Context)
	Unscram(ctx context.Context)
	Cancel()
}

// invokeMethod dispatches one of the eight device method names the bus
// can address (the seven actions plus cancel); an unrecognized method
// name is silently dropped rather than panicking.
func invokeMethod(ctx context.Context, d device.Controllable, method string) {
	switch method {
	case "wake":
		d.Wake(ctx)
	case "shutdown":
		d.Shutdown(ctx)
	case "reboot":
		d.Reboot(ctx)
	case "mute":
		d.Mute(ctx)
	case "unmute":
		d.Unmute(ctx)
	case "scram":
		d.Scram(ctx)
	case "unscram":
		d.Unscram(ctx)
	case "cancel":
		d.Cancel()
	}
}

// invokeGroupMethod is invokeMethod's counterpart for Tag/Location,
// whose Wake/Shutdown additionally carry the fromKNX bypass flag.
func invokeGroupMethod(ctx context.Context, g groupTarget, method string, fromKNX bool) {
	switch method {
	case "wake":
		g.Wake(ctx, fromKNX)
	case "shutdown":
		g.Shutdown(ctx, fromKNX)
	case "scram":
		g.Scram(ctx)
	case "unscram":
		g.Unscram(ctx)
	case "cancel":
		g.Cancel()
	}
}
