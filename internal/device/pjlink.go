package device

import (
	"context"
	"log/slog"
	"time"

	"fleethub/internal/capability"
	"fleethub/internal/metrics"
	"fleethub/internal/scheduler"
	"fleethub/pkg/fleet"
)

const (
	pjlinkWatchInterval     = 10 * time.Second
	pjlinkWakeInterval      = 30 * time.Second
	pjlinkShutdownInterval  = 30 * time.Second
	pjlinkMaxTimeToWake     = 900 * time.Second
	pjlinkMaxTimeToShutdown = 900 * time.Second
	pjlinkFeedPowerOffDelay = 300 * time.Second
)

// PJLinkDevice is a projector or flat panel speaking the PJLink text
// protocol directly: watch polls power/lamp/error state at
// pjlinkWatchInterval, wake/shutdown drive the class 1/2 POWR command
// until the reported state matches, per the adapter's session lock so a
// watch poll and an in-flight wake never race on the same TCP session.
type PJLinkDevice struct {
	*Base
	noopClass

	adapter    *capability.PJLinkAdapter
	password   string
	class      int
	memo       *scheduler.Memoizer
	powerSched *PowerScheduler
}

func NewPJLinkDevice(manager Manager, emit EventFunc, logger *slog.Logger, rec fleet.DeviceRecord, password string) *PJLinkDevice {
	return &PJLinkDevice{
		Base:       NewBase(manager, emit, logger, ClassPJLink, fleet.NewCapabilitySet(fleet.CapWake, fleet.CapShutdown), rec),
		adapter:    capability.NewPJLinkAdapter(),
		password:   password,
		class:      1,
		memo:       scheduler.NewMemoizer(pjlinkWatchInterval),
		powerSched: NewPowerScheduler(manager),
	}
}

// Cancel supersedes Base's task/should-flag cancellation with also
// cancelling any feed power-off scheduled by a previous Shutdown, so a
// Wake issued before the 300s delay elapses never gets its feed cut
// underneath it.
func (d *PJLinkDevice) Cancel() {
	d.Base.Cancel()
	d.powerSched.Cancel()
}

func (d *PJLinkDevice) Update(ctx context.Context) {
	_ = d.memo.Run(false, func() error { return d.watch(ctx) })
}

func (d *PJLinkDevice) watch(ctx context.Context) error {
	host := d.PrimaryHost()
	d.lockSession()
	defer d.unlockSession()

	status, err := d.adapter.Query(host, d.password, d.class)
	metrics.ObserveAdapterCall("pjlink", outcomeFor(err))
	if err != nil {
		d.reportError("pjlink", err)
		d.SetIsOnline(fleet.StatePartial)
		return err
	}
	d.class = status.Class
	d.applyPowerState(status.Power)
	d.applyLamps(status)
	d.applyErrors(status)
	return nil
}

func (d *PJLinkDevice) applyPowerState(power capability.PJLinkPower) {
	switch power {
	case capability.PJLinkPowerOn:
		d.SetIsOnline(fleet.StateOn)
	case capability.PJLinkPowerWarming, capability.PJLinkPowerCooling, capability.PJLinkPowerOff:
		d.SetIsOnline(fleet.StatePartial)
	}
	d.event("warming", power == capability.PJLinkPowerWarming)
	d.event("cooling", power == capability.PJLinkPowerCooling)
}

func (d *PJLinkDevice) applyLamps(status capability.PJLinkStatus) {
	d.event("lamps", status.Lamps)
	if status.Resolution != "" {
		d.event("ires", status.Resolution)
	}
}

func (d *PJLinkDevice) applyErrors(status capability.PJLinkStatus) {
	d.event("errors", status.Errors)
}

func (d *PJLinkDevice) Wake(ctx context.Context) {
	d.Cancel()
	d.setShouldFlag("wake", d.IsOnline() != fleet.StateOn)

	d.startTask(ctx, "wake", func(taskCtx context.Context) {
		runActionLoop(taskCtx, d.Base, "wake",
			func() bool { return d.IsOnline() == fleet.StateOn },
			func(attemptCtx context.Context) error { return d.setPower(true) },
			pjlinkWakeInterval, pjlinkMaxTimeToWake,
			func() {},
		)
	})
}

// Shutdown drives class 1/2 POWR off until the reported state leaves ON,
// and on every successful command also (re)schedules a feed power-off
// pjlinkFeedPowerOffDelay later: a projector that ignores the protocol
// shutdown still loses power once the lamp has had time to cool.
func (d *PJLinkDevice) Shutdown(ctx context.Context) {
	d.Cancel()
	d.setShouldFlag("shutdown", true)

	d.startTask(ctx, "shutdown", func(taskCtx context.Context) {
		runActionLoop(taskCtx, d.Base, "shutdown",
			func() bool { return d.IsOnline() != fleet.StateOn },
			func(attemptCtx context.Context) error {
				if err := d.setPower(false); err != nil {
					return err
				}
				d.powerSched.Schedule(d.PowerPorts(), false, pjlinkFeedPowerOffDelay)
				return nil
			},
			pjlinkShutdownInterval, pjlinkMaxTimeToShutdown,
			func() {},
		)
	})
}

func (d *PJLinkDevice) setPower(on bool) error {
	host := d.PrimaryHost()
	d.lockSession()
	defer d.unlockSession()
	err := d.adapter.SetPower(host, d.password, d.class, on)
	metrics.ObserveAdapterCall("pjlink", outcomeFor(err))
	if err != nil {
		d.reportError("pjlink", err)
	}
	return err
}
