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

const pingInterval = 30 * time.Second

// ICMPable is the baseline device class: liveness is observed purely by
// ICMP echo against the primary IP, at pingInterval, memoized so a busy
// update tick never queues a second ping while one is still in flight.
type ICMPable struct {
	*Base
	noopClass

	icmp       *capability.ICMPAdapter
	shouldICMP bool
	memo       *scheduler.Memoizer
}

// NewICMPable constructs an ICMP-only device. shouldICMP lets subclasses
// (Computer) disable ICMP probing entirely in favor of MQTT heartbeats.
func NewICMPable(manager Manager, emit EventFunc, logger *slog.Logger, rec fleet.DeviceRecord, shouldICMP bool) *ICMPable {
	d := &ICMPable{
		Base:       NewBase(manager, emit, logger, ClassICMPable, fleet.NewCapabilitySet(), rec),
		icmp:       capability.NewICMPAdapter(),
		shouldICMP: shouldICMP,
		memo:       scheduler.NewMemoizer(pingInterval),
	}
	return d
}

// Update is invoked once per manager tick; memoization keeps the actual
// ICMP probe to at most one per pingInterval regardless of tick rate,
// except the very first tick after construction, which probes
// immediately rather than waiting out the jittered interval.
func (d *ICMPable) Update(ctx context.Context) {
	_ = d.memo.Run(d.needsImmediateProbe(), func() error { return d.sendICMP(ctx) })
}

func (d *ICMPable) needsImmediateProbe() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.isInitialized
}

func (d *ICMPable) sendICMP(ctx context.Context) error {
	if !d.shouldICMP {
		return nil
	}
	host := d.PrimaryHost()
	if host == "" {
		return nil
	}
	alive, err := d.icmp.Ping(ctx, host)
	metrics.ObserveAdapterCall("icmp", outcomeFor(err))
	if err != nil {
		d.reportError("icmp", err)
		d.SetIsOnline(fleet.StateOff)
		return err
	}
	if alive {
		d.SetIsOnline(fleet.StateOn)
	} else {
		d.SetIsOnline(fleet.StateOff)
	}
	return nil
}

func outcomeFor(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
