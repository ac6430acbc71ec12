package device

import (
	"context"
	"log/slog"
	"time"

	"fleethub/internal/capability"
	"fleethub/internal/metrics"
	"fleethub/pkg/fleet"
)

const (
	wakeInterval    = 60 * time.Second
	maxTimeToWake   = 900 * time.Second
	postPDUWakeWait = 5 * time.Second
)

// WOLable adds Wake-on-LAN waking to ICMPable liveness polling: Wake
// first flips any power-port PDU feed on, waits briefly for the device
// to actually receive line power, then sends magic packets at
// wakeInterval until online or maxTimeToWake elapses.
type WOLable struct {
	*ICMPable
	noopClass

	wol *capability.WOLAdapter
}

func NewWOLable(manager Manager, emit EventFunc, logger *slog.Logger, rec fleet.DeviceRecord) *WOLable {
	return &WOLable{
		ICMPable: NewICMPable(manager, emit, logger, rec, true),
		wol:      capability.NewWOLAdapter(),
	}
}

func (d *WOLable) Capabilities() fleet.CapabilitySet {
	if d.IsMonitoringOnly() {
		return fleet.NewCapabilitySet()
	}
	return fleet.NewCapabilitySet(fleet.CapWake)
}

// Wake supersedes any in-flight action, attempts a PDU power-on if the
// device has power ports wired to one, then drives magic-packet sends
// until ICMP liveness confirms the device is on.
func (d *WOLable) Wake(ctx context.Context) {
	d.Cancel()
	d.setShouldFlag("wake", true)

	d.startTask(ctx, "wake", func(taskCtx context.Context) {
		hasPDU := setPowerForPorts(d.manager, d.PowerPorts(), true)
		if hasPDU {
			select {
			case <-taskCtx.Done():
				return
			case <-time.After(postPDUWakeWait):
			}
		}
		runActionLoop(taskCtx, d.Base, "wake",
			func() bool { return d.IsOnline() == fleet.StateOn },
			func(attemptCtx context.Context) error { return d.sendWake() },
			wakeInterval, maxTimeToWake,
			func() {},
		)
	})
}

func (d *WOLable) sendWake() error {
	var lastErr error
	for _, iface := range d.Interfaces() {
		if iface.MAC == "" {
			continue
		}
		err := d.wol.WakeMAC(iface.MAC)
		metrics.ObserveAdapterCall("wol", outcomeFor(err))
		if err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// setPowerForPorts walks a device's power ports, resolving each link
// peer's named PDU panel through the manager and flipping its feed.
// Returns true if at least one feed was actually switched.
func setPowerForPorts(manager Manager, ports []fleet.PowerPort, on bool) bool {
	if manager == nil {
		return false
	}
	switched := false
	for _, port := range ports {
		for _, peer := range port.LinkPeers {
			pdu, ok := manager.DeviceByName(peer.PanelName)
			if !ok {
				continue
			}
			setter, ok := pdu.(interface {
				WritePowerFeed(id int, value bool) bool
			})
			if !ok {
				continue
			}
			if setter.WritePowerFeed(peer.FeedIndex, on) {
				switched = true
			}
		}
	}
	return switched
}
