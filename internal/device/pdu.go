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
	pduWatchInterval       = 10 * time.Second
	pduWritePowerfeedWait  = 5 * time.Second
	pduWriteDeadline       = 900 * time.Second
)

// GudePDU drives a Gude power distribution unit over SNMP: it polls all
// feed states at pduWatchInterval while online, and exposes
// WritePowerFeed for WOLable/Computer/PJLinkDevice to flip a single feed
// as part of their own wake/shutdown sequences.
type GudePDU struct {
	*ICMPable
	noopClass

	snmp     *capability.SNMPAdapter
	model    capability.GudeModel
	oids     []string
	feeds    []bool
	memo     *scheduler.Memoizer
}

func NewGudePDU(manager Manager, emit EventFunc, logger *slog.Logger, rec fleet.DeviceRecord, community string) (*GudePDU, error) {
	model, err := capability.LookupGudeModel(rec.DeviceType.Model)
	if err != nil {
		return nil, err
	}
	d := &GudePDU{
		ICMPable: NewICMPable(manager, emit, logger, rec, true),
		snmp:     capability.NewSNMPAdapter(community),
		model:    model,
		oids:     model.PortStateOIDs(),
		feeds:    make([]bool, model.NumFeeds),
		memo:     scheduler.NewMemoizer(pduWatchInterval),
	}
	return d, nil
}

func (d *GudePDU) Update(ctx context.Context) {
	d.ICMPable.Update(ctx)
	if d.IsOnline() != fleet.StateOn {
		return
	}
	_ = d.memo.Run(false, func() error { return d.readFeeds() })
}

func (d *GudePDU) readFeeds() error {
	d.lockSession()
	defer d.unlockSession()

	states, err := d.snmp.GetPorts(d.PrimaryHost(), d.oids)
	metrics.ObserveAdapterCall("snmp", outcomeFor(err))
	if err != nil {
		d.reportError("snmp", err)
		return err
	}
	d.mu.Lock()
	changed := !boolSliceEqual(d.feeds, states)
	if changed {
		d.feeds = states
	}
	d.mu.Unlock()
	if changed {
		d.event("powerfeeds", states)
	}
	return nil
}

// WritePowerFeed flips a single feed index, retrying under a 15-minute
// deadline until the feed reports the requested value. Returns true if
// the feed's value actually needed to change.
func (d *GudePDU) WritePowerFeed(id int, value bool) bool {
	d.mu.Lock()
	if id < 0 || id >= len(d.feeds) {
		d.mu.Unlock()
		return false
	}
	needsChange := d.feeds[id] != value
	d.mu.Unlock()
	if !needsChange {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), pduWriteDeadline)
	defer cancel()
	_ = scheduler.RepeatUntil(ctx,
		func() bool {
			d.mu.Lock()
			defer d.mu.Unlock()
			return d.feeds[id] == value
		},
		func(attemptCtx context.Context) error { return d.writeFeed(id, value) },
		pduWritePowerfeedWait, pduWriteDeadline,
		func(err error) { d.reportError("snmp", err) },
	)
	return true
}

func (d *GudePDU) writeFeed(id int, value bool) error {
	d.lockSession()
	defer d.unlockSession()

	d.mu.Lock()
	target := append([]bool(nil), d.feeds...)
	d.mu.Unlock()
	target[id] = value

	states, err := d.snmp.SetPorts(d.PrimaryHost(), d.oids, target)
	metrics.ObserveAdapterCall("snmp", outcomeFor(err))
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.feeds = states
	d.mu.Unlock()
	d.event("powerfeeds", states)
	return nil
}

func boolSliceEqual(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
