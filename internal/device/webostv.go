package device

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fleethub/internal/capability"
	"fleethub/internal/metrics"
	"fleethub/internal/scheduler"
	"fleethub/pkg/fleet"
)

const (
	webosPingInterval     = 10 * time.Second
	webosRegisterInterval = 10 * time.Second
)

// WebOSTV is an LG webOS TV: liveness comes from ICMP (it reports
// PARTIAL as soon as it answers pings, then ON once the websocket
// control session is registered), Wake uses the inherited WOLable path,
// and Shutdown sends the webOS power-off request over the registered
// session.
type WebOSTV struct {
	*WOLable

	adapter      *capability.WebOSAdapter
	pingMemo     *scheduler.Memoizer
	registerMemo *scheduler.Memoizer

	mu2        sync.Mutex
	registered bool
}

func NewWebOSTV(manager Manager, emit EventFunc, logger *slog.Logger, rec fleet.DeviceRecord, adapter *capability.WebOSAdapter) *WebOSTV {
	d := &WebOSTV{
		WOLable:      NewWOLable(manager, emit, logger, rec),
		adapter:      adapter,
		pingMemo:     scheduler.NewMemoizer(webosPingInterval),
		registerMemo: scheduler.NewMemoizer(webosRegisterInterval),
	}
	d.shouldICMP = true
	return d
}

func (d *WebOSTV) Capabilities() fleet.CapabilitySet {
	if d.IsMonitoringOnly() {
		return fleet.NewCapabilitySet()
	}
	return fleet.NewCapabilitySet(fleet.CapWake, fleet.CapShutdown)
}

func (d *WebOSTV) Update(ctx context.Context) {
	_ = d.pingMemo.Run(false, func() error { return d.ping(ctx) })
	_ = d.registerMemo.Run(false, func() error { return d.tryRegister(ctx) })
}

func (d *WebOSTV) ping(ctx context.Context) error {
	if d.IsOnline() == fleet.StateOn {
		return nil
	}
	host := d.PrimaryHost()
	if host == "" {
		return nil
	}
	alive, err := capability.NewICMPAdapter().Ping(ctx, host)
	metrics.ObserveAdapterCall("icmp", outcomeFor(err))
	if err != nil || !alive {
		d.SetIsOnline(fleet.StateOff)
		return err
	}
	if !d.isRegistered() {
		d.SetIsOnline(fleet.StatePartial)
	}
	return nil
}

func (d *WebOSTV) isRegistered() bool {
	d.mu2.Lock()
	defer d.mu2.Unlock()
	return d.registered
}

func (d *WebOSTV) tryRegister(ctx context.Context) error {
	if d.isRegistered() {
		return nil
	}
	host := d.PrimaryHost()
	d.lockSession()
	defer d.unlockSession()

	conn, err := d.adapter.Connect(ctx, host)
	metrics.ObserveAdapterCall("webos", outcomeFor(err))
	if err != nil {
		d.reportError("webos", err)
		return err
	}
	defer conn.Close()

	ok, err := d.adapter.Register(ctx, host, conn)
	if err != nil {
		d.reportError("webos", err)
		return err
	}
	if ok {
		d.mu2.Lock()
		d.registered = true
		d.mu2.Unlock()
		d.SetIsOnline(fleet.StateOn)
	}
	return nil
}

func (d *WebOSTV) Shutdown(ctx context.Context) {
	d.Cancel()
	host := d.PrimaryHost()
	d.startTask(ctx, "shutdown", func(taskCtx context.Context) {
		d.lockSession()
		defer d.unlockSession()
		conn, err := d.adapter.Connect(taskCtx, host)
		if err != nil {
			d.reportError("webos", err)
			return
		}
		defer conn.Close()
		if err := d.adapter.PowerOff(conn); err != nil {
			d.reportError("webos", err)
			return
		}
		d.mu2.Lock()
		d.registered = false
		d.mu2.Unlock()
		d.SetIsOnline(fleet.StateOff)
	})
}
