package device

import (
	"sync"
	"time"

	"fleethub/pkg/fleet"
)

// PowerScheduler defers a single powerfeed write, cancelling any
// previously scheduled write before arming a new one. It generalizes
// original_source/devices/mixins/power_mixin.py's power_on/power_off/
// power_cycle helpers (cancel the in-flight asyncio power task, then
// schedule a fresh one) onto time.AfterFunc: Computer uses it for the
// post-shutdown power-cycle, PJLinkDevice for the post-shutdown feed
// power-off.
type PowerScheduler struct {
	manager Manager

	mu    sync.Mutex
	timer *time.Timer
}

// NewPowerScheduler constructs a PowerScheduler bound to manager, used to
// resolve a device's power ports to their PDU peers.
func NewPowerScheduler(manager Manager) *PowerScheduler {
	return &PowerScheduler{manager: manager}
}

// Schedule cancels any pending write and arms setting ports to on after
// delay elapses.
func (p *PowerScheduler) Schedule(ports []fleet.PowerPort, on bool, delay time.Duration) {
	p.Cancel()
	p.mu.Lock()
	p.timer = time.AfterFunc(delay, func() {
		setPowerForPorts(p.manager, ports, on)
	})
	p.mu.Unlock()
}

// Cancel stops any pending scheduled write without running it.
func (p *PowerScheduler) Cancel() {
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
}
