package device

import (
	"context"
	"fmt"
	"log/slog"

	"fleethub/internal/capability"
	"fleethub/internal/metrics"
	"fleethub/pkg/fleet"
)

// BrightSign is a digital-signage player whose only remote action is a
// single Digest-authenticated reboot PUT; liveness is plain ICMP.
type BrightSign struct {
	*ICMPable
	noopClass

	digest *capability.DigestAdapter
}

func NewBrightSign(manager Manager, emit EventFunc, logger *slog.Logger, rec fleet.DeviceRecord, username, password string) *BrightSign {
	return &BrightSign{
		ICMPable: NewICMPable(manager, emit, logger, rec, true),
		digest:   capability.NewDigestAdapter(username, password),
	}
}

func (d *BrightSign) Capabilities() fleet.CapabilitySet {
	if d.IsMonitoringOnly() {
		return fleet.NewCapabilitySet()
	}
	return fleet.NewCapabilitySet(fleet.CapReboot)
}

func (d *BrightSign) Reboot(ctx context.Context) {
	d.startTask(ctx, "reboot", func(taskCtx context.Context) {
		host := d.PrimaryHost()
		if host == "" {
			return
		}
		err := d.digest.Put(fmt.Sprintf("http://%s/api/v1/control/reboot", host))
		metrics.ObserveAdapterCall("digest", outcomeFor(err))
		if err != nil {
			d.reportError("digest", err)
		}
	})
}
