package capability

import (
	"context"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// ICMPAdapter sends a single privileged ICMP echo and reports whether a
// reply was received within the timeout. It backs every ICMPable device's
// 30s liveness probe.
type ICMPAdapter struct {
	// Timeout bounds a single ping attempt; 10s by default.
	Timeout time.Duration
}

func NewICMPAdapter() *ICMPAdapter {
	return &ICMPAdapter{Timeout: 10 * time.Second}
}

// Ping sends one ICMP echo to host and returns true if a reply arrived.
func (a *ICMPAdapter) Ping(ctx context.Context, host string) (bool, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return false, NewError("icmp", KindProtocol, err)
	}
	pinger.Count = 1
	pinger.Timeout = a.Timeout
	pinger.SetPrivileged(true)

	done := make(chan error, 1)
	go func() { done <- pinger.RunWithContext(ctx) }()

	select {
	case <-ctx.Done():
		pinger.Stop()
		return false, NewError("icmp", KindTimeout, ctx.Err())
	case err := <-done:
		if err != nil {
			return false, NewError("icmp", KindUnreachable, err)
		}
	}

	stats := pinger.Statistics()
	return stats.PacketsRecv > 0, nil
}
