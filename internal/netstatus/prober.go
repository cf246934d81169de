package netstatus

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/hearth/internal/remote"
)

const (
	defaultInterval     = 15 * time.Second
	defaultProbeTimeout = 5 * time.Second
)

// Prober is a Detector that pings the remote on an interval. It reports
// offline until the first successful ping.
type Prober struct {
	broadcaster

	pinger   remote.Pinger
	interval time.Duration
	timeout  time.Duration
}

var _ Detector = (*Prober)(nil)

// NewProber creates a Prober. Zero interval or timeout selects the default.
func NewProber(p remote.Pinger, interval, timeout time.Duration) *Prober {
	if interval <= 0 {
		interval = defaultInterval
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &Prober{pinger: p, interval: interval, timeout: timeout}
}

// Probe pings once, records the result and returns it.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(ctx)
	online := err == nil
	if p.set(online) {
		if online {
			slog.Info("remote reachable")
		} else {
			slog.Warn("remote unreachable", "error", err)
		}
	}
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
