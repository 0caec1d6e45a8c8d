package updates

import (
	"context"
	"time"

	"github.com/fieldline-data/scout.report/internal/monitoring"
	"github.com/fieldline-data/scout.report/internal/timeutil"
)

// DefaultPollInterval is used when the configured interval is not positive.
const DefaultPollInterval = 24 * time.Hour

// Poller checks for updates on a fixed interval. Failed checks are
// simply retried on the next tick; the loop ends once an update has
// been applied or the context is cancelled.
type Poller struct {
	manager  *Manager
	clock    timeutil.Clock
	interval time.Duration
}

// NewPoller returns a poller driving the given manager.
func NewPoller(m *Manager, clock timeutil.Clock, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{manager: m, clock: clock, interval: interval}
}

// Run checks immediately, then on every tick until ctx is cancelled or
// the update lifecycle reaches Applied. Cooldown handling lives in the
// manager, so a short interval does not hammer the release feed.
func (p *Poller) Run(ctx context.Context) {
	p.check(ctx)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if p.manager.Status().State == StateApplied {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.check(ctx)
		}
	}
}

func (p *Poller) check(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := p.manager.Check(ctx, false); err != nil {
		monitoring.Logf("updates: check failed: %v", err)
	}
}
