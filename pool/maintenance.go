package pool

import (
	"context"
	"time"

	"github.com/atsika/dbwire/event"
)

// maintain runs for the pool's lifetime, pruning idle/expired
// connections and topping up to minPoolSize on a fixed-frequency ticker
// (spec.md §4.4: a steady interval, not the teacher's exponential
// back-off poller — only the "ticker holder" shape survives from
// poll.go's AdaptivePoll, since the spec wants a fixed cadence).
func (p *Pool) maintain() {
	defer close(p.maintDone)

	if p.cfg.maintenanceInitialDelay > 0 {
		select {
		case <-time.After(p.cfg.maintenanceInitialDelay):
		case <-p.maintStop:
			return
		}
	}

	frequency := p.cfg.maintenanceFrequency
	if frequency <= 0 {
		frequency = 10 * time.Second
	}
	ticker := time.NewTicker(frequency)
	defer ticker.Stop()

	for {
		select {
		case <-p.maintStop:
			return
		case <-ticker.C:
			p.pruneExpired()
			p.topUp()
		}
	}
}

func (p *Pool) pruneExpired() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	now := time.Now()
	kept := p.idle[:0]
	var discarded []*idleEntry
	for _, e := range p.idle {
		if p.isStale(e) {
			discarded = append(discarded, e)
			p.total--
			continue
		}
		kept = append(kept, e)
	}
	p.idle = kept
	p.mu.Unlock()

	if len(discarded) > 0 {
		p.cfg.logger.Debug("maintenance pruned idle connections", "address", p.addr.String(), "count", len(discarded))
	}
	for _, e := range discarded {
		p.closeDiscarded(e.conn, event.ReasonIdle)
	}
}

// topUp dials fresh connections until the idle count reaches
// minPoolSize or the pool is at capacity, matching spec.md §4.4's
// "maintain a floor of warm connections" requirement.
func (p *Pool) topUp() {
	for {
		p.mu.Lock()
		if p.closed || len(p.idle) >= p.cfg.minPoolSize || p.total >= p.cfg.maxPoolSize {
			p.mu.Unlock()
			return
		}
		p.total++
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		c, err := p.dial(ctx)
		cancel()
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			p.cfg.logger.Warn("maintenance top-up dial failed", "address", p.addr.String(), "error", err)
			return
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.closeDiscarded(c, event.ReasonPoolClosed)
			return
		}
		p.idle = append(p.idle, &idleEntry{conn: c, returnedAt: time.Now()})
		p.mu.Unlock()
	}
}
