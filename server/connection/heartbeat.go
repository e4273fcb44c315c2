package connection

import (
	"context"
	"log"
	"time"

	"github.com/ymazrouei/souqstream/server/observability"
)

// Monitor periodically sweeps the connection table and evicts peers whose
// last ping is older than the timeout. This is the only failure-detection
// mechanism for transport-level staleness; eviction goes through
// Manager.Remove, so a dead peer's subscriptions are released with it.
type Monitor struct {
	manager  *Manager
	interval time.Duration
	timeout  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewMonitor(m *Manager, interval, timeout time.Duration) *Monitor {
	return &Monitor{
		manager:  m,
		interval: interval,
		timeout:  timeout,
	}
}

// Start launches the sweep loop. Single-shot: repeated calls are no-ops.
// It runs independently of the dispatch worker so a stuck dispatch cannot
// stall eviction.
func (hm *Monitor) Start(ctx context.Context) {
	if hm.cancel != nil {
		return
	}
	ctx, hm.cancel = context.WithCancel(ctx)
	hm.done = make(chan struct{})
	go hm.loop(ctx)
}

// Stop terminates the sweep loop and waits for it to exit.
func (hm *Monitor) Stop() {
	if hm.cancel == nil {
		return
	}
	hm.cancel()
	<-hm.done
}

func (hm *Monitor) loop(ctx context.Context) {
	defer close(hm.done)

	ticker := time.NewTicker(hm.interval)
	defer ticker.Stop()

	log.Printf("heartbeat: monitor started (interval=%v timeout=%v)", hm.interval, hm.timeout)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hm.sweep()
		}
	}
}

func (hm *Monitor) sweep() {
	for _, id := range hm.manager.staleConnIDs(hm.timeout) {
		log.Printf("heartbeat: evicting connection %s, no ping within %v", id, hm.timeout)
		observability.HeartbeatEvictions.Inc()
		hm.manager.Remove(id)
	}
}
