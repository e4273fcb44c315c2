package connection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMonitorEvictsStalePeers(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, subs := newTestManager(t)
	defer m.Shutdown()

	m.Add("conn-stale", "user-1", &fakeTransport{})
	m.Add("conn-live", "user-2", &fakeTransport{})
	staleSub, err := m.HandleSubscribe("conn-stale", "gcc_markets", nil)
	require.NoError(t, err)

	// keep conn-live fresh while the monitor runs
	stopPinger := make(chan struct{})
	pingerDone := make(chan struct{})
	go func() {
		defer close(pingerDone)
		ticker := time.NewTicker(15 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopPinger:
				return
			case <-ticker.C:
				m.HandlePing("conn-live")
			}
		}
	}()

	monitor := NewMonitor(m, 20*time.Millisecond, 60*time.Millisecond)
	monitor.Start(context.Background())

	require.Eventually(t, func() bool {
		return m.Count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// eviction goes through Remove, so the stale peer's subscriptions go too
	assert.False(t, subs.Get(staleSub).IsActive)
	_, err = m.HandleSubscribe("conn-live", "gcc_markets", nil)
	assert.NoError(t, err, "the pinging peer survives the sweep")

	monitor.Stop()
	close(stopPinger)
	<-pingerDone
}

func TestMonitorStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, _ := newTestManager(t)
	defer m.Shutdown()

	monitor := NewMonitor(m, 10*time.Millisecond, time.Minute)
	monitor.Start(context.Background())
	monitor.Start(context.Background()) // single-shot, no second loop
	monitor.Stop()
	monitor.Stop()

	unstarted := NewMonitor(m, 10*time.Millisecond, time.Minute)
	unstarted.Stop()
}
