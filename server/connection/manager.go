package connection

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ymazrouei/souqstream/server/broker"
	"github.com/ymazrouei/souqstream/server/observability"
)

// Transport is one live bidirectional endpoint. Send is called from a single
// write pump goroutine per connection, so implementations do not need their
// own write locking.
type Transport interface {
	Send(f Frame) error
	Close() error
}

// Registry is the subscription surface the connection layer delegates to.
// *broker.SubscriptionRegistry satisfies it.
type Registry interface {
	Subscribe(userID, channelID string, filters []broker.Filter) (string, error)
	Unsubscribe(id string) bool
	Get(id string) *broker.Subscription
}

// Frame is the outbound wire message.
type Frame struct {
	Type           string        `json:"type"` // subscribed, unsubscribed, pong, event, error
	SubscriptionID string        `json:"subscription_id,omitempty"`
	ChannelID      string        `json:"channel_id,omitempty"`
	Event          *broker.Event `json:"event,omitempty"`
	Error          string        `json:"error,omitempty"`
}

var (
	errConnClosed  = errors.New("connection closed")
	errBufferFull  = errors.New("outbound buffer full")
	ErrUnknownConn = errors.New("unknown connection")
)

// Conn is a live connection. A user may hold several at once (multiple
// devices); each owns its subscription bindings independently.
type Conn struct {
	ID     string
	UserID string

	transport Transport
	out       chan Frame

	mu       sync.Mutex
	subs     map[string]struct{}
	lastPing time.Time
	isAlive  bool
}

// enqueue hands a frame to the write pump without blocking. A full buffer
// means the peer is too slow for the current event rate; the frame is
// dropped rather than stalling dispatch.
func (c *Conn) enqueue(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isAlive {
		return errConnClosed
	}
	select {
	case c.out <- f:
		return nil
	default:
		return errBufferFull
	}
}

func (c *Conn) touchPing() {
	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()
}

// LastPing returns the time of the last heartbeat from the peer.
func (c *Conn) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// SubscriptionIDs returns the ids currently bound to this connection.
func (c *Conn) SubscriptionIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	return ids
}

// Manager owns the connection table: it binds subscriptions to connections,
// pushes matched events to sockets, and is the only teardown path that
// permanently unsubscribes a dead peer's subscriptions.
type Manager struct {
	mu       sync.RWMutex
	conns    map[string]*Conn
	bySub    map[string]string // subscription id -> connection id
	registry Registry

	bufferSize int
	wg         sync.WaitGroup
}

func NewManager(registry Registry, bufferSize int) *Manager {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Manager{
		conns:      make(map[string]*Conn),
		bySub:      make(map[string]string),
		registry:   registry,
		bufferSize: bufferSize,
	}
}

// Add registers a live connection and starts its write pump.
func (m *Manager) Add(connID, userID string, t Transport) *Conn {
	c := &Conn{
		ID:        connID,
		UserID:    userID,
		transport: t,
		out:       make(chan Frame, m.bufferSize),
		subs:      make(map[string]struct{}),
		lastPing:  time.Now(),
		isAlive:   true,
	}

	m.mu.Lock()
	m.conns[connID] = c
	total := len(m.conns)
	m.mu.Unlock()

	observability.ConnectedClients.Set(float64(total))
	log.Printf("connection: %s registered for user %s. Total: %d", connID, userID, total)

	m.wg.Add(1)
	go m.writePump(c)
	return c
}

// Remove tears down a connection: every subscription bound to it is
// unsubscribed, then the connection is discarded. Idempotent.
func (m *Manager) Remove(connID string) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.conns, connID)
	subIDs := c.SubscriptionIDs()
	for _, id := range subIDs {
		delete(m.bySub, id)
	}
	total := len(m.conns)
	m.mu.Unlock()

	for _, id := range subIDs {
		m.registry.Unsubscribe(id)
	}

	c.mu.Lock()
	c.isAlive = false
	close(c.out)
	c.mu.Unlock()
	c.transport.Close()

	observability.ConnectedClients.Set(float64(total))
	log.Printf("connection: %s removed, %d subscriptions released. Total: %d", connID, len(subIDs), total)
}

// writePump drains one connection's outbound buffer. A transport error is
// treated as a disconnect.
func (m *Manager) writePump(c *Conn) {
	defer m.wg.Done()

	for f := range c.out {
		if err := c.transport.Send(f); err != nil {
			log.Printf("connection: write to %s failed, dropping peer: %v", c.ID, err)
			observability.DeliveryMisses.WithLabelValues("transport_error").Inc()
			go m.Remove(c.ID)
			return
		}
	}
}

// HandleSubscribe serves an inbound subscribe frame: it delegates to the
// subscription registry, binds the new id to the connection, and acks.
// Private-channel authorization is the caller's concern; by the time a
// subscribe frame reaches the broker the relationship must already be
// established.
func (m *Manager) HandleSubscribe(connID, channelID string, filters []broker.Filter) (string, error) {
	m.mu.RLock()
	c, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownConn, connID)
	}

	subID, err := m.registry.Subscribe(c.UserID, channelID, filters)
	if err != nil {
		c.enqueue(Frame{Type: "error", ChannelID: channelID, Error: err.Error()})
		return "", err
	}

	c.mu.Lock()
	c.subs[subID] = struct{}{}
	c.mu.Unlock()

	// The connection may have been evicted while the registry call was in
	// flight (heartbeat sweep or write-pump error). Binding against a
	// removed connection would leak an active subscription that no
	// teardown path ever releases, so re-check under the table lock.
	m.mu.Lock()
	_, live := m.conns[connID]
	if live {
		m.bySub[subID] = connID
	}
	m.mu.Unlock()

	if !live {
		c.mu.Lock()
		delete(c.subs, subID)
		c.mu.Unlock()
		m.registry.Unsubscribe(subID)
		return "", fmt.Errorf("%w: %s", ErrUnknownConn, connID)
	}

	c.enqueue(Frame{Type: "subscribed", SubscriptionID: subID, ChannelID: channelID})
	return subID, nil
}

// HandleUnsubscribe serves an inbound unsubscribe frame.
func (m *Manager) HandleUnsubscribe(connID, subID string) bool {
	m.mu.Lock()
	owner, bound := m.bySub[subID]
	if bound && owner == connID {
		delete(m.bySub, subID)
	}
	c := m.conns[connID]
	m.mu.Unlock()

	if c == nil || (bound && owner != connID) {
		return false
	}
	if !bound {
		// unbound ids (created over the programmatic surface) may only be
		// released by a connection belonging to the subscription's owner
		sub := m.registry.Get(subID)
		if sub == nil || sub.UserID != c.UserID {
			return false
		}
	}

	c.mu.Lock()
	delete(c.subs, subID)
	c.mu.Unlock()

	released := m.registry.Unsubscribe(subID)
	c.enqueue(Frame{Type: "unsubscribed", SubscriptionID: subID})
	return released
}

// HandlePing refreshes the connection's heartbeat and replies with pong.
func (m *Manager) HandlePing(connID string) {
	m.mu.RLock()
	c, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	c.touchPing()
	c.enqueue(Frame{Type: "pong"})
}

// Deliver pushes one event to every subscription in a resolved channel
// group. A failure for one subscriber never aborts the rest of the batch.
func (m *Manager) Deliver(channelID string, ev *broker.Event, subs []*broker.Subscription) int {
	delivered := 0
	for _, sub := range subs {
		m.mu.RLock()
		connID, bound := m.bySub[sub.ID]
		var c *Conn
		if bound {
			c = m.conns[connID]
		}
		m.mu.RUnlock()

		if c == nil {
			observability.DeliveryMisses.WithLabelValues("no_connection").Inc()
			continue
		}

		switch err := c.enqueue(Frame{Type: "event", ChannelID: channelID, Event: ev}); err {
		case nil:
			delivered++
		case errBufferFull:
			observability.DeliveryMisses.WithLabelValues("buffer_full").Inc()
			log.Printf("connection: %s outbound buffer full, dropped event %s", c.ID, ev.ID)
		default:
			observability.DeliveryMisses.WithLabelValues("no_connection").Inc()
		}
	}
	return delivered
}

// SendToConnection is a best-effort direct push to one connection.
func (m *Manager) SendToConnection(connID string, ev *broker.Event) error {
	m.mu.RLock()
	c, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConn, connID)
	}
	return c.enqueue(Frame{Type: "event", Event: ev})
}

// Broadcast pushes an event to every live connection regardless of
// subscription. Operator/administrative notices only; normal channel
// delivery goes through Deliver.
func (m *Manager) Broadcast(ev *broker.Event) int {
	m.mu.RLock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	sent := 0
	for _, c := range conns {
		if c.enqueue(Frame{Type: "event", Event: ev}) == nil {
			sent++
		}
	}
	return sent
}

// Count returns the number of live connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// staleConnIDs returns connections whose last ping is older than timeout.
func (m *Manager) staleConnIDs(timeout time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().Add(-timeout)
	var stale []string
	for id, c := range m.conns {
		if c.LastPing().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}

// Shutdown closes every connection and waits for the write pumps to drain.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	log.Printf("connection: shutting down %d connections", len(ids))
	for _, id := range ids {
		m.Remove(id)
	}
	m.wg.Wait()
}
