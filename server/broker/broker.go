package broker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ymazrouei/souqstream/server/observability"
	"github.com/ymazrouei/souqstream/server/timeline"
)

// Deliverer pushes a resolved channel group to live connections. A channel
// broadcast is one logical call even if realized as N socket writes. It
// returns how many subscribers actually received the event.
type Deliverer interface {
	Deliver(channelID string, ev *Event, subs []*Subscription) int
}

// Archiver receives every delivered event, like any other consumer. Archive
// failures are absorbed by the broker and never reach the producer.
type Archiver interface {
	Name() string
	Archive(ctx context.Context, channelID string, ev *Event) error
}

// Config holds the broker's tunables.
type Config struct {
	// DispatchInterval is the scheduler tick.
	DispatchInterval time.Duration
	// BatchSize bounds how many events one tick drains.
	BatchSize int
	// MaxQueue bounds the pending queue; <= 0 means unbounded. When full,
	// the oldest lowest-priority pending event is dropped.
	MaxQueue int
	// SourceRate/SourceBurst enable per-source Emit admission when
	// SourceRate > 0. Disabled by default: Emit always succeeds once
	// validated.
	SourceRate  float64
	SourceBurst int
	// TimelineCapacity sizes the dispatch introspection ring.
	TimelineCapacity int
}

func DefaultConfig() Config {
	return Config{
		DispatchInterval: 1 * time.Second,
		BatchSize:        10,
		MaxQueue:         10000,
		TimelineCapacity: 512,
	}
}

// Stats is the introspection snapshot returned by GetStats.
type Stats struct {
	TotalEvents        uint64            `json:"total_events"`
	QueuedEvents       int               `json:"queued_events"`
	TotalChannels      int               `json:"total_channels"`
	TotalSubscriptions int               `json:"total_subscriptions"`
	EventsByType       map[string]uint64 `json:"events_by_type"`
	ChannelActivity    map[string]uint64 `json:"channel_activity"`
}

// Broker is the event distribution core: it validates and queues emitted
// events, drains them in priority order on a fixed tick, resolves matching
// subscriptions, and hands channel groups to the Deliverer.
//
// Constructed explicitly and passed by reference; there is no package-level
// instance.
type Broker struct {
	cfg       Config
	channels  *ChannelRegistry
	subs      *SubscriptionRegistry
	queue     *eventQueue
	deliverer Deliverer
	limiter   *SourceLimiter
	timeline  *timeline.Store

	archMu    sync.RWMutex
	archivers []Archiver

	// pending is the envelope lookup table: every queued or in-flight
	// event by id, removed once dispatch for it completes.
	pendingMu sync.RWMutex
	pending   map[string]*Event

	statsMu         sync.RWMutex
	totalEvents     uint64
	eventsByType    map[EventType]uint64
	channelActivity map[string]uint64

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, channels *ChannelRegistry, subs *SubscriptionRegistry, deliverer Deliverer) *Broker {
	b := &Broker{
		cfg:             cfg,
		channels:        channels,
		subs:            subs,
		queue:           newEventQueue(cfg.MaxQueue),
		deliverer:       deliverer,
		timeline:        timeline.NewStore(cfg.TimelineCapacity),
		pending:         make(map[string]*Event),
		eventsByType:    make(map[EventType]uint64),
		channelActivity: make(map[string]uint64),
	}
	if cfg.SourceRate > 0 {
		b.limiter = NewSourceLimiter(cfg.SourceRate, cfg.SourceBurst)
	}
	return b
}

// Channels exposes the channel registry.
func (b *Broker) Channels() *ChannelRegistry { return b.channels }

// Subscriptions exposes the subscription registry.
func (b *Broker) Subscriptions() *SubscriptionRegistry { return b.subs }

// Timeline exposes the dispatch introspection ring.
func (b *Broker) Timeline() *timeline.Store { return b.timeline }

// AddArchiver registers a sink that receives every delivered event.
func (b *Broker) AddArchiver(a Archiver) {
	b.archMu.Lock()
	defer b.archMu.Unlock()
	b.archivers = append(b.archivers, a)
}

// Emit validates the envelope, assigns id and ingestion timestamp, and
// queues the event. It never blocks: queue pressure is resolved by the
// drop policy, not by the producer.
func (b *Broker) Emit(in EmitInput) (string, error) {
	if err := in.validate(); err != nil {
		observability.EventsRejected.WithLabelValues("invalid").Inc()
		return "", err
	}
	if b.limiter != nil && !b.limiter.Allow(in.Source) {
		observability.EventsRejected.WithLabelValues("rate_limited").Inc()
		return "", ErrRateLimited
	}

	priority := in.Priority
	if priority == 0 {
		priority = PriorityMedium
	}

	ev := &Event{
		ID:             uuid.NewString(),
		Type:           in.Type,
		Payload:        copyPayload(in.Payload),
		Timestamp:      time.Now(),
		Source:         in.Source,
		TargetChannels: append([]string(nil), in.TargetChannels...),
		Priority:       priority,
	}

	b.pendingMu.Lock()
	b.pending[ev.ID] = ev
	b.pendingMu.Unlock()

	if dropped := b.queue.Push(ev); dropped != nil {
		observability.QueueDropped.Inc()
		log.Printf("broker: queue full (%d), dropped event %s (type=%s priority=%s)",
			b.cfg.MaxQueue, dropped.ID, dropped.Type, dropped.Priority)
		b.pendingMu.Lock()
		delete(b.pending, dropped.ID)
		b.pendingMu.Unlock()
	}

	b.statsMu.Lock()
	b.totalEvents++
	b.eventsByType[ev.Type]++
	b.statsMu.Unlock()

	observability.EventsEmitted.WithLabelValues(string(ev.Type)).Inc()
	observability.QueueDepth.Set(float64(b.queue.Len()))
	return ev.ID, nil
}

// GetEvent returns a queued or in-flight event by id, or nil once dispatch
// for it has completed.
func (b *Broker) GetEvent(id string) *Event {
	b.pendingMu.RLock()
	defer b.pendingMu.RUnlock()
	return b.pending[id]
}

// Start launches the dispatch worker. Single-shot: repeated calls are
// no-ops. Ordering is approximate across ticks: within one tick higher
// priorities are fully processed first, but during catch-up batching an
// older low-priority event can trail a newer critical one. Stop cancels
// the worker and waits for it to exit.
func (b *Broker) Start(ctx context.Context) {
	if b.cancel != nil {
		return
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	go b.worker(ctx)
}

// Stop terminates the dispatch worker. Events already mid-delivery complete
// against their resolved subscriber set.
func (b *Broker) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
}

func (b *Broker) worker(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.DispatchInterval)
	defer ticker.Stop()

	log.Printf("broker: dispatch worker started (interval=%v batch=%d)", b.cfg.DispatchInterval, b.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			log.Printf("broker: dispatch worker stopping, %d events still queued", b.queue.Len())
			return
		case <-ticker.C:
			start := time.Now()
			b.dispatchBatch(ctx)
			observability.DispatchLoopDuration.Observe(time.Since(start).Seconds())
			observability.QueueDepth.Set(float64(b.queue.Len()))
		}
	}
}

func (b *Broker) dispatchBatch(ctx context.Context) {
	batch := b.queue.PopBatch(b.cfg.BatchSize)
	observability.DispatchBatchSize.Observe(float64(len(batch)))

	for _, ev := range batch {
		b.deliver(ctx, ev)
		b.pendingMu.Lock()
		delete(b.pending, ev.ID)
		b.pendingMu.Unlock()
	}
}

// deliver resolves the matching subscriptions for one event and hands each
// channel group to the Deliverer as a single batch call.
func (b *Broker) deliver(ctx context.Context, ev *Event) {
	candidates := b.subs.activeForChannels(ev.TargetChannels)

	groups := make(map[string][]*Subscription)
	channelOK := make(map[string]bool)
	for _, sub := range candidates {
		ok, seen := channelOK[sub.ChannelID]
		if !seen {
			filters, exists := b.channels.filtersFor(sub.ChannelID)
			ok = exists && MatchAll(filters, ev)
			channelOK[sub.ChannelID] = ok
		}
		if !ok || !MatchAll(sub.Filters, ev) {
			continue
		}
		groups[sub.ChannelID] = append(groups[sub.ChannelID], sub)
	}

	now := time.Now()
	for channelID, group := range groups {
		delivered := len(group)
		if b.deliverer != nil {
			delivered = b.deliverer.Deliver(channelID, ev, group)
		}

		ids := make([]string, len(group))
		for i, sub := range group {
			ids[i] = sub.ID
		}
		b.subs.touch(ids, now)

		b.statsMu.Lock()
		b.channelActivity[channelID]++
		b.statsMu.Unlock()
		observability.ChannelDeliveries.WithLabelValues(channelID).Inc()

		b.timeline.Record(timeline.DispatchRecord{
			EventID:   ev.ID,
			EventType: string(ev.Type),
			ChannelID: channelID,
			Priority:  ev.Priority.String(),
			Matched:   len(group),
			Delivered: delivered,
			Timestamp: now,
		})

		b.archive(ctx, channelID, ev)
	}
}

func (b *Broker) archive(ctx context.Context, channelID string, ev *Event) {
	b.archMu.RLock()
	archivers := b.archivers
	b.archMu.RUnlock()

	for _, a := range archivers {
		if err := a.Archive(ctx, channelID, ev); err != nil {
			observability.ArchiveFailures.WithLabelValues(a.Name()).Inc()
			log.Printf("broker: archive to %s failed for event %s: %v", a.Name(), ev.ID, err)
		}
	}
}

// GetStats returns a point-in-time snapshot of broker counters.
func (b *Broker) GetStats() Stats {
	b.statsMu.RLock()
	defer b.statsMu.RUnlock()

	byType := make(map[string]uint64, len(b.eventsByType))
	for t, n := range b.eventsByType {
		byType[string(t)] = n
	}
	activity := make(map[string]uint64, len(b.channelActivity))
	for ch, n := range b.channelActivity {
		activity[ch] = n
	}

	return Stats{
		TotalEvents:        b.totalEvents,
		QueuedEvents:       b.queue.Len(),
		TotalChannels:      b.channels.Count(),
		TotalSubscriptions: b.subs.ActiveCount(),
		EventsByType:       byType,
		ChannelActivity:    activity,
	}
}

func copyPayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	c := make(map[string]any, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}
