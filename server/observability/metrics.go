package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsEmitted counts validated events accepted by Emit.
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "souqstream_events_emitted_total",
		Help: "Events accepted by Emit, by event type",
	}, []string{"type"})

	// EventsRejected counts envelopes rejected at validation.
	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "souqstream_events_rejected_total",
		Help: "Envelopes rejected at Emit",
	}, []string{"reason"}) // invalid, rate_limited

	// QueueDepth tracks the number of events waiting for dispatch.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "souqstream_queue_depth",
		Help: "Current number of events in the pending queue",
	})

	// QueueDropped counts events evicted by the queue bound.
	QueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "souqstream_queue_dropped_total",
		Help: "Events dropped by the bounded-queue overload policy",
	})

	// DispatchBatchSize observes how many events each tick drains.
	DispatchBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "souqstream_dispatch_batch_size",
		Help:    "Events dispatched per scheduler tick",
		Buckets: prometheus.LinearBuckets(0, 2, 8),
	})

	// DispatchLoopDuration tracks the duration of one dispatch tick.
	DispatchLoopDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "souqstream_dispatch_loop_duration_seconds",
		Help:    "Duration of one dispatch tick",
		Buckets: prometheus.DefBuckets,
	})

	// ChannelDeliveries counts delivered channel-group batches.
	ChannelDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "souqstream_channel_deliveries_total",
		Help: "Delivered events per channel",
	}, []string{"channel"})

	// DeliveryMisses counts subscribers an event could not be pushed to.
	DeliveryMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "souqstream_delivery_misses_total",
		Help: "Matched subscriptions that could not receive a push",
	}, []string{"reason"}) // no_connection, buffer_full, transport_error

	// ConnectedClients tracks live connections.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "souqstream_connected_clients",
		Help: "Current number of live connections",
	})

	// HeartbeatEvictions counts connections removed by the liveness sweep.
	HeartbeatEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "souqstream_heartbeat_evictions_total",
		Help: "Connections evicted for missing heartbeats",
	})

	// ArchiveFailures counts sink writes that were absorbed.
	ArchiveFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "souqstream_archive_failures_total",
		Help: "Failed archive sink writes (best-effort, absorbed)",
	}, []string{"sink"})
)
