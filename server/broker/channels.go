package broker

import (
	"fmt"
	"sort"
	"sync"
)

// Channel is a named topic. Its own filters apply to all traffic on it, on
// top of whatever each subscription narrows further.
//
// IsPrivate marks channels that require a previously-established relationship
// (e.g. the order belongs to the subscribing user). Enforcing that is the
// caller's responsibility before Subscribe; the broker does not authorize.
type Channel struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	IsPrivate       bool     `json:"is_private"`
	Filters         []Filter `json:"filters,omitempty"`
	SubscriberCount int      `json:"subscriber_count"`
}

// ChannelRegistry is the catalog of topics. Channels are created at startup
// from DefaultCatalog and dynamically for private per-user topics; they are
// never deleted while active subscriptions exist.
type ChannelRegistry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{channels: make(map[string]*Channel)}
}

// Register adds a channel to the catalog.
func (r *ChannelRegistry) Register(ch *Channel) error {
	if ch.ID == "" {
		return fmt.Errorf("channel id must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[ch.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateChannel, ch.ID)
	}
	c := copyChannel(ch)
	c.SubscriberCount = 0
	r.channels[ch.ID] = c
	return nil
}

// Get returns a copy of the channel.
func (r *ChannelRegistry) Get(id string) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}
	return copyChannel(ch), nil
}

// List returns a snapshot of the catalog ordered by id, not a live view.
func (r *ChannelRegistry) List() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		result = append(result, copyChannel(ch))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Exists reports whether the id is registered.
func (r *ChannelRegistry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[id]
	return ok
}

// Count returns the number of registered channels.
func (r *ChannelRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// filtersFor returns the channel's own filters, or false if the channel is
// unknown. Used by the delivery engine on every dispatch.
func (r *ChannelRegistry) filtersFor(id string) ([]Filter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[id]
	if !ok {
		return nil, false
	}
	filters := make([]Filter, len(ch.Filters))
	copy(filters, ch.Filters)
	return filters, true
}

// adjustSubscribers moves the derived subscriber count. Callers hold no lock.
func (r *ChannelRegistry) adjustSubscribers(id string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[id]; ok {
		ch.SubscriberCount += delta
	}
}

func copyChannel(ch *Channel) *Channel {
	c := *ch
	c.Filters = make([]Filter, len(ch.Filters))
	copy(c.Filters, ch.Filters)
	return &c
}

// DefaultCatalog is the channel set registered at process start.
func DefaultCatalog() []*Channel {
	return []*Channel{
		{
			ID:          "gcc_markets",
			Name:        "GCC Market Updates",
			Description: "Price and availability movements across GCC markets",
		},
		{
			ID:          "construction_weather",
			Name:        "Construction Weather Alerts",
			Description: "Site-impacting weather conditions",
		},
		{
			ID:          "ai_insights",
			Name:        "AI Analytics Insights",
			Description: "Model-generated demand and pricing insights",
			Filters: []Filter{
				{Field: "confidence", Operator: OpGreaterThan, Value: 0.5},
			},
		},
		{
			ID:          "order_management",
			Name:        "Order Management",
			Description: "Order lifecycle updates for the owning user",
			IsPrivate:   true,
		},
		{
			ID:          "inventory_tracking",
			Name:        "Inventory Tracking",
			Description: "Stock level changes for managed inventory",
			IsPrivate:   true,
		},
		{
			ID:          "shipping_logistics",
			Name:        "Shipping & Logistics",
			Description: "Carrier and delivery milestone updates",
		},
		{
			ID:          "compliance_monitoring",
			Name:        "Compliance Monitoring",
			Description: "Regulatory and certification alerts",
			Filters: []Filter{
				{Field: "priority", Operator: OpIn, Value: []any{"high", "critical"}},
			},
		},
	}
}
