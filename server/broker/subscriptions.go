package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscription is a user's standing interest in a channel, independent of
// any particular live connection. Its filters narrow the channel's own
// filters (logical AND).
type Subscription struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ChannelID    string    `json:"channel_id"`
	Filters      []Filter  `json:"filters,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// SubscriptionRegistry tracks subscriptions and keeps the per-channel
// subscriber counts consistent. Subscriptions are deactivated, never deleted,
// so delivery-loop iteration stays safe against concurrent unsubscribes.
type SubscriptionRegistry struct {
	mu       sync.RWMutex
	subs     map[string]*Subscription
	channels *ChannelRegistry
}

func NewSubscriptionRegistry(channels *ChannelRegistry) *SubscriptionRegistry {
	return &SubscriptionRegistry{
		subs:     make(map[string]*Subscription),
		channels: channels,
	}
}

// Subscribe records a user's interest in a channel and returns the new
// subscription id. For private channels the caller must have verified the
// user's relationship to the channel beforehand.
func (r *SubscriptionRegistry) Subscribe(userID, channelID string, filters []Filter) (string, error) {
	if !r.channels.Exists(channelID) {
		return "", fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}

	now := time.Now()
	sub := &Subscription{
		ID:           uuid.NewString(),
		UserID:       userID,
		ChannelID:    channelID,
		Filters:      append([]Filter(nil), filters...),
		IsActive:     true,
		CreatedAt:    now,
		LastActivity: now,
	}

	r.mu.Lock()
	r.subs[sub.ID] = sub
	r.mu.Unlock()

	r.channels.adjustSubscribers(channelID, 1)
	return sub.ID, nil
}

// Unsubscribe deactivates a subscription. It is idempotent: the first call
// returns true, repeats and unknown ids return false.
func (r *SubscriptionRegistry) Unsubscribe(id string) bool {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if !ok || !sub.IsActive {
		r.mu.Unlock()
		return false
	}
	sub.IsActive = false
	channelID := sub.ChannelID
	r.mu.Unlock()

	r.channels.adjustSubscribers(channelID, -1)
	return true
}

// Get returns a copy of the subscription, or nil if unknown.
func (r *SubscriptionRegistry) Get(id string) *Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[id]
	if !ok {
		return nil
	}
	return copySubscription(sub)
}

// ListUser returns copies of the user's active subscriptions.
func (r *SubscriptionRegistry) ListUser(userID string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Subscription, 0)
	for _, sub := range r.subs {
		if sub.UserID == userID && sub.IsActive {
			result = append(result, copySubscription(sub))
		}
	}
	return result
}

// ActiveCount returns the number of active subscriptions.
func (r *SubscriptionRegistry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, sub := range r.subs {
		if sub.IsActive {
			count++
		}
	}
	return count
}

// activeForChannels returns copies of every active subscription whose channel
// is in the target set.
func (r *SubscriptionRegistry) activeForChannels(channelIDs []string) []*Subscription {
	targets := make(map[string]bool, len(channelIDs))
	for _, id := range channelIDs {
		targets[id] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Subscription, 0)
	for _, sub := range r.subs {
		if sub.IsActive && targets[sub.ChannelID] {
			result = append(result, copySubscription(sub))
		}
	}
	return result
}

// touch refreshes LastActivity after a delivery attempt. Staleness
// diagnostics only; nothing evicts on it.
func (r *SubscriptionRegistry) touch(ids []string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		if sub, ok := r.subs[id]; ok {
			sub.LastActivity = t
		}
	}
}

func copySubscription(sub *Subscription) *Subscription {
	c := *sub
	c.Filters = make([]Filter, len(sub.Filters))
	copy(c.Filters, sub.Filters)
	return &c
}
