package broker

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistries(t *testing.T) (*ChannelRegistry, *SubscriptionRegistry) {
	t.Helper()
	channels := NewChannelRegistry()
	for _, ch := range DefaultCatalog() {
		require.NoError(t, channels.Register(ch))
	}
	return channels, NewSubscriptionRegistry(channels)
}

func TestSubscribeUnknownChannel(t *testing.T) {
	_, subs := newTestRegistries(t)

	_, err := subs.Subscribe("user-1", "nonexistent", nil)
	assert.ErrorIs(t, err, ErrChannelNotFound)
	assert.Equal(t, 0, subs.ActiveCount())
}

func TestSubscribeAndGet(t *testing.T) {
	channels, subs := newTestRegistries(t)

	filters := []Filter{{Field: "country", Operator: OpEquals, Value: "SA"}}
	id, err := subs.Subscribe("user-1", "gcc_markets", filters)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sub := subs.Get(id)
	require.NotNil(t, sub)
	assert.Equal(t, "user-1", sub.UserID)
	assert.Equal(t, "gcc_markets", sub.ChannelID)
	assert.True(t, sub.IsActive)
	assert.Equal(t, filters, sub.Filters)
	assert.False(t, sub.CreatedAt.IsZero())

	ch, err := channels.Get("gcc_markets")
	require.NoError(t, err)
	assert.Equal(t, 1, ch.SubscriberCount)

	assert.Nil(t, subs.Get("unknown-id"))
}

func TestUnsubscribeIdempotent(t *testing.T) {
	channels, subs := newTestRegistries(t)

	id, err := subs.Subscribe("user-1", "gcc_markets", nil)
	require.NoError(t, err)

	assert.True(t, subs.Unsubscribe(id), "first call releases")
	assert.False(t, subs.Unsubscribe(id), "repeat is a no-op")
	assert.False(t, subs.Unsubscribe("unknown-id"))

	// deactivated, not deleted
	sub := subs.Get(id)
	require.NotNil(t, sub)
	assert.False(t, sub.IsActive)

	ch, err := channels.Get("gcc_markets")
	require.NoError(t, err)
	assert.Equal(t, 0, ch.SubscriberCount, "count must not go negative on repeats")
}

func TestListUserActiveOnly(t *testing.T) {
	_, subs := newTestRegistries(t)

	id1, err := subs.Subscribe("user-1", "gcc_markets", nil)
	require.NoError(t, err)
	_, err = subs.Subscribe("user-1", "construction_weather", nil)
	require.NoError(t, err)
	_, err = subs.Subscribe("user-2", "gcc_markets", nil)
	require.NoError(t, err)

	assert.Len(t, subs.ListUser("user-1"), 2)

	subs.Unsubscribe(id1)
	listed := subs.ListUser("user-1")
	require.Len(t, listed, 1)
	assert.Equal(t, "construction_weather", listed[0].ChannelID)

	assert.Empty(t, subs.ListUser("user-3"))
}

func TestSubscriberCountTracksActiveSubscriptions(t *testing.T) {
	channels, subs := newTestRegistries(t)

	var ids []string
	for i := 0; i < 20; i++ {
		id, err := subs.Subscribe(fmt.Sprintf("user-%d", i%5), "shipping_logistics", nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i := 0; i < 20; i += 2 {
		subs.Unsubscribe(ids[i])
	}
	subs.Unsubscribe(ids[0]) // repeat must not double-decrement

	ch, err := channels.Get("shipping_logistics")
	require.NoError(t, err)
	assert.Equal(t, 10, ch.SubscriberCount)
	assert.Equal(t, 10, subs.ActiveCount())
}

func TestSubscriberCountInvariantRandomSequence(t *testing.T) {
	channels, subs := newTestRegistries(t)

	channelIDs := []string{"gcc_markets", "construction_weather", "ai_insights", "shipping_logistics"}
	rng := rand.New(rand.NewSource(7))

	type liveSub struct{ id, channel string }
	byChannel := make(map[string]int)
	var live []liveSub

	for i := 0; i < 1000; i++ {
		if len(live) == 0 || rng.Intn(3) > 0 {
			ch := channelIDs[rng.Intn(len(channelIDs))]
			id, err := subs.Subscribe(fmt.Sprintf("user-%d", rng.Intn(10)), ch, nil)
			require.NoError(t, err)
			live = append(live, liveSub{id: id, channel: ch})
			byChannel[ch]++
		} else {
			idx := rng.Intn(len(live))
			entry := live[idx]
			require.True(t, subs.Unsubscribe(entry.id))
			if rng.Intn(4) == 0 {
				require.False(t, subs.Unsubscribe(entry.id), "repeat release must not double-decrement")
			}
			byChannel[entry.channel]--
			live = append(live[:idx], live[idx+1:]...)
		}
	}

	for _, id := range channelIDs {
		ch, err := channels.Get(id)
		require.NoError(t, err)
		assert.Equal(t, byChannel[id], ch.SubscriberCount, "channel %s", id)
	}
	assert.Equal(t, len(live), subs.ActiveCount())
}

func TestActiveForChannels(t *testing.T) {
	_, subs := newTestRegistries(t)

	id1, err := subs.Subscribe("user-1", "gcc_markets", nil)
	require.NoError(t, err)
	_, err = subs.Subscribe("user-2", "gcc_markets", nil)
	require.NoError(t, err)
	_, err = subs.Subscribe("user-1", "construction_weather", nil)
	require.NoError(t, err)

	matched := subs.activeForChannels([]string{"gcc_markets"})
	assert.Len(t, matched, 2)

	matched = subs.activeForChannels([]string{"gcc_markets", "construction_weather"})
	assert.Len(t, matched, 3)

	subs.Unsubscribe(id1)
	matched = subs.activeForChannels([]string{"gcc_markets"})
	require.Len(t, matched, 1)
	assert.Equal(t, "user-2", matched[0].UserID)

	assert.Empty(t, subs.activeForChannels([]string{"ai_insights"}))
}
