package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelRegistryRegisterAndGet(t *testing.T) {
	reg := NewChannelRegistry()
	require.NoError(t, reg.Register(&Channel{ID: "gcc_markets", Name: "GCC Market Updates"}))

	ch, err := reg.Get("gcc_markets")
	require.NoError(t, err)
	assert.Equal(t, "GCC Market Updates", ch.Name)
	assert.Equal(t, 0, ch.SubscriberCount)

	_, err = reg.Get("nonexistent")
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestChannelRegistryDuplicate(t *testing.T) {
	reg := NewChannelRegistry()
	require.NoError(t, reg.Register(&Channel{ID: "gcc_markets"}))

	err := reg.Register(&Channel{ID: "gcc_markets"})
	assert.ErrorIs(t, err, ErrDuplicateChannel)
	assert.Equal(t, 1, reg.Count())
}

func TestChannelRegistryRejectsEmptyID(t *testing.T) {
	reg := NewChannelRegistry()
	assert.Error(t, reg.Register(&Channel{Name: "anonymous"}))
}

func TestChannelRegistryListIsSnapshot(t *testing.T) {
	reg := NewChannelRegistry()
	require.NoError(t, reg.Register(&Channel{ID: "b_channel"}))
	require.NoError(t, reg.Register(&Channel{ID: "a_channel"}))

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a_channel", list[0].ID, "ordered by id")

	// mutating the snapshot must not leak into the registry
	list[0].Name = "mutated"
	ch, err := reg.Get("a_channel")
	require.NoError(t, err)
	assert.Empty(t, ch.Name)
}

func TestChannelRegistryFilterIsolation(t *testing.T) {
	reg := NewChannelRegistry()
	src := &Channel{
		ID:      "ai_insights",
		Filters: []Filter{{Field: "confidence", Operator: OpGreaterThan, Value: 0.5}},
	}
	require.NoError(t, reg.Register(src))

	// mutating the caller's channel after Register must not affect the catalog
	src.Filters[0].Value = 0.99
	ch, err := reg.Get("ai_insights")
	require.NoError(t, err)
	assert.Equal(t, 0.5, ch.Filters[0].Value)
}

func TestDefaultCatalog(t *testing.T) {
	reg := NewChannelRegistry()
	for _, ch := range DefaultCatalog() {
		require.NoError(t, reg.Register(ch))
	}
	assert.Equal(t, 7, reg.Count())

	order, err := reg.Get("order_management")
	require.NoError(t, err)
	assert.True(t, order.IsPrivate)

	inventory, err := reg.Get("inventory_tracking")
	require.NoError(t, err)
	assert.True(t, inventory.IsPrivate)

	// ai_insights gates on model confidence at the channel level
	ai, err := reg.Get("ai_insights")
	require.NoError(t, err)
	require.Len(t, ai.Filters, 1)
	assert.Equal(t, OpGreaterThan, ai.Filters[0].Operator)

	// compliance only carries high and critical traffic
	ev := testEvent(nil)
	ev.Priority = PriorityLow
	compliance, err := reg.Get("compliance_monitoring")
	require.NoError(t, err)
	assert.False(t, MatchAll(compliance.Filters, ev))
	ev.Priority = PriorityCritical
	assert.True(t, MatchAll(compliance.Filters, ev))
}
