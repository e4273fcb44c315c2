package timeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(i int, channel string) DispatchRecord {
	return DispatchRecord{
		EventID:   fmt.Sprintf("ev-%d", i),
		ChannelID: channel,
		Timestamp: time.Unix(int64(i), 0),
	}
}

func TestRecentNewestFirst(t *testing.T) {
	s := NewStore(8)
	for i := 0; i < 5; i++ {
		s.Record(record(i, "gcc_markets"))
	}

	recent := s.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "ev-4", recent[0].EventID)
	assert.Equal(t, "ev-3", recent[1].EventID)
	assert.Equal(t, "ev-2", recent[2].EventID)

	assert.Len(t, s.Recent(0), 5, "non-positive limit returns everything")
	assert.Len(t, s.Recent(100), 5)
}

func TestRingWrapDiscardsOldest(t *testing.T) {
	s := NewStore(4)
	for i := 0; i < 10; i++ {
		s.Record(record(i, "gcc_markets"))
	}

	recent := s.Recent(0)
	require.Len(t, recent, 4)
	assert.Equal(t, "ev-9", recent[0].EventID)
	assert.Equal(t, "ev-6", recent[3].EventID)
}

func TestByChannel(t *testing.T) {
	s := NewStore(16)
	for i := 0; i < 6; i++ {
		ch := "gcc_markets"
		if i%2 == 1 {
			ch = "shipping_logistics"
		}
		s.Record(record(i, ch))
	}

	shipping := s.ByChannel("shipping_logistics", 0)
	require.Len(t, shipping, 3)
	assert.Equal(t, "ev-5", shipping[0].EventID)
	assert.Equal(t, "ev-1", shipping[2].EventID)

	assert.Len(t, s.ByChannel("shipping_logistics", 2), 2)
	assert.Empty(t, s.ByChannel("nonexistent", 0))
}

func TestRecordFillsTimestamp(t *testing.T) {
	s := NewStore(4)
	s.Record(DispatchRecord{EventID: "ev-1", ChannelID: "gcc_markets"})

	recent := s.Recent(1)
	require.Len(t, recent, 1)
	assert.False(t, recent[0].Timestamp.IsZero())
}

func TestEmptyStore(t *testing.T) {
	s := NewStore(4)
	assert.Empty(t, s.Recent(10))
	assert.Empty(t, s.ByChannel("gcc_markets", 10))
}
