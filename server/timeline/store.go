package timeline

import (
	"sync"
	"time"
)

// DispatchRecord is one channel-group delivery as seen by the dispatch loop.
type DispatchRecord struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	ChannelID string    `json:"channel_id"`
	Priority  string    `json:"priority"`
	Matched   int       `json:"matched"`
	Delivered int       `json:"delivered"`
	Timestamp time.Time `json:"timestamp"`
}

// Store keeps the most recent dispatch records in a fixed-capacity ring for
// debug introspection.
type Store struct {
	mu      sync.RWMutex
	records []DispatchRecord
	next    int
	full    bool
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 256
	}
	return &Store{records: make([]DispatchRecord, capacity)}
}

func (s *Store) Record(r DispatchRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	s.records[s.next] = r
	s.next++
	if s.next == len(s.records) {
		s.next = 0
		s.full = true
	}
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(limit int) []DispatchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.sizeLocked()
	if limit <= 0 || limit > size {
		limit = size
	}
	result := make([]DispatchRecord, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (s.next - 1 - i + len(s.records)) % len(s.records)
		result = append(result, s.records[idx])
	}
	return result
}

// ByChannel returns up to limit records for one channel, newest first.
func (s *Store) ByChannel(channelID string, limit int) []DispatchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.sizeLocked()
	if limit <= 0 {
		limit = size
	}
	result := make([]DispatchRecord, 0)
	for i := 0; i < size && len(result) < limit; i++ {
		idx := (s.next - 1 - i + len(s.records)) % len(s.records)
		if s.records[idx].ChannelID == channelID {
			result = append(result, s.records[idx])
		}
	}
	return result
}

func (s *Store) sizeLocked() int {
	if s.full {
		return len(s.records)
	}
	return s.next
}
