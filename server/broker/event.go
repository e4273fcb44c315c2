package broker

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the business meaning of an event. The set is closed:
// Emit rejects anything outside it.
type EventType string

const (
	EventMarketUpdate       EventType = "market_update"
	EventWeatherAlert       EventType = "weather_alert"
	EventAIInsight          EventType = "ai_insight"
	EventOrderStatus        EventType = "order_status"
	EventInventoryChange    EventType = "inventory_change"
	EventPaymentStatus      EventType = "payment_status"
	EventShippingUpdate     EventType = "shipping_update"
	EventComplianceAlert    EventType = "compliance_alert"
	EventSystemNotification EventType = "system_notification"
)

var eventTypes = map[EventType]bool{
	EventMarketUpdate:       true,
	EventWeatherAlert:       true,
	EventAIInsight:          true,
	EventOrderStatus:        true,
	EventInventoryChange:    true,
	EventPaymentStatus:      true,
	EventShippingUpdate:     true,
	EventComplianceAlert:    true,
	EventSystemNotification: true,
}

// Valid reports whether t is a recognized event type.
func (t EventType) Valid() bool {
	return eventTypes[t]
}

// Priority orders events for dispatch. Higher values dispatch first.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority maps the wire form to a Priority. The empty string maps to
// PriorityMedium, matching the Emit default.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "medium", "":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// MarshalJSON renders priorities as their string form on the wire.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Event is the immutable envelope handed to subscribers. ID and Timestamp are
// assigned at ingestion; nothing mutates an Event once it is queued.
type Event struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	Payload        map[string]any `json:"payload,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Source         string         `json:"source"`
	TargetChannels []string       `json:"target_channels"`
	Priority       Priority       `json:"priority"`
}

// EmitInput is what a producer supplies; the broker fills in identity and
// ingestion time.
type EmitInput struct {
	Type           EventType      `json:"type"`
	Payload        map[string]any `json:"payload,omitempty"`
	Source         string         `json:"source"`
	TargetChannels []string       `json:"target_channels"`
	Priority       Priority       `json:"priority,omitempty"`
}

func (in *EmitInput) validate() error {
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unrecognized event type %q", ErrInvalidEvent, in.Type)
	}
	if len(in.TargetChannels) == 0 {
		return fmt.Errorf("%w: target_channels must not be empty", ErrInvalidEvent)
	}
	if in.Priority != 0 && !in.Priority.Valid() {
		return fmt.Errorf("%w: invalid priority %d", ErrInvalidEvent, in.Priority)
	}
	return nil
}
