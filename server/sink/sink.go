// Package sink holds archive consumers: external stores that subscribe to
// the broker like any other consumer. The broker itself stays transient;
// anything durable lives behind this interface.
package sink

import (
	"context"
	"encoding/json"
	"log"

	"github.com/ymazrouei/souqstream/server/broker"
)

// Sink archives delivered events. Failures are absorbed by the broker and
// never reach the producer.
type Sink interface {
	Name() string
	Archive(ctx context.Context, channelID string, ev *broker.Event) error
	Close() error
}

// LogSink writes archived events to the process log. Default backend when no
// durable store is configured.
type LogSink struct {
	logger *log.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{logger: log.Default()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Archive(_ context.Context, channelID string, ev *broker.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.logger.Printf("[ARCHIVE] %s: %s", channelID, string(data))
	return nil
}

func (s *LogSink) Close() error {
	return nil
}
