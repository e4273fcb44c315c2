package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ymazrouei/souqstream/server/broker"
)

// PostgresSink archives delivered events into an events table:
//
//	CREATE TABLE events (
//	    event_id    TEXT NOT NULL,
//	    channel_id  TEXT NOT NULL,
//	    event_type  TEXT NOT NULL,
//	    source      TEXT NOT NULL,
//	    priority    TEXT NOT NULL,
//	    payload     JSONB,
//	    emitted_at  TIMESTAMPTZ NOT NULL,
//	    archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    PRIMARY KEY (event_id, channel_id)
//	);
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(ctx context.Context, connString string) (*PostgresSink, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 10
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Archive(ctx context.Context, channelID string, ev *broker.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO events (event_id, channel_id, event_type, source, priority, payload, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id, channel_id) DO NOTHING
	`
	_, err = s.pool.Exec(ctx, query,
		ev.ID, channelID, string(ev.Type), ev.Source, ev.Priority.String(), payload, ev.Timestamp,
	)
	return err
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
