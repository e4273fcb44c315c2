package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ymazrouei/souqstream/server/broker"
	"github.com/ymazrouei/souqstream/server/connection"
	"github.com/ymazrouei/souqstream/server/sink"
)

// Config holds the server configuration, loaded from the environment.
type Config struct {
	ListenAddr string

	DispatchInterval time.Duration
	BatchSize        int
	MaxQueue         int
	SourceRate       float64
	SourceBurst      int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SendBuffer        int

	ArchiveBackend string // log, redis, postgres, none
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	DatabaseURL    string
}

func loadConfig() Config {
	cfg := Config{
		ListenAddr:        ":8080",
		DispatchInterval:  1 * time.Second,
		BatchSize:         10,
		MaxQueue:          10000,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  60 * time.Second,
		SendBuffer:        64,
		ArchiveBackend:    "log",
		RedisAddr:         "localhost:6379",
	}

	if v := os.Getenv("SOUQSTREAM_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("SOUQSTREAM_DISPATCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.DispatchInterval = d
		}
	}
	if v := os.Getenv("SOUQSTREAM_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("SOUQSTREAM_MAX_QUEUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxQueue = n
		}
	}
	if v := os.Getenv("SOUQSTREAM_SOURCE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.SourceRate = f
			cfg.SourceBurst = int(f)
		}
	}
	if v := os.Getenv("SOUQSTREAM_SOURCE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SourceBurst = n
		}
	}
	if v := os.Getenv("SOUQSTREAM_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("SOUQSTREAM_HEARTBEAT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.HeartbeatTimeout = d
		}
	}
	if v := os.Getenv("SOUQSTREAM_SEND_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SendBuffer = n
		}
	}
	if v := os.Getenv("SOUQSTREAM_ARCHIVE"); v != "" {
		cfg.ArchiveBackend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	return cfg
}

// newArchiveSink selects the archive backend. The broker stays transient
// either way; a sink is just another consumer.
func newArchiveSink(ctx context.Context, cfg Config) (sink.Sink, error) {
	switch cfg.ArchiveBackend {
	case "redis":
		return sink.NewRedisSink(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "postgres":
		return sink.NewPostgresSink(ctx, cfg.DatabaseURL)
	case "none":
		return nil, nil
	default:
		return sink.NewLogSink(), nil
	}
}

func main() {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The broker is constructed here and passed by reference everywhere;
	// there is no ambient singleton.
	channels := broker.NewChannelRegistry()
	for _, ch := range broker.DefaultCatalog() {
		if err := channels.Register(ch); err != nil {
			log.Fatalf("Failed to register startup channel %s: %v", ch.ID, err)
		}
	}
	subs := broker.NewSubscriptionRegistry(channels)
	manager := connection.NewManager(subs, cfg.SendBuffer)

	b := broker.New(broker.Config{
		DispatchInterval: cfg.DispatchInterval,
		BatchSize:        cfg.BatchSize,
		MaxQueue:         cfg.MaxQueue,
		SourceRate:       cfg.SourceRate,
		SourceBurst:      cfg.SourceBurst,
	}, channels, subs, manager)

	archive, err := newArchiveSink(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize %s archive sink: %v", cfg.ArchiveBackend, err)
	}
	if archive != nil {
		b.AddArchiver(archive)
		log.Printf("Archiving delivered events to %s", archive.Name())
	}

	monitor := connection.NewMonitor(manager, cfg.HeartbeatInterval, cfg.HeartbeatTimeout)

	b.Start(ctx)
	monitor.Start(ctx)

	api := NewAPI(b, manager)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.Routes(),
	}

	go func() {
		log.Printf("souqstream event core listening on %s (dispatch=%v batch=%d heartbeat=%v/%v)",
			cfg.ListenAddr, cfg.DispatchInterval, cfg.BatchSize, cfg.HeartbeatInterval, cfg.HeartbeatTimeout)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}

	monitor.Stop()
	b.Stop()
	manager.Shutdown()
	if archive != nil {
		if err := archive.Close(); err != nil {
			log.Printf("Archive sink close error: %v", err)
		}
	}
	log.Println("Shutdown complete")
}
