// Package natsserver provides an embedded NATS server that carries realtime
// broadcasts between API replicas when no external NATS is configured.
package natsserver

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// EmbeddedNATS wraps an embedded NATS server with a client connection
type EmbeddedNATS struct {
	server    *server.Server
	conn      *nats.Conn
	published uint64
	failed    uint64
}

// Config holds configuration for the embedded NATS server
type Config struct {
	Host            string
	Port            int   // server.RANDOM_PORT picks a free port
	MaxPayload      int32 // Max message size in bytes
	MaxPendingBytes int64 // Max pending bytes per slow consumer
}

// DefaultConfig returns sensible defaults for event relaying
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            4233,
		MaxPayload:      1024 * 1024,      // events are small JSON documents
		MaxPendingBytes: 64 * 1024 * 1024, // 64MB pending per subscriber
	}
}

// New creates and starts an embedded NATS server
func New(cfg Config) (*EmbeddedNATS, error) {
	defaults := DefaultConfig()
	if cfg.Host == "" {
		cfg.Host = defaults.Host
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = defaults.MaxPayload
	}
	if cfg.MaxPendingBytes <= 0 {
		cfg.MaxPendingBytes = defaults.MaxPendingBytes
	}

	opts := &server.Options{
		Host:          cfg.Host,
		Port:          cfg.Port,
		NoLog:         true,
		NoSigs:        true,
		MaxPayload:    cfg.MaxPayload,
		WriteDeadline: 10 * time.Second,
		// Memory protection: disconnect slow consumers
		MaxPending: cfg.MaxPendingBytes,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 5 seconds")
	}

	// Internal client connection used by the relay
	nc, err := nats.Connect(
		ns.ClientURL(),
		nats.Name("trafficguard-internal"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	log.Printf("📡 Embedded NATS server started at %s", ns.ClientURL())

	return &EmbeddedNATS{server: ns, conn: nc}, nil
}

// Publish publishes a message to a subject
func (e *EmbeddedNATS) Publish(subject string, data []byte) error {
	if err := e.conn.Publish(subject, data); err != nil {
		atomic.AddUint64(&e.failed, 1)
		return err
	}
	atomic.AddUint64(&e.published, 1)
	return nil
}

// Conn returns the underlying NATS connection
func (e *EmbeddedNATS) Conn() *nats.Conn {
	return e.conn
}

// Address returns the NATS client URL
func (e *EmbeddedNATS) Address() string {
	return e.server.ClientURL()
}

// Stats holds NATS server statistics
type Stats struct {
	Clients       int    `json:"clients"`
	Subscriptions uint32 `json:"subscriptions"`
	Published     uint64 `json:"published"`
	Failed        uint64 `json:"failed"`
	InMsgs        int64  `json:"inMsgs"`
	OutMsgs       int64  `json:"outMsgs"`
	SlowConsumers int64  `json:"slowConsumers"`
}

// GetStats returns current server statistics
func (e *EmbeddedNATS) GetStats() Stats {
	varz, _ := e.server.Varz(nil)
	stats := Stats{
		Clients:       e.server.NumClients(),
		Subscriptions: e.server.NumSubscriptions(),
		Published:     atomic.LoadUint64(&e.published),
		Failed:        atomic.LoadUint64(&e.failed),
	}
	if varz != nil {
		stats.InMsgs = varz.InMsgs
		stats.OutMsgs = varz.OutMsgs
		stats.SlowConsumers = varz.SlowConsumers
	}
	return stats
}

// Shutdown gracefully shuts down the NATS server
func (e *EmbeddedNATS) Shutdown() {
	if e.conn != nil {
		e.conn.Close()
	}
	if e.server != nil {
		e.server.Shutdown()
	}
	log.Println("📡 NATS server shut down")
}
