package clients

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"go-relayer/internal/config"
	"go-relayer/internal/metrics"
	"go-relayer/internal/types"

	"github.com/nats-io/nats.go"
)

// EventPublisher publishes relay outcome events
type EventPublisher interface {
	PublishRelayEvent(event *types.RelayEvent) error
	Close()
}

// NATSClient NATS client publishing relay outcomes on <prefix>.<operation>.<outcome>
type NATSClient struct {
	conn          *nats.Conn
	subjectPrefix string
}

// NewNATSClient connects to the NATS server
func NewNATSClient(cfg config.NATSConfig) (*NATSClient, error) {
	connectTimeout := 10 * time.Second // 默认 10 秒
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	log.Printf("🔌 Using NATS timeout: %v", connectTimeout)

	conn, err := nats.Connect(cfg.URL,
		nats.Name("go-relayer"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("⚠️ NATS disconnected: %v", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("✅ NATS reconnected to %s", nc.ConnectedUrl())
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = config.DefaultNATSSubjectPrefix
	}

	log.Printf("✅ NATS connected: %s", conn.ConnectedUrl())
	return &NATSClient{conn: conn, subjectPrefix: prefix}, nil
}

// Subject returns the subject an event is published on
func (c *NATSClient) Subject(event *types.RelayEvent) string {
	return RelayEventSubject(c.subjectPrefix, event)
}

// PublishRelayEvent publishes event as JSON
func (c *NATSClient) PublishRelayEvent(event *types.RelayEvent) error {
	subject := c.Subject(event)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode relay event: %w", err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		metrics.EventsPublishFailed.WithLabelValues(subject).Inc()
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection
func (c *NATSClient) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		log.Printf("⚠️ NATS drain failed: %v", err)
		c.conn.Close()
	}
	metrics.NATSConnectionStatus.Set(0)
}

// RelayEventSubject builds <prefix>.<operation>.<outcome>
func RelayEventSubject(prefix string, event *types.RelayEvent) string {
	return fmt.Sprintf("%s.%s.%s", prefix, event.Operation, event.Outcome)
}

// NoopPublisher drops events, used when NATS is not configured
type NoopPublisher struct{}

func (NoopPublisher) PublishRelayEvent(*types.RelayEvent) error { return nil }

func (NoopPublisher) Close() {}
