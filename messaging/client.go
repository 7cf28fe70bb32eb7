// Package messaging carries change hints between devices of one tenant over
// MQTT or Kafka. Hints only shorten the time until the next cycle; the
// remote snapshot stays the source of truth.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"ledgersync/config"
	"ledgersync/protocol"
)

// ErrNotConnected is returned when publishing before Connect succeeded.
var ErrNotConnected = errors.New("messaging not connected")

// transport is one broker connection.
type transport interface {
	publish(ctx context.Context, topic, key string, payload []byte) error
	subscribe(topic string, handler func(payload []byte)) error
	connected() bool
	close()
}

// Client is the unified messaging client (MQTT or Kafka).
type Client struct {
	mu  sync.RWMutex
	cfg *config.MessagingConfig
	log *slog.Logger
	tr  transport
}

// NewClient creates a messaging client based on config.
func NewClient(cfg *config.MessagingConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, log: logger}
}

// Connect dials the configured broker. Calling it again after success is a
// no-op.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr != nil {
		return nil
	}

	var (
		tr  transport
		err error
	)
	switch c.cfg.Backend {
	case "mqtt":
		tr, err = dialMQTT(&c.cfg.MQTT, c.log)
	case "kafka":
		tr, err = dialKafka(&c.cfg.Kafka, kafkaGroup(c.cfg), c.log)
	default:
		err = fmt.Errorf("unknown messaging backend: %q", c.cfg.Backend)
	}
	if err != nil {
		return err
	}
	c.tr = tr
	return nil
}

// kafkaGroup gives every device its own consumer group, since each device
// must see every hint.
func kafkaGroup(cfg *config.MessagingConfig) string {
	if cfg.MQTT.ClientID == "" {
		return cfg.Kafka.GroupID
	}
	return cfg.Kafka.GroupID + "-" + cfg.MQTT.ClientID
}

// TenantTopic is the topic hints for tenant are published on. Kafka carries
// every tenant on one topic keyed by tenant; MQTT uses a topic per tenant.
func (c *Client) TenantTopic(tenant string) string {
	if c.cfg.Backend == "kafka" {
		return kafkaTopic(c.cfg.TopicPrefix)
	}
	return c.cfg.TopicPrefix + "/" + tenant
}

func (c *Client) allTenantsTopic() string {
	if c.cfg.Backend == "kafka" {
		return kafkaTopic(c.cfg.TopicPrefix)
	}
	return c.cfg.TopicPrefix + "/+"
}

func kafkaTopic(prefix string) string {
	return strings.NewReplacer("/", ".", "+", "_", "#", "_").Replace(prefix)
}

func (c *Client) conn() (transport, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.tr == nil {
		return nil, fmt.Errorf("%s: %w", c.cfg.Backend, ErrNotConnected)
	}
	return c.tr, nil
}

// Publish sends payload to topic. key partitions Kafka messages and is
// ignored by MQTT.
func (c *Client) Publish(ctx context.Context, topic, key string, payload []byte) error {
	tr, err := c.conn()
	if err != nil {
		return err
	}
	return tr.publish(ctx, topic, key, payload)
}

// PublishEnvelope encodes env and publishes it on the topic of its
// destination tenant.
func (c *Client) PublishEnvelope(ctx context.Context, env *protocol.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return c.Publish(ctx, c.TenantTopic(env.Dst.Tenant), env.Dst.Tenant, data)
}

// SubscribeTenants registers handler for hints of every tenant under the
// topic prefix. Filtering by tenant is left to the handler. The
// subscription survives broker reconnects.
func (c *Client) SubscribeTenants(handler func(payload []byte)) error {
	tr, err := c.conn()
	if err != nil {
		return err
	}
	return tr.subscribe(c.allTenantsTopic(), handler)
}

// IsConnected returns whether the messaging client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tr != nil && c.tr.connected()
}

// Close shuts down the messaging connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr != nil {
		c.tr.close()
		c.tr = nil
	}
}
