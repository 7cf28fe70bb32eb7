package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"ledgersync/config"
)

const mqttWait = 10 * time.Second

type mqttTransport struct {
	conn mqtt.Client
	log  *slog.Logger

	mu   sync.Mutex
	subs map[string]func([]byte)
}

func dialMQTT(cfg *config.MQTTConfig, logger *slog.Logger) (*mqttTransport, error) {
	t := &mqttTransport{log: logger, subs: make(map[string]func([]byte))}
	broker := fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("messaging: mqtt connection lost", "err", err)
		})

	t.conn = mqtt.NewClient(opts)
	token := t.conn.Connect()
	if !token.WaitTimeout(mqttWait) {
		// SetConnectRetry keeps trying in the background.
		logger.Warn("messaging: mqtt connect pending", "broker", broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	return t, nil
}

// onConnect restores subscriptions; a clean session loses them on every
// reconnect.
func (t *mqttTransport) onConnect(cl mqtt.Client) {
	t.mu.Lock()
	subs := maps.Clone(t.subs)
	t.mu.Unlock()
	for topic, h := range subs {
		token := cl.Subscribe(topic, 1, deliver(h))
		go func(topic string) {
			if token.WaitTimeout(mqttWait) && token.Error() != nil {
				t.log.Warn("messaging: mqtt resubscribe", "topic", topic, "err", token.Error())
			}
		}(topic)
	}
	t.log.Info("messaging: mqtt connected", "subscriptions", len(subs))
}

func deliver(h func([]byte)) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) { h(msg.Payload()) }
}

func (t *mqttTransport) publish(ctx context.Context, topic, _ string, payload []byte) error {
	if !t.conn.IsConnected() {
		return fmt.Errorf("mqtt: %w", ErrNotConnected)
	}
	token := t.conn.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// subscribe records the subscription so onConnect can restore it. While
// disconnected it only records; the next connect subscribes.
func (t *mqttTransport) subscribe(topic string, h func([]byte)) error {
	t.mu.Lock()
	t.subs[topic] = h
	t.mu.Unlock()
	if !t.conn.IsConnected() {
		return nil
	}
	token := t.conn.Subscribe(topic, 1, deliver(h))
	if !token.WaitTimeout(mqttWait) {
		return fmt.Errorf("mqtt subscribe %s: timed out", topic)
	}
	return token.Error()
}

func (t *mqttTransport) connected() bool { return t.conn.IsConnected() }

func (t *mqttTransport) close() { t.conn.Disconnect(1000) }
