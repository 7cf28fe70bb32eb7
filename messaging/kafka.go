package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"ledgersync/config"
)

const (
	kafkaRetryMin = time.Second
	kafkaRetryMax = 30 * time.Second
)

type kafkaTransport struct {
	brokers []string
	groupID string
	log     *slog.Logger
	w       *kafkago.Writer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	readers []*kafkago.Reader
}

func dialKafka(cfg *config.KafkaConfig, groupID string, logger *slog.Logger) (*kafkaTransport, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &kafkaTransport{
		brokers: cfg.Brokers,
		groupID: groupID,
		log:     logger,
		w: &kafkago.Writer{
			Addr:                   kafkago.TCP(cfg.Brokers...),
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireOne,
			AllowAutoTopicCreation: true,
		},
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (t *kafkaTransport) publish(ctx context.Context, topic, key string, payload []byte) error {
	return t.w.WriteMessages(ctx, kafkago.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	})
}

func (t *kafkaTransport) subscribe(topic string, h func([]byte)) error {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers: t.brokers,
		Topic:   topic,
		GroupID: t.groupID,
		MaxWait: time.Second,
	})
	t.mu.Lock()
	t.readers = append(t.readers, r)
	t.mu.Unlock()

	t.wg.Add(1)
	go t.readLoop(r, h)
	return nil
}

// readLoop delivers messages until the transport closes. Read errors back
// off exponentially instead of ending the subscription.
func (t *kafkaTransport) readLoop(r *kafkago.Reader, h func([]byte)) {
	defer t.wg.Done()
	backoff := kafkaRetryMin
	for {
		msg, err := r.ReadMessage(t.ctx)
		if err == nil {
			backoff = kafkaRetryMin
			h(msg.Value)
			continue
		}
		if t.ctx.Err() != nil {
			return
		}
		t.log.Warn("messaging: kafka read", "topic", r.Config().Topic, "retry", backoff, "err", err)
		select {
		case <-t.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, kafkaRetryMax)
	}
}

// connected reports true once the writer exists; kafka-go dials lazily.
func (t *kafkaTransport) connected() bool { return true }

func (t *kafkaTransport) close() {
	t.cancel()
	t.mu.Lock()
	readers := t.readers
	t.readers = nil
	t.mu.Unlock()
	for _, r := range readers {
		r.Close()
	}
	t.wg.Wait()
	t.w.Close()
}
