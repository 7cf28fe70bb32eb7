package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ledgersync/engine"
	"ledgersync/protocol"
)

// Publisher sends an envelope to its destination tenant's topic.
type Publisher interface {
	PublishEnvelope(ctx context.Context, env *protocol.Envelope) error
}

const (
	notifierQueueSize = 64
	publishTimeout    = 10 * time.Second
)

// Notifier turns engine events into protocol envelopes for the other
// devices of the tenant. Publishing happens on its own goroutine so a slow
// broker never stalls a sync cycle; when the queue is full new messages are
// dropped.
type Notifier struct {
	pub      Publisher
	bus      *engine.EventBus
	deviceID string
	tenant   func() string
	log      *slog.Logger

	queue    chan *protocol.Envelope
	subID    engine.SubscriberID
	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewNotifier creates a notifier. tenant returns the active tenant key.
func NewNotifier(pub Publisher, bus *engine.EventBus, deviceID string, tenant func() string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		pub:      pub,
		bus:      bus,
		deviceID: deviceID,
		tenant:   tenant,
		log:      logger,
		queue:    make(chan *protocol.Envelope, notifierQueueSize),
		stopChan: make(chan struct{}),
	}
}

// Start subscribes to the bus and begins publishing.
func (n *Notifier) Start() {
	n.subID = n.bus.SubscribeTypes(n.handleEvent,
		engine.EventSyncCompleted, engine.EventDataRestored, engine.EventConnectivityChanged)
	n.wg.Add(1)
	go n.publishLoop()
}

// Stop unsubscribes and waits for queued messages in flight to finish.
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() {
		n.bus.Unsubscribe(n.subID)
		close(n.stopChan)
	})
	n.wg.Wait()
}

func (n *Notifier) handleEvent(evt engine.Event) {
	switch p := evt.Payload.(type) {
	case engine.SyncResultEvent:
		if p.Skipped() || p.TenantKey == "" {
			return
		}
		if p.Upload != nil && p.Upload.Pushed {
			n.enqueue(p.TenantKey, protocol.TypeSnapshotUploaded, &protocol.SnapshotUploaded{
				TenantKey:         p.TenantKey,
				DeviceID:          n.deviceID,
				DataCount:         p.Upload.DataCount,
				LastSyncTimestamp: p.Upload.RemoteTimestamp,
			})
		}
		n.enqueue(p.TenantKey, protocol.TypeSyncStatus, &protocol.SyncStatus{
			TenantKey:  p.TenantKey,
			DeviceID:   n.deviceID,
			Trigger:    string(p.Trigger),
			Outcome:    string(p.Outcome),
			Message:    p.Message,
			FinishedAt: p.FinishedAt,
		})
	case engine.DataRestoredEvent:
		tenant := n.tenant()
		n.enqueue(tenant, protocol.TypeDataRestored, &protocol.DataRestored{
			TenantKey: tenant,
			DeviceID:  n.deviceID,
			Counts:    p.Counts,
			Dropped:   sum(p.Dropped),
		})
	case engine.ConnectivityEvent:
		n.enqueue(n.tenant(), protocol.TypeDeviceConnectivity, &protocol.DeviceConnectivity{
			DeviceID: n.deviceID,
			Online:   p.Online,
		})
	}
}

func sum(m map[string]int) int {
	total := 0
	for _, v := range m {
		total += v
	}
	return total
}

func (n *Notifier) enqueue(tenant, msgType string, payload any) {
	if tenant == "" {
		return
	}
	env, err := protocol.NewEnvelope(msgType,
		protocol.DeviceAddress(n.deviceID, tenant),
		protocol.TenantBroadcast(tenant),
		payload,
	)
	if err != nil {
		n.log.Error("notifier: build envelope", "type", msgType, "err", err)
		return
	}
	select {
	case n.queue <- env:
	default:
		n.log.Warn("notifier: queue full, dropping", "type", msgType)
	}
}

func (n *Notifier) publishLoop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stopChan:
			return
		case env := <-n.queue:
			if protocol.IsExpired(env) {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			err := n.pub.PublishEnvelope(ctx, env)
			cancel()
			if err != nil {
				n.log.Warn("notifier: publish failed", "type", env.Type, "tenant", env.Dst.Tenant, "err", err)
			} else {
				n.log.Debug("notifier: published", "type", env.Type, "tenant", env.Dst.Tenant)
			}
		}
	}
}
