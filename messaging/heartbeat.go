package messaging

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"ledgersync/protocol"
	"ledgersync/syncer"
)

// DeviceState is what the heartbeat reports about this device.
type DeviceState interface {
	Status(ctx context.Context) syncer.Status
}

// Heartbeater publishes device.heartbeat on the active tenant's topic.
type Heartbeater struct {
	pub      Publisher
	state    DeviceState
	deviceID string
	version  string
	interval time.Duration
	log      *slog.Logger

	startTime time.Time
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewHeartbeater creates a heartbeater for this device.
func NewHeartbeater(pub Publisher, state DeviceState, deviceID, version string, logger *slog.Logger) *Heartbeater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeater{
		pub:      pub,
		state:    state,
		deviceID: deviceID,
		version:  version,
		interval: 60 * time.Second,
		log:      logger,
		stopCh:   make(chan struct{}),
	}
}

// Start sends one heartbeat and begins the loop.
func (h *Heartbeater) Start() {
	h.startTime = time.Now()
	h.send()
	h.wg.Add(1)
	go h.loop()
}

// Stop halts the heartbeat loop.
func (h *Heartbeater) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()
}

func (h *Heartbeater) send() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	st := h.state.Status(ctx)
	if st.TenantKey == "" {
		return
	}
	hostname, _ := os.Hostname()
	env, err := protocol.NewEnvelope(protocol.TypeDeviceHeartbeat,
		protocol.DeviceAddress(h.deviceID, st.TenantKey),
		protocol.TenantBroadcast(st.TenantKey),
		&protocol.DeviceHeartbeat{
			DeviceID:   h.deviceID,
			Hostname:   hostname,
			Version:    h.version,
			TenantKey:  st.TenantKey,
			Uptime:     int64(time.Since(h.startTime).Seconds()),
			Online:     st.IsOnline,
			SyncStatus: string(st.Status),
		},
	)
	if err != nil {
		h.log.Error("heartbeat: build", "err", err)
		return
	}
	if err := h.pub.PublishEnvelope(ctx, env); err != nil {
		h.log.Debug("heartbeat: send failed", "err", err)
	}
}

func (h *Heartbeater) loop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.send()
		}
	}
}
