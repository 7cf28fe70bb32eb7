package messaging

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"ledgersync/engine"
	"ledgersync/protocol"
	"ledgersync/syncer"
)

// Triggerer runs a sync cycle for the registered tenant.
type Triggerer interface {
	TenantKey() string
	Trigger(ctx context.Context, trigger syncer.Trigger) syncer.Result
}

// Peer is another device last heard on the active tenant's topic.
type Peer struct {
	DeviceID   string    `json:"deviceId"`
	Hostname   string    `json:"hostname,omitempty"`
	Online     bool      `json:"online"`
	SyncStatus string    `json:"syncStatus,omitempty"`
	LastSeen   time.Time `json:"lastSeen"`
}

// HintListener runs a download-only cycle when another device announces an
// upload for the active tenant, and keeps a roster of peers.
type HintListener struct {
	protocol.NoOpHandler

	trig     Triggerer
	bus      *engine.EventBus
	deviceID string
	log      *slog.Logger
	ing      *protocol.Ingestor

	mu    sync.Mutex
	peers map[string]Peer
	wg    sync.WaitGroup
}

// NewHintListener creates a listener for deviceID. bus may be nil.
func NewHintListener(trig Triggerer, bus *engine.EventBus, deviceID string, logger *slog.Logger) *HintListener {
	if logger == nil {
		logger = slog.Default()
	}
	l := &HintListener{
		trig:     trig,
		bus:      bus,
		deviceID: deviceID,
		log:      logger,
		peers:    make(map[string]Peer),
	}
	l.ing = protocol.NewIngestor(l, protocol.ForeignDevice(deviceID, trig.TenantKey), logger)
	return l
}

// Start subscribes to tenant hints on client.
func (l *HintListener) Start(client *Client) error {
	return client.SubscribeTenants(l.HandleRaw)
}

// HandleRaw feeds one raw message from the messaging layer.
func (l *HintListener) HandleRaw(data []byte) {
	l.ing.HandleRaw(data)
}

// Wait blocks until triggered cycles have finished.
func (l *HintListener) Wait() { l.wg.Wait() }

func (l *HintListener) HandleSnapshotUploaded(env *protocol.Envelope, p *protocol.SnapshotUploaded) {
	if p.TenantKey != l.trig.TenantKey() {
		return
	}
	l.seen(env.Src.Device, func(peer *Peer) { peer.Online = true })
	l.log.Info("hints: peer uploaded snapshot", "tenant", p.TenantKey, "device", p.DeviceID, "count", p.DataCount)
	if l.bus != nil {
		l.bus.Emit(engine.Event{Type: engine.EventPeerUpload, Payload: engine.PeerUploadEvent{
			TenantKey: p.TenantKey, DeviceID: p.DeviceID,
			DataCount: p.DataCount, LastSyncTimestamp: p.LastSyncTimestamp,
		}})
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.trig.Trigger(context.Background(), syncer.TriggerHint)
	}()
}

func (l *HintListener) HandleDeviceHeartbeat(env *protocol.Envelope, p *protocol.DeviceHeartbeat) {
	l.seen(env.Src.Device, func(peer *Peer) {
		peer.Hostname = p.Hostname
		peer.Online = p.Online
		peer.SyncStatus = p.SyncStatus
	})
}

func (l *HintListener) HandleDeviceConnectivity(env *protocol.Envelope, p *protocol.DeviceConnectivity) {
	l.seen(env.Src.Device, func(peer *Peer) { peer.Online = p.Online })
}

func (l *HintListener) HandleSyncStatus(env *protocol.Envelope, p *protocol.SyncStatus) {
	l.seen(env.Src.Device, func(peer *Peer) { peer.SyncStatus = p.Outcome })
}

func (l *HintListener) seen(deviceID string, update func(*Peer)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	peer := l.peers[deviceID]
	peer.DeviceID = deviceID
	peer.LastSeen = time.Now()
	update(&peer)
	l.peers[deviceID] = peer
}

// Peers returns the known peers, most recently seen first.
func (l *HintListener) Peers() []Peer {
	l.mu.Lock()
	out := make([]Peer, 0, len(l.peers))
	for _, p := range l.peers {
		out = append(out, p)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out
}
