package protocol

import (
	"encoding/json"
	"log/slog"
)

// FilterFunc returns true if the message should be processed.
type FilterFunc func(hdr *Header) bool

// MessageHandler defines callbacks for all protocol message types.
// Embed NoOpHandler and override only the methods you need.
type MessageHandler interface {
	HandleDeviceHeartbeat(env *Envelope, p *DeviceHeartbeat)
	HandleDeviceConnectivity(env *Envelope, p *DeviceConnectivity)
	HandleSnapshotUploaded(env *Envelope, p *SnapshotUploaded)
	HandleDataRestored(env *Envelope, p *DataRestored)
	HandleSyncStatus(env *Envelope, p *SyncStatus)
}

type route func(ing *Ingestor, env *Envelope)

// Ingestor decodes raw messages in two phases and dispatches them to a
// MessageHandler: the header decides whether the message is kept, and only
// kept messages have their payload decoded.
type Ingestor struct {
	handler MessageHandler
	filter  FilterFunc
	routes  map[string]route
	log     *slog.Logger
}

// NewIngestor creates an ingestor. filter may be nil.
func NewIngestor(handler MessageHandler, filter FilterFunc, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		handler: handler,
		filter:  filter,
		log:     logger,
		routes: map[string]route{
			TypeDeviceHeartbeat:    dispatch(handler.HandleDeviceHeartbeat),
			TypeDeviceConnectivity: dispatch(handler.HandleDeviceConnectivity),
			TypeSnapshotUploaded:   dispatch(handler.HandleSnapshotUploaded),
			TypeDataRestored:       dispatch(handler.HandleDataRestored),
			TypeSyncStatus:         dispatch(handler.HandleSyncStatus),
		},
	}
}

// HandleRaw processes one message from the messaging layer. Malformed,
// expired, filtered and unknown messages are dropped.
func (ing *Ingestor) HandleRaw(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env.Header); err != nil {
		ing.log.Warn("protocol: header decode error", "err", err)
		return
	}
	if err := env.Check(); err != nil {
		ing.log.Warn("protocol: dropping message", "id", env.ID, "err", err)
		return
	}
	if IsExpiredHeader(&env.Header) {
		ing.log.Debug("protocol: dropping expired message", "id", env.ID, "type", env.Type)
		return
	}
	if ing.filter != nil && !ing.filter(&env.Header) {
		return
	}
	r, ok := ing.routes[env.Type]
	if !ok {
		ing.log.Warn("protocol: unknown message type", "type", env.Type)
		return
	}

	var body struct {
		Payload json.RawMessage `json:"p"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		ing.log.Warn("protocol: envelope decode error", "id", env.ID, "err", err)
		return
	}
	env.Payload = body.Payload
	r(ing, &env)
}

func dispatch[T any](fn func(*Envelope, *T)) route {
	return func(ing *Ingestor, env *Envelope) {
		var p T
		if err := env.DecodePayload(&p); err != nil {
			ing.log.Warn("protocol: payload decode error", "type", env.Type, "err", err)
			return
		}
		fn(env, &p)
	}
}

// ForeignDevice accepts messages that another device sent to the tenant
// currently returned by tenant, addressed to deviceID or broadcast.
func ForeignDevice(deviceID string, tenant func() string) FilterFunc {
	return func(hdr *Header) bool {
		if hdr.Src.Device == deviceID {
			return false
		}
		if t := tenant(); t == "" || hdr.Dst.Tenant != t {
			return false
		}
		return hdr.Dst.Device == deviceID || hdr.Dst.Device == Broadcast
	}
}
