package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Address identifies a message source or destination.
type Address struct {
	Role   string `json:"role"`
	Device string `json:"device"`
	Tenant string `json:"tenant"`
}

// Header holds the routing fields of an Envelope. Receivers decode it on
// its own first, so foreign and stale hints are dropped without decoding
// the payload.
type Header struct {
	Version   int       `json:"v"`
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Src       Address   `json:"src"`
	Dst       Address   `json:"dst"`
	Timestamp time.Time `json:"ts"`
	ExpiresAt time.Time `json:"exp"`
}

// Check rejects headers this build cannot route.
func (h *Header) Check() error {
	switch {
	case h.Type == "":
		return fmt.Errorf("missing message type")
	case h.Version > Version:
		return fmt.Errorf("protocol version %d is newer than %d", h.Version, Version)
	}
	return nil
}

// Envelope wraps every message published on a tenant topic.
type Envelope struct {
	Header
	Payload json.RawMessage `json:"p"`
}

// NewEnvelope creates an outbound envelope with the default TTL for msgType.
func NewEnvelope(msgType string, src, dst Address, payload any) (*Envelope, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	now := time.Now().UTC()
	return &Envelope{
		Header: Header{
			Version:   Version,
			Type:      msgType,
			ID:        uuid.NewString(),
			Src:       src,
			Dst:       dst,
			Timestamp: now,
			ExpiresAt: now.Add(DefaultTTLFor(msgType)),
		},
		Payload: p,
	}, nil
}

// DeviceAddress is the address of one device serving tenant.
func DeviceAddress(deviceID, tenant string) Address {
	return Address{Role: RoleDevice, Device: deviceID, Tenant: tenant}
}

// TenantBroadcast addresses all devices of tenant.
func TenantBroadcast(tenant string) Address {
	return Address{Role: RoleDevice, Device: Broadcast, Tenant: tenant}
}

// Encode marshals the envelope to JSON.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodePayload unmarshals the payload into target.
func (e *Envelope) DecodePayload(target any) error {
	return json.Unmarshal(e.Payload, target)
}
