package engine

import (
	"time"

	"ledgersync/syncer"
)

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	// Sync cycle events
	EventSyncStarted EventType = iota + 1
	EventSyncCompleted
	EventSyncNotice

	// Store events
	EventDataRestored
	EventTenantSelected

	// Connectivity
	EventConnectivityChanged

	// A peer device uploaded a newer snapshot
	EventPeerUpload
)

var eventNames = map[EventType]string{
	EventSyncStarted:         "sync-started",
	EventSyncCompleted:       "sync-completed",
	EventSyncNotice:          "sync-notice",
	EventDataRestored:        "data-restored",
	EventTenantSelected:      "tenant-selected",
	EventConnectivityChanged: "connectivity",
	EventPeerUpload:          "peer-upload",
}

// String returns the SSE event name.
func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

// Event is the envelope emitted by the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

// SyncStartedEvent is emitted when a cycle passes the single-flight gate.
type SyncStartedEvent struct {
	TenantKey string         `json:"tenantKey"`
	Trigger   syncer.Trigger `json:"trigger"`
}

// SyncResultEvent carries the result of a finished, skipped or
// user-initiated cycle.
type SyncResultEvent struct {
	syncer.Result
}

// DataRestoredEvent is emitted after a remote snapshot replaced local data.
type DataRestoredEvent struct {
	Partition string         `json:"partition"`
	Counts    map[string]int `json:"counts"`
	Dropped   map[string]int `json:"dropped,omitempty"`
	Total     int            `json:"total"`
	Settings  bool           `json:"settings"`
}

// TenantSelectedEvent is emitted when the active tenant changes.
type TenantSelectedEvent struct {
	TenantKey string `json:"tenantKey"`
	Partition string `json:"partition"`
}

// ConnectivityEvent is emitted on every online/offline edge.
type ConnectivityEvent struct {
	Online bool `json:"online"`
}

// PeerUploadEvent is emitted when another device announces an upload for
// the active tenant.
type PeerUploadEvent struct {
	TenantKey         string    `json:"tenantKey"`
	DeviceID          string    `json:"deviceId"`
	DataCount         int       `json:"dataCount"`
	LastSyncTimestamp time.Time `json:"lastSyncTimestamp"`
}
