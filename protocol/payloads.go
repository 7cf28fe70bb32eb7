package protocol

import "time"

// DeviceHeartbeat is published periodically by every running device.
type DeviceHeartbeat struct {
	DeviceID   string `json:"device_id"`
	Hostname   string `json:"hostname"`
	Version    string `json:"version"`
	TenantKey  string `json:"tenant_key"`
	Uptime     int64  `json:"uptime_s"`
	Online     bool   `json:"online"`
	SyncStatus string `json:"sync_status,omitempty"`
}

// DeviceConnectivity announces an online/offline transition.
type DeviceConnectivity struct {
	DeviceID string `json:"device_id"`
	Online   bool   `json:"online"`
}

// SnapshotUploaded tells other devices of the tenant that the remote
// snapshot changed and a download may restore it.
type SnapshotUploaded struct {
	TenantKey         string    `json:"tenant_key"`
	DeviceID          string    `json:"device_id"`
	DataCount         int       `json:"data_count"`
	LastSyncTimestamp time.Time `json:"last_sync_ts"`
}

// DataRestored reports that a device replaced its local data with the
// remote snapshot.
type DataRestored struct {
	TenantKey string         `json:"tenant_key"`
	DeviceID  string         `json:"device_id"`
	Counts    map[string]int `json:"counts"`
	Dropped   int            `json:"dropped,omitempty"`
}

// SyncStatus is the outcome of one cycle on a device.
type SyncStatus struct {
	TenantKey  string    `json:"tenant_key"`
	DeviceID   string    `json:"device_id"`
	Trigger    string    `json:"trigger"`
	Outcome    string    `json:"outcome"`
	Message    string    `json:"message,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}
