package protocol

// Message types exchanged between devices of one tenant.
const (
	TypeDeviceHeartbeat    = "device.heartbeat"
	TypeDeviceConnectivity = "device.connectivity"
	TypeSnapshotUploaded   = "snapshot.uploaded"
	TypeDataRestored       = "data.restored"
	TypeSyncStatus         = "sync.status"
)

// Roles for Address.Role.
const (
	RoleDevice = "device"
	RoleHub    = "hub"
)

// Broadcast addresses every device of the tenant.
const Broadcast = "*"

// Protocol version.
const Version = 1
