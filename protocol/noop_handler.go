package protocol

// NoOpHandler implements MessageHandler with no-op methods.
// Embed this and override only the methods you need.
type NoOpHandler struct{}

func (NoOpHandler) HandleDeviceHeartbeat(*Envelope, *DeviceHeartbeat)       {}
func (NoOpHandler) HandleDeviceConnectivity(*Envelope, *DeviceConnectivity) {}
func (NoOpHandler) HandleSnapshotUploaded(*Envelope, *SnapshotUploaded)     {}
func (NoOpHandler) HandleDataRestored(*Envelope, *DataRestored)             {}
func (NoOpHandler) HandleSyncStatus(*Envelope, *SyncStatus)                 {}

var _ MessageHandler = NoOpHandler{}
