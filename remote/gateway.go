// Package remote holds the shared snapshot store that devices of one tenant
// reconcile against, and the Gateway the sync coordinator talks to.
package remote

import (
	"context"
	"errors"
	"time"

	"ledgersync/snapshot"
)

// ErrRemoteRejected means the remote answered but refused or mangled the
// request. It is retried like a transport failure.
var ErrRemoteRejected = errors.New("remote rejected request")

// Gateway is everything the coordinator needs from the remote store.
type Gateway interface {
	// TestConnectivity reports whether the remote is reachable right now.
	TestConnectivity(ctx context.Context) bool
	// SaveTenantData upserts the tenant's snapshot. The receipt carries the
	// server-assigned timestamp.
	SaveTenantData(ctx context.Context, tenantKey string, snap *snapshot.Snapshot) (Receipt, error)
	// GetTenantData fetches the tenant's snapshot. A tenant with no stored
	// snapshot yields (nil, nil).
	GetTenantData(ctx context.Context, tenantKey string) (*TenantData, error)
}

// Receipt acknowledges a stored snapshot.
type Receipt struct {
	Timestamp time.Time `json:"lastSyncTimestamp"`
	DataCount int       `json:"dataCount"`
	Message   string    `json:"message,omitempty"`
}

// TenantData is a stored snapshot and the time it was written.
type TenantData struct {
	Snapshot          *snapshot.Snapshot `json:"data"`
	LastSyncTimestamp time.Time          `json:"lastSyncTimestamp"`
}

// TenantInfo summarises one stored tenant for listings.
type TenantInfo struct {
	TenantKey         string    `json:"tenantKey"`
	DataCount         int       `json:"dataCount"`
	LastSyncTimestamp time.Time `json:"lastSyncTimestamp"`
}

// Lister is implemented by gateways that can enumerate stored tenants.
type Lister interface {
	ListTenants(ctx context.Context) ([]TenantInfo, error)
}

// Closer is implemented by gateways holding connections.
type Closer interface {
	Close() error
}

// Clock returns the server time used to stamp saves.
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }
