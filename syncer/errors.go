package syncer

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidIdentifier rejects a malformed tenant key before any remote
	// call is made.
	ErrInvalidIdentifier = errors.New("invalid tenant identifier")
	// ErrConnectivity covers an unreachable remote. It is retried.
	ErrConnectivity = errors.New("remote unreachable")
	errUnreachable  = fmt.Errorf("%w: reachability check failed", ErrConnectivity)
	// ErrOffline means the connectivity monitor reports the device offline.
	ErrOffline = errors.New("device is offline")
	// ErrBusy means another cycle holds the single-flight gate.
	ErrBusy = errors.New("sync already in progress")
	// ErrNoTenant means no tenant is registered with the coordinator.
	ErrNoTenant = errors.New("no active tenant")
	// ErrClosed is returned by StartAutoSync after Close.
	ErrClosed = errors.New("coordinator closed")
)
