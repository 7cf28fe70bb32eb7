package protocol

import "time"

// ttls bounds how long a message stays worth acting on. Heartbeats go stale
// within two intervals; a restore notice is informational and may be read
// late.
var ttls = map[string]time.Duration{
	TypeDeviceHeartbeat:    90 * time.Second,
	TypeDeviceConnectivity: 5 * time.Minute,
	TypeSnapshotUploaded:   10 * time.Minute,
	TypeSyncStatus:         10 * time.Minute,
	TypeDataRestored:       30 * time.Minute,
}

// FallbackTTL applies to message types without their own TTL.
const FallbackTTL = 10 * time.Minute

// ClockSkew is the grace added to every expiry. Devices spend long periods
// offline and their clocks drift from the sender's.
const ClockSkew = 30 * time.Second

// DefaultTTLFor returns the TTL stamped on new messages of msgType.
func DefaultTTLFor(msgType string) time.Duration {
	if ttl, ok := ttls[msgType]; ok {
		return ttl
	}
	return FallbackTTL
}

// expiredAt reports whether exp, plus ClockSkew, is before now. A zero exp
// never expires.
func expiredAt(exp, now time.Time) bool {
	return !exp.IsZero() && now.After(exp.Add(ClockSkew))
}

// IsExpired reports whether env is past its expiry.
func IsExpired(env *Envelope) bool {
	return expiredAt(env.ExpiresAt, time.Now())
}

// IsExpiredHeader is IsExpired for a header decoded without its payload.
func IsExpiredHeader(hdr *Header) bool {
	return expiredAt(hdr.ExpiresAt, time.Now())
}
