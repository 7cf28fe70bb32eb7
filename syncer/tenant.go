package syncer

import (
	"fmt"
	"regexp"
)

// OwnerTenantKey is the fixed key of the owner account. Its data lives in
// the default local partition.
const OwnerTenantKey = "owner"

// Tenant keys are "<lotId>_<role>". "employe" is accepted as an alternate
// spelling that older clients wrote.
var tenantKeyPattern = regexp.MustCompile(`^[A-Za-z0-9-]+_(manager|employee|employe)$`)

// ValidateTenantKey returns ErrInvalidIdentifier unless key is the owner key
// or matches "<lotId>_<role>".
func ValidateTenantKey(key string) error {
	if key == OwnerTenantKey || tenantKeyPattern.MatchString(key) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidIdentifier, key)
}

// PartitionFor returns the local partition serving key.
func PartitionFor(key string) string {
	if key == OwnerTenantKey {
		return ""
	}
	return key
}
