// Package snapshot defines the unit of remote exchange: every collection of a
// tenant partition plus its settings object, shipped as one JSON document.
package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Collection names, as they appear in snapshot JSON.
const (
	Products             = "products"
	Sales                = "sales"
	Purchases            = "purchases"
	MultiItemPurchases   = "multiItemPurchases"
	Packaging            = "packaging"
	PackagingPurchases   = "packagingPurchases"
	Expenses             = "expenses"
	InventoryAdjustments = "inventoryAdjustments"
	Groups               = "groups"
	Licenses             = "licenses"
	Users                = "users"
	StockReconciliation  = "stockReconciliation"
)

// SettingsKey is the snapshot key holding the settings object. It is also the
// fixed identifier of the settings singleton in the local store.
const (
	SettingsKey = "settings"
	SettingsID  = "app_settings"
)

// Collections lists every collection in a stable order.
var Collections = []string{
	Products,
	Sales,
	Purchases,
	MultiItemPurchases,
	Packaging,
	PackagingPurchases,
	Expenses,
	InventoryAdjustments,
	Groups,
	Licenses,
	Users,
	StockReconciliation,
}

// IsCollection reports whether name is a known collection.
func IsCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

// Record is an opaque document. The only field the engine looks at is "id".
type Record map[string]any

// RecordID returns the record's identifier. String ids must be non-empty;
// numeric ids are formatted without exponent.
func RecordID(rec Record) (string, bool) {
	if rec == nil {
		return "", false
	}
	switch v := rec["id"].(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case json.Number:
		return v.String(), v.String() != ""
	}
	return "", false
}

// Snapshot is the full exported state of one tenant.
type Snapshot struct {
	Collections map[string][]Record
	Settings    map[string]any
}

// New returns an empty snapshot with every known collection present.
func New() *Snapshot {
	s := &Snapshot{Collections: make(map[string][]Record, len(Collections))}
	for _, c := range Collections {
		s.Collections[c] = []Record{}
	}
	return s
}

// Count returns the total number of records across all collections.
func (s *Snapshot) Count() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, recs := range s.Collections {
		n += len(recs)
	}
	return n
}

// Counts returns per-collection record counts.
func (s *Snapshot) Counts() map[string]int {
	out := make(map[string]int)
	if s == nil {
		return out
	}
	for name, recs := range s.Collections {
		out[name] = len(recs)
	}
	return out
}

// IsEmpty reports whether the snapshot has no records and no settings.
func (s *Snapshot) IsEmpty() bool {
	return s.Count() == 0 && len(s.settingsOrNil()) == 0
}

func (s *Snapshot) settingsOrNil() map[string]any {
	if s == nil {
		return nil
	}
	return s.Settings
}

// Names returns the collection names present in the snapshot, sorted.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Collections))
	for name := range s.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON encodes the snapshot as a flat object:
// {"products":[...], ..., "settings":{...}}.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(s.Collections)+1)
	for name, recs := range s.Collections {
		if recs == nil {
			recs = []Record{}
		}
		flat[name] = recs
	}
	if s.Settings != nil {
		flat[SettingsKey] = s.Settings
	}
	return json.Marshal(flat)
}

// UnmarshalJSON decodes the flat form. Every key other than "settings" must
// hold an array of objects.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	s.Collections = make(map[string][]Record, len(flat))
	s.Settings = nil
	for key, raw := range flat {
		if key == SettingsKey {
			if string(raw) == "null" {
				continue
			}
			var settings map[string]any
			if err := json.Unmarshal(raw, &settings); err != nil {
				return fmt.Errorf("settings: %w", err)
			}
			s.Settings = settings
			continue
		}
		var recs []Record
		if err := json.Unmarshal(raw, &recs); err != nil {
			return fmt.Errorf("collection %s: %w", key, err)
		}
		s.Collections[key] = recs
	}
	return nil
}

// Encode marshals the snapshot.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Decode parses a snapshot document.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
