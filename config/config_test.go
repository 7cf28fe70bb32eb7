package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sync.Interval != 2*time.Minute {
		t.Errorf("Sync.Interval = %v, want 2m", cfg.Sync.Interval)
	}
	if cfg.Sync.RetryCount != 3 {
		t.Errorf("Sync.RetryCount = %d, want 3", cfg.Sync.RetryCount)
	}
	if cfg.Remote.Driver != "sqlite" {
		t.Errorf("Remote.Driver = %q, want %q", cfg.Remote.Driver, "sqlite")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledgersync.yaml")
	doc := `
data_dir: /var/lib/ledgersync
tenant_key: 17507_manager
sync:
  retry_count: 5
  retry_delay: 500ms
remote:
  driver: redis
  redis:
    address: cache:6379
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TenantKey != "17507_manager" {
		t.Errorf("TenantKey = %q, want %q", cfg.TenantKey, "17507_manager")
	}
	if cfg.Sync.RetryCount != 5 || cfg.Sync.RetryDelay != 500*time.Millisecond {
		t.Errorf("Sync = %+v, want retry_count 5 retry_delay 500ms", cfg.Sync)
	}
	if cfg.Sync.Interval != 2*time.Minute {
		t.Errorf("Sync.Interval = %v, want default 2m", cfg.Sync.Interval)
	}
	if cfg.Remote.Redis.Address != "cache:6379" {
		t.Errorf("Redis.Address = %q, want %q", cfg.Remote.Redis.Address, "cache:6379")
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("remote:\n  driver: mongo\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Defaults()
	cfg.TenantKey = "owner"
	if cfg.EnsureDeviceID() != true || cfg.DeviceID == "" {
		t.Fatal("EnsureDeviceID should generate an id")
	}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if back.TenantKey != "owner" || back.DeviceID != cfg.DeviceID {
		t.Errorf("loaded tenant=%q device=%q, want owner %q", back.TenantKey, back.DeviceID, cfg.DeviceID)
	}
	if back.EnsureDeviceID() {
		t.Error("EnsureDeviceID should keep an existing id")
	}
}
