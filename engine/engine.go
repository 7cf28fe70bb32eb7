// Package engine wires the local store, remote gateway, connectivity monitor
// and sync coordinator together and fans their notifications out on an
// EventBus.
package engine

import (
	"context"
	"log/slog"
	"sync"

	"ledgersync/config"
	"ledgersync/connectivity"
	"ledgersync/remote"
	"ledgersync/store"
	"ledgersync/syncer"
)

// Engine is the device-side composition root.
type Engine struct {
	cfg        *config.Config
	configPath string
	log        *slog.Logger

	local   *store.Local
	gw      remote.Gateway
	monitor *connectivity.Monitor
	coord   *syncer.Coordinator
	legacy  *store.LegacyWatcher

	connUnsub func()
	stopOnce  sync.Once

	Events *EventBus
}

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	Local      *store.Local
	Gateway    remote.Gateway
	Logger     *slog.Logger
	// Prober replaces the probe chosen by AppConfig.Connectivity.
	Prober connectivity.Prober
	// Sleep replaces the coordinator's retry timer.
	Sleep syncer.SleepFunc
}

// New creates an Engine. Call Start to select the configured tenant and
// begin syncing.
func New(c Config) *Engine {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bus := NewEventBusWithLogger(logger)
	c.Local.SetEmitter(&storeEmitter{bus: bus})

	prober := c.Prober
	if prober == nil {
		prober = NewProber(&c.AppConfig.Connectivity, c.Gateway)
	}
	monitor := connectivity.New(prober, connectivity.Options{
		Interval: c.AppConfig.Connectivity.Interval,
		Timeout:  c.AppConfig.Connectivity.Timeout,
		Online:   prober == nil,
		Logger:   logger,
	})

	coord := syncer.New(syncer.Options{
		Store:        c.Local,
		Gateway:      c.Gateway,
		Connectivity: monitor,
		Emitter:      &syncEmitter{bus: bus},
		Logger:       logger,
		Interval:     c.AppConfig.Sync.Interval,
		RetryCount:   c.AppConfig.Sync.RetryCount,
		RetryDelay:   c.AppConfig.Sync.RetryDelay,
		Sleep:        c.Sleep,
	})

	return &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		log:        logger,
		local:      c.Local,
		gw:         c.Gateway,
		monitor:    monitor,
		coord:      coord,
		Events:     bus,
	}
}

// NewProber returns the reachability probe selected by cfg. "none" yields
// nil, which leaves the device permanently online.
func NewProber(cfg *config.ConnectivityConfig, gw remote.Gateway) connectivity.Prober {
	switch cfg.Probe {
	case "http":
		return &connectivity.HTTPProber{URL: cfg.URL}
	case "tcp":
		return &connectivity.TCPProber{Address: cfg.Address}
	case "none":
		return nil
	default:
		return connectivity.BoolProber(gw.TestConnectivity)
	}
}

// Start probes connectivity once, starts the monitor and, when a tenant is
// configured, selects it and starts auto sync.
func (e *Engine) Start(ctx context.Context) error {
	e.connUnsub = e.monitor.Subscribe(func(online bool) {
		e.Events.Emit(Event{Type: EventConnectivityChanged, Payload: ConnectivityEvent{Online: online}})
	})
	e.monitor.Check(ctx)
	e.monitor.Start()

	if key := e.TenantKey(); key != "" {
		if err := e.StartAutoSync(key); err != nil {
			return err
		}
	}

	if dir := e.cfg.Sync.LegacyDir; dir != "" {
		w, err := store.NewLegacyWatcher(e.local, dir, e.log)
		if err != nil {
			e.log.Warn("engine: legacy watcher disabled", "dir", dir, "err", err)
		} else {
			e.legacy = w
		}
	}

	e.log.Info("engine: started", "tenant", e.TenantKey(), "device", e.cfg.DeviceID, "online", e.monitor.IsOnline())
	return nil
}

// Stop shuts down all subsystems. Running cycles finish first.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.legacy != nil {
			e.legacy.Stop()
		}
		e.coord.Close()
		e.monitor.Stop()
		if e.connUnsub != nil {
			e.connUnsub()
		}
		e.log.Info("engine: stopped")
	})
}

// SelectTenant switches the local partition and the coordinator to key and
// records it as the configured tenant. Auto sync for a previous tenant stops.
func (e *Engine) SelectTenant(key string) error {
	if err := e.coord.SelectTenant(key); err != nil {
		return err
	}
	e.cfg.Lock()
	changed := e.cfg.TenantKey != key
	e.cfg.TenantKey = key
	e.cfg.Unlock()
	if changed && e.configPath != "" {
		if err := e.cfg.Save(e.configPath); err != nil {
			e.log.Warn("engine: save config", "err", err)
		}
	}
	e.Events.Emit(Event{Type: EventTenantSelected, Payload: TenantSelectedEvent{
		TenantKey: key, Partition: syncer.PartitionFor(key),
	}})
	return nil
}

// StartAutoSync selects key and starts periodic syncing for it.
func (e *Engine) StartAutoSync(key string) error {
	if err := e.SelectTenant(key); err != nil {
		return err
	}
	return e.coord.StartAutoSync(key)
}

// StopAutoSync cancels periodic syncing.
func (e *Engine) StopAutoSync() { e.coord.StopAutoSync() }

// ManualSync runs one cycle for key, selecting it first if needed. A switch
// to another tenant while a cycle runs is dropped as busy rather than queued.
func (e *Engine) ManualSync(ctx context.Context, key string) syncer.Result {
	if res, switched := e.switchTenant(key, syncer.TriggerManual); !switched {
		return res
	}
	return e.coord.ManualSync(ctx, key)
}

// ForceDownload restores the remote snapshot for key regardless of
// timestamps.
func (e *Engine) ForceDownload(ctx context.Context, key string) syncer.Result {
	if res, switched := e.switchTenant(key, syncer.TriggerForce); !switched {
		return res
	}
	return e.coord.ForceDownloadFromCloud(ctx, key)
}

// switchTenant selects key when it differs from the active tenant. It
// reports false with a skipped result when a cycle holds the gate.
func (e *Engine) switchTenant(key string, trigger syncer.Trigger) (syncer.Result, bool) {
	if key == e.coord.TenantKey() {
		return syncer.Result{}, true
	}
	if e.coord.InProgress() {
		return e.coord.DropBusy(key, trigger), false
	}
	if err := e.SelectTenant(key); err != nil {
		e.log.Warn("engine: select tenant", "tenant", key, "err", err)
	}
	return syncer.Result{}, true
}

// TenantKey returns the active tenant, falling back to the configured one.
func (e *Engine) TenantKey() string {
	if k := e.coord.TenantKey(); k != "" {
		return k
	}
	e.cfg.Lock()
	defer e.cfg.Unlock()
	return e.cfg.TenantKey
}

// DeviceID returns this device's id.
func (e *Engine) DeviceID() string { return e.cfg.DeviceID }

// Status reports the coordinator state.
func (e *Engine) Status(ctx context.Context) syncer.Status { return e.coord.Status(ctx) }

// Local returns the local store.
func (e *Engine) Local() *store.Local { return e.local }

// Gateway returns the remote gateway.
func (e *Engine) Gateway() remote.Gateway { return e.gw }

// Monitor returns the connectivity monitor.
func (e *Engine) Monitor() *connectivity.Monitor { return e.monitor }

// Coordinator returns the sync coordinator.
func (e *Engine) Coordinator() *syncer.Coordinator { return e.coord }

// AppConfig returns the app config.
func (e *Engine) AppConfig() *config.Config { return e.cfg }

// ConfigPath returns the config file path.
func (e *Engine) ConfigPath() string { return e.configPath }
