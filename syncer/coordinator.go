// Package syncer runs synchronization cycles between the local store and the
// remote gateway: upload the local snapshot, then download the remote one and
// restore it when it is strictly newer than what this device last saw.
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ledgersync/connectivity"
	"ledgersync/remote"
	"ledgersync/snapshot"
	"ledgersync/store"
)

// LocalStore is the subset of the local store a coordinator drives.
type LocalStore interface {
	SelectTenant(partition string) error
	ActivePartition() (string, bool)
	CollectSnapshot(ctx context.Context) (*snapshot.Snapshot, error)
	RestoreSnapshot(ctx context.Context, s *snapshot.Snapshot) (store.RestoreReport, error)
	SyncMeta(ctx context.Context) (*store.SyncMeta, error)
	SetSyncMeta(ctx context.Context, m store.SyncMeta) error
}

// Connectivity is the online signal gating every remote attempt.
type Connectivity interface {
	IsOnline() bool
	Subscribe(fn connectivity.Listener) func()
}

// EventEmitter receives cycle notifications.
type EventEmitter interface {
	EmitSyncStarted(tenantKey string, trigger Trigger)
	EmitSyncCompleted(res Result)
	// EmitSyncNotice is raised after user-initiated operations, on success
	// and on failure.
	EmitSyncNotice(res Result)
}

type noopEmitter struct{}

func (noopEmitter) EmitSyncStarted(string, Trigger) {}
func (noopEmitter) EmitSyncCompleted(Result)        {}
func (noopEmitter) EmitSyncNotice(Result)           {}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Defaults for Options left at zero.
const (
	DefaultInterval   = 2 * time.Minute
	DefaultRetryCount = 3
	DefaultRetryDelay = 2 * time.Second
)

// Options configures a Coordinator.
type Options struct {
	Store        LocalStore
	Gateway      remote.Gateway
	Connectivity Connectivity
	Emitter      EventEmitter
	Logger       *slog.Logger

	Interval   time.Duration
	RetryCount int
	RetryDelay time.Duration

	// Sleep and Now replace the real timer and clock in tests.
	Sleep SleepFunc
	Now   func() time.Time
}

// Coordinator serves one tenant at a time. At most one cycle runs at any
// moment; triggers arriving while one runs are dropped with a skipped result.
type Coordinator struct {
	store LocalStore
	gw    remote.Gateway
	conn  Connectivity
	emit  EventEmitter
	log   *slog.Logger

	interval   time.Duration
	retryCount int
	retryDelay time.Duration
	sleep      SleepFunc
	now        func() time.Time

	inFlight atomic.Bool
	// cycleMu is held for the body of every cycle so SelectTenant can wait
	// for one to drain.
	cycleMu sync.Mutex

	mu          sync.Mutex
	tenant      string
	autoActive  bool
	stopChan    chan struct{}
	lastAttempt time.Time
	unsubscribe func()
	closed      bool

	wg sync.WaitGroup
}

// New creates a Coordinator and subscribes it to connectivity transitions.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		store:      opts.Store,
		gw:         opts.Gateway,
		conn:       opts.Connectivity,
		emit:       opts.Emitter,
		log:        opts.Logger,
		interval:   opts.Interval,
		retryCount: opts.RetryCount,
		retryDelay: opts.RetryDelay,
		sleep:      opts.Sleep,
		now:        opts.Now,
	}
	if c.emit == nil {
		c.emit = noopEmitter{}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.interval <= 0 {
		c.interval = DefaultInterval
	}
	if c.retryCount < 1 {
		c.retryCount = DefaultRetryCount
	}
	if c.retryDelay < 0 {
		c.retryDelay = DefaultRetryDelay
	}
	if c.sleep == nil {
		c.sleep = timerSleep
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	c.unsubscribe = c.conn.Subscribe(c.onConnectivityChange)
	return c
}

// SetEmitter replaces the notification sink.
func (c *Coordinator) SetEmitter(e EventEmitter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e == nil {
		e = noopEmitter{}
	}
	c.emit = e
}

func (c *Coordinator) emitter() EventEmitter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emit
}

// TenantKey returns the registered tenant, or "".
func (c *Coordinator) TenantKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tenant
}

// Register makes key the active tenant without starting a cycle. A different
// tenant supersedes the current one and stops its auto sync.
func (c *Coordinator) Register(key string) error {
	if err := ValidateTenantKey(key); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tenant != key && c.autoActive {
		c.stopAutoLocked()
	}
	c.tenant = key
	return nil
}

// SelectTenant waits for a running cycle to finish, binds the store to
// key's partition and registers key.
func (c *Coordinator) SelectTenant(key string) error {
	if err := ValidateTenantKey(key); err != nil {
		return err
	}
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()
	if err := c.ensurePartition(key); err != nil {
		return err
	}
	return c.Register(key)
}

// StartAutoSync registers key, replaces any running schedule, runs one cycle
// immediately and then one every interval until StopAutoSync.
func (c *Coordinator) StartAutoSync(key string) error {
	if err := ValidateTenantKey(key); err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.stopAutoLocked()
	c.tenant = key
	c.autoActive = true
	stop := make(chan struct{})
	c.stopChan = stop
	c.wg.Add(1)
	c.mu.Unlock()

	c.log.Info("sync: auto sync started", "tenant", key, "interval", c.interval)
	go c.autoLoop(stop)
	return nil
}

// StopAutoSync cancels the schedule. A cycle already running finishes.
func (c *Coordinator) StopAutoSync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.autoActive {
		c.log.Info("sync: auto sync stopped", "tenant", c.tenant)
	}
	c.stopAutoLocked()
}

func (c *Coordinator) stopAutoLocked() {
	if c.stopChan != nil {
		close(c.stopChan)
		c.stopChan = nil
	}
	c.autoActive = false
}

func (c *Coordinator) autoLoop(stop <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Trigger(context.Background(), TriggerAuto)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Trigger(context.Background(), TriggerAuto)
		}
	}
}

// Close stops the schedule, detaches from connectivity and waits for
// background cycles to finish.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.stopAutoLocked()
	c.closed = true
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	c.wg.Wait()
}

func (c *Coordinator) onConnectivityChange(online bool) {
	if !online {
		c.log.Info("sync: offline, suspending until reconnect")
		return
	}
	c.mu.Lock()
	tenant, closed := c.tenant, c.closed
	if tenant != "" && !closed {
		c.wg.Add(1)
	}
	c.mu.Unlock()
	if tenant == "" || closed {
		return
	}
	c.log.Info("sync: reconnected, running catch-up cycle", "tenant", tenant)
	go func() {
		defer c.wg.Done()
		c.Trigger(context.Background(), TriggerReconnect)
	}()
}

// Trigger runs one cycle for the registered tenant.
func (c *Coordinator) Trigger(ctx context.Context, trigger Trigger) Result {
	return c.runCycle(ctx, c.TenantKey(), trigger)
}

// ManualSync registers key and runs one cycle, returning its result once
// finished. A notice is emitted on success and on failure.
func (c *Coordinator) ManualSync(ctx context.Context, key string) Result {
	if err := c.Register(key); err != nil {
		res := failed(key, TriggerManual, err, c.now())
		c.emitter().EmitSyncNotice(res)
		return res
	}
	res := c.runCycle(ctx, key, TriggerManual)
	c.emitter().EmitSyncNotice(res)
	return res
}

// ForceDownloadFromCloud skips the upload phase and restores the remote
// snapshot regardless of timestamps. Used to bootstrap a fresh device.
func (c *Coordinator) ForceDownloadFromCloud(ctx context.Context, key string) Result {
	var res Result
	if err := c.Register(key); err != nil {
		res = failed(key, TriggerForce, err, c.now())
	} else {
		res = c.runCycle(ctx, key, TriggerForce)
	}
	c.emitter().EmitSyncNotice(res)
	return res
}

// InProgress reports whether a cycle holds the single-flight gate.
func (c *Coordinator) InProgress() bool { return c.inFlight.Load() }

// DropBusy records a trigger for key that was refused because a cycle is
// running. User-initiated triggers also get a notice.
func (c *Coordinator) DropBusy(key string, trigger Trigger) Result {
	res := c.skip(key, trigger, ErrBusy, c.now())
	if trigger.UserInitiated() {
		c.emitter().EmitSyncNotice(res)
	}
	return res
}

// Status reports the coordinator state merged with persisted metadata.
func (c *Coordinator) Status(ctx context.Context) Status {
	c.mu.Lock()
	st := Status{
		IsActive:  c.autoActive,
		TenantKey: c.tenant,
	}
	if !c.lastAttempt.IsZero() {
		t := c.lastAttempt
		st.LastAttempt = &t
	}
	c.mu.Unlock()
	st.InProgress = c.InProgress()
	st.IsOnline = c.conn.IsOnline()

	meta, err := c.store.SyncMeta(ctx)
	if err != nil {
		st.Message = err.Error()
		return st
	}
	if meta == nil || (st.TenantKey != "" && meta.TenantKey != st.TenantKey) {
		return st
	}
	if st.TenantKey == "" {
		st.TenantKey = meta.TenantKey
	}
	if !meta.LastSyncTimestamp.IsZero() {
		t := meta.LastSyncTimestamp
		st.LastSync = &t
	}
	if st.LastAttempt == nil && !meta.LastAttempt.IsZero() {
		t := meta.LastAttempt
		st.LastAttempt = &t
	}
	st.Status = meta.Status
	st.Message = meta.Message
	return st
}
