package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledgersync/remote"
	"ledgersync/store"
)

// runCycle is the single-flight gate. Every entry point funnels through it.
func (c *Coordinator) runCycle(ctx context.Context, key string, trigger Trigger) Result {
	started := c.now()
	if key == "" {
		return c.skip(key, trigger, ErrNoTenant, started)
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		c.log.Debug("sync: cycle already running, dropping trigger", "tenant", key, "trigger", trigger)
		return c.skip(key, trigger, ErrBusy, started)
	}
	defer c.inFlight.Store(false)
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	if !c.conn.IsOnline() {
		return c.skip(key, trigger, ErrOffline, started)
	}

	c.mu.Lock()
	c.lastAttempt = started
	c.mu.Unlock()

	res := Result{TenantKey: key, Trigger: trigger, StartedAt: started}
	c.emitter().EmitSyncStarted(key, trigger)
	c.log.Info("sync: cycle started", "tenant", key, "trigger", trigger)

	if err := c.ensurePartition(key); err != nil {
		res = failed(key, trigger, err, started)
		res.FinishedAt = c.now()
		c.log.Error("sync: cannot open tenant partition", "tenant", key, "err", err)
		c.emitter().EmitSyncCompleted(res)
		return res
	}

	watermark := c.watermark(ctx, key)
	c.writeMeta(ctx, store.SyncMeta{
		LastSyncTimestamp: watermark,
		TenantKey:         key,
		Status:            store.StatusPending,
		LastAttempt:       started,
	})

	force := trigger == TriggerForce
	if !trigger.DownloadOnly() {
		up := c.upload(ctx, key)
		res.Upload = &up
		if up.OK && up.Pushed {
			watermark = up.RemoteTimestamp
		}
	}
	down := c.download(ctx, key, watermark, force)
	res.Download = &down
	if down.OK && down.Restored {
		watermark = down.RemoteTimestamp
	}

	res.summarize()
	res.FinishedAt = c.now()

	status := store.StatusSuccess
	if !res.Succeeded() {
		status = store.StatusError
	}
	c.writeMeta(ctx, store.SyncMeta{
		LastSyncTimestamp: watermark,
		TenantKey:         key,
		Status:            status,
		Message:           res.Message,
		LastAttempt:       started,
	})

	if res.Succeeded() {
		c.log.Info("sync: cycle finished", "tenant", key, "trigger", trigger,
			"duration", res.FinishedAt.Sub(started), "message", res.Message)
	} else {
		c.log.Warn("sync: cycle failed", "tenant", key, "trigger", trigger, "message", res.Message)
	}
	c.emitter().EmitSyncCompleted(res)
	return res
}

func (c *Coordinator) skip(key string, trigger Trigger, err error, now time.Time) Result {
	res := skipped(key, trigger, err, now)
	c.emitter().EmitSyncCompleted(res)
	return res
}

// ensurePartition binds the store to key's partition. It runs under the
// gate so a cycle never straddles a tenant switch.
func (c *Coordinator) ensurePartition(key string) error {
	want := PartitionFor(key)
	if got, ok := c.store.ActivePartition(); ok && got == want {
		return nil
	}
	return c.store.SelectTenant(want)
}

// watermark is the remote timestamp this partition last converged with.
func (c *Coordinator) watermark(ctx context.Context, key string) time.Time {
	meta, err := c.store.SyncMeta(ctx)
	if err != nil {
		c.log.Warn("sync: read sync meta", "tenant", key, "err", err)
		return time.Time{}
	}
	if meta == nil {
		return time.Time{}
	}
	return meta.LastSyncTimestamp
}

func (c *Coordinator) writeMeta(ctx context.Context, m store.SyncMeta) {
	if err := c.store.SetSyncMeta(ctx, m); err != nil {
		c.log.Error("sync: write sync meta", "tenant", m.TenantKey, "status", m.Status, "err", err)
	}
}

// Upload runs only the upload phase for the registered tenant.
func (c *Coordinator) Upload(ctx context.Context) PhaseResult {
	return c.singlePhase(ctx, func(key string) PhaseResult { return c.upload(ctx, key) })
}

// Download runs only the download phase for the registered tenant, gated
// on the stored watermark.
func (c *Coordinator) Download(ctx context.Context) PhaseResult {
	return c.singlePhase(ctx, func(key string) PhaseResult {
		return c.download(ctx, key, c.watermark(ctx, key), false)
	})
}

func (c *Coordinator) singlePhase(ctx context.Context, phase func(key string) PhaseResult) PhaseResult {
	key := c.TenantKey()
	if key == "" {
		return phaseFailed(0, ErrNoTenant)
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return phaseFailed(0, ErrBusy)
	}
	defer c.inFlight.Store(false)
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()
	if err := c.ensurePartition(key); err != nil {
		return phaseFailed(0, err)
	}
	return phase(key)
}

func (c *Coordinator) upload(ctx context.Context, key string) PhaseResult {
	if !c.conn.IsOnline() {
		return phaseFailed(0, ErrOffline)
	}
	snap, err := c.store.CollectSnapshot(ctx)
	if err != nil {
		return phaseFailed(0, fmt.Errorf("collect snapshot: %w", err))
	}
	// Settings alone never replace the remote snapshot.
	if snap.Count() == 0 {
		return PhaseResult{OK: true, Message: "nothing to upload"}
	}

	var receipt remote.Receipt
	attempts, err := c.retry(ctx, "upload", key, func() error {
		var err error
		receipt, err = c.gw.SaveTenantData(ctx, key, snap)
		return err
	})
	if err != nil {
		return phaseFailed(attempts, err)
	}
	count := receipt.DataCount
	if count == 0 {
		count = snap.Count()
	}
	return PhaseResult{
		OK:              true,
		Attempts:        attempts,
		DataCount:       count,
		Pushed:          true,
		RemoteTimestamp: receipt.Timestamp,
		Message:         fmt.Sprintf("uploaded %d records", count),
	}
}

func (c *Coordinator) download(ctx context.Context, key string, watermark time.Time, force bool) PhaseResult {
	if !c.conn.IsOnline() {
		return phaseFailed(0, ErrOffline)
	}

	var data *remote.TenantData
	attempts, err := c.retry(ctx, "download", key, func() error {
		var err error
		data, err = c.gw.GetTenantData(ctx, key)
		return err
	})
	if err != nil {
		return phaseFailed(attempts, err)
	}
	if data == nil || data.Snapshot == nil {
		return PhaseResult{OK: true, Attempts: attempts, Message: "no remote data"}
	}

	res := PhaseResult{
		OK:              true,
		Attempts:        attempts,
		DataCount:       data.Snapshot.Count(),
		RemoteTimestamp: data.LastSyncTimestamp,
	}
	if !force && !data.LastSyncTimestamp.After(watermark) {
		res.Message = "local data is current"
		return res
	}

	report, err := c.store.RestoreSnapshot(ctx, data.Snapshot)
	if err != nil {
		return phaseFailed(attempts, fmt.Errorf("restore snapshot: %w", err))
	}
	res.Restored = true
	res.Restore = &report
	res.Message = fmt.Sprintf("restored %d records", report.Total())
	return res
}

// retry calls fn up to retryCount times, sleeping retryDelay between
// attempts. Before every attempt the monitor flag is read and the gateway is
// probed; a failed probe counts as a failed attempt.
func (c *Coordinator) retry(ctx context.Context, phase, key string, fn func() error) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retryCount; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.retryDelay); err != nil {
				return attempt - 1, errors.Join(lastErr, err)
			}
		}
		if !c.conn.IsOnline() {
			return attempt - 1, ErrOffline
		}
		var err error
		if c.gw.TestConnectivity(ctx) {
			err = fn()
		} else {
			err = errUnreachable
		}
		if err == nil {
			return attempt, nil
		}
		if !errors.Is(err, remote.ErrRemoteRejected) && !errors.Is(err, ErrConnectivity) {
			err = fmt.Errorf("%w: %w", ErrConnectivity, err)
		}
		lastErr = err
		c.log.Warn("sync: attempt failed", "phase", phase, "tenant", key,
			"attempt", attempt, "of", c.retryCount, "err", err)
	}
	return c.retryCount, lastErr
}
