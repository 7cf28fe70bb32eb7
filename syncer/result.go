package syncer

import (
	"strings"
	"time"

	"ledgersync/store"
)

// Trigger names what started a cycle.
type Trigger string

const (
	TriggerAuto      Trigger = "auto"
	TriggerManual    Trigger = "manual"
	TriggerReconnect Trigger = "reconnect"
	TriggerHint      Trigger = "hint"
	TriggerForce     Trigger = "force-download"
)

// UserInitiated reports whether the trigger came from an explicit user
// action that expects a visible notification.
func (t Trigger) UserInitiated() bool {
	return t == TriggerManual || t == TriggerForce
}

// DownloadOnly reports whether a cycle for t skips the upload phase. Hints
// follow a peer upload that must not be overwritten.
func (t Trigger) DownloadOnly() bool {
	return t == TriggerHint || t == TriggerForce
}

// Outcome is the overall verdict of a cycle.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeSkipped Outcome = "skipped"
)

// PhaseResult describes one upload or download phase.
type PhaseResult struct {
	OK              bool                 `json:"success"`
	Attempts        int                  `json:"attempts"`
	DataCount       int                  `json:"dataCount"`
	Pushed          bool                 `json:"pushed,omitempty"`
	Restored        bool                 `json:"restored,omitempty"`
	RemoteTimestamp time.Time            `json:"remoteTimestamp"`
	Restore         *store.RestoreReport `json:"restore,omitempty"`
	Message         string               `json:"message"`
	Err             error                `json:"-"`
}

func phaseFailed(attempts int, err error) PhaseResult {
	return PhaseResult{Attempts: attempts, Message: err.Error(), Err: err}
}

// Result is what every entry point returns. Sync failures are reported here,
// never as a returned error.
type Result struct {
	TenantKey  string       `json:"tenantKey"`
	Trigger    Trigger      `json:"trigger"`
	Outcome    Outcome      `json:"outcome"`
	Upload     *PhaseResult `json:"upload,omitempty"`
	Download   *PhaseResult `json:"download,omitempty"`
	Message    string       `json:"message"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Err        error        `json:"-"`
}

// Skipped reports whether the cycle never started.
func (r Result) Skipped() bool { return r.Outcome == OutcomeSkipped }

// Succeeded reports whether every phase that ran succeeded.
func (r Result) Succeeded() bool { return r.Outcome == OutcomeSuccess }

func skipped(key string, trigger Trigger, err error, now time.Time) Result {
	return Result{
		TenantKey:  key,
		Trigger:    trigger,
		Outcome:    OutcomeSkipped,
		Message:    err.Error(),
		StartedAt:  now,
		FinishedAt: now,
		Err:        err,
	}
}

func failed(key string, trigger Trigger, err error, now time.Time) Result {
	return Result{
		TenantKey:  key,
		Trigger:    trigger,
		Outcome:    OutcomeError,
		Message:    err.Error(),
		StartedAt:  now,
		FinishedAt: now,
		Err:        err,
	}
}

// summarize fills Outcome and Message from the phases that ran.
func (r *Result) summarize() {
	r.Outcome = OutcomeSuccess
	var parts []string
	for _, p := range []struct {
		name  string
		phase *PhaseResult
	}{{"upload", r.Upload}, {"download", r.Download}} {
		if p.phase == nil {
			continue
		}
		if !p.phase.OK {
			r.Outcome = OutcomeError
			if r.Err == nil {
				r.Err = p.phase.Err
			}
		}
		parts = append(parts, p.name+": "+p.phase.Message)
	}
	r.Message = strings.Join(parts, "; ")
}

// Status is the polling view of the coordinator for status indicators.
type Status struct {
	IsActive    bool             `json:"isActive"`
	InProgress  bool             `json:"inProgress"`
	IsOnline    bool             `json:"isOnline"`
	LastSync    *time.Time       `json:"lastSync"`
	TenantKey   string           `json:"tenantKey"`
	LastAttempt *time.Time       `json:"lastAttempt"`
	Status      store.SyncStatus `json:"status,omitempty"`
	Message     string           `json:"message,omitempty"`
}
