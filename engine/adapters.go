package engine

import (
	"ledgersync/store"
	"ledgersync/syncer"
)

// storeEmitter adapts the engine's EventBus to the store.EventEmitter interface.
type storeEmitter struct {
	bus *EventBus
}

func (e *storeEmitter) EmitDataRestored(partition string, report store.RestoreReport) {
	e.bus.Emit(Event{Type: EventDataRestored, Payload: DataRestoredEvent{
		Partition: partition, Counts: report.Counts, Dropped: report.Dropped,
		Total: report.Total(), Settings: report.Settings,
	}})
}

// syncEmitter adapts the engine's EventBus to the syncer.EventEmitter interface.
type syncEmitter struct {
	bus *EventBus
}

func (e *syncEmitter) EmitSyncStarted(tenantKey string, trigger syncer.Trigger) {
	e.bus.Emit(Event{Type: EventSyncStarted, Payload: SyncStartedEvent{TenantKey: tenantKey, Trigger: trigger}})
}

func (e *syncEmitter) EmitSyncCompleted(res syncer.Result) {
	e.bus.Emit(Event{Type: EventSyncCompleted, Payload: SyncResultEvent{res}})
}

func (e *syncEmitter) EmitSyncNotice(res syncer.Result) {
	e.bus.Emit(Event{Type: EventSyncNotice, Payload: SyncResultEvent{res}})
}
