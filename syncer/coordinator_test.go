package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ledgersync/connectivity"
	"ledgersync/remote"
	"ledgersync/snapshot"
	"ledgersync/store"
)

const testTenant = "17507_manager"

type fakeGateway struct {
	mu        sync.Mutex
	saves     int
	gets      int
	active    int
	maxActive int
	saveErr   error
	getErr    error
	data      *remote.TenantData
	saveTime  time.Time
	down      bool
	probes    int

	// When set, GetTenantData signals entered and waits for release.
	entered chan struct{}
	release chan struct{}
}

func (g *fakeGateway) begin() {
	g.mu.Lock()
	g.active++
	if g.active > g.maxActive {
		g.maxActive = g.active
	}
	g.mu.Unlock()
}

func (g *fakeGateway) end() {
	g.mu.Lock()
	g.active--
	g.mu.Unlock()
}

func (g *fakeGateway) TestConnectivity(context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.probes++
	return !g.down
}

func (g *fakeGateway) SaveTenantData(_ context.Context, key string, snap *snapshot.Snapshot) (remote.Receipt, error) {
	g.begin()
	defer g.end()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saves++
	if g.saveErr != nil {
		return remote.Receipt{}, g.saveErr
	}
	g.data = &remote.TenantData{Snapshot: snap, LastSyncTimestamp: g.saveTime}
	return remote.Receipt{Timestamp: g.saveTime, DataCount: snap.Count()}, nil
}

func (g *fakeGateway) GetTenantData(context.Context, string) (*remote.TenantData, error) {
	g.begin()
	defer g.end()
	if g.entered != nil {
		g.entered <- struct{}{}
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gets++
	if g.getErr != nil {
		return nil, g.getErr
	}
	return g.data, nil
}

func (g *fakeGateway) calls() (saves, gets int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.saves, g.gets
}

type recordingEmitter struct {
	mu        sync.Mutex
	started   int
	notices   []Result
	completed chan Result
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{completed: make(chan Result, 16)}
}

func (e *recordingEmitter) EmitSyncStarted(string, Trigger) {
	e.mu.Lock()
	e.started++
	e.mu.Unlock()
}

func (e *recordingEmitter) EmitSyncCompleted(res Result) {
	select {
	case e.completed <- res:
	default:
	}
}

func (e *recordingEmitter) EmitSyncNotice(res Result) {
	e.mu.Lock()
	e.notices = append(e.notices, res)
	e.mu.Unlock()
}

func (e *recordingEmitter) wait(t *testing.T, trigger Trigger) Result {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case res := <-e.completed:
			if res.Trigger == trigger {
				return res
			}
		case <-timeout:
			t.Fatalf("no %s cycle completed", trigger)
		}
	}
}

type harness struct {
	c      *Coordinator
	local  *store.Local
	mon    *connectivity.Monitor
	gw     *fakeGateway
	emit   *recordingEmitter
	mu     sync.Mutex
	sleeps []time.Duration
}

func newHarness(t *testing.T, online bool, opts ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		local: store.NewLocal(store.Options{Dir: t.TempDir()}),
		mon:   connectivity.New(nil, connectivity.Options{Online: online}),
		gw:    &fakeGateway{saveTime: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		emit:  newRecordingEmitter(),
	}
	o := Options{
		Store:        h.local,
		Gateway:      h.gw,
		Connectivity: h.mon,
		Emitter:      h.emit,
		Interval:     time.Hour,
		RetryCount:   3,
		RetryDelay:   2 * time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.mu.Lock()
			h.sleeps = append(h.sleeps, d)
			h.mu.Unlock()
			return nil
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	h.c = New(o)
	t.Cleanup(func() {
		h.c.Close()
		h.local.Close()
	})
	return h
}

// seed opens the tenant's partition and stores its watermark.
func (h *harness) seed(t *testing.T, watermark time.Time) {
	t.Helper()
	if err := h.local.SelectTenant(PartitionFor(testTenant)); err != nil {
		t.Fatalf("select: %v", err)
	}
	err := h.local.SetSyncMeta(context.Background(), store.SyncMeta{
		LastSyncTimestamp: watermark,
		TenantKey:         testTenant,
		Status:            store.StatusSuccess,
	})
	if err != nil {
		t.Fatalf("set meta: %v", err)
	}
}

func remoteSnapshot(ts time.Time, recs ...snapshot.Record) *remote.TenantData {
	s := snapshot.New()
	s.Collections[snapshot.Products] = recs
	return &remote.TenantData{Snapshot: s, LastSyncTimestamp: ts}
}

func TestManualSyncRestoresNewerRemote(t *testing.T) {
	h := newHarness(t, true)
	h.seed(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	h.gw.data = remoteSnapshot(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		snapshot.Record{"id": "p1", "stock": 5})

	ctx := context.Background()
	res := h.c.ManualSync(ctx, testTenant)
	if !res.Succeeded() {
		t.Fatalf("outcome = %s (%s), want success", res.Outcome, res.Message)
	}
	if res.Download == nil || !res.Download.Restored {
		t.Fatalf("download = %+v, want restored", res.Download)
	}

	rec, err := h.local.GetByID(ctx, snapshot.Products, "p1")
	if err != nil {
		t.Fatalf("get p1: %v", err)
	}
	if rec["stock"] != float64(5) {
		t.Errorf("stock = %v, want 5", rec["stock"])
	}
	meta, err := h.local.SyncMeta(ctx)
	if err != nil || meta == nil {
		t.Fatalf("meta = %v, %v", meta, err)
	}
	if meta.Status != store.StatusSuccess {
		t.Errorf("status = %s, want success", meta.Status)
	}
	if !meta.LastSyncTimestamp.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("watermark = %v, want remote timestamp", meta.LastSyncTimestamp)
	}
	if len(h.emit.notices) != 1 {
		t.Errorf("notices = %d, want 1", len(h.emit.notices))
	}
}

func TestEqualTimestampDoesNotRestore(t *testing.T) {
	h := newHarness(t, true)
	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	h.seed(t, ts)
	h.gw.data = remoteSnapshot(ts, snapshot.Record{"id": "p1", "stock": 5})

	res := h.c.ManualSync(context.Background(), testTenant)
	if !res.Succeeded() {
		t.Fatalf("outcome = %s (%s), want success", res.Outcome, res.Message)
	}
	if res.Download.Restored {
		t.Error("equal timestamps restored remote snapshot")
	}
	recs, err := h.local.GetAll(context.Background(), snapshot.Products)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("products = %v, want none", recs)
	}
}

func TestOlderRemoteDoesNotRestore(t *testing.T) {
	h := newHarness(t, true)
	h.seed(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	h.gw.data = remoteSnapshot(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), snapshot.Record{"id": "p1"})

	res := h.c.ManualSync(context.Background(), testTenant)
	if res.Download == nil || res.Download.Restored {
		t.Errorf("download = %+v, want not restored", res.Download)
	}
}

func TestEmptySnapshotSkipsPush(t *testing.T) {
	h := newHarness(t, true)

	res := h.c.ManualSync(context.Background(), testTenant)
	if res.Upload == nil || !res.Upload.OK {
		t.Fatalf("upload = %+v, want success", res.Upload)
	}
	if res.Upload.DataCount != 0 || res.Upload.Pushed {
		t.Errorf("upload = %+v, want no push and zero count", res.Upload)
	}
	if saves, _ := h.gw.calls(); saves != 0 {
		t.Errorf("saves = %d, want 0", saves)
	}
}

func TestSettingsOnlySnapshotIsNotPushed(t *testing.T) {
	h := newHarness(t, true)
	h.seed(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	h.gw.data = remoteSnapshot(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		snapshot.Record{"id": "p1", "stock": 5})
	ctx := context.Background()
	if err := h.local.SaveSettings(ctx, map[string]any{"currency": "EUR"}); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	res := h.c.ManualSync(ctx, testTenant)
	if !res.Succeeded() {
		t.Fatalf("outcome = %s (%s), want success", res.Outcome, res.Message)
	}
	if res.Upload.Pushed || res.Upload.DataCount != 0 {
		t.Errorf("upload = %+v, want no push and zero count", res.Upload)
	}
	if saves, _ := h.gw.calls(); saves != 0 {
		t.Errorf("saves = %d, want 0", saves)
	}
	if !res.Download.Restored {
		t.Fatalf("download = %+v, want restored", res.Download)
	}
	if _, err := h.local.GetByID(ctx, snapshot.Products, "p1"); err != nil {
		t.Errorf("get p1: %v", err)
	}
	h.gw.mu.Lock()
	defer h.gw.mu.Unlock()
	if n := len(h.gw.data.Snapshot.Collections[snapshot.Products]); n != 1 {
		t.Errorf("remote products = %d, want 1", n)
	}
}

func TestUploadAdvancesWatermark(t *testing.T) {
	h := newHarness(t, true)
	h.seed(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	if err := h.local.Save(ctx, snapshot.Products, snapshot.Record{"id": "p1", "stock": 3}); err != nil {
		t.Fatalf("save: %v", err)
	}

	res := h.c.ManualSync(ctx, testTenant)
	if !res.Succeeded() {
		t.Fatalf("outcome = %s (%s), want success", res.Outcome, res.Message)
	}
	if !res.Upload.Pushed || res.Upload.DataCount != 1 {
		t.Errorf("upload = %+v, want one record pushed", res.Upload)
	}
	if res.Download.Restored {
		t.Error("own upload was restored back")
	}
	meta, _ := h.local.SyncMeta(ctx)
	if meta == nil || !meta.LastSyncTimestamp.Equal(h.gw.saveTime) {
		t.Errorf("meta = %+v, want watermark %v", meta, h.gw.saveTime)
	}
}

func TestRetryBound(t *testing.T) {
	h := newHarness(t, true)
	h.gw.getErr = errors.New("connection reset")
	if err := h.c.Register(testTenant); err != nil {
		t.Fatalf("register: %v", err)
	}

	phase := h.c.Download(context.Background())
	if phase.OK {
		t.Fatal("download succeeded, want failure")
	}
	if phase.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", phase.Attempts)
	}
	if _, gets := h.gw.calls(); gets != 3 {
		t.Errorf("gets = %d, want 3", gets)
	}
	if !errors.Is(phase.Err, ErrConnectivity) {
		t.Errorf("err = %v, want ErrConnectivity", phase.Err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.sleeps) != 2 {
		t.Fatalf("sleeps = %v, want 2", h.sleeps)
	}
	for _, d := range h.sleeps {
		if d != 2*time.Second {
			t.Errorf("sleep = %v, want 2s", d)
		}
	}
}

func TestUnreachableGatewayConsumesRetries(t *testing.T) {
	h := newHarness(t, true)
	h.seed(t, time.Time{})
	ctx := context.Background()
	if err := h.local.Save(ctx, snapshot.Products, snapshot.Record{"id": "p1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	h.gw.down = true

	res := h.c.ManualSync(ctx, testTenant)
	if res.Outcome != OutcomeError || !errors.Is(res.Err, ErrConnectivity) {
		t.Fatalf("result = %s (%v), want connectivity error", res.Outcome, res.Err)
	}
	if res.Upload.Attempts != 3 || res.Download.Attempts != 3 {
		t.Errorf("attempts = %d/%d, want 3/3", res.Upload.Attempts, res.Download.Attempts)
	}
	if saves, gets := h.gw.calls(); saves+gets != 0 {
		t.Errorf("remote calls = %d, want 0", saves+gets)
	}
	h.gw.mu.Lock()
	defer h.gw.mu.Unlock()
	if h.gw.probes != 6 {
		t.Errorf("reachability checks = %d, want 6", h.gw.probes)
	}
}

func TestRejectedIsRetriedAndRecorded(t *testing.T) {
	h := newHarness(t, true)
	h.seed(t, time.Time{})
	ctx := context.Background()
	if err := h.local.Save(ctx, snapshot.Sales, snapshot.Record{"id": "s1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	h.gw.saveErr = remote.ErrRemoteRejected

	res := h.c.ManualSync(ctx, testTenant)
	if res.Outcome != OutcomeError {
		t.Fatalf("outcome = %s, want error", res.Outcome)
	}
	if saves, _ := h.gw.calls(); saves != 3 {
		t.Errorf("saves = %d, want 3", saves)
	}
	if !errors.Is(res.Err, remote.ErrRemoteRejected) {
		t.Errorf("err = %v, want ErrRemoteRejected", res.Err)
	}
	meta, _ := h.local.SyncMeta(ctx)
	if meta == nil || meta.Status != store.StatusError || meta.Message == "" {
		t.Errorf("meta = %+v, want error status with message", meta)
	}
}

func TestOfflineShortCircuit(t *testing.T) {
	h := newHarness(t, false)
	if err := h.c.Register(testTenant); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()

	for name, phase := range map[string]PhaseResult{
		"upload":   h.c.Upload(ctx),
		"download": h.c.Download(ctx),
	} {
		if phase.OK || !errors.Is(phase.Err, ErrOffline) {
			t.Errorf("%s = %+v, want ErrOffline failure", name, phase)
		}
	}
	res := h.c.ManualSync(ctx, testTenant)
	if !res.Skipped() || !errors.Is(res.Err, ErrOffline) {
		t.Errorf("manual = %s (%v), want skipped offline", res.Outcome, res.Err)
	}
	if saves, gets := h.gw.calls(); saves+gets != 0 {
		t.Errorf("remote calls = %d, want 0", saves+gets)
	}
}

func TestInvalidIdentifierMakesNoRemoteCalls(t *testing.T) {
	h := newHarness(t, true)
	for _, key := range []string{"", "17507", "17507_admin", "a b_manager", "../x_manager"} {
		res := h.c.ManualSync(context.Background(), key)
		if !errors.Is(res.Err, ErrInvalidIdentifier) {
			t.Errorf("ManualSync(%q) err = %v, want ErrInvalidIdentifier", key, res.Err)
		}
	}
	if saves, gets := h.gw.calls(); saves+gets != 0 {
		t.Errorf("remote calls = %d, want 0", saves+gets)
	}
	if _, ok := h.local.ActivePartition(); ok {
		t.Error("invalid key opened a partition")
	}
}

func TestManualSyncSkipsWhenBusy(t *testing.T) {
	h := newHarness(t, true)
	h.gw.entered = make(chan struct{})
	h.gw.release = make(chan struct{})

	first := make(chan Result)
	go func() { first <- h.c.ManualSync(context.Background(), testTenant) }()
	<-h.gw.entered

	if st := h.c.Status(context.Background()); !st.InProgress {
		t.Error("status not in progress during cycle")
	}
	second := h.c.ManualSync(context.Background(), testTenant)
	if !second.Skipped() || !errors.Is(second.Err, ErrBusy) {
		t.Errorf("second = %s (%v), want skipped busy", second.Outcome, second.Err)
	}

	close(h.gw.release)
	if res := <-first; !res.Succeeded() {
		t.Errorf("first = %s (%s), want success", res.Outcome, res.Message)
	}
	h.gw.mu.Lock()
	defer h.gw.mu.Unlock()
	if h.gw.maxActive != 1 {
		t.Errorf("max concurrent remote calls = %d, want 1", h.gw.maxActive)
	}
	if h.gw.gets != 1 {
		t.Errorf("gets = %d, want 1", h.gw.gets)
	}
}

func TestForceDownloadIgnoresWatermark(t *testing.T) {
	h := newHarness(t, true)
	h.seed(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	h.gw.data = remoteSnapshot(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), snapshot.Record{"id": "p9"})

	res := h.c.ForceDownloadFromCloud(context.Background(), testTenant)
	if !res.Succeeded() || res.Upload != nil {
		t.Fatalf("result = %+v, want success without upload", res)
	}
	if !res.Download.Restored {
		t.Error("force download did not restore")
	}
	if _, err := h.local.GetByID(context.Background(), snapshot.Products, "p9"); err != nil {
		t.Errorf("get p9: %v", err)
	}
	if saves, _ := h.gw.calls(); saves != 0 {
		t.Errorf("saves = %d, want 0", saves)
	}
}

func TestHintCycleSkipsUpload(t *testing.T) {
	h := newHarness(t, true)
	h.seed(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	if err := h.local.Save(ctx, snapshot.Products, snapshot.Record{"id": "mine"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	h.gw.data = remoteSnapshot(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), snapshot.Record{"id": "theirs"})
	if err := h.c.Register(testTenant); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := h.c.Trigger(ctx, TriggerHint)
	if !res.Succeeded() || res.Upload != nil {
		t.Fatalf("result = %+v, want success without upload", res)
	}
	if !res.Download.Restored {
		t.Error("hint cycle did not restore newer remote")
	}
	if saves, _ := h.gw.calls(); saves != 0 {
		t.Errorf("saves = %d, want 0", saves)
	}
}

func TestReconnectTriggersCycle(t *testing.T) {
	h := newHarness(t, false)
	if err := h.c.Register(testTenant); err != nil {
		t.Fatalf("register: %v", err)
	}
	h.mon.SetOnline(true)

	res := h.emit.wait(t, TriggerReconnect)
	if !res.Succeeded() {
		t.Errorf("reconnect cycle = %s (%s), want success", res.Outcome, res.Message)
	}
}

func TestReconnectWithoutTenantIsQuiet(t *testing.T) {
	h := newHarness(t, false)
	h.mon.SetOnline(true)
	h.c.Close()
	if _, gets := h.gw.calls(); gets != 0 {
		t.Errorf("gets = %d, want 0", gets)
	}
}

func TestStartAutoSyncRunsImmediately(t *testing.T) {
	h := newHarness(t, true)
	if err := h.c.StartAutoSync(testTenant); err != nil {
		t.Fatalf("start: %v", err)
	}
	res := h.emit.wait(t, TriggerAuto)
	if res.TenantKey != testTenant {
		t.Errorf("tenant = %q, want %q", res.TenantKey, testTenant)
	}
	if st := h.c.Status(context.Background()); !st.IsActive || st.TenantKey != testTenant {
		t.Errorf("status = %+v, want active for %s", st, testTenant)
	}
	h.c.StopAutoSync()
	if st := h.c.Status(context.Background()); st.IsActive {
		t.Error("still active after stop")
	}
}

func TestAutoSyncTicksUntilStopped(t *testing.T) {
	h := newHarness(t, true, func(o *Options) { o.Interval = 10 * time.Millisecond })
	if err := h.c.StartAutoSync(testTenant); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.emit.wait(t, TriggerAuto)
	h.emit.wait(t, TriggerAuto)
	h.emit.wait(t, TriggerAuto)

	h.c.StopAutoSync()
	h.c.wg.Wait()
	for len(h.emit.completed) > 0 {
		<-h.emit.completed
	}
	time.Sleep(100 * time.Millisecond)
	select {
	case res := <-h.emit.completed:
		t.Errorf("cycle after stop: %s", res.Trigger)
	default:
	}
}

func TestStartAutoSyncRejectsInvalidKey(t *testing.T) {
	h := newHarness(t, true)
	if err := h.c.StartAutoSync("nobody"); !errors.Is(err, ErrInvalidIdentifier) {
		t.Errorf("err = %v, want ErrInvalidIdentifier", err)
	}
}

func TestNoTenantIsSkipped(t *testing.T) {
	h := newHarness(t, true)
	res := h.c.Trigger(context.Background(), TriggerHint)
	if !res.Skipped() || !errors.Is(res.Err, ErrNoTenant) {
		t.Errorf("result = %s (%v), want skipped no tenant", res.Outcome, res.Err)
	}
}

func TestValidateTenantKey(t *testing.T) {
	for key, ok := range map[string]bool{
		"owner":           true,
		"17507_manager":   true,
		"17507_employee":  true,
		"17507_employe":   true,
		"lot-9_manager":   true,
		"17507_managers":  false,
		"_manager":        false,
		"17507_manager\n": false,
		"OWNER":           false,
	} {
		err := ValidateTenantKey(key)
		if (err == nil) != ok {
			t.Errorf("ValidateTenantKey(%q) = %v, want ok=%v", key, err, ok)
		}
	}
	if got := PartitionFor(OwnerTenantKey); got != "" {
		t.Errorf("PartitionFor(owner) = %q, want default partition", got)
	}
}

func TestSelectTenantBindsPartition(t *testing.T) {
	h := newHarness(t, true)
	if err := h.c.SelectTenant("9_employee"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if p, ok := h.local.ActivePartition(); !ok || p != "9_employee" {
		t.Errorf("partition = %q, %v, want 9_employee", p, ok)
	}
	if got := h.c.TenantKey(); got != "9_employee" {
		t.Errorf("tenant = %q, want 9_employee", got)
	}

	if err := h.c.SelectTenant(OwnerTenantKey); err != nil {
		t.Fatalf("select owner: %v", err)
	}
	if p, ok := h.local.ActivePartition(); !ok || p != "" {
		t.Errorf("owner partition = %q, %v, want default", p, ok)
	}
	if err := h.c.SelectTenant("9"); !errors.Is(err, ErrInvalidIdentifier) {
		t.Errorf("err = %v, want ErrInvalidIdentifier", err)
	}
}
