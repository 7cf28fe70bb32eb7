package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"

	"ledgersync/config"
	"ledgersync/snapshot"
)

func testSnapshot() *snapshot.Snapshot {
	s := snapshot.New()
	s.Collections[snapshot.Products] = []snapshot.Record{{"id": "p1", "stock": float64(5)}}
	s.Settings = map[string]any{"currency": "USD"}
	return s
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func testSQL(t *testing.T) *SQLGateway {
	t.Helper()
	g, err := OpenSQL(&config.RemoteConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "hub.db")},
	})
	if err != nil {
		t.Fatalf("open sql gateway: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func testRedis(t *testing.T) (*RedisGateway, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	g := NewRedisGateway(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")
	t.Cleanup(func() { g.Close() })
	return g, mr
}

// exerciseGateway runs the contract every gateway must satisfy.
func exerciseGateway(t *testing.T, g Gateway) {
	t.Helper()
	ctx := context.Background()

	if !g.TestConnectivity(ctx) {
		t.Fatal("TestConnectivity = false, want true")
	}
	td, err := g.GetTenantData(ctx, "17507_manager")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if td != nil {
		t.Fatalf("get missing = %+v, want nil", td)
	}

	want := testSnapshot()
	rcpt, err := g.SaveTenantData(ctx, "17507_manager", want)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if rcpt.DataCount != 1 {
		t.Errorf("DataCount = %d, want 1", rcpt.DataCount)
	}

	td, err = g.GetTenantData(ctx, "17507_manager")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if td == nil {
		t.Fatal("get = nil, want data")
	}
	if !td.LastSyncTimestamp.Equal(rcpt.Timestamp) {
		t.Errorf("timestamp = %v, want %v", td.LastSyncTimestamp, rcpt.Timestamp)
	}
	if diff := cmp.Diff(want.Collections[snapshot.Products], td.Snapshot.Collections[snapshot.Products]); diff != "" {
		t.Errorf("products mismatch (-want +got):\n%s", diff)
	}
	if td.Snapshot.Settings["currency"] != "USD" {
		t.Errorf("settings = %v, want currency USD", td.Snapshot.Settings)
	}

	other, err := g.GetTenantData(ctx, "99_employee")
	if err != nil || other != nil {
		t.Errorf("other tenant = %+v, %v, want nil, nil", other, err)
	}
}

func TestSQLGateway(t *testing.T) {
	g := testSQL(t)
	g.SetClock(fixedClock(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
	exerciseGateway(t, g)

	tenants, err := g.ListTenants(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tenants) != 1 || tenants[0].TenantKey != "17507_manager" || tenants[0].DataCount != 1 {
		t.Errorf("tenants = %+v", tenants)
	}
}

func TestSQLGatewayUpsertAdvancesTimestamp(t *testing.T) {
	g := testSQL(t)
	ctx := context.Background()
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g.SetClock(fixedClock(first))
	if _, err := g.SaveTenantData(ctx, "owner", testSnapshot()); err != nil {
		t.Fatalf("save 1: %v", err)
	}
	second := first.Add(time.Hour)
	g.SetClock(fixedClock(second))
	if _, err := g.SaveTenantData(ctx, "owner", snapshot.New()); err != nil {
		t.Fatalf("save 2: %v", err)
	}
	td, err := g.GetTenantData(ctx, "owner")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !td.LastSyncTimestamp.Equal(second) {
		t.Errorf("timestamp = %v, want %v", td.LastSyncTimestamp, second)
	}
	if td.Snapshot.Count() != 0 {
		t.Errorf("count = %d, want 0 after overwrite", td.Snapshot.Count())
	}
}

func TestSQLGatewayRejectsEmptyTenant(t *testing.T) {
	g := testSQL(t)
	_, err := g.SaveTenantData(context.Background(), "", testSnapshot())
	if !errors.Is(err, ErrRemoteRejected) {
		t.Errorf("err = %v, want ErrRemoteRejected", err)
	}
}

func TestRebind(t *testing.T) {
	tests := map[string]string{
		`SELECT a FROM t WHERE x=? AND y=?`: `SELECT a FROM t WHERE x=$1 AND y=$2`,
		`SELECT '?' FROM t WHERE x=?`:       `SELECT '?' FROM t WHERE x=$1`,
		`SELECT a FROM t`:                   `SELECT a FROM t`,
	}
	for in, want := range tests {
		if got := Rebind(in); got != want {
			t.Errorf("Rebind(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedisGateway(t *testing.T) {
	g, _ := testRedis(t)
	exerciseGateway(t, g)
}

func TestRedisGatewayCorruptBlob(t *testing.T) {
	g, mr := testRedis(t)
	mr.Set(g.snapshotKey("owner"), "not json")
	_, err := g.GetTenantData(context.Background(), "owner")
	if !errors.Is(err, ErrRemoteRejected) {
		t.Errorf("err = %v, want ErrRemoteRejected", err)
	}
}

func TestRedisGatewayUnreachable(t *testing.T) {
	g, mr := testRedis(t)
	mr.Close()
	if g.TestConnectivity(context.Background()) {
		t.Error("TestConnectivity = true with server down")
	}
}

func TestCachedGatewayBackfillsFromSQL(t *testing.T) {
	sqlGW := testSQL(t)
	cache, mr := testRedis(t)
	g := NewCachedGateway(sqlGW, cache, nil)
	exerciseGateway(t, g)

	// A cold cache is filled from SQL on read.
	mr.FlushAll()
	td, err := g.GetTenantData(context.Background(), "17507_manager")
	if err != nil || td == nil {
		t.Fatalf("get after flush = %+v, %v", td, err)
	}
	if !mr.Exists(cache.snapshotKey("17507_manager")) {
		t.Error("cache was not backfilled")
	}
}

func TestCachedGatewaySurvivesCacheOutage(t *testing.T) {
	sqlGW := testSQL(t)
	cache, mr := testRedis(t)
	g := NewCachedGateway(sqlGW, cache, nil)
	mr.Close()

	ctx := context.Background()
	if _, err := g.SaveTenantData(ctx, "owner", testSnapshot()); err != nil {
		t.Fatalf("save with cache down: %v", err)
	}
	td, err := g.GetTenantData(ctx, "owner")
	if err != nil || td == nil {
		t.Fatalf("get with cache down = %+v, %v", td, err)
	}
}

// fakeHub serves the /hub API from an in-memory SQL gateway.
func fakeHub(t *testing.T, backing Gateway) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/hub/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/hub/tenants/", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path[len("/hub/tenants/") : len(r.URL.Path)-len("/snapshot")]
		switch r.Method {
		case http.MethodPut:
			var s snapshot.Snapshot
			if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
				return
			}
			rcpt, err := backing.SaveTenantData(r.Context(), key, &s)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(SaveResponse{Success: true, DataCount: rcpt.DataCount, LastSyncTimestamp: rcpt.Timestamp})
		case http.MethodGet:
			td, err := backing.GetTenantData(r.Context(), key)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			if td == nil {
				json.NewEncoder(w).Encode(FetchResponse{Success: true, Message: "no data"})
				return
			}
			ts := td.LastSyncTimestamp
			json.NewEncoder(w).Encode(FetchResponse{Success: true, Data: td.Snapshot, LastSyncTimestamp: &ts})
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPGateway(t *testing.T) {
	srv := fakeHub(t, testSQL(t))
	exerciseGateway(t, NewHTTPGateway(srv.URL, srv.Client(), 0))
}

func TestHTTPGatewayServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"upstream down"}`))
	}))
	defer srv.Close()
	g := NewHTTPGateway(srv.URL, srv.Client(), 0)
	if g.TestConnectivity(context.Background()) {
		t.Error("TestConnectivity = true on 502")
	}
	_, err := g.GetTenantData(context.Background(), "owner")
	if !errors.Is(err, ErrRemoteRejected) {
		t.Errorf("err = %v, want ErrRemoteRejected", err)
	}
}

func TestHTTPGatewayNotFoundIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	g := NewHTTPGateway(srv.URL+"/wrong-prefix", srv.Client(), 0)

	td, err := g.GetTenantData(context.Background(), "owner")
	if td != nil || !errors.Is(err, ErrRemoteRejected) {
		t.Errorf("GetTenantData = %+v, %v, want ErrRemoteRejected", td, err)
	}
	if _, err := g.SaveTenantData(context.Background(), "owner", testSnapshot()); !errors.Is(err, ErrRemoteRejected) {
		t.Errorf("SaveTenantData err = %v, want ErrRemoteRejected", err)
	}
}

func TestHTTPGatewayUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	g := NewHTTPGateway(url, nil, time.Second)
	_, err := g.SaveTenantData(context.Background(), "owner", testSnapshot())
	if err == nil {
		t.Fatal("expected transport error")
	}
	if errors.Is(err, ErrRemoteRejected) {
		t.Errorf("transport failure reported as rejection: %v", err)
	}
}
