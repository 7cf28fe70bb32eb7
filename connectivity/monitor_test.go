package connectivity

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type scriptedProber struct {
	results []error
	calls   int
}

func (p *scriptedProber) Probe(context.Context) error {
	err := p.results[p.calls%len(p.results)]
	p.calls++
	return err
}

func TestCheckNotifiesOnEdgesOnly(t *testing.T) {
	down := errors.New("down")
	p := &scriptedProber{results: []error{nil, nil, down, down, nil}}
	m := New(p, Options{})

	var edges []bool
	m.Subscribe(func(online bool) { edges = append(edges, online) })

	for i := 0; i < 5; i++ {
		m.Check(context.Background())
	}
	want := []bool{true, false, true}
	if len(edges) != len(want) {
		t.Fatalf("edges = %v, want %v", edges, want)
	}
	for i := range want {
		if edges[i] != want[i] {
			t.Errorf("edge %d = %v, want %v", i, edges[i], want[i])
		}
	}
	if !m.IsOnline() {
		t.Error("IsOnline = false, want true")
	}
}

func TestSetOnlineSameStateIsSilent(t *testing.T) {
	m := New(nil, Options{Online: true})
	calls := 0
	m.Subscribe(func(bool) { calls++ })

	m.SetOnline(true)
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
	m.SetOnline(false)
	m.SetOnline(false)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if m.IsOnline() {
		t.Error("IsOnline = true after SetOnline(false)")
	}
}

func TestUnsubscribe(t *testing.T) {
	m := New(nil, Options{})
	calls := 0
	cancel := m.Subscribe(func(bool) { calls++ })
	cancel()
	m.SetOnline(true)
	if calls != 0 {
		t.Errorf("calls = %d after unsubscribe, want 0", calls)
	}
}

func TestCheckWithoutProberKeepsState(t *testing.T) {
	m := New(nil, Options{Online: true})
	if !m.Check(context.Background()) {
		t.Error("Check = false, want current state true")
	}
}

func TestPollLoopDetectsTransitions(t *testing.T) {
	var up atomic.Bool
	p := ProberFunc(func(context.Context) error {
		if up.Load() {
			return nil
		}
		return ErrUnreachable
	})
	m := New(p, Options{Interval: 5 * time.Millisecond})
	edges := make(chan bool, 4)
	m.Subscribe(func(online bool) { edges <- online })

	m.Start()
	defer m.Stop()

	up.Store(true)
	select {
	case online := <-edges:
		if !online {
			t.Errorf("first edge = offline, want online")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no online edge")
	}

	up.Store(false)
	select {
	case online := <-edges:
		if online {
			t.Errorf("second edge = online, want offline")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no offline edge")
	}
	if !errors.Is(m.LastError(), ErrUnreachable) {
		t.Errorf("LastError = %v, want ErrUnreachable", m.LastError())
	}
}

func TestHTTPProber(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	p := &HTTPProber{URL: srv.URL, Client: srv.Client()}
	if err := p.Probe(context.Background()); err != nil {
		t.Errorf("probe 200: %v", err)
	}
	status.Store(http.StatusServiceUnavailable)
	if err := p.Probe(context.Background()); err == nil {
		t.Error("probe 503 should fail")
	}
}

func TestTCPProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	p := &TCPProber{Address: addr}
	if err := p.Probe(context.Background()); err != nil {
		t.Errorf("probe open port: %v", err)
	}
	ln.Close()
	if err := p.Probe(context.Background()); err == nil {
		t.Error("probe closed port should fail")
	}
}

func TestBoolProber(t *testing.T) {
	p := BoolProber(func(context.Context) bool { return false })
	if !errors.Is(p.Probe(context.Background()), ErrUnreachable) {
		t.Error("BoolProber(false) should return ErrUnreachable")
	}
}
