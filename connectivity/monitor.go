// Package connectivity tracks whether the remote side is reachable and
// notifies subscribers on online/offline transitions only.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Listener is called with the new state on every transition edge.
type Listener func(online bool)

// Options configures a Monitor.
type Options struct {
	// Interval between probes. Zero disables polling; the state then changes
	// only through SetOnline or Check.
	Interval time.Duration
	// Timeout for a single probe.
	Timeout time.Duration
	// Online is the state assumed before the first probe.
	Online bool
	Logger *slog.Logger
}

// Monitor holds the current online flag.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	lastErr   error
	listeners map[uint64]Listener
	nextID    uint64

	prober   Prober
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger

	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a Monitor. prober may be nil.
func New(prober Prober, opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Monitor{
		online:    opts.Online,
		listeners: make(map[uint64]Listener),
		prober:    prober,
		interval:  opts.Interval,
		timeout:   timeout,
		log:       logger,
	}
}

// IsOnline returns the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// LastError returns the error of the most recent failed probe, if the
// monitor is offline because of one.
func (m *Monitor) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Subscribe registers fn for transition edges and returns a function that
// removes it.
func (m *Monitor) Subscribe(fn Listener) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// SetOnline forces the state. Listeners fire only if it changed.
func (m *Monitor) SetOnline(online bool) {
	m.set(online, nil)
}

// Check probes once and updates the state. Without a prober it returns the
// current state unchanged.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.IsOnline()
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.prober.Probe(ctx)
	m.set(err == nil, err)
	return err == nil
}

func (m *Monitor) set(online bool, err error) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.lastErr = err
	var fns []Listener
	if changed {
		fns = make([]Listener, 0, len(m.listeners))
		for _, fn := range m.listeners {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	if online {
		m.log.Info("connectivity: online")
	} else if err != nil {
		m.log.Warn("connectivity: offline", "err", err)
	} else {
		m.log.Info("connectivity: offline")
	}
	for _, fn := range fns {
		fn(online)
	}
}

// Start begins periodic probing. It is a no-op without a prober or
// interval, or when already running.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running || m.prober == nil || m.interval <= 0 {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.pollLoop()
}

// Stop ends probing and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.stopChan)
	m.running = false
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Monitor) pollLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(context.Background())
	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.Check(context.Background())
		}
	}
}
