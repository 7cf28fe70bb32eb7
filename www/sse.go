package www

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"ledgersync/engine"
)

const (
	sseClientBuffer = 64
	sseKeepalive    = 30 * time.Second
)

// SSEEvent is one message on the device event stream.
type SSEEvent struct {
	ID   uint64 `json:"id"`
	Type string `json:"type"`
	Data any    `json:"data"`
}

// EventHub fans engine events out to SSE clients. It keeps the latest event
// of each type and replays them when a client connects, so a page opened
// between cycles still shows the last result and connectivity state.
type EventHub struct {
	mu      sync.Mutex
	clients map[chan SSEEvent]struct{}
	latest  map[string]SSEEvent
	order   []string
	seq     uint64

	done     chan struct{}
	stopOnce sync.Once
}

// NewEventHub creates an EventHub.
func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[chan SSEEvent]struct{}),
		latest:  make(map[string]SSEEvent),
		done:    make(chan struct{}),
	}
}

// Stop ends every open stream.
func (h *EventHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast numbers an event and sends it to every client. A client whose buffer
// is full misses the event.
func (h *EventHub) Broadcast(typ string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	evt := SSEEvent{ID: h.seq, Type: typ, Data: data}
	if _, ok := h.latest[typ]; !ok {
		h.order = append(h.order, typ)
	}
	h.latest[typ] = evt
	for ch := range h.clients {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ClientCount returns the number of connected SSE clients.
func (h *EventHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// attach registers a client and returns the events to replay, oldest type
// first.
func (h *EventHub) attach() (chan SSEEvent, []SSEEvent) {
	ch := make(chan SSEEvent, sseClientBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[ch] = struct{}{}
	replay := make([]SSEEvent, 0, len(h.order))
	for _, typ := range h.order {
		replay = append(replay, h.latest[typ])
	}
	return ch, replay
}

func (h *EventHub) detach(ch chan SSEEvent) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

func writeSSE(w io.Writer, evt SSEEvent) error {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return err
	}
	if evt.ID > 0 {
		fmt.Fprintf(w, "id: %d\n", evt.ID)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
	return err
}

// HandleSSE streams events to one client until it disconnects or the hub
// stops.
func (h *EventHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, replay := h.attach()
	defer h.detach(ch)

	writeSSE(w, SSEEvent{Type: "connected", Data: struct{}{}})
	for _, evt := range replay {
		writeSSE(w, evt)
	}
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case evt := <-ch:
			if err := writeSSE(w, evt); err != nil {
				continue
			}
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// SetupEngineListeners forwards engine events to SSE clients. Sync results
// are sent without their wrapper.
func (h *EventHub) SetupEngineListeners(bus *engine.EventBus) engine.SubscriberID {
	return bus.Subscribe(func(evt engine.Event) {
		if p, ok := evt.Payload.(engine.SyncResultEvent); ok {
			h.Broadcast(evt.Type.String(), p.Result)
			return
		}
		h.Broadcast(evt.Type.String(), evt.Payload)
	})
}
