// Package www serves the device API with its SSE event stream, and the hub
// API that devices using the http remote driver sync against.
package www

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ledgersync/engine"
	"ledgersync/messaging"
)

// PeerSource lists other devices of the active tenant.
type PeerSource interface {
	Peers() []messaging.Peer
}

// Handlers holds dependencies for device HTTP handlers.
type Handlers struct {
	engine   *engine.Engine
	peers    PeerSource
	eventHub *EventHub
}

// NewRouter creates the device router and returns it along with a stop
// function. peers may be nil when messaging is disabled.
func NewRouter(eng *engine.Engine, peers PeerSource) (http.Handler, func()) {
	h := &Handlers{
		engine:   eng,
		peers:    peers,
		eventHub: NewEventHub(),
	}
	subID := h.eventHub.SetupEngineListeners(eng.Events)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/events", h.eventHub.HandleSSE)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.apiStatus)
		r.Get("/tenant", h.apiGetTenant)
		r.Put("/tenant", h.apiSelectTenant)

		r.Post("/sync", h.apiManualSync)
		r.Post("/sync/start", h.apiStartAutoSync)
		r.Post("/sync/stop", h.apiStopAutoSync)
		r.Post("/sync/download", h.apiForceDownload)

		r.Get("/stats", h.apiStats)
		r.Get("/collections/{name}", h.apiListRecords)
		r.Post("/collections/{name}", h.apiSaveRecord)
		r.Get("/collections/{name}/{id}", h.apiGetRecord)
		r.Delete("/collections/{name}/{id}", h.apiDeleteRecord)
		r.Get("/settings", h.apiGetSettings)
		r.Put("/settings", h.apiSaveSettings)

		r.Post("/reset", h.apiReset)
		r.Post("/reconcile", h.apiReconcile)
		r.Post("/legacy/import", h.apiImportLegacy)
	})

	stop := func() {
		eng.Events.Unsubscribe(subID)
		h.eventHub.Stop()
	}
	return r, stop
}
