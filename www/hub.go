package www

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ledgersync/remote"
	"ledgersync/snapshot"
	"ledgersync/syncer"
)

// hubHandlers serves the shared snapshot store to devices.
type hubHandlers struct {
	gw  remote.Gateway
	log *slog.Logger
}

// NewHubRouter exposes gw over HTTP for devices configured with the http
// remote driver.
func NewHubRouter(gw remote.Gateway, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &hubHandlers{gw: gw, log: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route("/hub", func(r chi.Router) {
		r.Get("/ping", h.ping)
		r.Get("/tenants", h.listTenants)
		r.Get("/tenants/{key}/snapshot", h.getSnapshot)
		r.Put("/tenants/{key}/snapshot", h.putSnapshot)
	})
	return r
}

func (h *hubHandlers) ping(w http.ResponseWriter, r *http.Request) {
	if !h.gw.TestConnectivity(r.Context()) {
		writeError(w, http.StatusServiceUnavailable, "snapshot store unreachable")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *hubHandlers) listTenants(w http.ResponseWriter, r *http.Request) {
	lister, ok := h.gw.(remote.Lister)
	if !ok {
		writeError(w, http.StatusNotImplemented, "tenant listing not supported by this store")
		return
	}
	tenants, err := lister.ListTenants(r.Context())
	if err != nil {
		h.log.Error("hub: list tenants", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tenants == nil {
		tenants = []remote.TenantInfo{}
	}
	writeJSON(w, tenants)
}

func (h *hubHandlers) tenantKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "key")
	if err := syncer.ValidateTenantKey(key); err != nil {
		writeStatusJSON(w, http.StatusBadRequest, remote.SaveResponse{Message: err.Error()})
		return "", false
	}
	return key, true
}

func (h *hubHandlers) getSnapshot(w http.ResponseWriter, r *http.Request) {
	key, ok := h.tenantKey(w, r)
	if !ok {
		return
	}
	td, err := h.gw.GetTenantData(r.Context(), key)
	if err != nil {
		h.log.Error("hub: get snapshot", "tenant", key, "err", err)
		writeStatusJSON(w, http.StatusInternalServerError, remote.FetchResponse{Message: err.Error()})
		return
	}
	if td == nil {
		writeJSON(w, remote.FetchResponse{Success: true, Message: "no data for tenant"})
		return
	}
	ts := td.LastSyncTimestamp
	writeJSON(w, remote.FetchResponse{Success: true, Data: td.Snapshot, LastSyncTimestamp: &ts})
}

func (h *hubHandlers) putSnapshot(w http.ResponseWriter, r *http.Request) {
	key, ok := h.tenantKey(w, r)
	if !ok {
		return
	}
	var snap snapshot.Snapshot
	if err := decodeJSON(w, r, &snap); err != nil {
		writeStatusJSON(w, http.StatusBadRequest, remote.SaveResponse{Message: "invalid snapshot: " + err.Error()})
		return
	}
	rcpt, err := h.gw.SaveTenantData(r.Context(), key, &snap)
	if err != nil {
		h.log.Error("hub: save snapshot", "tenant", key, "err", err)
		writeStatusJSON(w, http.StatusInternalServerError, remote.SaveResponse{Message: err.Error()})
		return
	}
	h.log.Info("hub: snapshot stored", "tenant", key, "count", rcpt.DataCount)
	writeJSON(w, remote.SaveResponse{
		Success:           true,
		Message:           "snapshot stored",
		DataCount:         rcpt.DataCount,
		LastSyncTimestamp: rcpt.Timestamp,
	})
}
