package www

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ledgersync/snapshot"
)

func (h *Handlers) apiStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Local().GetStats(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, stats)
}

func (h *Handlers) apiListRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := h.engine.Local().GetAll(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if recs == nil {
		recs = []snapshot.Record{}
	}
	writeJSON(w, recs)
}

func (h *Handlers) apiGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.Local().GetByID(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, rec)
}

func (h *Handlers) apiSaveRecord(w http.ResponseWriter, r *http.Request) {
	var rec snapshot.Record
	if err := decodeJSON(w, r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := h.engine.Local().Save(r.Context(), chi.URLParam(r, "name"), rec); err != nil {
		writeErr(w, err)
		return
	}
	id, _ := snapshot.RecordID(rec)
	writeJSON(w, map[string]string{"status": "ok", "id": id})
}

func (h *Handlers) apiDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Local().Delete(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.engine.Local().GetSettings(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if settings == nil {
		settings = map[string]any{}
	}
	writeJSON(w, settings)
}

func (h *Handlers) apiSaveSettings(w http.ResponseWriter, r *http.Request) {
	var settings map[string]any
	if err := decodeJSON(w, r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := h.engine.Local().SaveSettings(r.Context(), settings); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if err := decodeJSON(w, r, &req); err != nil || !req.Confirm {
		writeError(w, http.StatusBadRequest, `reset requires {"confirm": true}`)
		return
	}
	if err := h.engine.Local().ClearAll(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiReconcile(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Local().RebuildStockReconciliation(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]int{"products": n})
}

func (h *Handlers) apiImportLegacy(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := h.engine.Local().ImportLegacyDump(r.Context(), data)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, map[string]int{"imported": n})
}
