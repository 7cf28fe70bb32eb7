package www

import (
	"errors"
	"net/http"

	"ledgersync/messaging"
	"ledgersync/syncer"
)

type tenantRequest struct {
	TenantKey string `json:"tenantKey"`
}

// tenantFrom reads an optional tenant key from the body, falling back to
// the active tenant.
func (h *Handlers) tenantFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req tenantRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return "", false
		}
	}
	if req.TenantKey == "" {
		req.TenantKey = h.engine.TenantKey()
	}
	if req.TenantKey == "" {
		writeError(w, http.StatusBadRequest, syncer.ErrNoTenant.Error())
		return "", false
	}
	return req.TenantKey, true
}

type statusResponse struct {
	syncer.Status
	DeviceID string           `json:"deviceId"`
	Peers    []messaging.Peer `json:"peers,omitempty"`
}

func (h *Handlers) apiStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:   h.engine.Status(r.Context()),
		DeviceID: h.engine.DeviceID(),
	}
	if h.peers != nil {
		resp.Peers = h.peers.Peers()
	}
	writeJSON(w, resp)
}

func (h *Handlers) apiGetTenant(w http.ResponseWriter, r *http.Request) {
	key := h.engine.TenantKey()
	writeJSON(w, map[string]string{"tenantKey": key, "partition": syncer.PartitionFor(key)})
}

func (h *Handlers) apiSelectTenant(w http.ResponseWriter, r *http.Request) {
	var req tenantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := h.engine.SelectTenant(req.TenantKey); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "tenantKey": req.TenantKey})
}

func (h *Handlers) writeResult(w http.ResponseWriter, res syncer.Result) {
	if errors.Is(res.Err, syncer.ErrInvalidIdentifier) {
		writeError(w, http.StatusBadRequest, res.Message)
		return
	}
	writeJSON(w, res)
}

func (h *Handlers) apiManualSync(w http.ResponseWriter, r *http.Request) {
	key, ok := h.tenantFrom(w, r)
	if !ok {
		return
	}
	h.writeResult(w, h.engine.ManualSync(r.Context(), key))
}

func (h *Handlers) apiForceDownload(w http.ResponseWriter, r *http.Request) {
	key, ok := h.tenantFrom(w, r)
	if !ok {
		return
	}
	h.writeResult(w, h.engine.ForceDownload(r.Context(), key))
}

func (h *Handlers) apiStartAutoSync(w http.ResponseWriter, r *http.Request) {
	key, ok := h.tenantFrom(w, r)
	if !ok {
		return
	}
	if err := h.engine.StartAutoSync(key); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok", "tenantKey": key})
}

func (h *Handlers) apiStopAutoSync(w http.ResponseWriter, r *http.Request) {
	h.engine.StopAutoSync()
	writeJSON(w, map[string]string{"status": "ok"})
}
