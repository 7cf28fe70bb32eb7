package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ledgersync/snapshot"
)

// SaveResponse is the hub's reply to a snapshot upload.
type SaveResponse struct {
	Success           bool      `json:"success"`
	Message           string    `json:"message,omitempty"`
	DataCount         int       `json:"dataCount"`
	LastSyncTimestamp time.Time `json:"lastSyncTimestamp"`
}

// FetchResponse is the hub's reply to a snapshot download. Data is absent
// when the tenant has nothing stored.
type FetchResponse struct {
	Success           bool               `json:"success"`
	Message           string             `json:"message,omitempty"`
	Data              *snapshot.Snapshot `json:"data,omitempty"`
	LastSyncTimestamp *time.Time         `json:"lastSyncTimestamp,omitempty"`
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPGateway talks to a hub instance serving the /hub API.
type HTTPGateway struct {
	base   string
	client HTTPDoer
}

// NewHTTPGateway creates a gateway for the hub at baseURL. A nil client
// gets a plain http.Client with the given timeout.
func NewHTTPGateway(baseURL string, client HTTPDoer, timeout time.Duration) *HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPGateway{base: strings.TrimRight(baseURL, "/"), client: client}
}

func (h *HTTPGateway) snapshotURL(tenantKey string) string {
	return h.base + "/hub/tenants/" + url.PathEscape(tenantKey) + "/snapshot"
}

func (h *HTTPGateway) TestConnectivity(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base+"/hub/ping", nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (h *HTTPGateway) SaveTenantData(ctx context.Context, tenantKey string, snap *snapshot.Snapshot) (Receipt, error) {
	body, err := snap.Encode()
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: encode snapshot: %v", ErrRemoteRejected, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, h.snapshotURL(tenantKey), bytes.NewReader(body))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var out SaveResponse
	if err := h.do(req, &out); err != nil {
		return Receipt{}, err
	}
	if !out.Success {
		return Receipt{}, fmt.Errorf("%w: %s", ErrRemoteRejected, out.Message)
	}
	return Receipt{Timestamp: out.LastSyncTimestamp, DataCount: out.DataCount, Message: out.Message}, nil
}

func (h *HTTPGateway) GetTenantData(ctx context.Context, tenantKey string) (*TenantData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.snapshotURL(tenantKey), nil)
	if err != nil {
		return nil, err
	}
	var out FetchResponse
	if err := h.do(req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("%w: %s", ErrRemoteRejected, out.Message)
	}
	if out.Data == nil {
		return nil, nil
	}
	td := &TenantData{Snapshot: out.Data}
	if out.LastSyncTimestamp != nil {
		td.LastSyncTimestamp = out.LastSyncTimestamp.UTC()
	}
	return td, nil
}

// do sends req and decodes a JSON body into out. Transport failures are
// returned as is; non-2xx answers, 404 included, become ErrRemoteRejected.
// Only a successful body with no data means the tenant has nothing stored.
func (h *HTTPGateway) do(req *http.Request, out any) error {
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		json.Unmarshal(data, &e)
		msg := e.Error
		if msg == "" {
			msg = e.Message
		}
		return fmt.Errorf("%w: status %d: %s", ErrRemoteRejected, resp.StatusCode, msg)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrRemoteRejected, err)
	}
	return nil
}
