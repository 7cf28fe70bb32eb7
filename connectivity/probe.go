package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Prober checks reachability once.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// ErrUnreachable is returned by probes that only yield a boolean.
var ErrUnreachable = errors.New("remote unreachable")

// BoolProber adapts a reachability check such as a gateway's
// TestConnectivity.
func BoolProber(check func(ctx context.Context) bool) Prober {
	return ProberFunc(func(ctx context.Context) error {
		if !check(ctx) {
			return ErrUnreachable
		}
		return nil
	})
}

// HTTPProber treats any response below 500 from URL as reachable.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s: status %d", p.URL, resp.StatusCode)
	}
	return nil
}

// TCPProber dials Address.
type TCPProber struct {
	Address string
}

func (p *TCPProber) Probe(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return err
	}
	return conn.Close()
}
