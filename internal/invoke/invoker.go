// Package invoke runs paid calls against registered services. Handlers in
// this package are mounted behind the payment middleware and never run for
// an unpaid request.
package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sudo-init-do/meterhub/internal/marketplace"
)

// maxResponseBytes caps how much of a service response is kept.
const maxResponseBytes = 1 << 20

// ErrUpstream marks a failure on the service's side of the call.
var ErrUpstream = errors.New("invoke: upstream failure")

// Invoker performs the work a service is paid for.
type Invoker interface {
	Invoke(ctx context.Context, svc marketplace.Service, payload json.RawMessage) (json.RawMessage, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, svc marketplace.Service, payload json.RawMessage) (json.RawMessage, error)

func (f InvokerFunc) Invoke(ctx context.Context, svc marketplace.Service, payload json.RawMessage) (json.RawMessage, error) {
	return f(ctx, svc, payload)
}

// HTTPForwarder posts the payload to the service endpoint. Calls to one host
// share a token bucket.
type HTTPForwarder struct {
	client *http.Client
	limit  rate.Limit
	burst  int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPForwarder creates a forwarder. perHost <= 0 disables throttling.
func NewHTTPForwarder(timeout time.Duration, perHost rate.Limit, burst int) *HTTPForwarder {
	if perHost <= 0 {
		perHost = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &HTTPForwarder{
		client:   &http.Client{Timeout: timeout},
		limit:    perHost,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (f *HTTPForwarder) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(f.limit, f.burst)
		f.limiters[host] = l
	}
	return l
}

func (f *HTTPForwarder) Invoke(ctx context.Context, svc marketplace.Service, payload json.RawMessage) (json.RawMessage, error) {
	u, err := url.Parse(svc.Endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: bad endpoint %q", ErrUpstream, svc.Endpoint)
	}
	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Meterhub-Service", svc.ID)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %d", ErrUpstream, u.Host, resp.StatusCode)
	}
	return body, nil
}

// Mux routes calls by service id to local invokers and falls back to
// Default for everything else.
type Mux struct {
	Default Invoker

	mu     sync.RWMutex
	routes map[string]Invoker
}

func NewMux(fallback Invoker) *Mux {
	return &Mux{Default: fallback, routes: make(map[string]Invoker)}
}

func (m *Mux) Handle(serviceID string, inv Invoker) {
	m.mu.Lock()
	m.routes[serviceID] = inv
	m.mu.Unlock()
}

func (m *Mux) Invoke(ctx context.Context, svc marketplace.Service, payload json.RawMessage) (json.RawMessage, error) {
	m.mu.RLock()
	inv, ok := m.routes[svc.ID]
	m.mu.RUnlock()
	if !ok {
		inv = m.Default
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: no invoker for service %s", ErrUpstream, svc.ID)
	}
	return inv.Invoke(ctx, svc, payload)
}
