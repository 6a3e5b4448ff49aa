package invoke

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sudo-init-do/meterhub/internal/marketplace"
)

func TestHTTPForwarder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "svc-1", r.Header.Get("X-Meterhub-Service"))
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"got":` + string(body) + `}`))
	}))
	defer srv.Close()

	f := NewHTTPForwarder(time.Second, 0, 0)
	out, err := f.Invoke(context.Background(), marketplace.Service{ID: "svc-1", Endpoint: srv.URL}, json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"got":{"a":1}}`, string(out))
}

func TestHTTPForwarder_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	f := NewHTTPForwarder(time.Second, 0, 0)

	tests := []struct {
		name     string
		endpoint string
	}{
		{"server error", srv.URL},
		{"no host", "not a url"},
		{"unreachable", "http://127.0.0.1:1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Invoke(context.Background(), marketplace.Service{ID: "svc-1", Endpoint: tt.endpoint}, json.RawMessage(`{}`))
			assert.ErrorIs(t, err, ErrUpstream)
		})
	}
}

func TestHTTPForwarder_ThrottlesPerHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := NewHTTPForwarder(time.Second, rate.Every(time.Hour), 1)
	svc := marketplace.Service{ID: "svc-1", Endpoint: srv.URL}

	_, err := f.Invoke(context.Background(), svc, json.RawMessage(`{}`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.Invoke(ctx, svc, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestMux(t *testing.T) {
	named := func(name string) Invoker {
		return InvokerFunc(func(context.Context, marketplace.Service, json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`"` + name + `"`), nil
		})
	}
	m := NewMux(named("default"))
	m.Handle("local", named("local"))

	out, err := m.Invoke(context.Background(), marketplace.Service{ID: "local"}, nil)
	require.NoError(t, err)
	assert.Equal(t, `"local"`, string(out))

	out, err = m.Invoke(context.Background(), marketplace.Service{ID: "other"}, nil)
	require.NoError(t, err)
	assert.Equal(t, `"default"`, string(out))

	_, err = NewMux(nil).Invoke(context.Background(), marketplace.Service{ID: "x"}, nil)
	assert.ErrorIs(t, err, ErrUpstream)
}
