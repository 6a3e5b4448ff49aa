package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/meterhub/internal/address"
	"github.com/sudo-init-do/meterhub/internal/db"
	"github.com/sudo-init-do/meterhub/internal/marketplace"
)

func newAdmin(t *testing.T) (*echo.Echo, *marketplace.Repository, marketplace.Service) {
	t.Helper()
	ctx := context.Background()
	a, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "admin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NoError(t, a.Initialize(ctx))

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := marketplace.NewRepository(a, marketplace.WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	require.NoError(t, repo.Initialize(ctx))
	svc, err := repo.Register(ctx, marketplace.ServiceDraft{
		Name:           "translate",
		ProviderID:     "provider-1",
		ProviderWallet: "0x52908400098527886E0F7030069857D2E4169EE7",
		Chain:          address.EVM,
		Endpoint:       "http://translate.local",
		Pricing:        marketplace.Pricing{Amount: decimal.RequireFromString("0.01"), Currency: "USDC"},
	}, "provider-1")
	require.NoError(t, err)

	h := NewHandler(repo, zerolog.Nop())
	e := echo.New()
	g := e.Group("/admin", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("actor", "ops")
			return next(c)
		}
	})
	g.GET("/stats", h.Stats)
	g.GET("/services/deleted", h.ListDeleted)
	g.GET("/services/:id", h.GetService)
	g.POST("/services/:id/suspend", h.SuspendService)
	g.POST("/services/:id/restore", h.RestoreService)
	g.DELETE("/services/:id/purge", h.PurgeService)
	g.GET("/audit/:id", h.ServiceAudit)
	return e, repo, svc
}

func call(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestSuspendRestoreCycle(t *testing.T) {
	e, repo, svc := newAdmin(t)

	rec := call(e, http.MethodPost, "/admin/services/"+svc.ID+"/suspend")
	require.Equal(t, http.StatusOK, rec.Code)
	_, err := repo.Get(svc.ID)
	assert.ErrorIs(t, err, marketplace.ErrNotFound)

	rec = call(e, http.MethodPost, "/admin/services/"+svc.ID+"/suspend")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(e, http.MethodGet, "/admin/services/deleted")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), svc.ID)

	rec = call(e, http.MethodGet, "/admin/services/"+svc.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"live":false`)

	rec = call(e, http.MethodPost, "/admin/services/"+svc.ID+"/restore")
	require.Equal(t, http.StatusOK, rec.Code)
	_, err = repo.Get(svc.ID)
	assert.NoError(t, err)

	rec = call(e, http.MethodPost, "/admin/services/"+svc.ID+"/restore")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(e, http.MethodGet, "/admin/audit/"+svc.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	var audit struct {
		Entries []marketplace.AuditEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &audit))
	require.Len(t, audit.Entries, 3)
	assert.Equal(t, marketplace.ActionCreate, audit.Entries[0].Action)
	assert.Equal(t, marketplace.ActionDelete, audit.Entries[1].Action)
	assert.Equal(t, "ops", audit.Entries[1].Actor)
	assert.Equal(t, marketplace.ActionRestore, audit.Entries[2].Action)
}

func TestPurge(t *testing.T) {
	e, repo, svc := newAdmin(t)

	rec := call(e, http.MethodDelete, "/admin/services/"+svc.ID+"/purge")
	require.Equal(t, http.StatusOK, rec.Code)
	_, err := repo.Lookup(context.Background(), svc.ID)
	assert.ErrorIs(t, err, marketplace.ErrNotFound)

	rec = call(e, http.MethodDelete, "/admin/services/"+svc.ID+"/purge")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(e, http.MethodGet, "/admin/services/"+svc.ID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStats(t *testing.T) {
	e, _, svc := newAdmin(t)
	require.Equal(t, http.StatusOK, call(e, http.MethodPost, "/admin/services/"+svc.ID+"/suspend").Code)

	rec := call(e, http.MethodGet, "/admin/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats marketplace.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(0), stats.LiveServices)
	assert.Equal(t, int64(1), stats.DeletedServices)
	assert.Equal(t, int64(2), stats.AuditEntries)
}
