package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*echo.Echo, *Repository) {
	t.Helper()
	r := newTestRepo(t, openTestDB(t))
	h := NewHandler(r, zerolog.Nop())

	e := echo.New()
	withActor := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if a := c.Request().Header.Get("X-Actor-ID"); a != "" {
				c.Set("actor", a)
			}
			return next(c)
		}
	}
	g := e.Group("/marketplace")
	g.GET("/services", h.SearchServices)
	g.GET("/services/:id", h.GetService)
	g.GET("/services/:id/ratings", h.ListServiceRatings)
	g.POST("/services", h.CreateService, withActor)
	g.PATCH("/services/:id", h.UpdateService, withActor)
	g.DELETE("/services/:id", h.DeleteService, withActor)
	g.GET("/transactions", h.GetUserTransactions, withActor)
	g.GET("/transactions/:id", h.GetTransaction, withActor)
	g.POST("/transactions/:id/rating", h.RateTransaction, withActor)
	return e, r
}

func do(e *echo.Echo, method, path, actor, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const createBody = `{
	"name": "ocr",
	"description": "extract text",
	"provider_wallet": "0x52908400098527886E0F7030069857D2E4169EE7",
	"chain": "evm",
	"endpoint": "http://ocr.local/run",
	"capabilities": ["ocr", "vision"],
	"pricing": {"amount": "0.05", "currency": "USDC", "unit": "per_call"}
}`

func createService(t *testing.T, e *echo.Echo) Service {
	t.Helper()
	rec := do(e, http.MethodPost, "/marketplace/services", "alice", createBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Service Service `json:"service"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Service
}

func TestCreateService(t *testing.T) {
	e, _ := newTestServer(t)

	rec := do(e, http.MethodPost, "/marketplace/services", "", createBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(e, http.MethodPost, "/marketplace/services", "alice", `{"name":"x","chain":"evm","provider_wallet":"bad"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc := createService(t, e)
	assert.Equal(t, "alice", svc.ProviderID)
	assert.Equal(t, "0x52908400098527886e0f7030069857d2e4169ee7", svc.ProviderWallet)
}

func TestCreateService_ProviderIsCaller(t *testing.T) {
	e, _ := newTestServer(t)

	body := strings.Replace(createBody, `{`, `{"provider_id": "mallory",`, 1)
	rec := do(e, http.MethodPost, "/marketplace/services", "alice", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		Service Service `json:"service"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.Service.ProviderID)

	rec = do(e, http.MethodDelete, "/marketplace/services/"+resp.Service.ID, "mallory", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(e, http.MethodDelete, "/marketplace/services/"+resp.Service.ID, "alice", "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestSearchServices(t *testing.T) {
	e, _ := newTestServer(t)
	svc := createService(t, e)

	rec := do(e, http.MethodGet, "/marketplace/services?capability=translate&capability=vision", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Services []Service `json:"services"`
		Count    int       `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, svc.ID, resp.Services[0].ID)

	rec = do(e, http.MethodGet, "/marketplace/services?max_price=0.01", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)

	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/marketplace/services?max_price=abc", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/marketplace/services?min_rating=9", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/marketplace/services?sort=newest", "", "").Code)
}

func TestUpdateAndDeleteService(t *testing.T) {
	e, _ := newTestServer(t)
	svc := createService(t, e)
	path := "/marketplace/services/" + svc.ID

	assert.Equal(t, http.StatusForbidden, do(e, http.MethodPatch, path, "mallory", `{"name":"pwned"}`).Code)

	rec := do(e, http.MethodPatch, path, "alice", `{"name":"ocr-v2","reputation":{"rating":5}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Service Service `json:"service"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ocr-v2", resp.Service.Name)
	assert.Equal(t, 0.0, resp.Service.Reputation.Rating)

	assert.Equal(t, http.StatusForbidden, do(e, http.MethodDelete, path, "mallory", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodDelete, path, "alice", "").Code)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, path, "", "").Code)
	assert.Equal(t, http.StatusConflict, do(e, http.MethodDelete, path, "alice", "").Code)
	assert.Equal(t, http.StatusConflict, do(e, http.MethodPatch, path, "alice", `{"name":"again"}`).Code)
}

func TestRateTransaction(t *testing.T) {
	e, r := newTestServer(t)
	svc := createService(t, e)
	tx := openTx(t, r, svc.ID)
	ratePath := "/marketplace/transactions/" + tx.ID + "/rating"

	assert.Equal(t, http.StatusConflict, do(e, http.MethodPost, ratePath, "buyer-1", `{"score":5}`).Code)

	_, err := r.CompleteTransaction(context.Background(), tx.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, do(e, http.MethodPost, ratePath, "alice", `{"score":5}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPost, ratePath, "buyer-1", `{"score":9}`).Code)
	assert.Equal(t, http.StatusCreated, do(e, http.MethodPost, ratePath, "buyer-1", `{"score":4,"review":"ok"}`).Code)
	assert.Equal(t, http.StatusConflict, do(e, http.MethodPost, ratePath, "buyer-1", `{"score":4}`).Code)

	rec := do(e, http.MethodGet, "/marketplace/services/"+svc.ID+"/ratings", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Rating       float64      `json:"rating"`
		RatingCounts RatingCounts `json:"rating_counts"`
		Ratings      []Rating     `json:"ratings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 4.0, resp.Rating)
	assert.Equal(t, 1, resp.RatingCounts.FourStar)
	assert.Len(t, resp.Ratings, 1)

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/marketplace/transactions/"+tx.ID, "buyer-1", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/marketplace/transactions/"+tx.ID, "alice", "").Code)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/marketplace/transactions/"+tx.ID, "mallory", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/marketplace/transactions", "buyer-1", "").Code)
}
