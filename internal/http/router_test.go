package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"gitea.jw6.us/james/washcal/internal/api"
	"gitea.jw6.us/james/washcal/internal/auth"
	"gitea.jw6.us/james/washcal/internal/http/ratelimit"
	"gitea.jw6.us/james/washcal/internal/ics"
	"gitea.jw6.us/james/washcal/internal/schedule"
	"gitea.jw6.us/james/washcal/internal/store"
)

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

func newTestRouter(t *testing.T, d Deps) (http.Handler, *store.Store) {
	t.Helper()
	norm, err := schedule.NewNormalizer("Asia/Jerusalem")
	require.NoError(t, err)
	now := time.Date(2025, 1, 19, 6, 1, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	st := store.NewMemory(clock)
	mgr := schedule.NewManager(st.Events, auth.Context{}, norm, schedule.DefaultPolicy(), schedule.WithClock(clock))
	d.API = api.NewHandler(mgr, ics.NewExporter("https://wash.example.com", nil), ics.DefaultOptions(), nil)
	if d.Health == nil {
		d.Health = st
	}
	return NewRouter(d), st
}

func serve(h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.1:1234"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var customerHeaders = map[string]string{auth.HeaderUserID: "cust-1"}

const washBody = `{"title":"Full wash","start":"2025-01-20T09:00","end":"2025-01-20T09:30"}`

func TestProbes(t *testing.T) {
	r, _ := newTestRouter(t, Deps{})
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/readyz", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/metrics", "", nil).Code)

	down, _ := newTestRouter(t, Deps{Health: fakeHealth{err: errors.New("db down")}})
	assert.Equal(t, http.StatusServiceUnavailable, serve(down, http.MethodGet, "/readyz", "", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, Deps{Metrics: true})
	serve(r, http.MethodGet, "/events", "", nil)

	rec := serve(r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "washcal_http_requests_total")
}

func TestEventRoutes(t *testing.T) {
	r, st := newTestRouter(t, Deps{})

	rec := serve(r, http.MethodPost, "/events", washBody, customerHeaders)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	loc := rec.Header().Get("Location")
	require.NotEmpty(t, loc)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/events", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, loc, "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/calendar/entries", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/calendar/admin.ics", "", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/me/appointments", "", customerHeaders).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me/appointments", "", nil).Code)

	rec = serve(r, http.MethodPost, loc+"?_method=DELETE", "", customerHeaders)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	events, err := st.Events.Find(context.Background(), store.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMethodOverrideHeader(t *testing.T) {
	r, _ := newTestRouter(t, Deps{})
	rec := serve(r, http.MethodPost, "/events", washBody, customerHeaders)
	require.Equal(t, http.StatusCreated, rec.Code)
	loc := rec.Header().Get("Location")

	headers := map[string]string{auth.HeaderUserID: "cust-1", "X-HTTP-Method-Override": "PATCH"}
	rec = serve(r, http.MethodPost, loc, `{"title":"Interior"}`, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"title":"Interior"`)
}

func TestMutatingRoutesAreRateLimited(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{Rate: rate.Every(time.Hour), Burst: 1})
	r, _ := newTestRouter(t, Deps{Limiter: limiter})

	assert.Equal(t, http.StatusCreated, serve(r, http.MethodPost, "/events", washBody, customerHeaders).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodPost, "/events", washBody, customerHeaders).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/events", "", nil).Code)
}
