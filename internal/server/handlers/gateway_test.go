package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quotagate/quotagate/internal/core"
	"github.com/quotagate/quotagate/internal/core/engine"
)

type memoryStateStore struct {
	mu     sync.Mutex
	states map[string]core.RateLimitState
	getErr error
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{states: map[string]core.RateLimitState{}}
}

func (s *memoryStateStore) GetRateLimit(_ context.Context, key string) (*core.RateLimitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	state, ok := s.states[key]
	if !ok {
		return nil, nil
	}
	copied := state
	return &copied, nil
}

func (s *memoryStateStore) UpdateRateLimit(_ context.Context, key string, state *core.RateLimitState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[key] = *state
	return nil
}

func newTestGateway(t *testing.T, store engine.StateStore, originURL string) *Gateway {
	t.Helper()

	cal, err := engine.NewCalendar("America/New_York")
	require.NoError(t, err)

	limiter := &engine.Limiter{
		Store:    store,
		Limits:   engine.DefaultLimits,
		Calendar: cal,
		Clock: func() time.Time {
			return time.Date(2026, time.June, 1, 15, 0, 0, 0, time.UTC)
		},
	}

	gw, err := NewGateway(limiter, originURL, "", 0)
	require.NoError(t, err)
	return gw
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error.Code
}

func TestGatewayRejectsMissingIdentity(t *testing.T) {
	gw := newTestGateway(t, newMemoryStateStore(), "http://origin.internal")

	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	rec := httptest.NewRecorder()

	gw.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_INPUT", decodeErrorBody(t, rec))
}

func TestGatewayForwardsAdmittedRequest(t *testing.T) {
	var (
		gotPath   string
		gotQuery  string
		gotMethod string
		gotHeader string
		gotBody   []byte
	)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Custom")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("X-Origin", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer origin.Close()

	gw := newTestGateway(t, newMemoryStateStore(), origin.URL)

	req := httptest.NewRequest(http.MethodPost, "/api/things?page=2",
		strings.NewReader(`{"name":"widget"}`))
	req.Header.Set("X-Client-Id", "client-a")
	req.Header.Set("X-Custom", "carry-me")
	rec := httptest.NewRecorder()

	gw.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, `{"ok":true}`, rec.Body.String())
	require.Equal(t, "yes", rec.Header().Get("X-Origin"))

	require.Equal(t, "/api/things", gotPath)
	require.Equal(t, "page=2", gotQuery)
	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, "carry-me", gotHeader)
	require.Equal(t, `{"name":"widget"}`, string(gotBody))

	require.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining-Day"))
	require.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset-Day"))
	require.Empty(t, rec.Header().Get("Retry-After"), "admitted responses carry no Retry-After")
}

func TestGatewayRefusesWhenBurstExhausted(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()

	gw := newTestGateway(t, newMemoryStateStore(), origin.URL)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
		req.Header.Set("X-Client-Id", "client-a")
		rec := httptest.NewRecorder()
		gw.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	req.Header.Set("X-Client-Id", "client-a")
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "RATE_LIMITED", decodeErrorBody(t, rec))
	require.Equal(t, "1", rec.Header().Get("Retry-After"), "334ms rounds up to one second")
	require.Equal(t, "97", rec.Header().Get("X-RateLimit-Remaining-Day"))
	require.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset-Day"))
}

func TestGatewayRefusesWhenDailyQuotaExhausted(t *testing.T) {
	store := newMemoryStateStore()
	gw := newTestGateway(t, store, "http://origin.internal")

	now := time.Date(2026, time.June, 1, 15, 0, 0, 0, time.UTC)
	store.states["client-a"] = core.RateLimitState{
		Tokens:         3,
		LastRefillAtMs: now.UnixMilli(),
		DayCount:       100,
		DayKey:         gw.Limiter.Calendar.DayKey(now),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	req.Header.Set("X-Client-Id", "client-a")
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "RATE_LIMITED", decodeErrorBody(t, rec))
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining-Day"))

	// Retry-After points at the next midnight in the reference zone.
	expected := gw.Limiter.Calendar.UntilNextMidnight(now)
	require.Equal(t, strconv.Itoa(ceilSeconds(expected)), rec.Header().Get("Retry-After"))
}

func TestGatewayFailsClosedOnLimiterError(t *testing.T) {
	var originHit bool
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		originHit = true
	}))
	defer origin.Close()

	store := newMemoryStateStore()
	store.getErr = errors.New("connection reset")
	gw := newTestGateway(t, store, origin.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	req.Header.Set("X-Client-Id", "client-a")
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "LIMITER_UNAVAILABLE", decodeErrorBody(t, rec))
	require.False(t, originHit, "requests are never forwarded when the limiter fails")
}

func TestGatewayFailsWhenOriginUnconfigured(t *testing.T) {
	gw := newTestGateway(t, newMemoryStateStore(), "")

	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	req.Header.Set("X-Client-Id", "client-a")
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "ORIGIN_UNCONFIGURED", decodeErrorBody(t, rec))
}

func TestGatewayReportsOriginFailure(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	origin.Close()

	gw := newTestGateway(t, newMemoryStateStore(), origin.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	req.Header.Set("X-Client-Id", "client-a")
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "EXTERNAL_SERVICE_ERROR", decodeErrorBody(t, rec))
}

func TestGatewayUsesConfiguredClientHeader(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()

	gw := newTestGateway(t, newMemoryStateStore(), origin.URL)
	gw.ClientHeader = "X-Tenant"

	req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
	req.Header.Set("X-Tenant", "tenant-a")
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
