package router_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"parcelflow/internal/fanout"
	"parcelflow/internal/http/handlers"
	"parcelflow/internal/http/middleware/ratelimit"
	"parcelflow/internal/http/router"
	"parcelflow/internal/lock"
	"parcelflow/internal/logx"
	"parcelflow/internal/repository/memory"
	"parcelflow/internal/service/arbiter"
	"parcelflow/internal/service/driver"
	"parcelflow/internal/service/lifecycle"
)

type denyAll struct{}

func (denyAll) Allow(string) (bool, time.Duration) { return false, time.Second }

func newRouter(t *testing.T, limiter ratelimit.Limiter) http.Handler {
	t.Helper()

	store := memory.NewStore()
	locker := lock.NewKeyedMutex()
	hub := fanout.NewHub(8, nil)
	t.Cleanup(hub.Close)

	arb := arbiter.New(store, locker, logx.Nop())
	coord := lifecycle.NewCoordinator(store, store, arb, locker, hub, time.Second, logx.Nop())
	drivers := driver.NewService(store, arb, time.Second)

	return router.New(router.Params{
		Base:       handlers.New(nil),
		Deliveries: handlers.NewDeliveryHandler(nil, handlers.NewDeliveryUsecase(coord)),
		Drivers:    handlers.NewDriverHandler(nil, handlers.NewDriverUsecase(drivers)),
		Subscribe:  handlers.NewSubscribeHandler(nil, handlers.NewEventSource(hub)),
		RateLimit:  ratelimit.New(nil, nil, limiter),
		Logger:     logx.Nop(),
	})
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req = req.WithContext(context.Background())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_BaseRoutes(t *testing.T) {
	t.Parallel()

	h := newRouter(t, nil)

	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/ping", "").Code)
	require.Equal(t, http.StatusNoContent, do(h, http.MethodHead, "/healthcheck", "").Code)
	require.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/unknown", "").Code)
}

func TestRouter_DeliveryLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	h := newRouter(t, nil)

	rr := do(h, http.MethodPost, "/drivers", `{"name":"Ann","phone":"+15550000001"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	driverLoc := rr.Header().Get("Location")
	driverID := strings.TrimPrefix(driverLoc, "/drivers/")

	rr = do(h, http.MethodPost, "/deliveries", `{"customer_id":"c1"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	deliveryPath := rr.Header().Get("Location")

	rr = do(h, http.MethodPost, deliveryPath+"/transition", `{"status":"assigned","driver_id":"`+driverID+`","expected_version":0}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"status":"assigned"`)

	rr = do(h, http.MethodGet, "/drivers/available", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `[]`, rr.Body.String())

	rr = do(h, http.MethodPost, deliveryPath+"/transition", `{"status":"pending"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), `"kind":"invalid-transition"`)

	rr = do(h, http.MethodPost, driverLoc+"/activate", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), `"kind":"driver-busy"`)

	rr = do(h, http.MethodPost, deliveryPath+"/transition", `{"status":"in_transit"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = do(h, http.MethodPost, deliveryPath+"/transition", `{"status":"delivered"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(h, http.MethodPost, deliveryPath+"/transition", `{"status":"cancelled"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), `"kind":"already-terminal"`)

	rr = do(h, http.MethodGet, "/drivers/available", "")
	require.Contains(t, rr.Body.String(), driverID)
}

func TestRouter_RateLimitOnlyOnMutatingRoutes(t *testing.T) {
	t.Parallel()

	h := newRouter(t, denyAll{})

	require.Equal(t, http.StatusTooManyRequests, do(h, http.MethodPost, "/deliveries", `{"customer_id":"c1"}`).Code)
	require.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/deliveries/nope", "").Code)
	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/ping", "").Code)
}
