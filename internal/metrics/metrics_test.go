package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/user/delete", routeLabel("/user/delete/42"))
	assert.Equal(t, "/user/image", routeLabel("/user/image/alice/alice.jpg"))
	assert.Equal(t, "/health", routeLabel("/health"))
	assert.Equal(t, "/", routeLabel("/"))
}

func TestCountersAndNilReceiver(t *testing.T) {
	m := New(prometheus.NewRegistry(), "test")
	m.LoginFailed()
	m.LoginFailed()
	m.AccountLocked()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.loginFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockouts))

	var none *Metrics
	assert.NotPanics(t, func() {
		none.LoginFailed()
		none.AccountLocked()
	})
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New(prometheus.NewRegistry(), "test")
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/user/find/alice", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `test_http_request_duration_seconds_count{method="GET",route="/user/find",status="418"} 1`)
}
