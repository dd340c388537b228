package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux, "board-sync-stats-test")
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")

	su.Run()
	defer su.Stop()

	su.Incr(ActiveClients)
	su.Incr(ActiveClients)
	su.Decr(ActiveClients)

	assert.Eventually(t, func() bool {
		return su.vars.Get(ActiveClients).String() == "1"
	}, time.Second, 10*time.Millisecond, "expected counter to reach 1")

	rr := httptest.NewRecorder()
	su.expvarHandler(rr, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))

	var body map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Contains(t, body, "Uptime")
	assert.Contains(t, body, AuthDenied)
	assert.Contains(t, body, PresenceOffline)
}
