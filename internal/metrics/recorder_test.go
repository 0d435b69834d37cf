package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r := New()

	r.ObserveAnalysis("provider", "", 2*time.Second)
	r.ObserveAnalysis("fallback", "transient", time.Second)
	r.ObserveAnalysis("fallback", "transient", time.Second)
	r.ObserveTradeEvent("pre_trade_created")
	r.ObserveSweep(3)
	r.ObserveSweep(0)
	r.ObserveHTTP("/api/trades/:id", http.MethodGet, 404, 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.analysesTotal.WithLabelValues("provider", "none")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.analysesTotal.WithLabelValues("fallback", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.tradeEvents.WithLabelValues("pre_trade_created")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.uploadsSwept))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.httpRequests.WithLabelValues("/api/trades/:id", "GET", "404")))
}

func TestRecorderHandler(t *testing.T) {
	r := New()
	r.ObserveTradeEvent("execution_linked")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	if !strings.Contains(body, `trade_lifecycle_events_total{event="execution_linked"} 1`) {
		t.Errorf("Expected lifecycle counter in output, got:\n%s", body)
	}
	assert.Contains(t, body, "go_goroutines")
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{101: "1xx", 200: "2xx", 302: "3xx", 429: "4xx", 503: "5xx"}
	for code, want := range tests {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d): expected %s, got %s", code, want, got)
		}
	}
}
