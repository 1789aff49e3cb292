package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectors_AreRegisteredAndScraped(t *testing.T) {
	IdlePauses.Inc()
	ActiveHubs.Set(3)

	if got := testutil.ToFloat64(IdlePauses); got < 1 {
		t.Fatalf("expected idle pauses counter to be at least 1, got %v", got)
	}
	if got := testutil.ToFloat64(ActiveHubs); got != 3 {
		t.Fatalf("expected active hubs gauge to read 3, got %v", got)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "relay_reaper_idle_pauses_total") {
		t.Fatal("expected scrape output to include the idle pauses metric")
	}
}
