package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/weather-bucket-cache/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_AppMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}})
	observability.Init(p.Registerer(), true)

	observability.IncCacheHit()
	observability.IncCacheMiss()
	observability.ObserveCacheOp("get", nil, 0.002)
	observability.IncUpstreamFetch("openweather", errors.New("down"))
	observability.ObserveRefreshRun(2, 1, 0.3)
	observability.IncKafkaConsumerError("decode")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	mustContain := []string{
		`cache_operation_duration_seconds_count`,
		`refresh_duration_seconds_bucket`,
		`refresh_runs_total `,
		`kafka_consumer_errors_total{kind="decode"} `,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "cache_results_total", `outcome="hit"`)
	assertHasMetricLine(t, body, "upstream_fetch_total", `provider="openweather"`, `outcome="error"`)
	assertHasMetricLine(t, body, "refresh_buckets_total", `result="failed"`)
	assertHasMetricLine(t, body, "app_build_info", `version="test"`)
}
