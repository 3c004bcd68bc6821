package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestInit_HandlerServesScrape(t *testing.T) {
	m := Init("infer_test_init_handler", nil, func() float64 { return 3 })
	m.RecordPredict("digits", "http", "ok", 5*time.Millisecond)
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordCacheEviction()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200 from scrape handler, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "infer_test_init_handler_predict_total") {
		t.Fatalf("expected scrape output to contain predict_total metric, got:\n%s", body)
	}
}

func TestNilMetrics_RecordsAreNoOps(t *testing.T) {
	var m *Metrics
	m.RecordPredict("m", "http", "ok", time.Millisecond)
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordCacheEviction()
	m.RecordSessionLoad("m", time.Millisecond)
	m.RecordBlobFetch("disk", time.Millisecond)
}
