package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	m.RecordProviderAttempt("mock", "primary", nil, time.Second)
	m.RecordExtraction("structural", 3)
	m.RecordCacheLookup(true)
	m.RecordMatcherAttempt("keyword", nil)
	m.RecordCitations([]string{"high"}, 0.3)
	m.RecordPipeline(nil, time.Second)
}

func TestRecordProviderAttempt(t *testing.T) {
	m := NewMetrics()
	m.RecordProviderAttempt("chatpdf", "primary", errors.New("boom"), 10*time.Millisecond)
	m.RecordProviderAttempt("direct", "secondary", nil, 20*time.Millisecond)

	if got := testutil.ToFloat64(m.ProviderAttemptsTotal.WithLabelValues("chatpdf", "primary", "error")); got != 1 {
		t.Errorf("chatpdf error count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ProviderAttemptsTotal.WithLabelValues("direct", "secondary", "success")); got != 1 {
		t.Errorf("direct success count = %v, want 1", got)
	}
}

func TestRecordExtractionAndCache(t *testing.T) {
	m := NewMetrics()
	m.RecordExtraction("structural", 4)
	m.RecordExtraction("placeholder", 0)
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordCacheLookup(false)

	if got := testutil.ToFloat64(m.ExtractionPagesTotal.WithLabelValues("structural")); got != 4 {
		t.Errorf("structural pages = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues("miss")); got != 2 {
		t.Errorf("cache misses = %v, want 2", got)
	}
}
