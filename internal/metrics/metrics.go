// Package metrics provides Prometheus metrics for the question pipeline
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for trialqa. A nil *Metrics is valid
// and records nothing, so components can be built without instrumentation.
type Metrics struct {
	Registry *prometheus.Registry

	ProviderAttemptsTotal *prometheus.CounterVec
	ProviderDuration      *prometheus.HistogramVec

	ExtractionPagesTotal *prometheus.CounterVec
	CacheLookupsTotal    *prometheus.CounterVec

	MatcherAttemptsTotal *prometheus.CounterVec
	CitationsTotal       *prometheus.CounterVec
	CitationConfidence   prometheus.Histogram

	PipelineDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{Registry: reg}

	m.ProviderAttemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trialqa_provider_attempts_total",
			Help: "Answer provider calls by provider, ladder step and outcome",
		},
		[]string{"provider", "step", "outcome"},
	)

	m.ProviderDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trialqa_provider_duration_seconds",
			Help:    "Duration of answer provider calls in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"provider"},
	)

	m.ExtractionPagesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trialqa_extraction_pages_total",
			Help: "Pages extracted, by the strategy that produced them",
		},
		[]string{"strategy"},
	)

	m.CacheLookupsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trialqa_page_cache_lookups_total",
			Help: "Page cache lookups by result",
		},
		[]string{"result"},
	)

	m.MatcherAttemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trialqa_matcher_attempts_total",
			Help: "Citation matcher attempts by matcher and outcome",
		},
		[]string{"matcher", "outcome"},
	)

	m.CitationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trialqa_citations_total",
			Help: "Citations produced by relevance tier",
		},
		[]string{"relevance"},
	)

	m.CitationConfidence = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trialqa_citation_confidence",
			Help:    "Confidence of citation extraction results",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	m.PipelineDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trialqa_pipeline_duration_seconds",
			Help:    "End-to-end question pipeline duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	return m
}

// RecordProviderAttempt records one answer-provider call
func (m *Metrics) RecordProviderAttempt(provider, step string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProviderAttemptsTotal.WithLabelValues(provider, step, outcome(err)).Inc()
	m.ProviderDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordExtraction counts pages produced by an extraction strategy
func (m *Metrics) RecordExtraction(strategy string, pages int) {
	if m == nil || pages == 0 {
		return
	}
	m.ExtractionPagesTotal.WithLabelValues(strategy).Add(float64(pages))
}

// RecordCacheLookup counts page cache hits and misses
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookupsTotal.WithLabelValues("miss").Inc()
}

// RecordMatcherAttempt records one citation matcher attempt
func (m *Metrics) RecordMatcherAttempt(matcher string, err error) {
	if m == nil {
		return
	}
	m.MatcherAttemptsTotal.WithLabelValues(matcher, outcome(err)).Inc()
}

// RecordCitations records the relevance mix and confidence of a result
func (m *Metrics) RecordCitations(relevances []string, confidence float64) {
	if m == nil {
		return
	}
	for _, r := range relevances {
		m.CitationsTotal.WithLabelValues(r).Inc()
	}
	m.CitationConfidence.Observe(confidence)
}

// RecordPipeline records end-to-end duration of a question
func (m *Metrics) RecordPipeline(err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.PipelineDuration.WithLabelValues(outcome(err)).Observe(duration.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
