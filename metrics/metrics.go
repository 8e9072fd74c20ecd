// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	MetricsNamespace          = "semcache"
	MetricsSubsystemSystem    = "system"
	MetricsSubsystemHTTP      = "http"
	MetricsSubsystemAPI       = "api"
	MetricsSubsystemCache     = "cache"
	MetricsSubsystemLLM       = "llm"
	MetricsSubsystemEmbedding = "embedding"

	MetricsVersionLabel = "version"
)

// Lookup outcome label values.
const (
	LookupOutcomeHit         = "hit"
	LookupOutcomeMiss        = "miss"
	LookupOutcomeUnavailable = "unavailable"
)

type Metrics interface {
	GetRegistry() *prometheus.Registry

	ObserveAPIEndpointDuration(handler, method, statusCode string, elapsed float64)

	IncrementHTTPRequests()
	IncrementHTTPErrors()

	IncrementCacheLookups(outcome string)
	IncrementCacheStores()
	ObserveEmbeddingDuration(elapsed float64)

	IncrementLLMRequests(llmName string)
	ObserveLLMDuration(llmName string, elapsed float64)
}

type InstanceInfo struct {
	Version string
}

// metrics used to instrumentate metrics in prometheus.
type metrics struct {
	registry *prometheus.Registry

	serviceStartTime prometheus.Gauge
	serviceInfo      prometheus.Gauge

	apiTime *prometheus.HistogramVec

	httpRequestsTotal prometheus.Counter
	httpErrorsTotal   prometheus.Counter

	cacheLookupsTotal *prometheus.CounterVec
	cacheStoresTotal  prometheus.Counter
	embeddingTime     prometheus.Histogram

	llmRequestsTotal *prometheus.CounterVec
	llmTime          *prometheus.HistogramVec
}

// NewMetrics Factory method to create a new metrics collector.
func NewMetrics(info InstanceInfo) Metrics {
	m := &metrics{}

	m.registry = prometheus.NewRegistry()
	options := collectors.ProcessCollectorOpts{
		Namespace: MetricsNamespace,
	}
	m.registry.MustRegister(collectors.NewProcessCollector(options))
	m.registry.MustRegister(collectors.NewGoCollector())

	m.serviceStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemSystem,
		Name:      "service_start_timestamp_seconds",
		Help:      "The time the service started.",
	})
	m.serviceStartTime.SetToCurrentTime()
	m.registry.MustRegister(m.serviceStartTime)

	m.serviceInfo = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemSystem,
		Name:      "service_info",
		Help:      "The service version.",
		ConstLabels: map[string]string{
			MetricsVersionLabel: info.Version,
		},
	})
	m.serviceInfo.Set(1)
	m.registry.MustRegister(m.serviceInfo)

	m.apiTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystemAPI,
			Name:      "time_seconds",
			Help:      "Time to execute the api handler",
		},
		[]string{"handler", "method", "status_code"},
	)
	m.registry.MustRegister(m.apiTime)

	m.httpRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemHTTP,
		Name:      "requests_total",
		Help:      "The total number of http API requests.",
	})
	m.registry.MustRegister(m.httpRequestsTotal)

	m.httpErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemHTTP,
		Name:      "errors_total",
		Help:      "The total number of http API errors.",
	})
	m.registry.MustRegister(m.httpErrorsTotal)

	m.cacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "lookups_total",
		Help:      "The total number of cache lookups by outcome.",
	}, []string{"outcome"})
	m.registry.MustRegister(m.cacheLookupsTotal)

	m.cacheStoresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "stores_total",
		Help:      "The total number of entries written to the cache.",
	})
	m.registry.MustRegister(m.cacheStoresTotal)

	m.embeddingTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemEmbedding,
		Name:      "request_time_seconds",
		Help:      "Time to generate a query embedding.",
	})
	m.registry.MustRegister(m.embeddingTime)

	m.llmRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemLLM,
		Name:      "requests_total",
		Help:      "The total number of LLM requests.",
	}, []string{"llm_name"})
	m.registry.MustRegister(m.llmRequestsTotal)

	m.llmTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemLLM,
		Name:      "request_time_seconds",
		Help:      "Time to complete an LLM request.",
	}, []string{"llm_name"})
	m.registry.MustRegister(m.llmTime)

	return m
}

func (m *metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

func (m *metrics) ObserveAPIEndpointDuration(handler, method, statusCode string, elapsed float64) {
	if m != nil {
		m.apiTime.With(prometheus.Labels{"handler": handler, "method": method, "status_code": statusCode}).Observe(elapsed)
	}
}

func (m *metrics) IncrementHTTPRequests() {
	if m != nil {
		m.httpRequestsTotal.Inc()
	}
}

func (m *metrics) IncrementHTTPErrors() {
	if m != nil {
		m.httpErrorsTotal.Inc()
	}
}

func (m *metrics) IncrementCacheLookups(outcome string) {
	if m != nil {
		m.cacheLookupsTotal.With(prometheus.Labels{"outcome": outcome}).Inc()
	}
}

func (m *metrics) IncrementCacheStores() {
	if m != nil {
		m.cacheStoresTotal.Inc()
	}
}

func (m *metrics) ObserveEmbeddingDuration(elapsed float64) {
	if m != nil {
		m.embeddingTime.Observe(elapsed)
	}
}

func (m *metrics) IncrementLLMRequests(llmName string) {
	if m != nil {
		m.llmRequestsTotal.With(prometheus.Labels{"llm_name": llmName}).Inc()
	}
}

func (m *metrics) ObserveLLMDuration(llmName string, elapsed float64) {
	if m != nil {
		m.llmTime.With(prometheus.Labels{"llm_name": llmName}).Observe(elapsed)
	}
}
