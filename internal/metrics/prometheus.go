package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "draftwise_section_duration_seconds",
			Help:    "Section generation duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"format_type", "mode"},
	)

	SectionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftwise_section_total",
			Help: "Section generations by outcome",
		},
		[]string{"mode", "outcome"},
	)

	Regenerations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftwise_regenerations_total",
			Help: "Regeneration passes by trigger",
		},
		[]string{"trigger"},
	)

	AgentCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftwise_agent_calls_total",
			Help: "Language model invocations by agent role and status",
		},
		[]string{"role", "status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftwise_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	RetrievalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "draftwise_retrieval_duration_seconds",
			Help:    "Retrieval duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	RetrievalResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "draftwise_retrieval_results_count",
			Help:    "Number of chunks returned per retrieval",
			Buckets: []float64{0, 1, 2, 5, 10},
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftwise_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftwise_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	ChunksIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftwise_chunks_ingested_total",
			Help: "Reference chunks by ingestion outcome",
		},
		[]string{"status"},
	)

	ReferencesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "draftwise_references_processed_total",
			Help: "References ingested by final status",
		},
		[]string{"status"},
	)

	DocumentSyncConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "draftwise_document_sync_conflicts_total",
			Help: "Optimistic version conflicts while merging sections into documents",
		},
	)
)

func Init() {
	prometheus.MustRegister(SectionDuration)
	prometheus.MustRegister(SectionTotal)
	prometheus.MustRegister(Regenerations)
	prometheus.MustRegister(AgentCalls)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(RetrievalDuration)
	prometheus.MustRegister(RetrievalResultsCount)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(ChunksIngested)
	prometheus.MustRegister(ReferencesProcessed)
	prometheus.MustRegister(DocumentSyncConflicts)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
