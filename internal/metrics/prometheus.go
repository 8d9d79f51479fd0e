package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChatDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_agent_chat_duration_seconds",
			Help:    "End-to-end chat request duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"response_type"},
	)

	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_agent_generation_duration_seconds",
			Help:    "Retrieval and generation stage duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"path"},
	)

	ChatTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_agent_chat_total",
			Help: "Total chat requests by outcome",
		},
		[]string{"response_type", "language"},
	)

	StageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_agent_stage_failures_total",
			Help: "Degraded pipeline stages by stage name",
		},
		[]string{"stage"},
	)

	FallbackUsed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_agent_fallback_used_total",
			Help: "Requests answered without grounding",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_agent_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CitationsPerAnswer = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "archive_agent_citations_per_answer",
			Help:    "Number of citations returned per answer",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		},
	)

	VectorResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "archive_agent_vector_results_count",
			Help:    "Number of corpus chunks retrieved per query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	GraphResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "archive_agent_graph_results_count",
			Help:    "Number of entity graph facts per query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_agent_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_agent_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_agent_documents_processed_total",
			Help: "Documents through the ingestion pipeline by final status",
		},
		[]string{"status"},
	)

	ExtractionJobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_agent_extraction_jobs_in_flight",
			Help: "Extraction jobs currently running",
		},
	)

	ChunksIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_agent_chunks_indexed_total",
			Help: "Corpus chunks written to the vector store",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ChatDuration,
			GenerationDuration,
			ChatTotal,
			StageFailures,
			FallbackUsed,
			LLMTokensUsed,
			CitationsPerAnswer,
			VectorResultsCount,
			GraphResultsCount,
			CacheHits,
			CacheMisses,
			DocumentsProcessed,
			ExtractionJobsInFlight,
			ChunksIndexed,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
