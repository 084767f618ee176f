package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	requestStageMetricName       = "fiqh_rag_request_stage_total"
	generationDurationMetricName = "fiqh_rag_generation_duration_seconds"
	uploadFilesMetricName        = "fiqh_rag_upload_files_total"
	indexedChunksMetricName      = "fiqh_rag_indexed_chunks_total"
)

var (
	requestStageMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: requestStageMetricName,
		Help: "Number of chat requests that entered each processing stage, by mode (send, stream, edit).",
	}, []string{"stage", "mode"})
	generationDurationMetric = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    generationDurationMetricName,
		Help:    "Time spent building the chain and generating an answer.",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
	}, []string{"mode", "outcome"})
	uploadFilesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: uploadFilesMetricName,
		Help: "Uploaded files by outcome (indexed, metadata_only, rejected).",
	}, []string{"outcome"})
	indexedChunksMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: indexedChunksMetricName,
		Help: "Chunks written to the vector index.",
	})
)

func ObserveStage(stage, mode string) {
	requestStageMetric.WithLabelValues(stage, mode).Inc()
}

func ObserveGeneration(mode, outcome string, elapsed time.Duration) {
	generationDurationMetric.WithLabelValues(mode, outcome).Observe(elapsed.Seconds())
}

func ObserveUpload(outcome string) {
	uploadFilesMetric.WithLabelValues(outcome).Inc()
}

func ObserveIndexedChunks(n int) {
	if n > 0 {
		indexedChunksMetric.Add(float64(n))
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
