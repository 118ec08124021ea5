package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	filesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hoa_indexing_files_total",
			Help: "Files handled by the indexing pipeline, by outcome",
		},
		[]string{"status"},
	)

	fileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hoa_indexing_file_duration_seconds",
			Help:    "Time spent indexing one file, by outcome",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	chunksWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hoa_indexing_chunks_written_total",
			Help: "Chunks written to the vector store",
		},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hoa_indexing_runs_total",
			Help: "Indexing runs, by mode and result",
		},
		[]string{"mode", "result"},
	)

	inFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hoa_indexing_files_in_flight",
			Help: "Files currently being processed",
		},
	)
)
