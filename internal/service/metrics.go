package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	retrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hoa_retrieval_duration_seconds",
			Help:    "Latency of retrieval queries, by outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	retrievalHits = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hoa_retrieval_hits",
			Help:    "Chunks returned per retrieval query",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21, 50},
		},
	)

	chatRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hoa_chat_requests_total",
			Help: "Chat completions, by whether retrieved context was used",
		},
		[]string{"rag"},
	)
)
