package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockmed_rpc_requests_total",
		Help: "Devnet JSON-RPC requests by method and outcome (ok, error).",
	}, []string{"method", "outcome"})

	rpcRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blockmed_rpc_request_duration_seconds",
		Help:    "Devnet JSON-RPC request latency by method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	rpcRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blockmed_rpc_rate_limited_total",
		Help: "Devnet JSON-RPC requests rejected by the per-IP rate limit.",
	})
)
