package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blockmed/blockmed/internal/rxerr"
)

var (
	ledgerCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockmed_ledger_calls_total",
		Help: "Ledger client calls by operation and outcome kind.",
	}, []string{"op", "outcome"})

	ledgerCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blockmed_ledger_call_duration_seconds",
		Help:    "Ledger call duration in seconds, submission only for writes.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	ledgerConfirmationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "blockmed_ledger_confirmation_seconds",
		Help:    "Time from submission until a write is confirmed or fails.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 15, 30, 60, 120, 300},
	})
)

// observe records one finished call.
func observe(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = rxerr.KindOf(err).String()
	}
	ledgerCallsTotal.WithLabelValues(op, outcome).Inc()
	ledgerCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
