package query

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pay-theory/docorm/pkg/errors"
)

var (
	// OperationsTotal counts QuerySet operations by outcome
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docorm",
		Subsystem: "query",
		Name:      "operations_total",
		Help:      "total number of query operations",
	}, []string{"operation", "collection", "outcome"})

	// OperationDuration is the latency of QuerySet operations
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "docorm",
		Subsystem: "query",
		Name:      "duration_seconds",
		Buckets:   []float64{.0005, .001, .002, .005, .01, .02, .05, .1, .2, .5, 1},
		Help:      "latency of a query operation",
	}, []string{"operation"})
)

// observe starts timing operation; the returned func records the outcome of
// *errp when deferred
func observe(operation, collection string) func(errp *error) {
	start := time.Now()
	return func(errp *error) {
		OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		OperationsTotal.WithLabelValues(operation, collection, outcome(*errp)).Inc()
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.IsDoesNotExist(err):
		return "not_found"
	case errors.IsMultipleObjectsReturned(err):
		return "multiple"
	case errors.IsUnique(err):
		return "not_unique"
	}
	return "error"
}
