// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Revisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metax",
		Name:      "dataset_revisions_total",
		Help:      "Revision snapshots captured, by kind.",
	}, []string{"kind"})

	LegacyMigrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "metax",
		Name:      "legacy_migrations_total",
		Help:      "Legacy dataset migrations, by result.",
	}, []string{"result"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "metax",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
