// Package metrics defines the Prometheus collectors for the pledge engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts finished pledge executions by problem code.
	// Clean executions land under "no_problem".
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pledgefund",
		Name:      "executions_total",
		Help:      "Pledge executions by problem code.",
	}, []string{"problem"})

	// PledgesVacatedTotal counts pledges released without a charge.
	PledgesVacatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pledgefund",
		Name:      "pledges_vacated_total",
		Help:      "Pledges vacated without a charge.",
	})

	// GatewayRetriesTotal counts gateway charge attempts retried after a
	// transient failure.
	GatewayRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pledgefund",
		Name:      "gateway_retries_total",
		Help:      "Charge attempts retried after a transient gateway failure.",
	})

	// ChargeDuration observes end-to-end gateway charge latency, including
	// retries.
	ChargeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pledgefund",
		Name:      "charge_duration_seconds",
		Help:      "Gateway charge latency including retries.",
		Buckets:   prometheus.DefBuckets,
	})

	// TriggersResolvedTotal counts trigger resolutions by result.
	TriggersResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pledgefund",
		Name:      "triggers_resolved_total",
		Help:      "Trigger resolutions by outcome result.",
	}, []string{"result"})
)
