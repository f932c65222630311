// Package metrics stellt die Prometheus-Metriken des Dienstes bereit.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "linkrec"

var (
	// LinksPrunedTotal zählt entfernte Links nach Grund ("red", "excluded").
	LinksPrunedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_pruned_total",
			Help:      "Total number of recommended links removed before display, by reason.",
		},
		[]string{"reason"},
	)

	// EvaluationsTotal zählt Ergebnisse der Kandidatenprüfung.
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Total number of candidate evaluations by outcome.",
		},
		[]string{"outcome"},
	)

	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of user submissions by result.",
		},
		[]string{"result"},
	)

	DeferredTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deferred_tasks_total",
			Help:      "Total number of deferred tasks by result.",
		},
		[]string{"result"},
	)

	RefreshStoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_recommendations_stored_total",
			Help:      "Total number of recommendations stored by the refresh job.",
		},
	)
)
