package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	unitTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rental",
		Name:      "unit_transitions_total",
		Help:      "Unit status transitions by source and target status.",
	}, []string{"from", "to"})

	allocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rental",
		Name:      "allocations_total",
		Help:      "Allocator outcomes per line item.",
	}, []string{"result"})

	identifierRenders = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rental",
		Name:      "identifier_renders_total",
		Help:      "Identifier image renders by result.",
	}, []string{"result"})

	projectTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rental",
		Name:      "project_transitions_total",
		Help:      "Project state changes by target state.",
	}, []string{"to"})
)
