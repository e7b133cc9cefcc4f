package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopstate_store_changes_total",
			Help: "Local mutations applied to a store",
		},
		[]string{"store"},
	)

	storeReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shopstate_store_reloads_total",
			Help: "Wholesale reloads triggered by cross-node storage notifications",
		},
		[]string{"store"},
	)
)
