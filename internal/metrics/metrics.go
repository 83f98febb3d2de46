// Package metrics holds the service's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the event store and the snapshot cache.
var (
	StrokesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileboard_strokes_created_total",
		Help: "Cumulative number of strokes appended to room logs.",
	})
	StrokesErasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileboard_strokes_erased_total",
		Help: "Cumulative number of erase events appended to room logs.",
	})
	DegradedProjectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileboard_degraded_projections_total",
		Help: "Cumulative number of erase events recorded without tile projections.",
	})
	BootstrapCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileboard_bootstrap_cache_hits_total",
		Help: "Cumulative number of full-sync reads served from the bootstrap cache.",
	})
	BootstrapCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileboard_bootstrap_cache_misses_total",
		Help: "Cumulative number of full-sync reads that fell through to the log.",
	})
	SnapshotHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileboard_snapshot_hits_total",
		Help: "Cumulative number of tile reads answered by a fresh snapshot.",
	})
	SnapshotMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileboard_snapshot_misses_total",
		Help: "Cumulative number of tile reads that replayed the projection.",
	})
	SnapshotRendersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileboard_snapshot_renders_total",
		Help: "Cumulative number of tile rasters rendered and persisted.",
	})
	FallbackScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tileboard_fallback_scans_total",
		Help: "Cumulative number of reconstructions that scanned the raw room log.",
	})
)
