// Package metrics provides application-level counters using stdlib expvar.
// Counters are exported on the /debug/vars HTTP endpoint served by the API.
package metrics

import "expvar"

// Operation counters.
var (
	StoreTotal          = expvar.NewInt("brain_memory_store_total")
	RecallTotal         = expvar.NewInt("brain_memory_recall_total")
	EvictionTotal       = expvar.NewInt("brain_memory_eviction_total")
	CompressionTotal    = expvar.NewInt("brain_memory_compressed_total")
	CompressionFailed   = expvar.NewInt("brain_memory_compression_failed_total")
	DedupRemoved        = expvar.NewInt("brain_memory_dedup_removed_total")
	CoherenceRepairs    = expvar.NewInt("brain_memory_coherence_repairs_total")
	CheckpointsSaved    = expvar.NewInt("brain_memory_checkpoints_saved_total")
	ErrorTotal          = expvar.NewInt("brain_memory_errors_total")
	ShortTermUsageRatio = expvar.NewFloat("brain_memory_short_term_usage_ratio")
)

// Inc increments the given counter by 1.
func Inc(counter *expvar.Int) { counter.Add(1) }
