package vectorcore

// PartitionStats reports the PartitionManager's configured vs. resident
// partition counts (spec §6 get_stats()).
type PartitionStats struct {
	TotalConfigured int
	LoadedCount     int
	LoadedIDs       []string
	ActiveID        string
}

// VectorStats reports vector counts across every known partition.
type VectorStats struct {
	TotalConfigured int
}

// IndexStats reports HNSW graph availability across every known partition.
type IndexStats struct {
	HNSWLoadedCount int
}

// SettingsStats echoes the environment knobs that shape behavior, for
// diagnostic display (spec §6: "settings:{…}").
type SettingsStats struct {
	DataDir               string
	Compress              bool
	VectorCapPerPartition int
	MaxLoadedPartitions   int
	MaxConcurrentSearch   int
	ResultCacheSize       int
}

// Stats is the get_stats() response shape from spec §6.
type Stats struct {
	Partitions PartitionStats
	Vectors    VectorStats
	Indices    IndexStats
	Settings   SettingsStats
}

// GetStats aggregates counters across the PartitionManager and this
// Orchestrator's own configuration.
func (o *Orchestrator) GetStats() Stats {
	ids := o.mgr.PartitionIDs()
	loadedIDs := o.mgr.LoadedPartitionIDs()
	totalVectors, hnswLoadedCount := o.mgr.Stats()

	return Stats{
		Partitions: PartitionStats{
			TotalConfigured: len(ids),
			LoadedCount:     len(loadedIDs),
			LoadedIDs:       loadedIDs,
			ActiveID:        o.mgr.ActivePartition(),
		},
		Vectors: VectorStats{TotalConfigured: totalVectors},
		Indices: IndexStats{HNSWLoadedCount: hnswLoadedCount},
		Settings: SettingsStats{
			DataDir:               o.cfg.DataDir,
			Compress:              o.cfg.Compress,
			VectorCapPerPartition: o.cfg.Partition.VectorCapPerPartition,
			MaxLoadedPartitions:   o.cfg.Partition.MaxLoadedPartitions,
			MaxConcurrentSearch:   o.cfg.Partition.MaxConcurrentSearch,
			ResultCacheSize:       o.cfg.ResultCacheSize,
		},
	}
}
