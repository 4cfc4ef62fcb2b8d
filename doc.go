// Package vectorcore is a partitioned, on-disk-and-in-memory store for
// fixed-width numeric vectors with associated metadata, supporting
// k-nearest-neighbor queries by exact linear scan or by an HNSW proximity
// graph.
//
// # Layers
//
// Leaves first: internal/distance holds the distance kernels.
// internal/vstore holds the flat id -> vector / id -> metadata maps and
// the exact linear scan. internal/cluster wraps a
// vstore with centroid-anchored clusters for pruned scanning and periodic
// k-means refinement. internal/hnsw builds a multi-layer proximity graph
// over a cluster's snapshot. internal/partition owns a bounded, LRU-cached
// set of partitions (each a cluster plus an optional HNSW graph) and routes
// writes to the active one. The root package ties these into a
// SearchOrchestrator: the single entry point that picks exact vs. HNSW,
// applies filters, fans a query out across loaded partitions, reranks, and
// caches.
//
// # Quick start
//
//	cfg := vectorcore.DefaultConfig("./data")
//	orc, err := vectorcore.Open(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer orc.Close()
//
//	id, _ := orc.AddVector(ctx, vectorcore.AddRequest{
//		Vector:   []float32{0.1, 0.2, 0.3, 0.4},
//		Metadata: vectorcore.Metadata{"tag": "t"},
//	})
//
//	results, _ := orc.FindNearest(ctx, []float32{0.1, 0.2, 0.3, 0.4}, 5, vectorcore.SearchOptions{})
//
// # Out of scope
//
// HTTP/REST, request routing, auth, config loading, logging setup, process
// supervision, and CLI scaffolding are external collaborator concerns and
// are not part of this module; see SPEC_FULL.md.
package vectorcore
