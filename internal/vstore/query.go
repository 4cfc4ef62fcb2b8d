package vstore

import "github.com/vectorcore/engine/internal/types"

// MetadataEntry pairs an id with its metadata, as returned by
// GetMetadataWithField.
type MetadataEntry struct {
	ID       types.VectorID
	Metadata types.Metadata
}

// GetMetadataWithField scans the metadata map for entries matching
// criteria, stopping once limit matches have been collected (limit <= 0
// means unbounded). Criteria may name a single field, several fields
// (all of which must be present), or a field -> expected-value mapping
// (spec §4.1).
func (s *Store) GetMetadataWithField(criteria types.FieldCriteria, limit int) []MetadataEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []MetadataEntry
	for _, key := range s.order {
		r := s.records[key]
		if !criteria.Matches(r.metadata) {
			continue
		}
		out = append(out, MetadataEntry{ID: r.id, Metadata: r.metadata.Clone()})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
