package types

// Metadata is an unordered mapping from string keys to values drawn from
// {null, bool, integer, float, string, list of same, nested mapping}. The
// core treats it as opaque except where the filter and reranking
// predicates in this package inspect it.
type Metadata map[string]any

// Clone returns a shallow copy safe to hand to a caller without exposing
// the store's internal map.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// FieldCriteria is the three-shape criteria argument to
// get_metadata_with_field (spec §4.1): a single field name, a list of
// field names, or a field→expected-value mapping.
type FieldCriteria struct {
	Fields []string // (a)/(b): field name(s) that must be present
	Equals map[string]any
}

// Matches reports whether md satisfies the criteria: every named field must
// exist, and if Equals carries an expected value for a field, it must be
// equal (using Go's == semantics on the dynamic type, which is sufficient
// for the scalar metadata values this core deals in).
func (c FieldCriteria) Matches(md Metadata) bool {
	for _, f := range c.Fields {
		if _, ok := md[f]; !ok {
			return false
		}
	}
	for f, want := range c.Equals {
		got, ok := md[f]
		if !ok {
			return false
		}
		if want != nil && got != want {
			return false
		}
	}
	return true
}

// Filter is the predicate applied to a candidate during find_nearest,
// evaluated before distance is computed whenever metadata is available
// (spec §4.1), so unmatched candidates skip the distance kernel entirely.
type Filter func(id VectorID, md Metadata) bool
