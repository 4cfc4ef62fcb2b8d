package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// VectorID is a stable identifier: either an unsigned integer or a UTF-8
// string. Per spec §3, a string that happens to parse as an integer is
// NEVER silently coerced — the tag that created it is preserved through
// the whole lifecycle, including serialization.
type VectorID struct {
	isString bool
	u        uint64
	s        string
}

// IntID builds an integer-tagged VectorID.
func IntID(v uint64) VectorID { return VectorID{u: v} }

// StringID builds a string-tagged VectorID.
func StringID(v string) VectorID { return VectorID{isString: true, s: v} }

// IsString reports whether this id was created with StringID.
func (v VectorID) IsString() bool { return v.isString }

// Uint returns the numeric value and true if this id is integer-tagged.
func (v VectorID) Uint() (uint64, bool) {
	if v.isString {
		return 0, false
	}
	return v.u, true
}

// String renders the id for display and for use as a metadata/map key.
// It drops the tag (IntID(5) and StringID("5") both render as "5") —
// callers that need the tag preserved must carry it separately (e.g. the
// meta.json "id" field keeps its own JSON type).
func (v VectorID) String() string {
	if v.isString {
		return v.s
	}
	return strconv.FormatUint(v.u, 10)
}

// Key returns a value suitable for use as a Go map key that never collides
// between the integer id N and the string id "N".
func (v VectorID) Key() string {
	if v.isString {
		return "s:" + v.s
	}
	return "i:" + strconv.FormatUint(v.u, 10)
}

// Equal compares two ids by tag and value; IntID(5) != StringID("5").
func (v VectorID) Equal(o VectorID) bool {
	return v.isString == o.isString && v.u == o.u && v.s == o.s
}

// MarshalJSON preserves the tag: integers encode as JSON numbers, strings
// as JSON strings, matching meta.json's "id": int|string schema (§6).
func (v VectorID) MarshalJSON() ([]byte, error) {
	if v.isString {
		return json.Marshal(v.s)
	}
	return json.Marshal(v.u)
}

// UnmarshalJSON restores the tag from the JSON value's own type.
func (v *VectorID) UnmarshalJSON(data []byte) error {
	var asNumber uint64
	if err := json.Unmarshal(data, &asNumber); err == nil {
		*v = VectorID{u: asNumber}
		return nil
	}
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*v = VectorID{isString: true, s: asString}
		return nil
	}
	return fmt.Errorf("vector id must be a JSON number or string, got %s", data)
}
