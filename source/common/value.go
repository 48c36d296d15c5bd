package common

import (
	"encoding/json"
	"sort"

	"bioetl.dev/bioetl/common"
)

// UnmarshalEnvelope decodes a JSON object body into a generic map.
func UnmarshalEnvelope(body []byte) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ToScalar converts a decoded JSON value into a common.Scalar. Arrays and
// nested objects are re-encoded as ScalarEncoded so they survive the
// Record/Frame model without losing structure.
func ToScalar(v any) common.Scalar {
	switch t := v.(type) {
	case nil:
		return common.Null
	case string:
		return common.NewString(t)
	case bool:
		return common.NewBool(t)
	case float64:
		if t == float64(int64(t)) {
			return common.NewInt(int64(t))
		}
		return common.NewFloat(t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return common.Null
		}
		return common.NewEncoded(string(raw))
	}
}

// StringOf extracts a string field from a decoded JSON map, returning
// Null for missing or empty values.
func StringOf(v any) common.Scalar {
	s, ok := v.(string)
	if !ok || s == "" {
		return common.Null
	}
	return common.NewString(s)
}

// RecordFromMap builds a Record from a decoded JSON object with the keys
// in sorted order, so rows built from the same payload always carry the
// same column order regardless of map iteration.
func RecordFromMap(item map[string]any) *common.Record {
	keys := make([]string, 0, len(item))
	for k := range item {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r := common.NewRecord()
	for _, k := range keys {
		r.Set(k, ToScalar(item[k]))
	}
	return r
}
