package writer

import (
	"sort"
	"strings"

	"bioetl.dev/bioetl/common"
)

// Settings carries everything the deterministic writer needs to make two
// runs over the same data byte-identical: column order, sort keys, float
// precision, NA policy and the hash field declarations.
type Settings struct {
	ColumnOrder       []string
	SortBy            []string
	Ascending         []bool
	FloatPrecision    int
	DatetimeFormat    string
	NARepresentation  string
	LineTerminator    string
	BusinessKeyFields []string
	RowHashFields     []string
	// CasePreserving columns are only trimmed by the NA policy: they are
	// neither lowercased nor NA-nulled (SMILES, InChIKeys and other
	// case-significant identifiers).
	CasePreserving map[string]bool
}

// DefaultSettings returns the writer defaults: 6-digit floats, empty-
// string NA representation, "\n" line terminator.
func DefaultSettings() Settings {
	return Settings{
		FloatPrecision:   6,
		DatetimeFormat:   "2006-01-02T15:04:05Z",
		NARepresentation: "",
		LineTerminator:   "\n",
	}
}

// naSet lists the string spellings treated as null under the NA policy.
var naSet = map[string]bool{"": true, "na": true, "n/a": true, "none": true}

// EnforceColumnOrder reorders frame so the declared columns lead in
// declared order, with any extra columns appended after them in their
// current relative order.
func EnforceColumnOrder(frame *common.Frame, declared []string) *common.Frame {
	declaredSet := make(map[string]bool, len(declared))
	order := make([]string, 0, len(frame.Columns))
	for _, c := range declared {
		declaredSet[c] = true
		order = append(order, c)
	}
	for _, c := range frame.Columns {
		if !declaredSet[c] {
			order = append(order, c)
		}
	}
	return frame.Select(order...)
}

// ApplyNAPolicy normalizes string values per column. Columns not marked
// case-preserving are trimmed and lowercased, and values matching the NA
// set become null. Case-preserving columns (SMILES, identifiers, titles)
// are trimmed only and never NA-nulled.
func ApplyNAPolicy(frame *common.Frame, casePreserving map[string]bool) {
	for _, row := range frame.Rows {
		for _, col := range frame.Columns {
			v := row.Get(col)
			if v.Kind != common.ScalarString {
				continue
			}
			trimmed := strings.TrimSpace(v.Str)
			if casePreserving[col] {
				row.Set(col, common.NewString(trimmed))
				continue
			}
			lower := strings.ToLower(trimmed)
			if naSet[lower] {
				row.Set(col, common.Null)
				continue
			}
			row.Set(col, common.NewString(lower))
		}
	}
}

// SortRows stable-sorts the frame by the configured sort keys with the
// matching ascending flags. Null values always order last regardless of
// direction, so missing-key rows land together at the bottom of the
// artifact.
func SortRows(frame *common.Frame, sortBy []string, ascending []bool) {
	if len(sortBy) == 0 {
		return
	}
	sort.SliceStable(frame.Rows, func(i, j int) bool {
		a, b := frame.Rows[i], frame.Rows[j]
		for k, col := range sortBy {
			asc := true
			if k < len(ascending) {
				asc = ascending[k]
			}
			av, bv := a.Get(col), b.Get(col)
			if av.IsNull() != bv.IsNull() {
				return bv.IsNull()
			}
			cmp := compareNALast(av, bv)
			if cmp == 0 {
				continue
			}
			if asc {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
}

// compareNALast orders two non-null Scalars for SortRows: numerics
// compare numerically, everything else lexically. Null handling happens
// in the caller before direction is applied, so nulls are pinned last in
// both sort directions.
func compareNALast(a, b common.Scalar) int {
	if a.IsNull() && b.IsNull() {
		return 0
	}
	if isNumeric(a) && isNumeric(b) {
		af, bf := numericOf(a), numericOf(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := a.AsString(), b.AsString()
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func isNumeric(v common.Scalar) bool {
	return v.Kind == common.ScalarInt || v.Kind == common.ScalarFloat
}

func numericOf(v common.Scalar) float64 {
	if v.Kind == common.ScalarInt {
		return float64(v.Int)
	}
	return v.Float
}
