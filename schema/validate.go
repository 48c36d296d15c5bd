package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"bioetl.dev/bioetl/common"
	bioetlerrors "bioetl.dev/bioetl/errors"
)

// Standard column-level predicate kinds.
const (
	KindRegex       = "regex"
	KindRange       = "range"
	KindMembership  = "membership"
	KindNonNull     = "nonnull"
	KindUnique      = "unique"
	KindJSONArrayOf = "json_array_of"
	KindRelationIn  = "relation_in"
)

var validRelations = map[string]bool{"=": true, "<": true, ">": true, "<=": true, ">=": true, "~": true, "~=": true, "<>": true}

// Severity is the four-level scale a validation issue is tagged with.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{SeverityInfo: 0, SeverityWarning: 1, SeverityError: 2, SeverityCritical: 3}

// RankOf returns severity's ordinal rank for threshold comparison.
func RankOf(s Severity) int { return severityRank[s] }

// Validate applies reg's column-level predicates, in declared order,
// against every row of frame, plus a column-order check asserting the
// frame's leading columns match reg.Columns. It returns every issue
// found, not just the first, so one run surfaces all failures; the
// returned error is non-nil only when the maximum severity reaches
// severityThreshold.
func Validate(frame *common.Frame, reg common.SchemaRegistration, severityThreshold Severity) ([]bioetlerrors.ValidationIssue, error) {
	var issues []bioetlerrors.ValidationIssue

	issues = append(issues, checkColumnOrder(frame, reg.Columns)...)

	for _, column := range sortedKeys(reg.Nullable) {
		if reg.Nullable[column] {
			continue
		}
		for idx, row := range frame.Rows {
			if row.Get(column).IsNull() {
				issues = append(issues, bioetlerrors.ValidationIssue{
					Column:   column,
					Row:      idx,
					Severity: string(SeverityError),
					Rule:     "nonnull",
					Detail:   "column is declared non-nullable",
				})
			}
		}
	}

	for _, column := range sortedKeys(reg.Validates) {
		validators := reg.Validates[column]
		seen := make(map[string]int)
		for idx, row := range frame.Rows {
			val := row.Get(column)
			for _, v := range validators {
				if issue, ok := runValidator(column, idx, val, v, seen); ok {
					issues = append(issues, issue)
				}
			}
		}
	}

	maxRank := -1
	for _, issue := range issues {
		if r := RankOf(Severity(issue.Severity)); r > maxRank {
			maxRank = r
		}
	}
	if maxRank >= RankOf(severityThreshold) && maxRank >= 0 {
		return issues, &bioetlerrors.ValidationFailed{Entity: reg.Entity, Issues: issues}
	}
	return issues, nil
}

// sortedKeys keeps issue ordering stable across runs; Go map iteration
// would otherwise shuffle the QC report.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func checkColumnOrder(frame *common.Frame, declared []string) []bioetlerrors.ValidationIssue {
	var issues []bioetlerrors.ValidationIssue
	for i, col := range declared {
		if i >= len(frame.Columns) || frame.Columns[i] != col {
			issues = append(issues, bioetlerrors.ValidationIssue{
				Column:   col,
				Row:      -1,
				Severity: string(SeverityCritical),
				Rule:     "column_order",
				Detail:   fmt.Sprintf("expected column %q at position %d", col, i),
			})
			break
		}
	}
	return issues
}

func runValidator(column string, rowIdx int, val common.Scalar, v common.Validator, seen map[string]int) (bioetlerrors.ValidationIssue, bool) {
	fail := func(detail string) (bioetlerrors.ValidationIssue, bool) {
		return bioetlerrors.ValidationIssue{Column: column, Row: rowIdx, Severity: sevOrDefault(v), Rule: v.Kind, Detail: detail}, true
	}

	switch v.Kind {
	case KindNonNull:
		if val.IsNull() {
			return fail("value is null")
		}
	case KindRegex:
		if val.IsNull() {
			return bioetlerrors.ValidationIssue{}, false
		}
		pattern := argAt(v.Args, 0)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fail(fmt.Sprintf("invalid pattern %q: %v", pattern, err))
		}
		if !re.MatchString(val.AsString()) {
			return fail(fmt.Sprintf("value %q does not match %q", val.AsString(), pattern))
		}
	case KindRange:
		if val.IsNull() {
			return bioetlerrors.ValidationIssue{}, false
		}
		if ok, detail := checkRange(val, v.Args); !ok {
			return fail(detail)
		}
	case KindMembership:
		if val.IsNull() {
			return bioetlerrors.ValidationIssue{}, false
		}
		if !contains(v.Args, val.AsString()) {
			return fail(fmt.Sprintf("value %q not in allowed set %v", val.AsString(), v.Args))
		}
	case KindUnique:
		key := val.AsString()
		if val.IsNull() {
			return bioetlerrors.ValidationIssue{}, false
		}
		if first, dup := seen[key]; dup {
			return fail(fmt.Sprintf("duplicate value %q (first seen at row %d)", key, first))
		}
		seen[key] = rowIdx
	case KindJSONArrayOf:
		if val.IsNull() {
			return bioetlerrors.ValidationIssue{}, false
		}
		var arr []any
		if err := json.Unmarshal([]byte(val.AsString()), &arr); err != nil {
			return fail(fmt.Sprintf("value is not a JSON array: %v", err))
		}
	case KindRelationIn:
		if val.IsNull() {
			return bioetlerrors.ValidationIssue{}, false
		}
		if !validRelations[val.AsString()] {
			return fail(fmt.Sprintf("relation %q is not one of %v", val.AsString(), relationKeys()))
		}
	}
	return bioetlerrors.ValidationIssue{}, false
}

func sevOrDefault(v common.Validator) string {
	if len(v.Args) == 0 {
		return string(SeverityError)
	}
	last := v.Args[len(v.Args)-1]
	if _, ok := severityRank[Severity(last)]; ok {
		return last
	}
	return string(SeverityError)
}

func argAt(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func relationKeys() []string {
	keys := make([]string, 0, len(validRelations))
	for k := range validRelations {
		keys = append(keys, k)
	}
	return keys
}

func checkRange(val common.Scalar, args []string) (bool, string) {
	if len(args) < 2 {
		return false, "range validator requires min,max args"
	}
	min, err1 := strconv.ParseFloat(args[0], 64)
	max, err2 := strconv.ParseFloat(args[1], 64)
	if err1 != nil || err2 != nil {
		return false, "range validator min/max must be numeric"
	}
	inclusive := true
	if len(args) >= 3 {
		inclusive = strings.EqualFold(args[2], "inclusive")
	}

	var v float64
	switch val.Kind {
	case common.ScalarInt:
		v = float64(val.Int)
	case common.ScalarFloat:
		v = val.Float
	default:
		parsed, err := strconv.ParseFloat(val.AsString(), 64)
		if err != nil {
			return false, fmt.Sprintf("value %q is not numeric", val.AsString())
		}
		v = parsed
	}

	if inclusive {
		if v < min || v > max {
			return false, fmt.Sprintf("value %v not in [%v,%v]", v, min, max)
		}
	} else {
		if v <= min || v >= max {
			return false, fmt.Sprintf("value %v not in (%v,%v)", v, min, max)
		}
	}
	return true, ""
}
