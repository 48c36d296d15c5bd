// Package merge reconciles N prefixed Frames sharing a common business
// key (DOI-clean, PMID, or ChEMBL-ID) into one output Frame per
// common.MergeRule, via an index-aligned join on normalized keys.
// Winning values are recorded with "<field>_source" provenance columns,
// losing non-null values are preserved under "<field>_extras", and
// disagreements surface as "conflict_<source>_<field>" booleans.
package merge

import (
	"encoding/json"
	"sort"
	"strings"

	"bioetl.dev/bioetl/common"
)

// FieldExtra records one rejected (non-winning) candidate value for a
// merged field, preserved under "<field>_extras" so no information is
// silently dropped.
type FieldExtra struct {
	Source string `json:"source"`
	Column string `json:"column"`
	Value  string `json:"value"`
}

// Candidate names one source column feeding a merged target field.
type Candidate struct {
	Source string
	Column string
}

// ApplyCandidates renames each candidate's column to targetField in its
// source frame, so differently-named per-source columns (pubmed's
// article title vs. the baseline title) compete under one field name
// when the frames are merged.
func ApplyCandidates(frames map[string]*common.Frame, targetField string, candidates []Candidate) {
	for _, c := range candidates {
		f, ok := frames[c.Source]
		if !ok || c.Column == targetField {
			continue
		}
		f.RenameColumn(c.Column, targetField)
	}
}

// candidate is one source Frame's contribution to a merge: the frame
// itself plus a fast index from normalized key to row.
type candidate struct {
	source    string
	frame     *common.Frame
	keyColumn string
	index     map[string]*common.Record
}

// normalizeKey lowercases and trims a business key for the index-aligned
// join, without losing the original-case column value in the output row.
func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func buildCandidate(source string, frame *common.Frame, keyColumn string) candidate {
	idx := make(map[string]*common.Record, frame.Len())
	for _, r := range frame.Rows {
		key := normalizeKey(r.Get(keyColumn).AsString())
		if key == "" {
			continue
		}
		idx[key] = r
	}
	return candidate{source: source, frame: frame, keyColumn: keyColumn, index: idx}
}

// allKeys returns the union of normalized keys across all candidates, in
// first-seen order across SourceOrder, for stable output row ordering.
func allKeys(cands []candidate) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, c := range cands {
		for _, r := range c.frame.Rows {
			k := normalizeKey(r.Get(c.keyColumn).AsString())
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// Merge reconciles frames (map of source name to Frame) under rule,
// joining rows by keyColumn (matched case-insensitively, trimmed) and
// producing one output row per distinct key.
func Merge(frames map[string]*common.Frame, keyColumn string, rule common.MergeRule) *common.Frame {
	order := rule.SourceOrder
	if len(order) == 0 {
		for name := range frames {
			order = append(order, name)
		}
		sort.Strings(order)
	}

	var cands []candidate
	for _, name := range order {
		f, ok := frames[name]
		if !ok {
			continue
		}
		cands = append(cands, buildCandidate(name, f, keyColumn))
	}

	keys := allKeys(cands)
	rows := make([]*common.Record, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, mergeRow(cands, key, keyColumn, rule))
	}

	// Rows contributed by different source combinations carry different
	// column sets; the output frame takes their union, in first-seen
	// order, so unmatched keys surface nulls instead of dropping the
	// other source's fields.
	seen := make(map[string]bool)
	var columns []string
	for _, row := range rows {
		for _, col := range row.Columns {
			if seen[col] {
				continue
			}
			seen[col] = true
			columns = append(columns, col)
		}
	}

	out := common.NewFrame(columns...)
	for _, row := range rows {
		out.Append(row)
	}
	return out
}

func mergeRow(cands []candidate, key, keyColumn string, rule common.MergeRule) *common.Record {
	row := common.NewRecord()

	originalCase := ""
	for _, c := range cands {
		if r, ok := c.index[key]; ok {
			if originalCase == "" {
				originalCase = r.Get(keyColumn).AsString()
			}
		}
	}
	row.Set(keyColumn, common.NewString(originalCase))

	fieldSources := collectFieldSources(cands, key, keyColumn, rule)
	fields := make([]string, 0, len(fieldSources))
	for field := range fieldSources {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		applyFieldStrategy(row, field, fieldSources[field], fieldSources, cands, rule)
	}
	return row
}

// collectFieldSources groups, per non-key field, the candidate values
// contributed for this key across all sources, keyed by owning source
// name for stable iteration via rule.SourceOrder.
func collectFieldSources(cands []candidate, key, keyColumn string, rule common.MergeRule) map[string]map[string]common.Scalar {
	out := make(map[string]map[string]common.Scalar)
	for _, c := range cands {
		r, ok := c.index[key]
		if !ok {
			continue
		}
		for _, col := range r.Columns {
			if col == keyColumn {
				continue
			}
			if out[col] == nil {
				out[col] = make(map[string]common.Scalar)
			}
			out[col][c.source] = r.Get(col)
		}
	}
	return out
}

func applyFieldStrategy(row *common.Record, field string, byOwner map[string]common.Scalar, allFields map[string]map[string]common.Scalar, cands []candidate, rule common.MergeRule) {
	switch rule.Strategy {
	case common.MergePreferSource:
		applyPreferSource(row, field, byOwner, cands)
	case common.MergePreferFresh:
		applyPreferFresh(row, field, byOwner, allFields[rule.FreshColumn], cands)
	case common.MergeConcatUnique:
		applyConcatUnique(row, field, byOwner, cands)
	case common.MergeScoreBased:
		applyScoreBased(row, field, byOwner, allFields[rule.ScoreColumn], cands)
	default:
		applyPreferSource(row, field, byOwner, cands)
	}
	markConflicts(row, field, byOwner)
}

func applyPreferSource(row *common.Record, field string, byOwner map[string]common.Scalar, cands []candidate) {
	var extras []FieldExtra
	winner := ""
	var winVal common.Scalar
	for _, c := range cands {
		v, ok := byOwner[c.source]
		if !ok || v.IsNull() {
			continue
		}
		if winner == "" {
			winner, winVal = c.source, v
			continue
		}
		extras = append(extras, FieldExtra{Source: c.source, Column: field, Value: v.AsString()})
	}
	setMergedField(row, field, winner, winVal, extras)
}

// applyPreferFresh picks the candidate whose freshness timestamp is the
// maximum; freshBySource carries each source's value of the rule's
// freshness column. ISO-8601 timestamps order correctly as strings.
func applyPreferFresh(row *common.Record, field string, byOwner, freshBySource map[string]common.Scalar, cands []candidate) {
	var extras []FieldExtra
	winner := ""
	var winVal common.Scalar
	var winFresh string
	for _, c := range cands {
		v, ok := byOwner[c.source]
		if !ok || v.IsNull() {
			continue
		}
		fresh := freshBySource[c.source].AsString()
		if winner == "" || fresh > winFresh {
			if winner != "" {
				extras = append(extras, FieldExtra{Source: winner, Column: field, Value: winVal.AsString()})
			}
			winner, winVal, winFresh = c.source, v, fresh
		} else {
			extras = append(extras, FieldExtra{Source: c.source, Column: field, Value: v.AsString()})
		}
	}
	setMergedField(row, field, winner, winVal, extras)
}

func applyScoreBased(row *common.Record, field string, byOwner, scoreBySource map[string]common.Scalar, cands []candidate) {
	var extras []FieldExtra
	winner := ""
	var winVal common.Scalar
	winScore := 0.0
	for _, c := range cands {
		v, ok := byOwner[c.source]
		if !ok || v.IsNull() {
			continue
		}
		score := numericValue(scoreBySource[c.source])
		if winner == "" || score > winScore {
			if winner != "" {
				extras = append(extras, FieldExtra{Source: winner, Column: field, Value: winVal.AsString()})
			}
			winner, winVal, winScore = c.source, v, score
		} else {
			extras = append(extras, FieldExtra{Source: c.source, Column: field, Value: v.AsString()})
		}
	}
	setMergedField(row, field, winner, winVal, extras)
}

func applyConcatUnique(row *common.Record, field string, byOwner map[string]common.Scalar, cands []candidate) {
	seen := make(map[string]bool)
	var values []string
	for _, c := range cands {
		v, ok := byOwner[c.source]
		if !ok || v.IsNull() {
			continue
		}
		s := v.AsString()
		if seen[s] {
			continue
		}
		seen[s] = true
		values = append(values, s)
	}
	row.Set(field, common.NewString(strings.Join(values, "; ")))
	row.Set(field+"_source", common.NewString(strings.Join(sourcesOf(cands, byOwner), "; ")))
}

func numericValue(v common.Scalar) float64 {
	switch v.Kind {
	case common.ScalarInt:
		return float64(v.Int)
	case common.ScalarFloat:
		return v.Float
	default:
		return 0
	}
}

func sourcesOf(cands []candidate, byOwner map[string]common.Scalar) []string {
	var out []string
	for _, c := range cands {
		if v, ok := byOwner[c.source]; ok && !v.IsNull() {
			out = append(out, c.source)
		}
	}
	return out
}

func setMergedField(row *common.Record, field, winner string, winVal common.Scalar, extras []FieldExtra) {
	row.Set(field, winVal)
	row.Set(field+"_source", common.NewString(winner))
	if len(extras) > 0 {
		raw, _ := json.Marshal(extras)
		row.Set(field+"_extras", common.NewEncoded(string(raw)))
	}
}

// markConflicts sets conflict_<source>_<field> when two non-null
// candidates for the same field disagree after case-insensitive
// normalization.
func markConflicts(row *common.Record, field string, byOwner map[string]common.Scalar) {
	type pair struct {
		source string
		value  string
	}
	var nonNull []pair
	for source, v := range byOwner {
		if !v.IsNull() {
			nonNull = append(nonNull, pair{source, strings.ToLower(strings.TrimSpace(v.AsString()))})
		}
	}
	sort.Slice(nonNull, func(i, j int) bool { return nonNull[i].source < nonNull[j].source })
	for i := 0; i < len(nonNull); i++ {
		for j := i + 1; j < len(nonNull); j++ {
			if nonNull[i].value != nonNull[j].value {
				row.Set("conflict_"+nonNull[i].source+"_"+field, common.NewBool(true))
				row.Set("conflict_"+nonNull[j].source+"_"+field, common.NewBool(true))
			}
		}
	}
}
