package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioetl.dev/bioetl/common"
)

func frameOf(key string, rows ...map[string]common.Scalar) *common.Frame {
	f := common.NewFrame()
	for _, values := range rows {
		r := common.NewRecord()
		r.Set(key, values[key])
		for col, v := range values {
			if col == key {
				continue
			}
			r.Set(col, v)
		}
		f.Append(r)
	}
	return f
}

func TestPreferSourcePrecedence(t *testing.T) {
	pubmed := frameOf("doi_clean", map[string]common.Scalar{
		"doi_clean": common.NewString("10.1/X"),
		"title":     common.NewString("B"),
	})
	chembl := frameOf("doi_clean", map[string]common.Scalar{
		"doi_clean": common.NewString("10.1/X"),
		"title":     common.NewString("A"),
	})

	rule := common.MergeRule{Strategy: common.MergePreferSource, SourceOrder: []string{"pubmed", "chembl"}}
	out := Merge(map[string]*common.Frame{"pubmed": pubmed, "chembl": chembl}, "doi_clean", rule)

	require.Equal(t, 1, out.Len())
	row := out.Rows[0]
	assert.Equal(t, "B", row.Get("title").AsString())
	assert.Equal(t, "pubmed", row.Get("title_source").AsString())
	assert.True(t, row.Get("conflict_pubmed_title").Bool)
	assert.True(t, row.Get("conflict_chembl_title").Bool)
}

func TestPreferSourceNullFirstCandidateFallsThrough(t *testing.T) {
	a := frameOf("pmid", map[string]common.Scalar{
		"pmid":  common.NewString("9"),
		"title": common.Null,
	})
	b := frameOf("pmid", map[string]common.Scalar{
		"pmid":  common.NewString("9"),
		"title": common.NewString("fallback title"),
	})

	rule := common.MergeRule{Strategy: common.MergePreferSource, SourceOrder: []string{"a", "b"}}
	out := Merge(map[string]*common.Frame{"a": a, "b": b}, "pmid", rule)

	require.Equal(t, 1, out.Len())
	row := out.Rows[0]
	assert.Equal(t, "fallback title", row.Get("title").AsString())
	assert.Equal(t, "b", row.Get("title_source").AsString())
	assert.True(t, row.Get("conflict_a_title").IsNull(), "null candidate never conflicts")
}

func TestPreferSourceBothNull(t *testing.T) {
	a := frameOf("pmid", map[string]common.Scalar{"pmid": common.NewString("9"), "title": common.Null})
	b := frameOf("pmid", map[string]common.Scalar{"pmid": common.NewString("9"), "title": common.Null})

	rule := common.MergeRule{Strategy: common.MergePreferSource, SourceOrder: []string{"a", "b"}}
	out := Merge(map[string]*common.Frame{"a": a, "b": b}, "pmid", rule)

	require.Equal(t, 1, out.Len())
	assert.True(t, out.Rows[0].Get("title").IsNull())
}

func TestCaseInsensitiveAgreementIsNotConflict(t *testing.T) {
	a := frameOf("pmid", map[string]common.Scalar{"pmid": common.NewString("9"), "title": common.NewString("Same Title")})
	b := frameOf("pmid", map[string]common.Scalar{"pmid": common.NewString("9"), "title": common.NewString("same title")})

	rule := common.MergeRule{Strategy: common.MergePreferSource, SourceOrder: []string{"a", "b"}}
	out := Merge(map[string]*common.Frame{"a": a, "b": b}, "pmid", rule)

	row := out.Rows[0]
	assert.True(t, row.Get("conflict_a_title").IsNull())
	assert.True(t, row.Get("conflict_b_title").IsNull())
}

func TestUnmatchedKeysEmitNulls(t *testing.T) {
	a := frameOf("doi_clean", map[string]common.Scalar{
		"doi_clean": common.NewString("10.1/only-a"),
		"a_field":   common.NewString("present"),
	})
	b := frameOf("doi_clean", map[string]common.Scalar{
		"doi_clean": common.NewString("10.1/only-b"),
		"b_field":   common.NewString("present"),
	})

	rule := common.MergeRule{Strategy: common.MergePreferSource, SourceOrder: []string{"a", "b"}}
	out := Merge(map[string]*common.Frame{"a": a, "b": b}, "doi_clean", rule)

	require.Equal(t, 2, out.Len())
	first := out.Rows[0]
	assert.Equal(t, "10.1/only-a", first.Get("doi_clean").AsString())
	assert.True(t, first.Get("b_field").IsNull())
}

func TestKeysJoinCaseInsensitively(t *testing.T) {
	a := frameOf("doi_clean", map[string]common.Scalar{
		"doi_clean": common.NewString("10.1/MixedCase"),
		"a_field":   common.NewString("x"),
	})
	b := frameOf("doi_clean", map[string]common.Scalar{
		"doi_clean": common.NewString("10.1/mixedcase"),
		"b_field":   common.NewString("y"),
	})

	rule := common.MergeRule{Strategy: common.MergePreferSource, SourceOrder: []string{"a", "b"}}
	out := Merge(map[string]*common.Frame{"a": a, "b": b}, "doi_clean", rule)

	require.Equal(t, 1, out.Len(), "keys normalize for the join")
	assert.Equal(t, "10.1/MixedCase", out.Rows[0].Get("doi_clean").AsString(), "original case preserved")
}

func TestApplyCandidatesUnifiesFieldNames(t *testing.T) {
	pubmed := frameOf("doi_clean", map[string]common.Scalar{
		"doi_clean":    common.NewString("10.1/X"),
		"pubmed_title": common.NewString("B"),
	})
	chembl := frameOf("doi_clean", map[string]common.Scalar{
		"doi_clean": common.NewString("10.1/X"),
		"title":     common.NewString("A"),
	})
	frames := map[string]*common.Frame{"pubmed": pubmed, "chembl": chembl}

	ApplyCandidates(frames, "title", []Candidate{
		{Source: "pubmed", Column: "pubmed_title"},
		{Source: "chembl", Column: "title"},
	})

	rule := common.MergeRule{Strategy: common.MergePreferSource, SourceOrder: []string{"pubmed", "chembl"}}
	out := Merge(frames, "doi_clean", rule)

	require.Equal(t, 1, out.Len())
	row := out.Rows[0]
	assert.Equal(t, "B", row.Get("title").AsString())
	assert.Equal(t, "pubmed", row.Get("title_source").AsString())
}

func TestConcatUnique(t *testing.T) {
	a := frameOf("pmid", map[string]common.Scalar{"pmid": common.NewString("9"), "keywords": common.NewString("alpha")})
	b := frameOf("pmid", map[string]common.Scalar{"pmid": common.NewString("9"), "keywords": common.NewString("beta")})
	c := frameOf("pmid", map[string]common.Scalar{"pmid": common.NewString("9"), "keywords": common.NewString("alpha")})

	rule := common.MergeRule{Strategy: common.MergeConcatUnique, SourceOrder: []string{"a", "b", "c"}}
	out := Merge(map[string]*common.Frame{"a": a, "b": b, "c": c}, "pmid", rule)

	assert.Equal(t, "alpha; beta", out.Rows[0].Get("keywords").AsString())
}

func TestPreferFresh(t *testing.T) {
	stale := frameOf("pmid", map[string]common.Scalar{
		"pmid":       common.NewString("9"),
		"title":      common.NewString("old"),
		"indexed_at": common.NewString("2023-01-01T00:00:00Z"),
	})
	fresh := frameOf("pmid", map[string]common.Scalar{
		"pmid":       common.NewString("9"),
		"title":      common.NewString("new"),
		"indexed_at": common.NewString("2024-06-01T00:00:00Z"),
	})

	rule := common.MergeRule{Strategy: common.MergePreferFresh, SourceOrder: []string{"stale", "fresh"}, FreshColumn: "indexed_at"}
	out := Merge(map[string]*common.Frame{"stale": stale, "fresh": fresh}, "pmid", rule)

	row := out.Rows[0]
	assert.Equal(t, "new", row.Get("title").AsString())
	assert.Equal(t, "fresh", row.Get("title_source").AsString())
	assert.NotEmpty(t, row.Get("title_extras").AsString(), "losing value preserved in extras")
}

func TestScoreBased(t *testing.T) {
	low := frameOf("pmid", map[string]common.Scalar{
		"pmid":  common.NewString("9"),
		"title": common.NewString("low"),
		"score": common.NewFloat(0.2),
	})
	high := frameOf("pmid", map[string]common.Scalar{
		"pmid":  common.NewString("9"),
		"title": common.NewString("high"),
		"score": common.NewFloat(0.9),
	})

	rule := common.MergeRule{Strategy: common.MergeScoreBased, SourceOrder: []string{"low", "high"}, ScoreColumn: "score"}
	out := Merge(map[string]*common.Frame{"low": low, "high": high}, "pmid", rule)

	row := out.Rows[0]
	assert.Equal(t, "high", row.Get("title").AsString())
	assert.Equal(t, "high", row.Get("title_source").AsString())
}
