package writer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"bioetl.dev/bioetl/common"
)

func sampleFrame() *common.Frame {
	f := common.NewFrame("id", "name", "value")
	for _, row := range []struct {
		id    string
		name  string
		value float64
	}{
		{"b2", "beta", 2.5},
		{"a1", "alpha", 1.25},
		{"c3", "gamma", 3},
	} {
		r := common.NewRecord()
		r.Set("id", common.NewString(row.id))
		r.Set("name", common.NewString(row.name))
		r.Set("value", common.NewFloat(row.value))
		f.Append(r)
	}
	return f
}

func sampleSettings() Settings {
	s := DefaultSettings()
	s.ColumnOrder = []string{"id", "name", "value"}
	s.SortBy = []string{"id"}
	s.BusinessKeyFields = []string{"id"}
	s.RowHashFields = []string{"id", "name", "value"}
	s.CasePreserving = map[string]bool{"id": true, "name": true}
	return s
}

func samplePlan(dir string) Plan {
	base := filepath.Join(dir, "thing", "thing_20240101")
	return Plan{
		DatasetPath:  base + ".csv",
		MetaPath:     base + "_meta.yaml",
		ChecksumPath: base + "_meta.sha256",
		QCPath:       base + "_qc.csv",
		Format:       "csv",
	}
}

func sampleRunContext() common.RunContext {
	return common.RunContext{
		RunID:           "123e4567-e89b-42d3-a456-426614174000",
		PipelineVersion: "1.0.0",
		SourceSystem:    "thing",
		ReleaseTag:      "ChEMBL_35",
		StartedAtUTC:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestWriteIsDeterministic(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()

	_, err := Write(sampleFrame(), samplePlan(dirA), sampleRunContext(), "status", sampleSettings(), nil, nil)
	require.NoError(t, err)
	_, err = Write(sampleFrame(), samplePlan(dirB), sampleRunContext(), "status", sampleSettings(), nil, nil)
	require.NoError(t, err)

	a, err := os.ReadFile(samplePlan(dirA).DatasetPath)
	require.NoError(t, err)
	b, err := os.ReadFile(samplePlan(dirB).DatasetPath)
	require.NoError(t, err)
	assert.Equal(t, a, b, "identical inputs produce byte-identical datasets")
}

func TestWriteSortsAndFormats(t *testing.T) {
	dir := t.TempDir()
	plan := samplePlan(dir)
	result, err := Write(sampleFrame(), plan, sampleRunContext(), "status", sampleSettings(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.RowCount)

	raw, err := os.ReadFile(plan.DatasetPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 4)

	assert.Equal(t, "id,name,value,hash_business_key,hash_row", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "a1,alpha,1.250000,"), "rows sorted by id, floats at fixed precision: %s", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "b2,beta,2.500000,"))
	assert.True(t, strings.HasPrefix(lines[3], "c3,gamma,3.000000,"))
}

func TestBusinessKeyHashPurity(t *testing.T) {
	a := common.NewRecord()
	a.Set("id", common.NewString("123"))
	a.Set("other", common.NewString("x"))

	b := common.NewRecord()
	b.Set("id", common.NewString("123"))
	b.Set("other", common.NewString("completely different"))

	assert.Equal(t, HashBusinessKey(a, []string{"id"}), HashBusinessKey(b, []string{"id"}),
		"hash depends on the key fields alone")
	assert.Len(t, HashBusinessKey(a, []string{"id"}), 64)

	c := common.NewRecord()
	c.Set("id", common.NewString("124"))
	assert.NotEqual(t, HashBusinessKey(a, []string{"id"}), HashBusinessKey(c, []string{"id"}))
}

func TestRowHashStableUnderReorder(t *testing.T) {
	frame := sampleFrame()
	settings := sampleSettings()

	hashesByID := func(f *common.Frame) map[string]string {
		out := make(map[string]string)
		for _, row := range f.Rows {
			out[row.Get("id").AsString()] = HashRow(row, settings.RowHashFields, settings.FloatPrecision)
		}
		return out
	}

	first := hashesByID(frame)

	reversed := common.NewFrame(frame.Columns...)
	for i := len(frame.Rows) - 1; i >= 0; i-- {
		reversed.Append(frame.Rows[i].Clone())
	}
	second := hashesByID(reversed)

	assert.Equal(t, first, second, "row order never affects a row's hash")
}

func TestApplyNAPolicy(t *testing.T) {
	frame := common.NewFrame("plain", "smiles")
	r := common.NewRecord()
	r.Set("plain", common.NewString("  N/A  "))
	r.Set("smiles", common.NewString("  CC(=O)N  "))
	frame.Append(r)

	r2 := common.NewRecord()
	r2.Set("plain", common.NewString("  Mixed Case  "))
	r2.Set("smiles", common.NewString("none"))
	frame.Append(r2)

	ApplyNAPolicy(frame, map[string]bool{"smiles": true})

	assert.True(t, frame.Rows[0].Get("plain").IsNull(), "NA spellings become null")
	assert.Equal(t, "CC(=O)N", frame.Rows[0].Get("smiles").AsString(), "case-preserving columns trim only")
	assert.Equal(t, "mixed case", frame.Rows[1].Get("plain").AsString(), "default columns lowercase")
	assert.Equal(t, "none", frame.Rows[1].Get("smiles").AsString(), "case-preserving columns skip the NA set")
}

func TestSortRowsNALast(t *testing.T) {
	frame := common.NewFrame("k")
	for _, v := range []common.Scalar{common.NewString("b"), common.Null, common.NewString("a")} {
		r := common.NewRecord()
		r.Set("k", v)
		frame.Append(r)
	}

	SortRows(frame, []string{"k"}, []bool{true})
	assert.Equal(t, "a", frame.Rows[0].Get("k").AsString())
	assert.Equal(t, "b", frame.Rows[1].Get("k").AsString())
	assert.True(t, frame.Rows[2].Get("k").IsNull())

	SortRows(frame, []string{"k"}, []bool{false})
	assert.Equal(t, "b", frame.Rows[0].Get("k").AsString())
	assert.True(t, frame.Rows[2].Get("k").IsNull(), "nulls stay last in descending order too")
}

func TestEnforceColumnOrderKeepsExtras(t *testing.T) {
	frame := common.NewFrame("extra", "b", "a")
	r := common.NewRecord()
	r.Set("extra", common.NewString("x"))
	r.Set("b", common.NewString("2"))
	r.Set("a", common.NewString("1"))
	frame.Append(r)

	out := EnforceColumnOrder(frame, []string{"a", "b"})
	assert.Equal(t, []string{"a", "b", "extra"}, out.Columns)
	assert.Equal(t, "1", out.Rows[0].Get("a").AsString())
	assert.Equal(t, "x", out.Rows[0].Get("extra").AsString())
}

func TestWriteMetaContent(t *testing.T) {
	dir := t.TempDir()
	plan := samplePlan(dir)

	_, err := Write(sampleFrame(), plan, sampleRunContext(), "status", sampleSettings(), nil, nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(plan.MetaPath)
	require.NoError(t, err)

	var meta Meta
	require.NoError(t, yaml.Unmarshal(raw, &meta))
	assert.Equal(t, "thing", meta.Pipeline)
	assert.Equal(t, "1.0.0", meta.PipelineVersion)
	assert.Equal(t, "123e4567-e89b-42d3-a456-426614174000", meta.RunID)
	assert.Equal(t, "ChEMBL_35", meta.ChemblRelease)
	assert.Equal(t, "status", meta.ChemblReleaseSource)
	assert.Equal(t, 3, meta.RowCount)
	require.Len(t, meta.Checksums, 1)
	for name, sum := range meta.Checksums {
		assert.Equal(t, filepath.Base(plan.DatasetPath), name)
		assert.Len(t, sum, 64)
	}

	line, err := os.ReadFile(plan.ChecksumPath)
	require.NoError(t, err)
	assert.Len(t, strings.Fields(string(line))[0], 64)
}

func TestWriteAtomicReplacesStaleTmp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")

	// A crash between tmp creation and rename leaves only the tmp file.
	require.NoError(t, os.WriteFile(path+".tmp", []byte("partial"), 0o644))
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "no final file after simulated crash")

	require.NoError(t, WriteAtomic(path, []byte("complete\n")))

	final, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "complete\n", string(final))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "tmp removed after rename")
}

func TestQCFrame(t *testing.T) {
	frame := common.NewFrame("id", "maybe")
	for _, v := range []common.Scalar{common.NewString("a"), common.Null, common.NewString("a")} {
		r := common.NewRecord()
		r.Set("id", common.NewString("x"))
		r.Set("maybe", v)
		frame.Append(r)
	}

	qc := BuildQCFrame(frame, nil, nil)
	require.NotZero(t, qc.Len())

	var nullCount, uniqueCount string
	for _, row := range qc.Rows {
		if row.Get("column").AsString() == "maybe" {
			switch row.Get("metric").AsString() {
			case "null_count":
				nullCount = row.Get("value").AsString()
			case "unique_count":
				uniqueCount = row.Get("value").AsString()
			}
		}
	}
	assert.Equal(t, "1", nullCount)
	assert.Equal(t, "1", uniqueCount)
}
