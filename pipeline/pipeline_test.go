package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"

	"bioetl.dev/bioetl/common"
	"bioetl.dev/bioetl/httpclient"
	"bioetl.dev/bioetl/schema"
	"bioetl.dev/bioetl/source"
	"bioetl.dev/bioetl/source/chembl"
	"bioetl.dev/bioetl/writer"
)

func newRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, schema.RegisterBuiltin(reg))
	return reg
}

func activityServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status.json":
			fmt.Fprint(w, `{"chembl_db_version":"ChEMBL_35","status":"UP"}`)
		case "/activity.json":
			assert.Equal(t, "123", r.URL.Query().Get("activity_id__in"))
			fmt.Fprint(w, `{"activities":[{"activity_id":123,"standard_type":"IC50","standard_value":10.0,"standard_units":"nM"}],"page_meta":{"next":null}}`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func testOptions(t *testing.T, registry *schema.Registry, dir string) Options {
	t.Helper()
	base := filepath.Join(dir, "activity", "activity_20240101")
	settings := writer.DefaultSettings()
	return Options{
		Registry: registry,
		RunContext: common.RunContext{
			RunID:           "123e4567-e89b-42d3-a456-426614174000",
			PipelineVersion: "1.0.0",
			SourceSystem:    "activity",
			StartedAtUTC:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		ReleaseSource: "status",
		Settings:      settings,
		Plan: writer.Plan{
			DatasetPath:  base + ".csv",
			MetaPath:     base + "_meta.yaml",
			ChecksumPath: base + "_meta.sha256",
			QCPath:       base + "_qc.csv",
			Format:       "csv",
		},
		Workers:   2,
		BatchSize: 10,
	}
}

func activityDescriptor() Descriptor {
	return Descriptor{
		Entity:        "activity",
		SchemaVersion: "latest",
		Sources:       []string{"chembl"},
		BusinessKey:   []string{"activity_id"},
		SortBy:        []string{"activity_id"},
		KeyColumn:     "activity_id",
	}
}

func TestActivityPipelineEndToEnd(t *testing.T) {
	server := activityServer(t)
	defer server.Close()

	client := httpclient.New(httpclient.Config{BaseURL: server.URL, Timeout: 5 * time.Second, RetryTotal: 1, BackoffFactor: 2, BackoffMax: time.Millisecond})
	defer client.Close()

	adapter, err := chembl.New(client, "activity", 10, 0)
	require.NoError(t, err)

	dir := t.TempDir()
	registry := newRegistry(t)
	opts := testOptions(t, registry, dir)

	p, err := New(activityDescriptor(), map[string]source.Adapter{"chembl": adapter}, []string{"123"}, opts)
	require.NoError(t, err)

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, p.State())
	assert.Equal(t, 1, result.RowCount)

	raw, err := os.ReadFile(opts.Plan.DatasetPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 2)

	header := strings.Split(lines[0], ",")
	values := strings.Split(lines[1], ",")
	row := make(map[string]string, len(header))
	for i, col := range header {
		row[col] = values[i]
	}

	assert.Equal(t, "123", row["activity_id"])
	assert.Equal(t, "IC50", row["standard_type"])
	assert.Equal(t, "10.000000", row["standard_value"])
	assert.Equal(t, "nM", row["standard_units"])
	assert.Equal(t, "ChEMBL_35", row["chembl_release"])

	sum := blake2b.Sum256([]byte("123"))
	assert.Equal(t, hex.EncodeToString(sum[:]), row["hash_business_key"])

	metaRaw, err := os.ReadFile(opts.Plan.MetaPath)
	require.NoError(t, err)
	var meta writer.Meta
	require.NoError(t, yaml.Unmarshal(metaRaw, &meta))
	assert.Equal(t, 1, meta.RowCount)
	assert.Equal(t, "status", meta.ChemblReleaseSource)
	assert.Equal(t, "ChEMBL_35", meta.ChemblRelease)
}

func TestTransformIsIdempotent(t *testing.T) {
	registry := newRegistry(t)
	opts := testOptions(t, registry, t.TempDir())
	opts.RunContext.ReleaseTag = "ChEMBL_35"

	p, err := New(activityDescriptor(), map[string]source.Adapter{}, nil, opts)
	require.NoError(t, err)

	frame := common.NewFrame()
	r := common.NewRecord()
	r.Set("activity_id", common.NewInt(1))
	r.Set("standard_type", common.NewString("IC50"))
	r.Set("standard_value", common.NewFloat(10))
	r.Set("data_validity_comment", common.NewString("  N/A "))
	frame.Append(r)

	once, err := p.Transform(frame)
	require.NoError(t, err)
	twice, err := p.Transform(once)
	require.NoError(t, err)

	require.Equal(t, once.Len(), twice.Len())
	require.Equal(t, once.Columns, twice.Columns)
	for i := range once.Rows {
		assert.True(t, once.Rows[i].Equal(twice.Rows[i]), "row %d changed on second transform", i)
	}

	assert.True(t, once.Rows[0].Get("data_validity_comment").IsNull(), "NA spelling nulled")
	assert.Equal(t, opts.RunContext.RunID, once.Rows[0].Get("run_id").AsString())
}

func TestDryRunProducesEmptySchemaFrame(t *testing.T) {
	registry := newRegistry(t)
	opts := testOptions(t, registry, t.TempDir())
	opts.DryRun = true

	p, err := New(activityDescriptor(), map[string]source.Adapter{}, []string{"123"}, opts)
	require.NoError(t, err)

	frame, err := p.Extract(context.Background())
	require.NoError(t, err)
	assert.Zero(t, frame.Len())

	reg, err := registry.Get("activity", "latest")
	require.NoError(t, err)
	assert.Equal(t, reg.Columns, frame.Columns)
}

func TestPipelineFailsToTerminalState(t *testing.T) {
	registry := newRegistry(t)
	opts := testOptions(t, registry, t.TempDir())

	// No adapter wired for the declared source: extract must fail.
	p, err := New(activityDescriptor(), map[string]source.Adapter{}, []string{"123"}, opts)
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, p.State())
}

func TestUnknownEntityFailsAtConstruction(t *testing.T) {
	registry := newRegistry(t)
	opts := testOptions(t, registry, t.TempDir())

	desc := activityDescriptor()
	desc.Entity = "nonesuch"
	_, err := New(desc, nil, nil, opts)
	require.Error(t, err)
}

func TestOfflineStubPipeline(t *testing.T) {
	t.Setenv(chembl.OfflineEnv, "true")
	require.True(t, chembl.OfflineEnabled())

	registry := newRegistry(t)
	opts := testOptions(t, registry, t.TempDir())

	p, err := New(activityDescriptor(), map[string]source.Adapter{"chembl": chembl.NewOffline("activity")}, []string{"1", "2"}, opts)
	require.NoError(t, err)

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)
}
