package writer

import (
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"bioetl.dev/bioetl/common"
)

// Meta is the sidecar metadata document written beside every dataset
// artifact.
type Meta struct {
	Pipeline            string            `yaml:"pipeline"`
	PipelineVersion     string            `yaml:"pipeline_version"`
	RunID               string            `yaml:"run_id"`
	ChemblRelease       string            `yaml:"chembl_release"`
	ChemblReleaseSource string            `yaml:"chembl_release_source"`
	RowCount            int               `yaml:"row_count"`
	StartedAt           string            `yaml:"started_at"`
	FinishedAt          string            `yaml:"finished_at"`
	CurrentYear         int               `yaml:"current_year"`
	Checksums           map[string]string `yaml:"checksums"`
}

// BuildMeta assembles the Meta document for a finished dataset write.
// checksums maps artifact file names (not paths) to their BLAKE2b-256
// hex digests.
func BuildMeta(pipeline string, runCtx common.RunContext, releaseSource string, rowCount int, finishedAt time.Time, checksums map[string]string) Meta {
	return Meta{
		Pipeline:            pipeline,
		PipelineVersion:     runCtx.PipelineVersion,
		RunID:               runCtx.RunID,
		ChemblRelease:       runCtx.ReleaseTag,
		ChemblReleaseSource: releaseSource,
		RowCount:            rowCount,
		StartedAt:           runCtx.StartedAtUTC.UTC().Format(time.RFC3339),
		FinishedAt:          finishedAt.UTC().Format(time.RFC3339),
		CurrentYear:         finishedAt.UTC().Year(),
		Checksums:           checksums,
	}
}

// WriteMeta materializes meta as YAML at metaPath and its one-line
// checksum sidecar at checksumPath, both atomically.
func WriteMeta(meta Meta, metaPath, checksumPath string) error {
	payload, err := yaml.Marshal(meta)
	if err != nil {
		return err
	}
	if err := WriteAtomic(metaPath, payload); err != nil {
		return err
	}
	line := ChecksumBytes(payload) + "  " + filepath.Base(metaPath) + "\n"
	return WriteAtomic(checksumPath, []byte(line))
}
