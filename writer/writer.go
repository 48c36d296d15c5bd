// Package writer materializes validated Frames as deterministic
// artifacts: the dataset file (CSV or Parquet), the meta.yaml sidecar
// with its checksum line, the QC report, and the optional correlation
// and summary reports, all written atomically. Two runs over identical
// inputs and configuration produce byte-identical datasets; run_id,
// started_at and finished_at are the only allowed sources of variation,
// and they live in meta.yaml alone.
package writer

import (
	"path/filepath"
	"time"

	"bioetl.dev/bioetl/common"
	bioetlerrors "bioetl.dev/bioetl/errors"
	"bioetl.dev/bioetl/source"
)

// Plan names every file one dataset write produces. Correlation and
// Summary are optional; empty means skip.
type Plan struct {
	DatasetPath     string
	MetaPath        string
	ChecksumPath    string
	QCPath          string
	CorrelationPath string
	SummaryPath     string
	Format          string // "csv" or "parquet"
}

// Result reports what a Write produced.
type Result struct {
	Artifacts []common.Artifact
	RowCount  int
}

// Write runs the full materialization sequence over a validated frame:
// column-order enforcement, NA policy, deterministic sort, hash columns,
// serialization, atomic write, checksums, meta and QC sidecars.
func Write(frame *common.Frame, plan Plan, runCtx common.RunContext, releaseSource string, s Settings, issues []bioetlerrors.ValidationIssue, counters map[string]source.Counters) (*Result, error) {
	out := EnforceColumnOrder(frame, s.ColumnOrder)
	ApplyNAPolicy(out, s.CasePreserving)
	SortRows(out, s.SortBy, s.Ascending)

	if len(s.BusinessKeyFields) > 0 {
		out.AddColumn("hash_business_key", func(r *common.Record, _ int) common.Scalar {
			return common.NewString(HashBusinessKey(r, s.BusinessKeyFields))
		})
	}
	if len(s.RowHashFields) > 0 {
		out.AddColumn("hash_row", func(r *common.Record, _ int) common.Scalar {
			return common.NewString(HashRow(r, s.RowHashFields, s.FloatPrecision))
		})
	}

	if err := writeDataset(out, plan, s); err != nil {
		return nil, err
	}

	checksum, err := ChecksumFile(plan.DatasetPath)
	if err != nil {
		return nil, &bioetlerrors.WriteError{Path: plan.DatasetPath, Err: err}
	}
	checksums := map[string]string{filepath.Base(plan.DatasetPath): checksum}

	qc := BuildQCFrame(out, issues, counters)
	qcBytes, err := EncodeCSV(qc, s)
	if err != nil {
		return nil, &bioetlerrors.WriteError{Path: plan.QCPath, Err: err}
	}
	if err := WriteAtomic(plan.QCPath, qcBytes); err != nil {
		return nil, err
	}

	if plan.CorrelationPath != "" {
		corrBytes, err := EncodeCSV(BuildCorrelationFrame(out), s)
		if err != nil {
			return nil, &bioetlerrors.WriteError{Path: plan.CorrelationPath, Err: err}
		}
		if err := WriteAtomic(plan.CorrelationPath, corrBytes); err != nil {
			return nil, err
		}
	}
	if plan.SummaryPath != "" {
		sumBytes, err := EncodeCSV(BuildSummaryFrame(out), s)
		if err != nil {
			return nil, &bioetlerrors.WriteError{Path: plan.SummaryPath, Err: err}
		}
		if err := WriteAtomic(plan.SummaryPath, sumBytes); err != nil {
			return nil, err
		}
	}

	pipelineName := runCtx.SourceSystem
	meta := BuildMeta(pipelineName, runCtx, releaseSource, out.Len(), time.Now().UTC(), checksums)
	if err := WriteMeta(meta, plan.MetaPath, plan.ChecksumPath); err != nil {
		return nil, err
	}

	result := &Result{RowCount: out.Len()}
	for _, p := range []string{plan.DatasetPath, plan.MetaPath, plan.ChecksumPath, plan.QCPath} {
		result.Artifacts = append(result.Artifacts, common.Artifact{RelPath: p})
	}
	return result, nil
}

func writeDataset(frame *common.Frame, plan Plan, s Settings) error {
	if plan.Format == "parquet" {
		return WriteParquet(plan.DatasetPath, frame, s)
	}
	payload, err := EncodeCSV(frame, s)
	if err != nil {
		return &bioetlerrors.WriteError{Path: plan.DatasetPath, Err: err}
	}
	return WriteAtomic(plan.DatasetPath, payload)
}
