package pipeline

import (
	"context"
	"strings"
	"time"

	"bioetl.dev/bioetl/common"
	bioetlerrors "bioetl.dev/bioetl/errors"
	"bioetl.dev/bioetl/merge"
	"bioetl.dev/bioetl/schema"
	"bioetl.dev/bioetl/source"
	sourcecommon "bioetl.dev/bioetl/source/common"
	"bioetl.dev/bioetl/worker"
	"bioetl.dev/bioetl/writer"
)

// handshaker is implemented by adapters that perform a once-per-run
// version handshake before fetching (the ChEMBL client's /status call).
type handshaker interface {
	Handshake(ctx context.Context) error
	Release() string
}

// Extract reads external data for the pipeline's id set, source by
// source in declared order, fanning each source's batches out over the
// worker pool. In dry-run mode it returns an empty Frame carrying the
// declared schema columns.
func (p *EntityPipeline) Extract(ctx context.Context) (*common.Frame, error) {
	if p.Opts.DryRun {
		return common.NewFrame(p.reg.Columns...), nil
	}

	ids := p.IDs
	if p.Opts.Limit > 0 && len(ids) > p.Opts.Limit {
		ids = ids[:p.Opts.Limit]
	}

	frames := make(map[string]*common.Frame, len(p.Desc.Sources))
	for i, name := range p.Desc.Sources {
		adapter, ok := p.Adapters[name]
		if !ok {
			return nil, &bioetlerrors.ConfigError{Path: "sources." + name, Reason: "no adapter wired for declared source"}
		}

		if h, ok := adapter.(handshaker); ok {
			if err := h.Handshake(ctx); err != nil {
				return nil, err
			}
			if p.Opts.RunContext.ReleaseTag == "" {
				p.Opts.RunContext.ReleaseTag = h.Release()
			}
		}

		sourceIDs := ids
		if i > 0 {
			if col, ok := p.Desc.SourceIDColumns[name]; ok {
				sourceIDs = collectIDs(frames, p.Desc.Sources[:i], col)
			}
		}
		p.Opts.Logger.WithField("source", name).WithField("ids", len(sourceIDs)).Debug("source extract starting")

		start := time.Now()
		frame, err := p.extractSource(ctx, adapter, sourceIDs)
		if err != nil {
			return nil, err
		}
		frames[name] = frame

		c := adapter.Counters()
		p.Opts.Logger.
			WithFields(common.AdapterFields(name, c.APICalls, c.CacheHits, c.FallbackCount, time.Since(start))).
			WithField("rows", frame.Len()).
			Info("source extracted")
	}

	return p.combine(frames), nil
}

// collectIDs gathers the distinct non-null values of column across the
// frames extracted so far, in first-seen order.
func collectIDs(frames map[string]*common.Frame, earlier []string, column string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, name := range earlier {
		f, ok := frames[name]
		if !ok {
			continue
		}
		for _, row := range f.Rows {
			v := row.Get(column)
			if v.IsNull() {
				continue
			}
			s := v.AsString()
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// extractSource fans one adapter's batches out over the pool and
// flattens the results in batch order.
func (p *EntityPipeline) extractSource(ctx context.Context, adapter source.Adapter, ids []string) (*common.Frame, error) {
	batchSize := p.Opts.BatchSize
	if batchSize <= 0 {
		batchSize = len(ids)
	}
	batches := sourcecommon.ChunkByBatchSize(ids, batchSize)

	type batchResult struct {
		rows      []*common.Record
		fallbacks []common.FallbackRecord
	}
	results := make([]batchResult, len(batches))

	pool := worker.New(p.Opts.Workers)
	err := pool.Run(ctx, len(batches), func(ctx context.Context, idx int) error {
		rows, fallbacks, err := adapter.Fetch(ctx, batches[idx])
		if err != nil {
			return err
		}
		results[idx] = batchResult{rows: rows, fallbacks: fallbacks}
		return nil
	})
	if err != nil {
		return nil, err
	}

	frame := common.NewFrame()
	for _, res := range results {
		for _, row := range res.rows {
			frame.Append(row)
		}
		for _, fb := range res.fallbacks {
			frame.Append(p.fallbackRow(fb))
		}
	}
	return frame, nil
}

// combine fuses the per-source frames: a single source passes through,
// multiple sources join under the descriptor's first merge rule when one
// is declared, and concatenate otherwise.
func (p *EntityPipeline) combine(frames map[string]*common.Frame) *common.Frame {
	if len(p.Desc.Sources) == 1 {
		return frames[p.Desc.Sources[0]]
	}
	if len(p.Desc.MergeRules) > 0 && p.Desc.KeyColumn != "" {
		for field, candidates := range p.Desc.FieldCandidates {
			merge.ApplyCandidates(frames, field, candidates)
		}
		out := merge.Merge(frames, p.Desc.KeyColumn, p.Desc.MergeRules[0])
		// Baseline rows with no join key cannot participate in the merge;
		// carry them through unchanged rather than dropping them.
		base := frames[p.Desc.Sources[0]]
		for _, row := range base.Rows {
			if strings.TrimSpace(row.Get(p.Desc.KeyColumn).AsString()) == "" {
				out.Append(row)
			}
		}
		return out
	}
	out := common.NewFrame()
	for _, name := range p.Desc.Sources {
		out.Concat(frames[name])
	}
	return out
}

// Transform normalizes the raw frame: NA policy per the schema's
// case-preserving declarations, the run metadata columns, then the
// declared column order with unknown columns kept at the end. Transform
// is a pure function of its input plus the descriptor, and idempotent:
// transforming its own output changes nothing.
func (p *EntityPipeline) Transform(frame *common.Frame) (*common.Frame, error) {
	out := frame.Clone()
	writer.ApplyNAPolicy(out, p.reg.CasePreserving)
	schema.Coerce(out, p.reg)
	p.metadataColumns(out)
	out = writer.EnforceColumnOrder(out, p.reg.Columns)
	return out, nil
}

// Validate applies the entity schema. All issues are collected; the
// stage fails with ValidationFailed only when the maximum severity meets
// the configured threshold.
func (p *EntityPipeline) Validate(frame *common.Frame) ([]bioetlerrors.ValidationIssue, error) {
	return schema.Validate(frame, p.reg, p.Opts.SeverityThreshold)
}

// Write materializes the artifacts through the deterministic writer.
func (p *EntityPipeline) Write(frame *common.Frame, issues []bioetlerrors.ValidationIssue) (*writer.Result, error) {
	s := p.Opts.Settings
	if len(s.ColumnOrder) == 0 {
		s.ColumnOrder = p.reg.Columns
	}
	if len(s.SortBy) == 0 {
		s.SortBy = p.Desc.SortBy
		s.Ascending = p.Desc.Ascending
	}
	if len(s.BusinessKeyFields) == 0 {
		s.BusinessKeyFields = p.Desc.BusinessKey
	}
	if s.CasePreserving == nil {
		s.CasePreserving = p.reg.CasePreserving
	}

	runCtx := p.Opts.RunContext
	if runCtx.SourceSystem == "" {
		runCtx.SourceSystem = p.Desc.Entity
	}

	return writer.Write(frame, p.Opts.Plan, runCtx, p.Opts.ReleaseSource, s, issues, p.counters())
}
