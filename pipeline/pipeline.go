// Package pipeline implements the fixed four-stage state machine every
// entity runs through: Extract, Transform, Validate, Write. Stage
// transitions are linear; any error moves the run to the terminal Failed
// state. Retries live in the HTTP core, never here.
package pipeline

import (
	"context"
	"time"

	"bioetl.dev/bioetl/common"
	bioetlerrors "bioetl.dev/bioetl/errors"
	"bioetl.dev/bioetl/merge"
	"bioetl.dev/bioetl/schema"
	"bioetl.dev/bioetl/source"
	"bioetl.dev/bioetl/writer"
)

// State names a position in the stage machine.
type State string

const (
	StatePending   State = "pending"
	StateExtract   State = "extract"
	StateTransform State = "transform"
	StateValidate  State = "validate"
	StateWrite     State = "write"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Pipeline is the four-method contract a runnable entity pipeline
// satisfies. Composition happens through Descriptor rather than
// embedding, so every entity shares one concrete implementation.
type Pipeline interface {
	Extract(ctx context.Context) (*common.Frame, error)
	Transform(frame *common.Frame) (*common.Frame, error)
	Validate(frame *common.Frame) ([]bioetlerrors.ValidationIssue, error)
	Write(frame *common.Frame, issues []bioetlerrors.ValidationIssue) (*writer.Result, error)
}

// Descriptor parameterizes one entity pipeline: which adapters run, in
// which order, which schema applies, and how rows are keyed and sorted.
// Adapters listed in Sources run sequentially; each step may depend only
// on outputs of earlier steps.
type Descriptor struct {
	Entity        string
	SchemaVersion string
	Sources       []string
	BusinessKey   []string
	SortBy        []string
	Ascending     []bool
	KeyColumn     string
	MergeRules    []common.MergeRule
	// FieldCandidates maps a merged target field to the per-source
	// columns competing for it; candidate columns are renamed to the
	// target field before the merge rule applies.
	FieldCandidates map[string][]merge.Candidate
	// SourceIDColumns maps a non-baseline source to the column of the
	// already-extracted frames its ids are drawn from (e.g. pubmed reads
	// "pmid", crossref reads "doi_clean"). The first source always
	// consumes the pipeline's input id set.
	SourceIDColumns map[string]string
}

// Options carries the run-scoped collaborators an EntityPipeline needs.
type Options struct {
	Registry          *schema.Registry
	RunContext        common.RunContext
	ReleaseSource     string
	Settings          writer.Settings
	Plan              writer.Plan
	SeverityThreshold schema.Severity
	Workers           int
	BatchSize         int
	DryRun            bool
	Limit             int
	Logger            *common.ContextLogger
}

// EntityPipeline is the concrete Pipeline implementation shared by every
// entity, specialized by its Descriptor.
type EntityPipeline struct {
	Desc     Descriptor
	Adapters map[string]source.Adapter
	IDs      []string
	Opts     Options

	state State
	reg   common.SchemaRegistration
}

var _ Pipeline = (*EntityPipeline)(nil)

// New resolves the entity's schema registration and returns a pipeline
// in the pending state. Unknown entities or versions fail here, before
// any stage runs.
func New(desc Descriptor, adapters map[string]source.Adapter, ids []string, opts Options) (*EntityPipeline, error) {
	reg, err := opts.Registry.Get(desc.Entity, desc.SchemaVersion)
	if err != nil {
		return nil, err
	}
	if opts.SeverityThreshold == "" {
		opts.SeverityThreshold = schema.SeverityError
	}
	if opts.Logger == nil {
		opts.Logger = common.PipelineLogger(desc.Entity, opts.RunContext.RunID)
	} else {
		opts.Logger = opts.Logger.WithFields(map[string]interface{}{
			"pipeline": desc.Entity,
			"run_id":   opts.RunContext.RunID,
		})
	}
	return &EntityPipeline{
		Desc:     desc,
		Adapters: adapters,
		IDs:      ids,
		Opts:     opts,
		state:    StatePending,
		reg:      reg,
	}, nil
}

// State reports the pipeline's current stage.
func (p *EntityPipeline) State() State { return p.state }

// stageLog returns a logger carrying the stage field alongside the run
// identity.
func (p *EntityPipeline) stageLog(stage State) *common.ContextLogger {
	return common.StageLogger(p.Desc.Entity, string(stage), p.Opts.RunContext.RunID)
}

// Run drives the four stages in order. The only legal error transition
// is to Failed; a completed run ends in Done.
func (p *EntityPipeline) Run(ctx context.Context) (*writer.Result, error) {
	p.state = StateExtract
	p.stageLog(StateExtract).Info("stage started")
	raw, err := p.Extract(ctx)
	if err != nil {
		p.state = StateFailed
		p.stageLog(StateExtract).WithError(err).Error("stage failed")
		return nil, err
	}

	p.state = StateTransform
	p.stageLog(StateTransform).Info("stage started")
	transformed, err := p.Transform(raw)
	if err != nil {
		p.state = StateFailed
		p.stageLog(StateTransform).WithError(err).Error("stage failed")
		return nil, err
	}

	p.state = StateValidate
	p.stageLog(StateValidate).Info("stage started")
	issues, err := p.Validate(transformed)
	if err != nil {
		p.state = StateFailed
		p.stageLog(StateValidate).WithError(err).Error("stage failed")
		return nil, err
	}
	if len(issues) > 0 {
		p.stageLog(StateValidate).WithField("issues", len(issues)).Warn("validation issues recorded")
	}

	p.state = StateWrite
	p.stageLog(StateWrite).Info("stage started")
	result, err := p.Write(transformed, issues)
	if err != nil {
		p.state = StateFailed
		p.stageLog(StateWrite).WithError(err).Error("stage failed")
		return nil, err
	}

	p.state = StateDone
	p.Opts.Logger.WithField("rows", result.RowCount).Info("pipeline finished")
	return result, nil
}

// counters gathers every adapter's QC counters, keyed by source name.
func (p *EntityPipeline) counters() map[string]source.Counters {
	out := make(map[string]source.Counters, len(p.Adapters))
	for name, a := range p.Adapters {
		out[name] = a.Counters()
	}
	return out
}

// metadataColumns stamps the run-identifying columns onto every row.
// Values are constant for a run, so re-stamping is idempotent.
func (p *EntityPipeline) metadataColumns(frame *common.Frame) {
	rc := p.Opts.RunContext
	stamp := func(name, value string) {
		frame.AddColumn(name, func(_ *common.Record, _ int) common.Scalar {
			if value == "" {
				return common.Null
			}
			return common.NewString(value)
		})
	}
	stamp("run_id", rc.RunID)
	stamp("pipeline_version", rc.PipelineVersion)
	stamp("source_system", rc.SourceSystem)
	stamp("chembl_release", rc.ReleaseTag)
	stamp("extracted_at", rc.StartedAtUTC.UTC().Format(time.RFC3339))
}

// fallbackRow shapes a FallbackRecord into a Frame row: the business-key
// column carries the requested id so the row sorts deterministically
// with the rest; everything else stays null except the fallback_*
// columns.
func (p *EntityPipeline) fallbackRow(fb common.FallbackRecord) *common.Record {
	row := common.NewRecord()
	if len(p.Desc.BusinessKey) > 0 {
		row.Set(p.Desc.BusinessKey[0], common.NewString(fb.BusinessKey))
	}
	if fb.Row != nil {
		for _, col := range fb.Row.Columns {
			row.Set(col, fb.Row.Get(col))
		}
	}
	return row
}
