package common

import "time"

// RunContext carries the identifying metadata stamped onto every row a
// pipeline emits and onto the meta.yaml document written alongside the
// dataset. A RunContext is created once per invocation and threaded
// read-only through extract/transform/write.
type RunContext struct {
	RunID           string
	PipelineVersion string
	SourceSystem    string
	ReleaseTag      string
	StartedAtUTC    time.Time
}

// SchemaRegistration is one versioned schema entry in the schema
// registry: the column order, per-column types and validators, and the
// version used to detect incompatible upgrades.
type SchemaRegistration struct {
	Entity    string
	Version   string
	Columns   []string
	Validates map[string][]Validator
	// Nullable marks columns that may legally hold null; a column mapped
	// to false gets an implicit nonnull check during validation.
	Nullable map[string]bool
	// Types declares per-column value types ("int64", "float64", "bool",
	// "string"); undeclared columns keep whatever the adapter produced.
	Types map[string]string
	// CasePreserving lists columns whose string values keep their
	// original case (SMILES, InChIKeys, titles). Columns not listed are
	// lowercased and trimmed during transform.
	CasePreserving map[string]bool
}

// Validator names one constraint (Kind plus Args) that schema validation
// checks a column's values against; a failing value is reported as a
// ValidationIssue with a human-readable detail.
type Validator struct {
	Name string
	Kind string
	Args []string
}

// Artifact describes one file this run produced: its path, byte size,
// and checksum. writer.Write fills only RelPath, with the path as given
// in the Plan; meta.yaml's "checksums" map covers the dataset file alone.
type Artifact struct {
	RelPath  string
	Bytes    int64
	Checksum string
}

// MergeStrategy names one of the four row-merge policies a MergeRule
// may select.
type MergeStrategy string

const (
	MergePreferSource MergeStrategy = "PREFER_SOURCE"
	MergePreferFresh  MergeStrategy = "PREFER_FRESH"
	MergeConcatUnique MergeStrategy = "CONCAT_UNIQUE"
	MergeScoreBased   MergeStrategy = "SCORE_BASED"
)

// MergeRule configures how rows contributed by multiple sources for the
// same business key are reconciled into one output row.
type MergeRule struct {
	Entity      string
	Strategy    MergeStrategy
	SourceOrder []string
	ScoreColumn string
	FreshColumn string
}

// FallbackRecord captures a row that could not be produced through the
// normal adapter path and was substituted after the upstream call
// failed: a payload still held (unexpired) in the response cache, or a
// synthesized placeholder row of fallback_* fields.
type FallbackRecord struct {
	BusinessKey string
	Reason      string
	SourceKind  string
	CapturedAt  time.Time
	Row         *Record
}
