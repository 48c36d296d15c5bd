package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioetl.dev/bioetl/common"
	bioetlerrors "bioetl.dev/bioetl/errors"
)

func frameWith(column string, values ...common.Scalar) *common.Frame {
	f := common.NewFrame(column)
	for _, v := range values {
		r := common.NewRecord()
		r.Set(column, v)
		f.Append(r)
	}
	return f
}

func TestValidateCollectsAllIssues(t *testing.T) {
	reg := common.SchemaRegistration{
		Entity:  "thing",
		Version: "1.0.0",
		Columns: []string{"id"},
		Validates: map[string][]common.Validator{
			"id": {
				{Name: "id_required", Kind: KindNonNull},
				{Name: "id_format", Kind: KindRegex, Args: []string{`^\d+$`}},
			},
		},
	}

	frame := frameWith("id",
		common.NewString("123"),
		common.Null,
		common.NewString("abc"),
	)

	issues, err := Validate(frame, reg, SeverityCritical)
	require.NoError(t, err, "errors below threshold accumulate without failing")
	assert.Len(t, issues, 2, "every failing row reported, not just the first")
}

func TestValidateThresholdTrips(t *testing.T) {
	reg := common.SchemaRegistration{
		Entity:  "thing",
		Version: "1.0.0",
		Columns: []string{"id"},
		Validates: map[string][]common.Validator{
			"id": {{Name: "id_required", Kind: KindNonNull}},
		},
	}
	frame := frameWith("id", common.Null)

	issues, err := Validate(frame, reg, SeverityError)
	require.Error(t, err)

	var failed *bioetlerrors.ValidationFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "thing", failed.Entity)
	assert.Len(t, issues, 1)
}

func TestValidateColumnOrder(t *testing.T) {
	reg := common.SchemaRegistration{
		Entity:  "thing",
		Version: "1.0.0",
		Columns: []string{"a", "b"},
	}

	frame := common.NewFrame("b", "a")
	issues, err := Validate(frame, reg, SeverityCritical)
	require.Error(t, err)
	require.NotEmpty(t, issues)
	assert.Equal(t, "column_order", issues[0].Rule)
}

func TestValidatorKinds(t *testing.T) {
	tests := []struct {
		name      string
		validator common.Validator
		value     common.Scalar
		wantIssue bool
	}{
		{"regex pass", common.Validator{Kind: KindRegex, Args: []string{`^CHEMBL\d+$`}}, common.NewString("CHEMBL25"), false},
		{"regex fail", common.Validator{Kind: KindRegex, Args: []string{`^CHEMBL\d+$`}}, common.NewString("25"), true},
		{"regex skips null", common.Validator{Kind: KindRegex, Args: []string{`^x$`}}, common.Null, false},
		{"range inclusive pass", common.Validator{Kind: KindRange, Args: []string{"0", "10", "inclusive"}}, common.NewFloat(10), false},
		{"range inclusive fail", common.Validator{Kind: KindRange, Args: []string{"0", "10", "inclusive"}}, common.NewFloat(10.5), true},
		{"range exclusive boundary", common.Validator{Kind: KindRange, Args: []string{"0", "10", "exclusive"}}, common.NewInt(10), true},
		{"membership pass", common.Validator{Kind: KindMembership, Args: []string{"nM", "uM"}}, common.NewString("nM"), false},
		{"membership fail", common.Validator{Kind: KindMembership, Args: []string{"nM", "uM"}}, common.NewString("mg"), true},
		{"relation pass", common.Validator{Kind: KindRelationIn}, common.NewString("<="), false},
		{"relation fail", common.Validator{Kind: KindRelationIn}, common.NewString("!="), true},
		{"json array pass", common.Validator{Kind: KindJSONArrayOf}, common.NewEncoded(`[{"a":1}]`), false},
		{"json array fail", common.Validator{Kind: KindJSONArrayOf}, common.NewEncoded(`{"a":1}`), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := common.SchemaRegistration{
				Entity:    "thing",
				Version:   "1.0.0",
				Columns:   []string{"col"},
				Validates: map[string][]common.Validator{"col": {tt.validator}},
			}
			frame := frameWith("col", tt.value)
			issues, _ := Validate(frame, reg, SeverityCritical)
			if tt.wantIssue {
				assert.NotEmpty(t, issues)
			} else {
				assert.Empty(t, issues)
			}
		})
	}
}

func TestUniqueValidator(t *testing.T) {
	reg := common.SchemaRegistration{
		Entity:    "thing",
		Version:   "1.0.0",
		Columns:   []string{"id"},
		Validates: map[string][]common.Validator{"id": {{Name: "id_unique", Kind: KindUnique}}},
	}

	frame := frameWith("id",
		common.NewString("a"),
		common.NewString("b"),
		common.NewString("a"),
	)
	issues, _ := Validate(frame, reg, SeverityCritical)
	require.Len(t, issues, 1)
	assert.Equal(t, 2, issues[0].Row, "duplicate flagged at its second occurrence")
}

func TestCoerceSettlesNumericWidths(t *testing.T) {
	reg := common.SchemaRegistration{
		Entity:  "thing",
		Version: "1.0.0",
		Types: map[string]string{
			"count": "int64",
			"value": "float64",
		},
	}

	frame := common.NewFrame("count", "value")
	r := common.NewRecord()
	r.Set("count", common.NewFloat(7))
	r.Set("value", common.NewInt(10))
	frame.Append(r)

	Coerce(frame, reg)
	assert.Equal(t, common.ScalarInt, frame.Rows[0].Get("count").Kind)
	assert.Equal(t, int64(7), frame.Rows[0].Get("count").Int)
	assert.Equal(t, common.ScalarFloat, frame.Rows[0].Get("value").Kind)
	assert.Equal(t, 10.0, frame.Rows[0].Get("value").Float)

	// Coerce is idempotent.
	Coerce(frame, reg)
	assert.Equal(t, common.ScalarInt, frame.Rows[0].Get("count").Kind)
}
