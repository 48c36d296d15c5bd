package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioetl.dev/bioetl/common"
	bioetlerrors "bioetl.dev/bioetl/errors"
)

func TestRegistryLatestResolution(t *testing.T) {
	reg := NewRegistry()
	for _, v := range []string{"1.0.0", "1.2.0", "1.10.0", "0.9.0"} {
		require.NoError(t, reg.Register(common.SchemaRegistration{Entity: "thing", Version: v}))
	}

	latest, err := reg.Get("thing", "latest")
	require.NoError(t, err)
	assert.Equal(t, "1.10.0", latest.Version, "semver ordering, not string ordering")

	pinned, err := reg.Get("thing", "1.2.0")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", pinned.Version)
}

func TestRegistryUnknownEntity(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("nope", "latest")

	var regErr *bioetlerrors.SchemaRegistryError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "nope", regErr.Entity)
}

func TestRegistryUnknownVersion(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(common.SchemaRegistration{Entity: "thing", Version: "1.0.0"}))

	_, err := reg.Get("thing", "9.9.9")
	var regErr *bioetlerrors.SchemaRegistryError
	require.ErrorAs(t, err, &regErr)
}

func TestRegistryRejectsInvalidSemver(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(common.SchemaRegistration{Entity: "thing", Version: "not-a-version"})
	var regErr *bioetlerrors.SchemaRegistryError
	require.ErrorAs(t, err, &regErr)
}

func TestIsCompatible(t *testing.T) {
	tests := []struct {
		name     string
		old, new string
		want     bool
	}{
		{"patch bump", "1.0.0", "1.0.1", true},
		{"minor bump", "1.0.0", "1.3.0", true},
		{"major bump", "1.0.0", "2.0.0", false},
		{"downgrade", "2.0.0", "1.9.0", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsCompatible(tt.old, tt.new)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegisterBuiltinEntities(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltin(reg))

	for _, entity := range []string{"activity", "assay", "document", "target", "testitem"} {
		r, err := reg.Get(entity, "latest")
		require.NoError(t, err, entity)
		assert.NotEmpty(t, r.Columns)
		assert.Contains(t, r.Columns, "hash_business_key")
		assert.Contains(t, r.Columns, "hash_row")
		assert.Contains(t, r.Columns, "run_id")
	}
}
