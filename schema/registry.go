// Package schema implements the versioned schema registry: entity name
// plus semver version resolves to a SchemaRegistration naming the
// expected column order, value types and per-column validators. Version
// resolution is semver-aware, so "latest" and compatibility checks use
// real version ordering instead of string comparison.
package schema

import (
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"

	"bioetl.dev/bioetl/common"
	bioetlerrors "bioetl.dev/bioetl/errors"
)

// Registry holds SchemaRegistrations for every known entity, keyed by
// semver version.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]map[string]common.SchemaRegistration
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]map[string]common.SchemaRegistration)}
}

// Register adds reg under its Entity/Version, validating the version is
// well-formed semver.
func (r *Registry) Register(reg common.SchemaRegistration) error {
	if _, err := semver.NewVersion(reg.Version); err != nil {
		return &bioetlerrors.SchemaRegistryError{Entity: reg.Entity, Version: reg.Version, Reason: "invalid semver: " + err.Error()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[reg.Entity] == nil {
		r.entries[reg.Entity] = make(map[string]common.SchemaRegistration)
	}
	r.entries[reg.Entity][reg.Version] = reg
	return nil
}

// Get resolves entity/version to a SchemaRegistration. version may be
// the literal string "latest" to select the highest semver version
// registered for that entity.
func (r *Registry) Get(entity, version string) (common.SchemaRegistration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.entries[entity]
	if !ok {
		return common.SchemaRegistration{}, &bioetlerrors.SchemaRegistryError{Entity: entity, Version: version, Reason: "unknown entity"}
	}

	if version == "" || version == "latest" {
		best, reg, found := findLatest(versions)
		if !found {
			return common.SchemaRegistration{}, &bioetlerrors.SchemaRegistryError{Entity: entity, Reason: "no schemas registered"}
		}
		_ = best
		return reg, nil
	}

	reg, ok := versions[version]
	if !ok {
		return common.SchemaRegistration{}, &bioetlerrors.SchemaRegistryError{Entity: entity, Version: version, Reason: "unknown version"}
	}
	return reg, nil
}

func findLatest(versions map[string]common.SchemaRegistration) (*semver.Version, common.SchemaRegistration, bool) {
	var best *semver.Version
	var bestReg common.SchemaRegistration
	found := false
	for v, reg := range versions {
		sv, err := semver.NewVersion(v)
		if err != nil {
			continue
		}
		if best == nil || sv.GreaterThan(best) {
			best = sv
			bestReg = reg
			found = true
		}
	}
	return best, bestReg, found
}

// IsCompatible reports whether newVersion is compatible with oldVersion:
// true for a minor or patch change, false when the major component
// increases.
func IsCompatible(oldVersion, newVersion string) (bool, error) {
	oldV, err := semver.NewVersion(oldVersion)
	if err != nil {
		return false, fmt.Errorf("parse old version: %w", err)
	}
	newV, err := semver.NewVersion(newVersion)
	if err != nil {
		return false, fmt.Errorf("parse new version: %w", err)
	}
	return newV.Major() <= oldV.Major(), nil
}
