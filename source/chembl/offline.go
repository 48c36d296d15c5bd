package chembl

import (
	"context"

	"bioetl.dev/bioetl/common"
	"bioetl.dev/bioetl/source"
)

// OfflineEnv is the environment variable that swaps the live ChEMBL
// client for the deterministic offline stub.
const OfflineEnv = "BIOETL_OFFLINE_CHEMBL_CLIENT"

// OfflineEnabled reports whether the offline ChEMBL stub is requested.
func OfflineEnabled() bool {
	return common.GetEnvBool(OfflineEnv, false)
}

var _ source.Adapter = (*OfflineAdapter)(nil)

// OfflineAdapter is a deterministic stand-in for the live ChEMBL client:
// it answers every requested id from a fixed minimal dataset without
// touching the network, so pipelines can be exercised end to end in
// environments with no outbound connectivity.
type OfflineAdapter struct {
	Entity string

	counters source.Counters
}

// NewOffline constructs the offline stub for the given entity.
func NewOffline(entity string) *OfflineAdapter {
	return &OfflineAdapter{Entity: entity}
}

// Handshake is a no-op; the stub reports a fixed release tag.
func (a *OfflineAdapter) Handshake(ctx context.Context) error { return nil }

// Release returns the stub's fixed release tag.
func (a *OfflineAdapter) Release() string { return "ChEMBL_35" }

// Fetch returns one synthesized row per requested id, with the entity's
// id column populated and a small set of plausible business columns fixed
// across runs.
func (a *OfflineAdapter) Fetch(ctx context.Context, ids []string) ([]*common.Record, []common.FallbackRecord, error) {
	cfg, ok := EntityRegistry[a.Entity]
	if !ok {
		cfg = EntityRegistry["activity"]
	}

	rows := make([]*common.Record, 0, len(ids))
	for _, id := range ids {
		r := common.NewRecord()
		r.Set(cfg.IDKey, common.NewString(id))
		switch a.Entity {
		case "activity":
			r.Set("standard_type", common.NewString("IC50"))
			r.Set("standard_value", common.NewFloat(10))
			r.Set("standard_units", common.NewString("nM"))
			r.Set("standard_relation", common.NewString("="))
		case "assay":
			r.Set("assay_type", common.NewString("B"))
			r.Set("description", common.NewString("Binding assay (offline stub)"))
		case "document":
			r.Set("doi_clean", common.NewString("10.1000/offline."+id))
			r.Set("title", common.NewString("Offline stub document"))
		case "target":
			r.Set("pref_name", common.NewString("Offline stub target"))
			r.Set("organism", common.NewString("Homo sapiens"))
		case "testitem":
			r.Set("pref_name", common.NewString("Offline stub molecule"))
		}
		r.Set("chembl_release", common.NewString(a.Release()))
		rows = append(rows, r)
	}
	return rows, nil, nil
}

// Counters reports the stub's (network-free) call statistics.
func (a *OfflineAdapter) Counters() source.Counters { return a.counters }
