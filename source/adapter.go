// Package source defines the shared adapter contract every external-API
// source implements, and hosts one subpackage per API: chembl, pubmed,
// crossref, openalex, semanticscholar, uniprot, iuphar, pubchem.
package source

import (
	"context"

	"bioetl.dev/bioetl/common"
)

// Counters tracks the per-run statistics each adapter reports to the
// pipeline for QC: upstream calls made, cache hits, and per-id
// fallbacks emitted.
type Counters struct {
	APICalls      int
	CacheHits     int
	FallbackCount int
}

// Adapter is implemented by every source package's entry point: given a
// list of requested ids, it returns normalized rows plus any
// FallbackRecords for ids that could not be resolved normally.
type Adapter interface {
	Fetch(ctx context.Context, ids []string) ([]*common.Record, []common.FallbackRecord, error)
	Counters() Counters
}

// PrefixColumns renames every column of r except any name listed in
// sharedContract by prepending "<prefix>_". Adapter output carries the
// source name as a prefix except for fields of the cross-adapter shared
// contract (doi_clean, pmid, and the other join keys).
func PrefixColumns(r *common.Record, prefix string, sharedContract map[string]bool) *common.Record {
	out := common.NewRecord()
	for _, col := range r.Columns {
		name := col
		if !sharedContract[col] {
			name = prefix + "_" + col
		}
		out.Set(name, r.Get(col))
	}
	return out
}

// SharedContractColumns lists the column names that belong to the
// cross-adapter shared contract and are therefore never
// source-prefixed.
func SharedContractColumns() map[string]bool {
	return map[string]bool{
		"doi_clean":         true,
		"pmid":              true,
		"chembl_id":         true,
		"inchikey":          true,
		"uniprot_accession": true,
	}
}
