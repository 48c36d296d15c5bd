package schema

import "bioetl.dev/bioetl/common"

// metadataColumns are stamped onto every entity's rows by the transform
// stage and therefore close out every declared column order.
var metadataColumns = []string{"run_id", "pipeline_version", "source_system", "chembl_release", "extracted_at"}

// hashColumns are appended by the writer after sorting.
var hashColumns = []string{"hash_business_key", "hash_row"}

func withStandardTail(cols []string) []string {
	out := append([]string(nil), cols...)
	out = append(out, metadataColumns...)
	out = append(out, hashColumns...)
	return out
}

// chemblReleasePattern matches "ChEMBL_35" and the bare two-digit form.
const chemblReleasePattern = `^(?:ChEMBL_)?\d{2}$`

// RegisterBuiltin populates reg with the v1 schema registrations for the
// five ChEMBL-derived entities. Registration happens once at program
// start; the registry is read-only afterward.
func RegisterBuiltin(reg *Registry) error {
	entries := []common.SchemaRegistration{
		{
			Entity:  "activity",
			Version: "1.0.0",
			Columns: withStandardTail([]string{
				"activity_id", "assay_chembl_id", "molecule_chembl_id",
				"target_chembl_id", "document_chembl_id",
				"standard_type", "standard_relation", "standard_value",
				"standard_units", "pchembl_value", "data_validity_comment",
			}),
			Validates: map[string][]common.Validator{
				"activity_id":       {{Name: "activity_id_required", Kind: KindNonNull}, {Name: "activity_id_unique", Kind: KindUnique}},
				"standard_relation": {{Name: "relation_known", Kind: KindRelationIn}},
				"pchembl_value":     {{Name: "pchembl_range", Kind: KindRange, Args: []string{"0", "15", "inclusive", "warning"}}},
				"chembl_release":    {{Name: "release_format", Kind: KindRegex, Args: []string{chemblReleasePattern}}},
				"run_id":            {{Name: "run_id_required", Kind: KindNonNull}},
			},
			Types: map[string]string{
				"activity_id":    "int64",
				"standard_value": "float64",
				"pchembl_value":  "float64",
			},
			CasePreserving: map[string]bool{
				"assay_chembl_id":    true,
				"molecule_chembl_id": true,
				"target_chembl_id":   true,
				"document_chembl_id": true,
				"standard_type":      true,
				"standard_units":     true,
				"chembl_release":     true,
				"run_id":             true,
				"extracted_at":       true,
			},
		},
		{
			Entity:  "assay",
			Version: "1.0.0",
			Columns: withStandardTail([]string{
				"assay_chembl_id", "assay_type", "description",
				"target_chembl_id", "confidence_score", "bao_format",
			}),
			Validates: map[string][]common.Validator{
				"assay_chembl_id":  {{Name: "assay_id_required", Kind: KindNonNull}, {Name: "assay_id_format", Kind: KindRegex, Args: []string{`^CHEMBL\d+$`}}, {Name: "assay_id_unique", Kind: KindUnique}},
				"confidence_score": {{Name: "confidence_range", Kind: KindRange, Args: []string{"0", "9", "inclusive", "warning"}}},
				"chembl_release":   {{Name: "release_format", Kind: KindRegex, Args: []string{chemblReleasePattern}}},
			},
			Types: map[string]string{
				"confidence_score": "int64",
			},
			CasePreserving: map[string]bool{
				"assay_chembl_id":  true,
				"description":      true,
				"target_chembl_id": true,
				"bao_format":       true,
				"chembl_release":   true,
				"run_id":           true,
				"extracted_at":     true,
			},
		},
		{
			Entity:  "document",
			Version: "1.0.0",
			Columns: withStandardTail([]string{
				"document_chembl_id", "doi_clean", "pmid", "title", "title_source",
				"journal", "year", "crossref_container_title",
				"pubmed_mesh_terms", "pubmed_chemicals", "pubmed_authors",
			}),
			Validates: map[string][]common.Validator{
				"document_chembl_id": {{Name: "document_id_format", Kind: KindRegex, Args: []string{`^CHEMBL\d+$`}}},
				"doi_clean":          {{Name: "doi_format", Kind: KindRegex, Args: []string{`^10\.\S+$`, "warning"}}},
				"pmid":               {{Name: "pmid_format", Kind: KindRegex, Args: []string{`^\d+$`, "warning"}}},
				"year":               {{Name: "year_range", Kind: KindRange, Args: []string{"1800", "2100", "inclusive", "warning"}}},
			},
			Types: map[string]string{
				"year": "int64",
				"pmid": "string",
			},
			CasePreserving: map[string]bool{
				"document_chembl_id":       true,
				"title":                    true,
				"journal":                  true,
				"crossref_container_title": true,
				"pubmed_mesh_terms":        true,
				"pubmed_chemicals":         true,
				"pubmed_authors":           true,
				"chembl_release":           true,
				"run_id":                   true,
				"extracted_at":             true,
			},
		},
		{
			Entity:  "target",
			Version: "1.0.0",
			Columns: withStandardTail([]string{
				"target_chembl_id", "pref_name", "organism", "tax_id",
				"uniprot_accession", "uniprot_gene_name", "iuphar_target_id", "iuphar_family",
			}),
			Validates: map[string][]common.Validator{
				"target_chembl_id":  {{Name: "target_id_required", Kind: KindNonNull}, {Name: "target_id_format", Kind: KindRegex, Args: []string{`^CHEMBL\d+$`}}, {Name: "target_id_unique", Kind: KindUnique}},
				"uniprot_accession": {{Name: "accession_format", Kind: KindRegex, Args: []string{`^[A-NR-Z0-9][A-Z0-9]{5,9}$`, "warning"}}},
			},
			Types: map[string]string{
				"tax_id":           "int64",
				"iuphar_target_id": "string",
			},
			CasePreserving: map[string]bool{
				"target_chembl_id":  true,
				"pref_name":         true,
				"organism":          true,
				"uniprot_accession": true,
				"uniprot_gene_name": true,
				"iuphar_family":     true,
				"chembl_release":    true,
				"run_id":            true,
				"extracted_at":      true,
			},
		},
		{
			Entity:  "testitem",
			Version: "1.0.0",
			Columns: withStandardTail([]string{
				"molecule_chembl_id", "inchikey", "pubchem_lookup_inchikey", "pubchem_cid",
				"pubchem_canonical_smiles", "pubchem_molecular_formula", "pubchem_molecular_weight",
				"pubchem_iupac_name", "pubchem_synonyms",
			}),
			Validates: map[string][]common.Validator{
				"molecule_chembl_id": {{Name: "molecule_id_format", Kind: KindRegex, Args: []string{`^CHEMBL\d+$`}}},
				"inchikey":           {{Name: "inchikey_format", Kind: KindRegex, Args: []string{`^[A-Z]{14}-[A-Z]{10}-[A-Z]$`, "warning"}}},
			},
			Types: map[string]string{
				"pubchem_cid":              "int64",
				"pubchem_molecular_weight": "float64",
			},
			CasePreserving: map[string]bool{
				"molecule_chembl_id":        true,
				"inchikey":                  true,
				"pubchem_lookup_inchikey":   true,
				"pubchem_canonical_smiles":  true,
				"pubchem_molecular_formula": true,
				"pubchem_iupac_name":        true,
				"pubchem_synonyms":          true,
				"chembl_release":            true,
				"run_id":                    true,
				"extracted_at":              true,
			},
		},
	}

	for _, e := range entries {
		if err := reg.Register(e); err != nil {
			return err
		}
	}
	return nil
}
