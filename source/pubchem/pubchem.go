// Package pubchem adapts PubChem's PUG REST API: each requested InChIKey
// is resolved to a CID, then properties, synonyms and xrefs are fetched
// and joined back onto the original key under pubchem_lookup_inchikey.
package pubchem

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"bioetl.dev/bioetl/common"
	"bioetl.dev/bioetl/httpclient"
	"bioetl.dev/bioetl/source"
	sourcecommon "bioetl.dev/bioetl/source/common"
)

// propertyList is the property projection requested per CID.
const propertyList = "MolecularFormula,MolecularWeight,CanonicalSMILES,InChI,InChIKey,IUPACName"

// maxSynonyms caps how many synonyms are carried per compound.
const maxSynonyms = 20

var _ source.Adapter = (*Adapter)(nil)

// Adapter fetches PubChem compound data by InChIKey.
type Adapter struct {
	Client *httpclient.Client

	counters source.Counters
}

// New constructs a PubChem Adapter.
func New(client *httpclient.Client) *Adapter {
	return &Adapter{Client: client}
}

// Fetch resolves each InChIKey to a CID and joins the per-CID property,
// synonym and xref lookups into one row per requested key. The submitted
// InChIKey is always preserved in pubchem_lookup_inchikey, even when no
// CID matched.
func (a *Adapter) Fetch(ctx context.Context, ids []string) ([]*common.Record, []common.FallbackRecord, error) {
	var rows []*common.Record
	var fallbacks []common.FallbackRecord

	for _, inchikey := range ids {
		cid, err := a.resolveCID(ctx, inchikey)
		if err != nil {
			if strategy, ok := a.Client.Fallback().StrategyFor(err); ok {
				fallbacks = append(fallbacks, a.Client.Fallback().Resolve(ctx, strategy, inchikey, "", err))
				a.counters.FallbackCount++
				continue
			}
			return rows, fallbacks, err
		}

		row := common.NewRecord()
		row.Set("pubchem_lookup_inchikey", common.NewString(inchikey))
		if cid == 0 {
			rows = append(rows, row)
			continue
		}
		row.Set("pubchem_cid", common.NewInt(cid))

		if err := a.fetchProperties(ctx, cid, row); err != nil {
			return rows, fallbacks, err
		}
		if err := a.fetchSynonyms(ctx, cid, row); err != nil {
			return rows, fallbacks, err
		}
		if err := a.fetchXrefs(ctx, cid, row); err != nil {
			return rows, fallbacks, err
		}
		rows = append(rows, row)
	}

	return rows, fallbacks, nil
}

// resolveCID returns the first CID matching inchikey, or 0 when PubChem
// knows no compound for it.
func (a *Adapter) resolveCID(ctx context.Context, inchikey string) (int64, error) {
	endpoint := "/compound/inchikey/" + url.PathEscape(strings.TrimSpace(inchikey)) + "/cids/JSON"
	resp, err := a.Client.Get(ctx, endpoint, nil)
	if err != nil {
		return 0, err
	}
	a.counters.APICalls++
	if resp.FromCache {
		a.counters.CacheHits++
	}

	envelope, err := sourcecommon.UnmarshalEnvelope(resp.Body)
	if err != nil {
		return 0, err
	}
	ident, ok := envelope["IdentifierList"].(map[string]any)
	if !ok {
		return 0, nil
	}
	cids, ok := ident["CID"].([]any)
	if !ok || len(cids) == 0 {
		return 0, nil
	}
	f, ok := cids[0].(float64)
	if !ok {
		return 0, nil
	}
	return int64(f), nil
}

func (a *Adapter) fetchProperties(ctx context.Context, cid int64, row *common.Record) error {
	endpoint := fmt.Sprintf("/compound/cid/%d/property/%s/JSON", cid, propertyList)
	resp, err := a.Client.Get(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	a.counters.APICalls++
	if resp.FromCache {
		a.counters.CacheHits++
	}

	envelope, err := sourcecommon.UnmarshalEnvelope(resp.Body)
	if err != nil {
		return err
	}
	table, ok := envelope["PropertyTable"].(map[string]any)
	if !ok {
		return nil
	}
	props, ok := table["Properties"].([]any)
	if !ok || len(props) == 0 {
		return nil
	}
	p, ok := props[0].(map[string]any)
	if !ok {
		return nil
	}

	row.Set("pubchem_molecular_formula", sourcecommon.StringOf(p["MolecularFormula"]))
	row.Set("pubchem_molecular_weight", sourcecommon.StringOf(p["MolecularWeight"]))
	row.Set("pubchem_canonical_smiles", sourcecommon.StringOf(p["CanonicalSMILES"]))
	row.Set("pubchem_inchi", sourcecommon.StringOf(p["InChI"]))
	row.Set("inchikey", sourcecommon.StringOf(p["InChIKey"]))
	row.Set("pubchem_iupac_name", sourcecommon.StringOf(p["IUPACName"]))
	return nil
}

func (a *Adapter) fetchSynonyms(ctx context.Context, cid int64, row *common.Record) error {
	endpoint := fmt.Sprintf("/compound/cid/%d/synonyms/JSON", cid)
	resp, err := a.Client.Get(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	a.counters.APICalls++
	if resp.FromCache {
		a.counters.CacheHits++
	}

	envelope, err := sourcecommon.UnmarshalEnvelope(resp.Body)
	if err != nil {
		return err
	}
	list, ok := envelope["InformationList"].(map[string]any)
	if !ok {
		return nil
	}
	infos, ok := list["Information"].([]any)
	if !ok || len(infos) == 0 {
		return nil
	}
	info, ok := infos[0].(map[string]any)
	if !ok {
		return nil
	}
	synonyms, ok := info["Synonym"].([]any)
	if !ok {
		return nil
	}

	parts := make([]string, 0, maxSynonyms)
	for _, s := range synonyms {
		if str, ok := s.(string); ok && str != "" {
			parts = append(parts, str)
		}
		if len(parts) >= maxSynonyms {
			break
		}
	}
	if len(parts) > 0 {
		row.Set("pubchem_synonyms", common.NewEncoded(strings.Join(parts, "|")))
	}
	return nil
}

func (a *Adapter) fetchXrefs(ctx context.Context, cid int64, row *common.Record) error {
	endpoint := fmt.Sprintf("/compound/cid/%d/xrefs/RegistryID/JSON", cid)
	resp, err := a.Client.Get(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	a.counters.APICalls++
	if resp.FromCache {
		a.counters.CacheHits++
	}

	envelope, err := sourcecommon.UnmarshalEnvelope(resp.Body)
	if err != nil {
		return err
	}
	list, ok := envelope["InformationList"].(map[string]any)
	if !ok {
		return nil
	}
	infos, ok := list["Information"].([]any)
	if !ok || len(infos) == 0 {
		return nil
	}
	info, ok := infos[0].(map[string]any)
	if !ok {
		return nil
	}
	regIDs, ok := info["RegistryID"].([]any)
	if !ok {
		return nil
	}

	for _, r := range regIDs {
		if s, ok := r.(string); ok && strings.HasPrefix(s, "CHEMBL") {
			row.Set("chembl_id", common.NewString(s))
			break
		}
	}
	return nil
}

// Counters reports cumulative QC counters.
func (a *Adapter) Counters() source.Counters { return a.counters }
