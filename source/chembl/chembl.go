// Package chembl adapts the ChEMBL web services API: activity, assay,
// document, target and testitem (molecule) entities, each reachable
// through one of five cursor-paginated endpoints sharing the same
// request shape.
package chembl

import (
	"context"
	"fmt"
	"strings"

	"bioetl.dev/bioetl/common"
	"bioetl.dev/bioetl/httpclient"
	"bioetl.dev/bioetl/paginate"
	"bioetl.dev/bioetl/source"
	sourcecommon "bioetl.dev/bioetl/source/common"
)

// EntityConfig describes how one ChEMBL entity is fetched: its endpoint,
// the __in filter parameter, the id key inside each payload item, and the
// envelope key holding the items array.
type EntityConfig struct {
	Endpoint   string
	FilterParm string
	IDKey      string
	ItemsKey   string
	LogPrefix  string
}

// EntityRegistry holds one EntityConfig per ChEMBL entity the engine
// supports.
var EntityRegistry = map[string]EntityConfig{
	"activity": {Endpoint: "/activity.json", FilterParm: "activity_id__in", IDKey: "activity_id", ItemsKey: "activities", LogPrefix: "activity"},
	"assay":    {Endpoint: "/assay.json", FilterParm: "assay_chembl_id__in", IDKey: "assay_chembl_id", ItemsKey: "assays", LogPrefix: "assay"},
	"document": {Endpoint: "/document.json", FilterParm: "document_chembl_id__in", IDKey: "document_chembl_id", ItemsKey: "documents", LogPrefix: "document"},
	"target":   {Endpoint: "/target.json", FilterParm: "target_chembl_id__in", IDKey: "target_chembl_id", ItemsKey: "targets", LogPrefix: "target"},
	"testitem": {Endpoint: "/molecule.json", FilterParm: "molecule_chembl_id__in", IDKey: "molecule_chembl_id", ItemsKey: "molecules", LogPrefix: "molecule"},
}

var _ source.Adapter = (*Adapter)(nil)

// Adapter fetches one ChEMBL entity type.
type Adapter struct {
	Client       *httpclient.Client
	Entity       string
	BatchSize    int
	MaxURLLength int

	chemblRelease string
	counters      struct{ apiCalls, cacheHits, fallback int }
}

// New constructs a ChEMBL Adapter for the given entity ("activity",
// "assay", "document", "target", or "testitem").
func New(client *httpclient.Client, entity string, batchSize, maxURLLength int) (*Adapter, error) {
	if _, ok := EntityRegistry[entity]; !ok {
		return nil, fmt.Errorf("unknown chembl entity %q", entity)
	}
	return &Adapter{Client: client, Entity: entity, BatchSize: batchSize, MaxURLLength: maxURLLength}, nil
}

// Handshake calls /status once per run to capture chembl_db_version,
// stamped into every row as chembl_release. When a release was already
// set through SetRelease, no /status call is made.
func (a *Adapter) Handshake(ctx context.Context) error {
	if a.chemblRelease != "" {
		return nil
	}
	resp, err := a.Client.Get(ctx, "/status.json", nil)
	if err != nil {
		return err
	}
	a.counters.apiCalls++

	envelope, err := sourcecommon.UnmarshalEnvelope(resp.Body)
	if err != nil {
		return err
	}
	if v, ok := envelope["chembl_db_version"].(string); ok {
		a.chemblRelease = v
	}
	return nil
}

// Release returns the chembl_db_version captured by Handshake, or the
// value injected by SetRelease.
func (a *Adapter) Release() string { return a.chemblRelease }

// SetRelease overrides the release tag, used when the operator passes an
// explicit release on the command line instead of trusting /status.
func (a *Adapter) SetRelease(v string) { a.chemblRelease = v }

// Fetch resolves rows for the given ChEMBL ids, chunking per batch_size
// and max_url_length, paginating each chunk with a CursorPaginator.
func (a *Adapter) Fetch(ctx context.Context, ids []string) ([]*common.Record, []common.FallbackRecord, error) {
	cfg := EntityRegistry[a.Entity]

	var rows []*common.Record
	var fallbacks []common.FallbackRecord

	buildURL := func(chunk []string) string {
		return a.Client.BuildURL(cfg.Endpoint, map[string]string{cfg.FilterParm: strings.Join(chunk, ",")})
	}

	for _, chunk := range sourcecommon.Batches(ids, a.BatchSize, a.MaxURLLength, buildURL) {
		params := map[string]string{cfg.FilterParm: strings.Join(chunk, ",")}
		pgn := paginate.NewCursorPaginator(a.Client, cfg.Endpoint, params, 0, cfg.ItemsKey)

		for {
			page, err := pgn.Next(ctx)
			if err != nil {
				strategy, ok := a.Client.Fallback().StrategyFor(err)
				if !ok {
					return rows, fallbacks, err
				}
				for _, id := range chunk {
					fallbacks = append(fallbacks, a.Client.Fallback().Resolve(ctx, strategy, id, "", err))
					a.counters.fallback++
				}
				break
			}
			if page.Done {
				break
			}
			a.counters.apiCalls++
			for _, item := range page.Items {
				rows = append(rows, a.normalize(item))
			}
		}
	}

	return rows, fallbacks, nil
}

// normalize flattens one payload item. ChEMBL is the baseline source
// whose schema defines each entity, so its fields keep their upstream
// names unprefixed; enrichment sources layered on top carry prefixes.
// The cross-reference ids later sources key on (doi_clean, pmid,
// inchikey) are lifted out of the payload here.
func (a *Adapter) normalize(item map[string]any) *common.Record {
	raw := sourcecommon.RecordFromMap(item)
	raw.Set("chembl_release", common.NewString(a.chemblRelease))

	switch a.Entity {
	case "document":
		if doi, ok := item["doi"].(string); ok && doi != "" {
			raw.Set("doi_clean", common.NewString(strings.ToLower(strings.TrimSpace(doi))))
		}
		if pmid, ok := item["pubmed_id"]; ok {
			if s := sourcecommon.ToScalar(pmid); !s.IsNull() {
				raw.Set("pmid", common.NewString(s.AsString()))
			}
		}
	case "testitem":
		if structures, ok := item["molecule_structures"].(map[string]any); ok {
			if key, ok := structures["standard_inchi_key"].(string); ok && key != "" {
				raw.Set("inchikey", common.NewString(key))
			}
		}
	}
	return raw
}

// Counters reports this adapter's cumulative call/cache/fallback
// statistics for pipeline QC.
func (a *Adapter) Counters() source.Counters {
	return source.Counters{
		APICalls:      a.counters.apiCalls,
		CacheHits:     a.counters.cacheHits,
		FallbackCount: a.counters.fallback,
	}
}
