// Package iuphar adapts IUPHAR/GtoPdb target classification, through two
// interchangeable paths: a CSV dictionary (the GtoPdb targets export,
// loaded into in-memory indices) or the REST API. Lookup precedence is
// target_id, then uniprot accession, then gene symbol, then name.
package iuphar

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"bioetl.dev/bioetl/common"
	"bioetl.dev/bioetl/httpclient"
	"bioetl.dev/bioetl/source"
	sourcecommon "bioetl.dev/bioetl/source/common"
)

var _ source.Adapter = (*Adapter)(nil)

// Dictionary is the in-memory GtoPdb target dictionary with one index
// per supported lookup key.
type Dictionary struct {
	byTargetID map[string]*Entry
	byUniProt  map[string]*Entry
	byGene     map[string]*Entry
	byName     map[string]*Entry
}

// Entry is one dictionary row: a GtoPdb target and its cross-reference
// identifiers.
type Entry struct {
	TargetID string
	Name     string
	Type     string
	Family   string
	UniProt  string
	Gene     string
}

// Adapter resolves target classification for requested ids. When Dict is
// non-nil the dictionary path is used; otherwise each id goes through the
// REST API.
type Adapter struct {
	Client *httpclient.Client
	Dict   *Dictionary

	counters source.Counters
}

// New constructs an IUPHAR Adapter. dict may be nil to force the REST
// path.
func New(client *httpclient.Client, dict *Dictionary) *Adapter {
	return &Adapter{Client: client, Dict: dict}
}

// LoadDictionaryFile reads a GtoPdb targets CSV export from disk and
// builds the lookup indices.
func LoadDictionaryFile(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return parseDictionary(f)
}

// DownloadDictionary fetches the targets CSV export from url using the
// raw-bytes transport and builds the lookup indices.
func DownloadDictionary(ctx context.Context, raw *retryablehttp.Client, url string) (*Dictionary, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := raw.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("dictionary download returned %d", resp.StatusCode)
	}
	return parseDictionary(resp.Body)
}

// parseDictionary builds all four indices in one pass. The GtoPdb export
// leads with comment lines starting with '#' before the header row.
func parseDictionary(r io.Reader) (*Dictionary, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse dictionary csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("dictionary csv is empty")
	}

	header := map[string]int{}
	for i, col := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(col))] = i
	}
	col := func(row []string, name string) string {
		idx, ok := header[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	d := &Dictionary{
		byTargetID: make(map[string]*Entry),
		byUniProt:  make(map[string]*Entry),
		byGene:     make(map[string]*Entry),
		byName:     make(map[string]*Entry),
	}
	for _, row := range rows[1:] {
		e := &Entry{
			TargetID: col(row, "target id"),
			Name:     col(row, "target name"),
			Type:     col(row, "target type"),
			Family:   col(row, "family name"),
			UniProt:  col(row, "human swissprot"),
			Gene:     col(row, "hgnc symbol"),
		}
		if e.TargetID != "" {
			d.byTargetID[e.TargetID] = e
		}
		if e.UniProt != "" {
			d.byUniProt[strings.ToUpper(e.UniProt)] = e
		}
		if e.Gene != "" {
			d.byGene[strings.ToUpper(e.Gene)] = e
		}
		if e.Name != "" {
			d.byName[strings.ToLower(e.Name)] = e
		}
	}
	return d, nil
}

// Lookup resolves id against the indices in precedence order: target_id,
// uniprot, gene, name.
func (d *Dictionary) Lookup(id string) (*Entry, string) {
	if e, ok := d.byTargetID[strings.TrimSpace(id)]; ok {
		return e, "target_id"
	}
	if e, ok := d.byUniProt[strings.ToUpper(strings.TrimSpace(id))]; ok {
		return e, "uniprot"
	}
	if e, ok := d.byGene[strings.ToUpper(strings.TrimSpace(id))]; ok {
		return e, "gene"
	}
	if e, ok := d.byName[strings.ToLower(strings.TrimSpace(id))]; ok {
		return e, "name"
	}
	return nil, ""
}

// Fetch resolves classification rows for the requested ids, preferring
// the dictionary when loaded and falling back to the REST API otherwise.
func (a *Adapter) Fetch(ctx context.Context, ids []string) ([]*common.Record, []common.FallbackRecord, error) {
	if a.Dict != nil {
		return a.fetchFromDict(ids), nil, nil
	}
	return a.fetchFromREST(ctx, ids)
}

func (a *Adapter) fetchFromDict(ids []string) []*common.Record {
	rows := make([]*common.Record, 0, len(ids))
	for _, id := range ids {
		row := common.NewRecord()
		row.Set("iuphar_lookup_id", common.NewString(id))
		e, matchedBy := a.Dict.Lookup(id)
		if e == nil {
			rows = append(rows, row)
			continue
		}
		row.Set("iuphar_target_id", common.NewString(e.TargetID))
		row.Set("iuphar_name", common.NewString(e.Name))
		row.Set("iuphar_type", common.NewString(e.Type))
		row.Set("iuphar_family", common.NewString(e.Family))
		if e.UniProt != "" {
			row.Set("uniprot_accession", common.NewString(e.UniProt))
		}
		row.Set("iuphar_matched_by", common.NewString(matchedBy))
		rows = append(rows, row)
	}
	return rows
}

func (a *Adapter) fetchFromREST(ctx context.Context, ids []string) ([]*common.Record, []common.FallbackRecord, error) {
	var rows []*common.Record
	var fallbacks []common.FallbackRecord

	for _, id := range ids {
		endpoint := "/targets/" + strings.TrimSpace(id)
		resp, err := a.Client.Get(ctx, endpoint, nil)
		if err != nil {
			if strategy, ok := a.Client.Fallback().StrategyFor(err); ok {
				fallbacks = append(fallbacks, a.Client.Fallback().Resolve(ctx, strategy, id, a.Client.CacheKeyFor(endpoint, nil), err))
				a.counters.FallbackCount++
				continue
			}
			return rows, fallbacks, err
		}
		a.counters.APICalls++
		if resp.FromCache {
			a.counters.CacheHits++
		}

		target, err := sourcecommon.UnmarshalEnvelope(resp.Body)
		if err != nil {
			return rows, fallbacks, err
		}
		row := common.NewRecord()
		row.Set("iuphar_lookup_id", common.NewString(id))
		if tid, ok := target["targetId"].(float64); ok {
			row.Set("iuphar_target_id", common.NewInt(int64(tid)))
		}
		row.Set("iuphar_name", sourcecommon.StringOf(target["name"]))
		row.Set("iuphar_type", sourcecommon.StringOf(target["type"]))
		row.Set("iuphar_family", sourcecommon.StringOf(target["familyName"]))
		rows = append(rows, row)
	}

	return rows, fallbacks, nil
}

// Counters reports cumulative QC counters.
func (a *Adapter) Counters() source.Counters { return a.counters }
