// Package uniprot adapts the UniProtKB REST API: a search query builder
// over accessions for direct lookups, plus the asynchronous id-mapping
// service (submit, poll until FINISHED, fetch results).
package uniprot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bioetl.dev/bioetl/common"
	bioetlerrors "bioetl.dev/bioetl/errors"
	"bioetl.dev/bioetl/httpclient"
	"bioetl.dev/bioetl/source"
	sourcecommon "bioetl.dev/bioetl/source/common"
)

// searchFields is the field projection requested on every search call.
const searchFields = "accession,id,protein_name,gene_names,organism_name,sequence,length"

var _ source.Adapter = (*Adapter)(nil)

// Adapter fetches UniProt entries by accession.
type Adapter struct {
	Client        *httpclient.Client
	BatchSize     int
	PollInterval  time.Duration
	PollMaxRounds int

	counters source.Counters
}

// New constructs a UniProt Adapter. pollInterval and pollMaxRounds bound
// the id-mapping poll loop: the loop gives up after pollMaxRounds polls
// regardless of job state.
func New(client *httpclient.Client, batchSize int, pollInterval time.Duration, pollMaxRounds int) *Adapter {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if pollMaxRounds <= 0 {
		pollMaxRounds = 30
	}
	return &Adapter{Client: client, BatchSize: batchSize, PollInterval: pollInterval, PollMaxRounds: pollMaxRounds}
}

// BuildQuery joins accessions into a UniProt search query:
// accession:P12345 OR accession:Q67890.
func BuildQuery(accessions []string) string {
	terms := make([]string, 0, len(accessions))
	for _, acc := range accessions {
		acc = strings.TrimSpace(acc)
		if acc == "" {
			continue
		}
		terms = append(terms, "accession:"+acc)
	}
	return strings.Join(terms, " OR ")
}

// Fetch resolves entries for the given accessions through the search
// endpoint, one query per batch.
func (a *Adapter) Fetch(ctx context.Context, ids []string) ([]*common.Record, []common.FallbackRecord, error) {
	var rows []*common.Record
	var fallbacks []common.FallbackRecord

	for _, chunk := range sourcecommon.ChunkByBatchSize(ids, a.BatchSize) {
		params := map[string]string{
			"query":  BuildQuery(chunk),
			"fields": searchFields,
			"format": "json",
		}
		resp, err := a.Client.Get(ctx, "/uniprotkb/search", params)
		if err != nil {
			if strategy, ok := a.Client.Fallback().StrategyFor(err); ok {
				for _, acc := range chunk {
					fallbacks = append(fallbacks, a.Client.Fallback().Resolve(ctx, strategy, acc, a.Client.CacheKeyFor("/uniprotkb/search", params), err))
					a.counters.FallbackCount++
				}
				continue
			}
			return rows, fallbacks, err
		}
		a.counters.APICalls++
		if resp.FromCache {
			a.counters.CacheHits++
		}

		envelope, err := sourcecommon.UnmarshalEnvelope(resp.Body)
		if err != nil {
			return rows, fallbacks, err
		}
		results, _ := envelope["results"].([]any)
		for _, el := range results {
			if m, ok := el.(map[string]any); ok {
				rows = append(rows, a.normalize(m))
			}
		}
	}

	return rows, fallbacks, nil
}

// MapIDs submits an id-mapping job (e.g. Gene_Name to UniProtKB) and
// polls /idmapping/status/{jobId} every PollInterval until the job
// reports FINISHED, then fetches the result rows. The loop is bounded by
// PollMaxRounds; exhausting it returns a TimeoutError.
func (a *Adapter) MapIDs(ctx context.Context, fromDB, toDB string, ids []string) (map[string]string, error) {
	submit, err := a.Client.PostForm(ctx, "/idmapping/run", map[string]string{
		"from": fromDB,
		"to":   toDB,
		"ids":  strings.Join(ids, ","),
	})
	if err != nil {
		return nil, err
	}
	a.counters.APICalls++

	envelope, err := sourcecommon.UnmarshalEnvelope(submit.Body)
	if err != nil {
		return nil, err
	}
	jobID, _ := envelope["jobId"].(string)
	if jobID == "" {
		return nil, fmt.Errorf("idmapping submit returned no jobId")
	}

	for round := 0; round < a.PollMaxRounds; round++ {
		status, err := a.Client.Get(ctx, "/idmapping/status/"+jobID, nil)
		if err != nil {
			return nil, err
		}
		a.counters.APICalls++

		body, err := sourcecommon.UnmarshalEnvelope(status.Body)
		if err != nil {
			return nil, err
		}
		if state, _ := body["jobStatus"].(string); state == "FINISHED" {
			return a.fetchMapping(ctx, jobID)
		}
		// Jobs that finished quickly skip the jobStatus field and carry
		// results directly.
		if _, ok := body["results"]; ok {
			return parseMapping(body), nil
		}

		t := time.NewTimer(a.PollInterval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}

	return nil, &bioetlerrors.TimeoutError{Endpoint: "/idmapping/status/" + jobID, Err: fmt.Errorf("job not finished after %d polls", a.PollMaxRounds)}
}

func (a *Adapter) fetchMapping(ctx context.Context, jobID string) (map[string]string, error) {
	resp, err := a.Client.Get(ctx, "/idmapping/results/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	a.counters.APICalls++

	envelope, err := sourcecommon.UnmarshalEnvelope(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseMapping(envelope), nil
}

func parseMapping(envelope map[string]any) map[string]string {
	out := make(map[string]string)
	results, _ := envelope["results"].([]any)
	for _, el := range results {
		m, ok := el.(map[string]any)
		if !ok {
			continue
		}
		from, _ := m["from"].(string)
		switch to := m["to"].(type) {
		case string:
			out[from] = to
		case map[string]any:
			if acc, ok := to["primaryAccession"].(string); ok {
				out[from] = acc
			}
		}
	}
	return out
}

func (a *Adapter) normalize(entry map[string]any) *common.Record {
	row := common.NewRecord()

	row.Set("uniprot_accession", sourcecommon.StringOf(entry["primaryAccession"]))
	row.Set("uniprot_id", sourcecommon.StringOf(entry["uniProtkbId"]))

	if desc, ok := entry["proteinDescription"].(map[string]any); ok {
		if rec, ok := desc["recommendedName"].(map[string]any); ok {
			if full, ok := rec["fullName"].(map[string]any); ok {
				row.Set("uniprot_protein_name", sourcecommon.StringOf(full["value"]))
			}
		}
	}
	if genes, ok := entry["genes"].([]any); ok && len(genes) > 0 {
		if g, ok := genes[0].(map[string]any); ok {
			if name, ok := g["geneName"].(map[string]any); ok {
				row.Set("uniprot_gene_name", sourcecommon.StringOf(name["value"]))
			}
		}
	}
	if org, ok := entry["organism"].(map[string]any); ok {
		row.Set("uniprot_organism", sourcecommon.StringOf(org["scientificName"]))
		if taxID, ok := org["taxonId"].(float64); ok {
			row.Set("uniprot_taxon_id", common.NewInt(int64(taxID)))
		}
	}
	if seq, ok := entry["sequence"].(map[string]any); ok {
		if length, ok := seq["length"].(float64); ok {
			row.Set("uniprot_sequence_length", common.NewInt(int64(length)))
		}
	}
	return row
}

// Counters reports cumulative QC counters.
func (a *Adapter) Counters() source.Counters { return a.counters }
