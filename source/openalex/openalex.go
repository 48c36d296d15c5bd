// Package openalex adapts the OpenAlex works API: cursor pagination with
// a per-page cap and short-ID extraction from full OpenAlex URLs.
package openalex

import (
	"context"
	"strconv"
	"strings"

	"bioetl.dev/bioetl/common"
	"bioetl.dev/bioetl/httpclient"
	"bioetl.dev/bioetl/source"
	sourcecommon "bioetl.dev/bioetl/source/common"
)

// maxPerPage is OpenAlex's documented per-page ceiling.
const maxPerPage = 200

var _ source.Adapter = (*Adapter)(nil)

// Adapter fetches OpenAlex works by DOI filter, following the cursor
// token OpenAlex returns under meta.next_cursor.
type Adapter struct {
	Client    *httpclient.Client
	BatchSize int
	PerPage   int

	counters source.Counters
}

// New constructs an OpenAlex Adapter.
func New(client *httpclient.Client, batchSize, perPage int) *Adapter {
	if perPage <= 0 || perPage > maxPerPage {
		perPage = maxPerPage
	}
	return &Adapter{Client: client, BatchSize: batchSize, PerPage: perPage}
}

// ShortID extracts the short work id from a full OpenAlex URL:
// "https://openalex.org/W123" becomes "W123". A value that is not an
// OpenAlex URL is returned unchanged.
func ShortID(v string) string {
	const host = "openalex.org/"
	idx := strings.Index(v, host)
	if idx < 0 {
		return v
	}
	return v[idx+len(host):]
}

// Fetch resolves works for the given DOIs, batched into filter=doi:a|b|c
// requests and walked with OpenAlex's cursor protocol.
func (a *Adapter) Fetch(ctx context.Context, ids []string) ([]*common.Record, []common.FallbackRecord, error) {
	var rows []*common.Record
	var fallbacks []common.FallbackRecord

	for _, chunk := range sourcecommon.ChunkByBatchSize(ids, a.BatchSize) {
		chunkRows, chunkFallbacks, err := a.fetchChunk(ctx, chunk)
		rows = append(rows, chunkRows...)
		fallbacks = append(fallbacks, chunkFallbacks...)
		if err != nil {
			return rows, fallbacks, err
		}
	}
	return rows, fallbacks, nil
}

func (a *Adapter) fetchChunk(ctx context.Context, chunk []string) ([]*common.Record, []common.FallbackRecord, error) {
	var rows []*common.Record

	cursor := "*"
	for cursor != "" {
		params := map[string]string{
			"filter":   "doi:" + strings.Join(chunk, "|"),
			"per-page": strconv.Itoa(a.PerPage),
			"cursor":   cursor,
		}
		resp, err := a.Client.Get(ctx, "/works", params)
		if err != nil {
			if strategy, ok := a.Client.Fallback().StrategyFor(err); ok {
				var fallbacks []common.FallbackRecord
				for _, doi := range chunk {
					fallbacks = append(fallbacks, a.Client.Fallback().Resolve(ctx, strategy, doi, a.Client.CacheKeyFor("/works", params), err))
					a.counters.FallbackCount++
				}
				return rows, fallbacks, nil
			}
			return rows, nil, err
		}
		a.counters.APICalls++
		if resp.FromCache {
			a.counters.CacheHits++
		}

		envelope, err := sourcecommon.UnmarshalEnvelope(resp.Body)
		if err != nil {
			return rows, nil, err
		}
		for _, item := range itemsOf(envelope) {
			rows = append(rows, a.normalize(item))
		}
		cursor = nextCursor(envelope)
	}

	return rows, nil, nil
}

func itemsOf(envelope map[string]any) []map[string]any {
	arr, ok := envelope["results"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		if m, ok := el.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func nextCursor(envelope map[string]any) string {
	meta, ok := envelope["meta"].(map[string]any)
	if !ok {
		return ""
	}
	c, _ := meta["next_cursor"].(string)
	return c
}

func (a *Adapter) normalize(item map[string]any) *common.Record {
	row := common.NewRecord()

	if id, ok := item["id"].(string); ok {
		row.Set("openalex_id", common.NewString(ShortID(id)))
	}
	if doi, ok := item["doi"].(string); ok {
		clean := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(doi, "https://doi.org/")))
		row.Set("doi_clean", common.NewString(clean))
	}
	row.Set("openalex_title", sourcecommon.StringOf(item["display_name"]))
	row.Set("openalex_publication_date", sourcecommon.StringOf(item["publication_date"]))
	row.Set("openalex_type", sourcecommon.StringOf(item["type"]))
	if cited, ok := item["cited_by_count"].(float64); ok {
		row.Set("openalex_cited_by_count", common.NewInt(int64(cited)))
	}
	if loc, ok := item["primary_location"].(map[string]any); ok {
		if src, ok := loc["source"].(map[string]any); ok {
			row.Set("openalex_source_name", sourcecommon.StringOf(src["display_name"]))
			row.Set("openalex_source_issn", sourcecommon.StringOf(src["issn_l"]))
		}
	}
	return row
}

// Counters reports cumulative QC counters.
func (a *Adapter) Counters() source.Counters { return a.counters }
