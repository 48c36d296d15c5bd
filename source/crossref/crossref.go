// Package crossref adapts the Crossref REST API for bibliographic
// enrichment by DOI: container titles, author lists, ISSNs and the
// published/created/deposited date fields.
package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"bioetl.dev/bioetl/common"
	"bioetl.dev/bioetl/httpclient"
	"bioetl.dev/bioetl/source"
	sourcecommon "bioetl.dev/bioetl/source/common"
)

var _ source.Adapter = (*Adapter)(nil)

// Adapter fetches Crossref work metadata one DOI at a time via
// /works/{doi}. Crossref asks polite-pool callers to identify themselves
// with a mailto parameter; Mailto is read from CROSSREF_MAILTO by the
// config layer and passed in here.
type Adapter struct {
	Client *httpclient.Client
	Mailto string

	counters source.Counters
}

// New constructs a Crossref Adapter.
func New(client *httpclient.Client, mailto string) *Adapter {
	return &Adapter{Client: client, Mailto: mailto}
}

// Fetch resolves one work per DOI. A per-id failure becomes a
// FallbackRecord preserving the DOI; it never aborts the batch.
func (a *Adapter) Fetch(ctx context.Context, ids []string) ([]*common.Record, []common.FallbackRecord, error) {
	var rows []*common.Record
	var fallbacks []common.FallbackRecord

	for _, doi := range ids {
		params := map[string]string{}
		if a.Mailto != "" {
			params["mailto"] = a.Mailto
		}
		endpoint := "/works/" + url.PathEscape(doi)

		resp, err := a.Client.Get(ctx, endpoint, params)
		if err != nil {
			if strategy, ok := a.Client.Fallback().StrategyFor(err); ok {
				fallbacks = append(fallbacks, a.Client.Fallback().Resolve(ctx, strategy, doi, a.Client.CacheKeyFor(endpoint, params), err))
				a.counters.FallbackCount++
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
			return rows, fallbacks, fmt.Errorf("crossref works payload for %s: %w", doi, err)
		}
		message, _ := envelope["message"].(map[string]any)
		rows = append(rows, a.normalize(doi, message))
	}

	return rows, fallbacks, nil
}

// normalize flattens one Crossref work into a Record whose columns are
// prefixed with the source name, except doi_clean, the shared merge join
// key (lowercased, trimmed).
func (a *Adapter) normalize(requested string, message map[string]any) *common.Record {
	row := common.NewRecord()
	row.Set("doi_clean", common.NewString(strings.ToLower(strings.TrimSpace(requested))))

	if message == nil {
		return row
	}

	row.Set("doi", sourcecommon.StringOf(message["DOI"]))
	row.Set("title", firstString(message["title"]))
	row.Set("container_title", firstString(message["container-title"]))
	row.Set("issn", joinStrings(message["ISSN"]))
	row.Set("publisher", sourcecommon.StringOf(message["publisher"]))
	row.Set("type", sourcecommon.StringOf(message["type"]))
	row.Set("volume", sourcecommon.StringOf(message["volume"]))
	row.Set("issue", sourcecommon.StringOf(message["issue"]))
	row.Set("page", sourcecommon.StringOf(message["page"]))

	if authors := encodeAuthors(message["author"]); authors != "" {
		row.Set("authors", common.NewEncoded(authors))
	}

	row.Set("published_date", dateParts(message["published"]))
	row.Set("created_date", dateParts(message["created"]))
	row.Set("deposited_date", dateParts(message["deposited"]))

	return source.PrefixColumns(row, "crossref", source.SharedContractColumns())
}

// firstString unwraps Crossref's single-element array convention for
// title and container-title.
func firstString(v any) common.Scalar {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return common.Null
	}
	return sourcecommon.StringOf(arr[0])
}

func joinStrings(v any) common.Scalar {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return common.Null
	}
	parts := make([]string, 0, len(arr))
	for _, el := range arr {
		if s, ok := el.(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return common.Null
	}
	return common.NewString(strings.Join(parts, "|"))
}

// encodeAuthors serializes the author array as compact JSON of
// {family, given, sequence} objects, dropping affiliation noise.
func encodeAuthors(v any) string {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return ""
	}
	type author struct {
		Family   string `json:"family,omitempty"`
		Given    string `json:"given,omitempty"`
		Sequence string `json:"sequence,omitempty"`
	}
	out := make([]author, 0, len(arr))
	for _, el := range arr {
		m, ok := el.(map[string]any)
		if !ok {
			continue
		}
		a := author{}
		a.Family, _ = m["family"].(string)
		a.Given, _ = m["given"].(string)
		a.Sequence, _ = m["sequence"].(string)
		out = append(out, a)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return ""
	}
	return string(raw)
}

// dateParts renders Crossref's {"date-parts": [[y,m,d]]} structure as an
// ISO-8601 date, zero-padding and defaulting missing month/day to 01.
func dateParts(v any) common.Scalar {
	m, ok := v.(map[string]any)
	if !ok {
		return common.Null
	}
	outer, ok := m["date-parts"].([]any)
	if !ok || len(outer) == 0 {
		return common.Null
	}
	inner, ok := outer[0].([]any)
	if !ok || len(inner) == 0 {
		return common.Null
	}
	nums := make([]int, 0, 3)
	for _, el := range inner {
		f, ok := el.(float64)
		if !ok {
			break
		}
		nums = append(nums, int(f))
	}
	if len(nums) == 0 {
		return common.Null
	}
	y := nums[0]
	mth, d := 1, 1
	if len(nums) > 1 {
		mth = nums[1]
	}
	if len(nums) > 2 {
		d = nums[2]
	}
	return common.NewString(fmt.Sprintf("%04d-%02d-%02d", y, mth, d))
}

// Counters reports cumulative QC counters.
func (a *Adapter) Counters() source.Counters { return a.counters }
