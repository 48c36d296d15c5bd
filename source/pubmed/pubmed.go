// Package pubmed adapts NCBI's E-utilities (esearch/efetch) for
// literature metadata: MeSH terms, chemicals, authors and dates, walked
// through the WebEnv-history paginator.
package pubmed

import (
	"context"
	"strings"

	"bioetl.dev/bioetl/common"
	"bioetl.dev/bioetl/httpclient"
	"bioetl.dev/bioetl/paginate"
	"bioetl.dev/bioetl/source"
)

var _ source.Adapter = (*Adapter)(nil)

// Adapter fetches PubMed article metadata by PMID. NCBI asks callers to
// identify themselves with email and, optionally, an api_key for the
// higher rate tier; both are sent with the esearch request, while the
// efetch requests that follow carry only the history parameters.
type Adapter struct {
	Client    *httpclient.Client
	BatchSize int
	Email     string
	APIKey    string

	counters source.Counters
}

// New constructs a PubMed Adapter. email and apiKey may be empty.
func New(client *httpclient.Client, batchSize int, email, apiKey string) *Adapter {
	return &Adapter{Client: client, BatchSize: batchSize, Email: email, APIKey: apiKey}
}

// Fetch runs one esearch/efetch WebEnv walk per requested id batch.
// PubMed's esearch accepts a query string, so ids are joined with
// " OR " against the pmid field.
func (a *Adapter) Fetch(ctx context.Context, ids []string) ([]*common.Record, []common.FallbackRecord, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}

	terms := make([]string, len(ids))
	for i, id := range ids {
		terms[i] = id + "[pmid]"
	}
	searchParams := map[string]string{
		"db":         "pubmed",
		"term":       strings.Join(terms, " OR "),
		"usehistory": "y",
	}
	if a.Email != "" {
		searchParams["email"] = a.Email
	}
	if a.APIKey != "" {
		searchParams["api_key"] = a.APIKey
	}

	pgn := paginate.NewWebEnvHistoryPaginator(a.Client, "/esearch.fcgi", "/efetch.fcgi", searchParams, a.BatchSize, 0)

	var rows []*common.Record
	var fallbacks []common.FallbackRecord

	for {
		page, err := pgn.Next(ctx)
		if err != nil {
			strategy, ok := a.Client.Fallback().StrategyFor(err)
			if !ok {
				return rows, fallbacks, err
			}
			for _, id := range ids {
				fallbacks = append(fallbacks, a.Client.Fallback().Resolve(ctx, strategy, id, "", err))
				a.counters.FallbackCount++
			}
			break
		}
		if page.Done {
			break
		}
		a.counters.APICalls++
		for _, item := range page.Items {
			rows = append(rows, a.normalize(item))
		}
	}

	return rows, fallbacks, nil
}

func (a *Adapter) normalize(item map[string]any) *common.Record {
	row := common.NewRecord()
	row.Set("pmid", scalarOf(item["pmid"]))
	row.Set("pubmed_title", scalarOf(item["title"]))
	if raw, ok := item["raw"].(string); ok {
		normalizeDetail(raw, row)
	}
	return row
}

func scalarOf(v any) common.Scalar {
	s, ok := v.(string)
	if !ok || s == "" {
		return common.Null
	}
	return common.NewString(s)
}

// Counters reports cumulative QC counters.
func (a *Adapter) Counters() source.Counters { return a.counters }
