package paginate

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strconv"

	"bioetl.dev/bioetl/httpclient"
)

// WebEnvHistoryPaginator implements PubMed's esearch/efetch history-walk
// pattern: a first esearch call captures (WebEnv, QueryKey, total_count),
// then retstart is walked from 0 to total_count in BatchSize steps.
type WebEnvHistoryPaginator struct {
	Client       *httpclient.Client
	SearchPath   string
	FetchPath    string
	SearchParams map[string]string
	BatchSize    int
	YieldLimit   int

	webEnv     string
	queryKey   string
	totalCount int
	retstart   int
	yielded    int
	started    bool
	done       bool
}

// NewWebEnvHistoryPaginator builds a paginator against the given esearch
// and efetch paths.
func NewWebEnvHistoryPaginator(client *httpclient.Client, searchPath, fetchPath string, searchParams map[string]string, batchSize, yieldLimit int) *WebEnvHistoryPaginator {
	return &WebEnvHistoryPaginator{
		Client:       client,
		SearchPath:   searchPath,
		FetchPath:    fetchPath,
		SearchParams: searchParams,
		BatchSize:    batchSize,
		YieldLimit:   yieldLimit,
	}
}

// esearchResult is the subset of NCBI esearch's XML envelope this
// paginator needs.
type esearchResult struct {
	XMLName  xml.Name `xml:"eSearchResult"`
	Count    int      `xml:"Count"`
	WebEnv   string   `xml:"WebEnv"`
	QueryKey string   `xml:"QueryKey"`
}

// Next fetches the next retstart window. On the first call it performs
// the esearch handshake; every call after walks the history with
// retstart/retmax. Transient errors leave retstart where it was, so the
// caller retries the current page range as one unit.
func (p *WebEnvHistoryPaginator) Next(ctx context.Context) (Page, error) {
	if p.done {
		return Page{Done: true}, nil
	}

	if !p.started {
		if err := p.handshake(ctx); err != nil {
			return Page{}, err
		}
		p.started = true
	}

	if p.retstart >= p.totalCount {
		p.done = true
		return Page{Done: true}, nil
	}

	params := map[string]string{
		"WebEnv":    p.webEnv,
		"query_key": p.queryKey,
		"retstart":  strconv.Itoa(p.retstart),
		"retmax":    strconv.Itoa(p.BatchSize),
	}
	resp, err := p.Client.Get(ctx, p.FetchPath, params)
	if err != nil {
		return Page{}, err
	}

	items, err := decodePubMedArticleSet(resp.Body)
	if err != nil {
		return Page{}, fmt.Errorf("pubmed fetch window [%d,%d): %w", p.retstart, p.retstart+p.BatchSize, err)
	}

	p.retstart += p.BatchSize

	capped, truncated := ApplyLimit(items, p.yielded, p.YieldLimit)
	p.yielded += len(capped)
	if truncated {
		p.done = true
	}

	return Page{Items: capped, Done: false}, nil
}

func (p *WebEnvHistoryPaginator) handshake(ctx context.Context) error {
	resp, err := p.Client.Get(ctx, p.SearchPath, p.SearchParams)
	if err != nil {
		return err
	}

	var result esearchResult
	if err := xml.Unmarshal(resp.Body, &result); err != nil {
		return fmt.Errorf("esearch handshake: %w", err)
	}
	p.webEnv = result.WebEnv
	p.queryKey = result.QueryKey
	p.totalCount = result.Count
	return nil
}

// pubmedArticle is a deliberately loose decode target: PubMed's XML
// schema has many optional/irregular elements, so only the fields this
// engine normalizes are pulled out explicitly and everything else is
// preserved, unparsed, under Raw for the adapter's normalizer to mine
// further (MeSH terms, chemicals, authors, dates).
type pubmedArticle struct {
	PMID  string `xml:"MedlineCitation>PMID"`
	Title string `xml:"MedlineCitation>Article>ArticleTitle"`
	Raw   []byte `xml:",innerxml"`
}

// decodePubMedArticleSet decodes a PubMedArticleSet document with a
// recovering token-level scan: a malformed or truncated individual
// <PubmedArticle> element is skipped rather than aborting the whole
// batch, since PubMed responses are known to occasionally carry
// encoding glitches in author-name fields.
func decodePubMedArticleSet(body []byte) ([]map[string]any, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var out []map[string]any

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "PubmedArticle" {
			continue
		}

		var article pubmedArticle
		if err := dec.DecodeElement(&article, &start); err != nil {
			continue
		}
		out = append(out, map[string]any{
			"pmid":  article.PMID,
			"title": article.Title,
			"raw":   string(article.Raw),
		})
	}
	return out, nil
}
