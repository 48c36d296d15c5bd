package paginate

import (
	"context"
	"strconv"

	"bioetl.dev/bioetl/httpclient"
)

// OffsetLimitPaginator walks a REST endpoint using offset/limit query
// params, stopping when a page returns fewer items than PageSize or when
// PageCap pages have been fetched, and additionally capping total
// yielded rows at YieldLimit once set.
type OffsetLimitPaginator struct {
	Client     *httpclient.Client
	Endpoint   string
	Params     map[string]string
	PageSize   int
	PageCap    int
	YieldLimit int
	ItemsKey   string

	offset    int
	pageCount int
	yielded   int
	done      bool
}

// NewOffsetLimitPaginator builds a paginator over endpoint with the given
// base params and per-page size. pageCap (0 = unbounded) limits the
// number of pages fetched; yieldLimit (0 = unbounded) caps total rows
// yielded after extraction.
func NewOffsetLimitPaginator(client *httpclient.Client, endpoint string, params map[string]string, pageSize, pageCap, yieldLimit int, itemsKey string) *OffsetLimitPaginator {
	return &OffsetLimitPaginator{
		Client:     client,
		Endpoint:   endpoint,
		Params:     params,
		PageSize:   pageSize,
		PageCap:    pageCap,
		YieldLimit: yieldLimit,
		ItemsKey:   itemsKey,
	}
}

// Next fetches the next page, or Done=true once exhausted.
func (p *OffsetLimitPaginator) Next(ctx context.Context) (Page, error) {
	if p.done {
		return Page{Done: true}, nil
	}
	if p.PageCap > 0 && p.pageCount >= p.PageCap {
		p.done = true
		return Page{Done: true}, nil
	}

	params := make(map[string]string, len(p.Params)+2)
	for k, v := range p.Params {
		params[k] = v
	}
	params["offset"] = strconv.Itoa(p.offset)
	params["limit"] = strconv.Itoa(p.PageSize)

	resp, err := p.Client.Get(ctx, p.Endpoint, params)
	if err != nil {
		return Page{}, err
	}

	envelope, err := unmarshalEnvelope(resp.Body)
	if err != nil {
		return Page{}, err
	}
	items := ItemsKeyHint(envelope, p.ItemsKey)

	p.pageCount++
	p.offset += len(items)

	capped, truncated := ApplyLimit(items, p.yielded, p.YieldLimit)
	p.yielded += len(capped)

	if len(items) < p.PageSize || truncated {
		p.done = true
	}

	return Page{Items: capped, Done: false}, nil
}
