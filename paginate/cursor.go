package paginate

import (
	"context"

	"bioetl.dev/bioetl/httpclient"
)

// CursorPaginator follows a server-provided page_meta.next URL, stopping
// once next is null. The first request honors InitialParams; every
// subsequent request sends no params since the next URL already carries
// them. The next URL is taken verbatim from the prior envelope rather
// than rebuilt from component params.
type CursorPaginator struct {
	Client        *httpclient.Client
	InitialPath   string
	InitialParams map[string]string
	YieldLimit    int
	ItemsKey      string

	nextPath string
	first    bool
	yielded  int
	done     bool
}

// NewCursorPaginator builds a paginator starting at initialPath with
// initialParams on the first request only.
func NewCursorPaginator(client *httpclient.Client, initialPath string, initialParams map[string]string, yieldLimit int, itemsKey string) *CursorPaginator {
	return &CursorPaginator{
		Client:        client,
		InitialPath:   initialPath,
		InitialParams: initialParams,
		YieldLimit:    yieldLimit,
		ItemsKey:      itemsKey,
		first:         true,
	}
}

// Next fetches the next page by following page_meta.next.
func (p *CursorPaginator) Next(ctx context.Context) (Page, error) {
	if p.done {
		return Page{Done: true}, nil
	}

	var (
		path   string
		params map[string]string
	)
	if p.first {
		path, params = p.InitialPath, p.InitialParams
		p.first = false
	} else {
		if p.nextPath == "" {
			p.done = true
			return Page{Done: true}, nil
		}
		path, params = p.nextPath, nil
	}

	resp, err := p.Client.Get(ctx, path, params)
	if err != nil {
		return Page{}, err
	}

	envelope, err := unmarshalEnvelope(resp.Body)
	if err != nil {
		return Page{}, err
	}
	items := ItemsKeyHint(envelope, p.ItemsKey)

	p.nextPath = extractNext(envelope)
	if p.nextPath == "" {
		p.done = true
	}

	capped, truncated := ApplyLimit(items, p.yielded, p.YieldLimit)
	p.yielded += len(capped)
	if truncated {
		p.done = true
	}

	return Page{Items: capped, Done: false}, nil
}

func extractNext(envelope map[string]any) string {
	meta, ok := envelope["page_meta"].(map[string]any)
	if !ok {
		return ""
	}
	next, ok := meta["next"].(string)
	if !ok {
		return ""
	}
	return next
}
