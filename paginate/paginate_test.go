package paginate

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioetl.dev/bioetl/httpclient"
)

func testClient(baseURL string) *httpclient.Client {
	return httpclient.New(httpclient.Config{
		BaseURL:       baseURL,
		Timeout:       5 * time.Second,
		RetryTotal:    0,
		BackoffFactor: 2,
	})
}

func TestItemsKeyHint(t *testing.T) {
	envelope := map[string]any{
		"page_meta": map[string]any{"next": nil},
		"widgets":   []any{map[string]any{"id": 1.0}},
	}

	items := ItemsKeyHint(envelope, "widgets")
	require.Len(t, items, 1)

	items = ItemsKeyHint(envelope, "")
	require.Len(t, items, 1, "falls back to first array-valued key not named page_meta")

	items = ItemsKeyHint(envelope, "missing")
	require.Len(t, items, 1, "configured key absent falls back to heuristic")
}

func TestCursorPaginatorFollowsNext(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		switch page {
		case "", "1":
			fmt.Fprintf(w, `{"items":[{"id":"a"},{"id":"b"}],"page_meta":{"next":"%s/things?page=2"}}`, server.URL)
		case "2":
			fmt.Fprint(w, `{"items":[{"id":"c"}],"page_meta":{"next":null}}`)
		}
	}))
	defer server.Close()

	client := testClient(server.URL)
	defer client.Close()

	pgn := NewCursorPaginator(client, "/things", map[string]string{"filter": "x"}, 0, "items")

	var ids []string
	for {
		page, err := pgn.Next(context.Background())
		require.NoError(t, err)
		if page.Done {
			break
		}
		for _, item := range page.Items {
			ids = append(ids, item["id"].(string))
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestCursorPaginatorYieldLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[{"id":"a"},{"id":"b"},{"id":"c"}],"page_meta":{"next":"/more"}}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	defer client.Close()

	pgn := NewCursorPaginator(client, "/things", nil, 2, "items")
	page, err := pgn.Next(context.Background())
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	page, err = pgn.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, page.Done)
}

func TestOffsetLimitStopsOnShortPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		require.Equal(t, 2, limit)
		switch offset {
		case 0:
			fmt.Fprint(w, `{"results":[{"id":1},{"id":2}]}`)
		default:
			fmt.Fprint(w, `{"results":[{"id":3}]}`)
		}
	}))
	defer server.Close()

	client := testClient(server.URL)
	defer client.Close()

	pgn := NewOffsetLimitPaginator(client, "/things", nil, 2, 0, 0, "results")

	total := 0
	pages := 0
	for {
		page, err := pgn.Next(context.Background())
		require.NoError(t, err)
		if page.Done {
			break
		}
		total += len(page.Items)
		pages++
	}
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, pages, "short page ends iteration")
}

const esearchBody = `<?xml version="1.0"?>
<eSearchResult>
  <Count>3</Count>
  <RetMax>3</RetMax>
  <QueryKey>1</QueryKey>
  <WebEnv>NCID_TEST_ENV</WebEnv>
</eSearchResult>`

func efetchBody(pmids ...string) string {
	out := `<?xml version="1.0"?><PubmedArticleSet>`
	for _, pmid := range pmids {
		out += `<PubmedArticle><MedlineCitation><PMID>` + pmid + `</PMID>` +
			`<Article><ArticleTitle>Title ` + pmid + `</ArticleTitle></Article>` +
			`</MedlineCitation></PubmedArticle>`
	}
	return out + `</PubmedArticleSet>`
}

func TestWebEnvHistoryWalk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/esearch.fcgi":
			fmt.Fprint(w, esearchBody)
		case "/efetch.fcgi":
			assert.Equal(t, "NCID_TEST_ENV", r.URL.Query().Get("WebEnv"))
			retstart, _ := strconv.Atoi(r.URL.Query().Get("retstart"))
			switch retstart {
			case 0:
				fmt.Fprint(w, efetchBody("11", "12"))
			default:
				fmt.Fprint(w, efetchBody("13"))
			}
		}
	}))
	defer server.Close()

	client := testClient(server.URL)
	defer client.Close()

	pgn := NewWebEnvHistoryPaginator(client, "/esearch.fcgi", "/efetch.fcgi", map[string]string{"db": "pubmed"}, 2, 0)

	var pmids []string
	for {
		page, err := pgn.Next(context.Background())
		require.NoError(t, err)
		if page.Done {
			break
		}
		for _, item := range page.Items {
			pmids = append(pmids, item["pmid"].(string))
		}
	}
	assert.Equal(t, []string{"11", "12", "13"}, pmids)
}

func TestDecodePubMedArticleSetSkipsMalformed(t *testing.T) {
	body := `<?xml version="1.0"?><PubmedArticleSet>` +
		`<PubmedArticle><MedlineCitation><PMID>1</PMID><Article><ArticleTitle>Good</ArticleTitle></Article></MedlineCitation></PubmedArticle>` +
		`<PubmedArticle><MedlineCitation><PMID>2</PMID><Article><ArticleTitle>Broken` +
		`</PubmedArticleSet>`

	items, err := decodePubMedArticleSet([]byte(body))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1", items[0]["pmid"])
}
