package semanticscholar

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioetl.dev/bioetl/httpclient"
)

func TestPaperIDScheme(t *testing.T) {
	assert.Equal(t, "DOI:10.1000/xyz", paperID("10.1000/xyz"))
	assert.Equal(t, "649def34f8be52c8b66281af98ae884c09aef38b", paperID("649def34f8be52c8b66281af98ae884c09aef38b"))
}

func TestFetchSendsAPIKeyHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret-key", r.Header.Get("x-api-key"))
		assert.Contains(t, r.URL.Path, "/graph/v1/paper/")
		fmt.Fprint(w, `{
			"paperId":"abc123",
			"title":"A Paper",
			"venue":"A Venue",
			"year":2021,
			"citationCount":10,
			"influentialCitationCount":2,
			"externalIds":{"PubMed":"998877"}
		}`)
	}))
	defer server.Close()

	client := httpclient.New(httpclient.Config{
		BaseURL:       server.URL,
		Timeout:       5 * time.Second,
		BackoffFactor: 2,
		Headers:       map[string]string{"x-api-key": "secret-key"},
	})
	defer client.Close()

	a := New(client, "secret-key")
	rows, fallbacks, err := a.Fetch(context.Background(), []string{"10.1000/xyz"})
	require.NoError(t, err)
	assert.Empty(t, fallbacks)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "10.1000/xyz", row.Get("doi_clean").AsString())
	assert.Equal(t, "abc123", row.Get("semanticscholar_paper_id").AsString())
	assert.Equal(t, int64(2021), row.Get("semanticscholar_year").Int)
	assert.Equal(t, "998877", row.Get("pmid").AsString())
}
