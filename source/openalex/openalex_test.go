package openalex

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

func TestShortID(t *testing.T) {
	assert.Equal(t, "W123", ShortID("https://openalex.org/W123"))
	assert.Equal(t, "W123", ShortID("W123"))
	assert.Equal(t, "S456", ShortID("https://openalex.org/S456"))
}

func TestFetchFollowsCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/works", r.URL.Path)
		assert.Equal(t, "doi:10.1/a|10.1/b", r.URL.Query().Get("filter"))
		switch r.URL.Query().Get("cursor") {
		case "*":
			fmt.Fprint(w, `{"meta":{"next_cursor":"page2"},"results":[{"id":"https://openalex.org/W1","doi":"https://doi.org/10.1/A","display_name":"First","cited_by_count":5}]}`)
		case "page2":
			fmt.Fprint(w, `{"meta":{"next_cursor":null},"results":[{"id":"https://openalex.org/W2","doi":"https://doi.org/10.1/b","display_name":"Second"}]}`)
		}
	}))
	defer server.Close()

	client := httpclient.New(httpclient.Config{BaseURL: server.URL, Timeout: 5 * time.Second, BackoffFactor: 2})
	defer client.Close()

	a := New(client, 50, 100)
	rows, fallbacks, err := a.Fetch(context.Background(), []string{"10.1/a", "10.1/b"})
	require.NoError(t, err)
	assert.Empty(t, fallbacks)
	require.Len(t, rows, 2)

	assert.Equal(t, "W1", rows[0].Get("openalex_id").AsString())
	assert.Equal(t, "10.1/a", rows[0].Get("doi_clean").AsString(), "doi lowercased and unprefixed")
	assert.Equal(t, int64(5), rows[0].Get("openalex_cited_by_count").Int)
	assert.Equal(t, "W2", rows[1].Get("openalex_id").AsString())
	assert.Equal(t, 2, a.Counters().APICalls)
}

func TestPerPageClamped(t *testing.T) {
	a := New(nil, 10, 10000)
	assert.Equal(t, maxPerPage, a.PerPage)

	a = New(nil, 10, 0)
	assert.Equal(t, maxPerPage, a.PerPage)

	a = New(nil, 10, 25)
	assert.Equal(t, 25, a.PerPage)
}
