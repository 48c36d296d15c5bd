package iuphar

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dictionaryCSV = `# GtoPdb targets export
# generated for tests
Target id,Target name,Target type,Family name,Human SwissProt,HGNC symbol
1,histamine H1 receptor,GPCR,Histamine receptors,P35367,HRH1
2,histamine H2 receptor,GPCR,Histamine receptors,P25021,HRH2
3,unnamed orphan,GPCR,Orphans,,
`

func loadDict(t *testing.T) *Dictionary {
	t.Helper()
	d, err := parseDictionary(strings.NewReader(dictionaryCSV))
	require.NoError(t, err)
	return d
}

func TestLookupPrecedence(t *testing.T) {
	d := loadDict(t)

	e, by := d.Lookup("1")
	require.NotNil(t, e)
	assert.Equal(t, "target_id", by)
	assert.Equal(t, "histamine H1 receptor", e.Name)

	e, by = d.Lookup("P25021")
	require.NotNil(t, e)
	assert.Equal(t, "uniprot", by)
	assert.Equal(t, "2", e.TargetID)

	e, by = d.Lookup("hrh1")
	require.NotNil(t, e)
	assert.Equal(t, "gene", by, "gene lookup is case-insensitive")

	e, by = d.Lookup("Histamine H2 Receptor")
	require.NotNil(t, e)
	assert.Equal(t, "name", by)

	e, _ = d.Lookup("nothing-matches")
	assert.Nil(t, e)
}

func TestFetchFromDictionary(t *testing.T) {
	a := New(nil, loadDict(t))

	rows, fallbacks, err := a.Fetch(context.Background(), []string{"P35367", "unknown-id"})
	require.NoError(t, err)
	assert.Empty(t, fallbacks)
	require.Len(t, rows, 2)

	hit := rows[0]
	assert.Equal(t, "P35367", hit.Get("iuphar_lookup_id").AsString())
	assert.Equal(t, "1", hit.Get("iuphar_target_id").AsString())
	assert.Equal(t, "Histamine receptors", hit.Get("iuphar_family").AsString())
	assert.Equal(t, "uniprot", hit.Get("iuphar_matched_by").AsString())
	assert.Equal(t, "P35367", hit.Get("uniprot_accession").AsString())

	miss := rows[1]
	assert.Equal(t, "unknown-id", miss.Get("iuphar_lookup_id").AsString())
	assert.True(t, miss.Get("iuphar_target_id").IsNull())
}

func TestParseDictionaryRejectsEmpty(t *testing.T) {
	_, err := parseDictionary(strings.NewReader(""))
	require.Error(t, err)
}
