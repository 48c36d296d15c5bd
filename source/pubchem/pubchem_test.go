package pubchem

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

const inchikey = "FAPWRFPIFSIZLT-UHFFFAOYSA-M"

func pubchemServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/compound/inchikey/"+inchikey+"/cids/JSON":
			fmt.Fprint(w, `{"IdentifierList":{"CID":[5234]}}`)
		case r.URL.Path == "/compound/cid/5234/property/MolecularFormula,MolecularWeight,CanonicalSMILES,InChI,InChIKey,IUPACName/JSON":
			fmt.Fprint(w, `{"PropertyTable":{"Properties":[{
				"CID":5234,
				"MolecularFormula":"ClNa",
				"MolecularWeight":"58.44",
				"CanonicalSMILES":"[Na+].[Cl-]",
				"InChIKey":"FAPWRFPIFSIZLT-UHFFFAOYSA-M",
				"IUPACName":"sodium chloride"
			}]}}`)
		case r.URL.Path == "/compound/cid/5234/synonyms/JSON":
			fmt.Fprint(w, `{"InformationList":{"Information":[{"CID":5234,"Synonym":["sodium chloride","salt","halite"]}]}}`)
		case r.URL.Path == "/compound/cid/5234/xrefs/RegistryID/JSON":
			fmt.Fprint(w, `{"InformationList":{"Information":[{"CID":5234,"RegistryID":["CHEMBL1200574","7647-14-5"]}]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestFetchJoinsLookups(t *testing.T) {
	server := pubchemServer(t)
	defer server.Close()

	client := httpclient.New(httpclient.Config{BaseURL: server.URL, Timeout: 5 * time.Second, BackoffFactor: 2})
	defer client.Close()

	a := New(client)
	rows, fallbacks, err := a.Fetch(context.Background(), []string{inchikey})
	require.NoError(t, err)
	assert.Empty(t, fallbacks)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, inchikey, row.Get("pubchem_lookup_inchikey").AsString(), "submitted key preserved")
	assert.Equal(t, int64(5234), row.Get("pubchem_cid").Int)
	assert.Equal(t, "ClNa", row.Get("pubchem_molecular_formula").AsString())
	assert.Equal(t, "[Na+].[Cl-]", row.Get("pubchem_canonical_smiles").AsString())
	assert.Equal(t, "sodium chloride|salt|halite", row.Get("pubchem_synonyms").AsString())
	assert.Equal(t, "CHEMBL1200574", row.Get("chembl_id").AsString(), "ChEMBL xref lifted")
	assert.Equal(t, 4, a.Counters().APICalls)
}

func TestFetchUnknownKeyKeepsRow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"IdentifierList":{"CID":[]}}`)
	}))
	defer server.Close()

	client := httpclient.New(httpclient.Config{BaseURL: server.URL, Timeout: 5 * time.Second, BackoffFactor: 2})
	defer client.Close()

	a := New(client)
	rows, _, err := a.Fetch(context.Background(), []string{"UNKNOWNKEY-NOPE-X"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "UNKNOWNKEY-NOPE-X", rows[0].Get("pubchem_lookup_inchikey").AsString())
	assert.True(t, rows[0].Get("pubchem_cid").IsNull())
}
