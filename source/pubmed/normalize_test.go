package pubmed

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bioetl.dev/bioetl/common"
)

const articleXML = `
<MedlineCitation>
  <PMID>12345</PMID>
  <Article>
    <Journal>
      <ISSN>0006-2952</ISSN>
      <JournalIssue>
        <PubDate><Year>2019</Year><Month>Mar</Month><Day>5</Day></PubDate>
      </JournalIssue>
      <Title>Biochemical Pharmacology</Title>
      <ISOAbbreviation>Biochem Pharmacol</ISOAbbreviation>
    </Journal>
    <ArticleTitle>Histamine receptor binding</ArticleTitle>
    <Abstract>
      <AbstractText>Part one.</AbstractText>
      <AbstractText>Part two.</AbstractText>
    </Abstract>
    <AuthorList>
      <Author><LastName>Doe</LastName><ForeName>Jane</ForeName><Initials>J</Initials></Author>
      <Author><LastName>Roe</LastName><ForeName>Rick</ForeName><Initials>R</Initials></Author>
    </AuthorList>
  </Article>
  <ChemicalList>
    <Chemical><RegistryNumber>51-45-6</RegistryNumber><NameOfSubstance>Histamine</NameOfSubstance></Chemical>
    <Chemical><RegistryNumber>0</RegistryNumber><NameOfSubstance>Receptors, Histamine</NameOfSubstance></Chemical>
  </ChemicalList>
  <MeshHeadingList>
    <MeshHeading><DescriptorName>Histamine</DescriptorName></MeshHeading>
    <MeshHeading><DescriptorName>Binding Sites</DescriptorName></MeshHeading>
  </MeshHeadingList>
</MedlineCitation>
<PubmedData>
  <ArticleIdList>
    <ArticleId IdType="pubmed">12345</ArticleId>
    <ArticleId IdType="doi">10.1016/J.BCP.2019.01.001</ArticleId>
  </ArticleIdList>
</PubmedData>
`

func TestNormalizeDetail(t *testing.T) {
	row := common.NewRecord()
	normalizeDetail(articleXML, row)

	assert.Equal(t, "Biochemical Pharmacology", row.Get("pubmed_journal").AsString())
	assert.Equal(t, "Biochem Pharmacol", row.Get("pubmed_journal_abbrev").AsString())
	assert.Equal(t, "0006-2952", row.Get("pubmed_issn").AsString())
	assert.Equal(t, "2019-03-05", row.Get("pubmed_publication_date").AsString())
	assert.Equal(t, "Part one. Part two.", row.Get("pubmed_abstract").AsString())
	assert.Equal(t, "Histamine|Binding Sites", row.Get("pubmed_mesh_terms").AsString())
	assert.Equal(t, "Histamine [51-45-6]|Receptors, Histamine", row.Get("pubmed_chemicals").AsString())
	assert.Contains(t, row.Get("pubmed_authors").AsString(), `"family":"Doe"`)
	assert.Equal(t, "10.1016/j.bcp.2019.01.001", row.Get("doi_clean").AsString())
}

func TestNormalizeDetailToleratesGarbage(t *testing.T) {
	row := common.NewRecord()
	row.Set("pmid", common.NewString("1"))
	normalizeDetail("<not-closed", row)
	assert.Equal(t, "1", row.Get("pmid").AsString(), "row survives a broken raw block")
}
