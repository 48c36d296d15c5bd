package pubmed

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"

	"bioetl.dev/bioetl/common"
)

// articleDetail is the decode target for the fields the normalizer mines
// out of a PubmedArticle element beyond pmid/title.
type articleDetail struct {
	JournalTitle  string   `xml:"MedlineCitation>Article>Journal>Title"`
	JournalAbbrev string   `xml:"MedlineCitation>Article>Journal>ISOAbbreviation"`
	ISSN          string   `xml:"MedlineCitation>Article>Journal>ISSN"`
	PubYear       string   `xml:"MedlineCitation>Article>Journal>JournalIssue>PubDate>Year"`
	PubMonth      string   `xml:"MedlineCitation>Article>Journal>JournalIssue>PubDate>Month"`
	PubDay        string   `xml:"MedlineCitation>Article>Journal>JournalIssue>PubDate>Day"`
	Abstract      []string `xml:"MedlineCitation>Article>Abstract>AbstractText"`
	Authors       []struct {
		LastName string `xml:"LastName"`
		ForeName string `xml:"ForeName"`
		Initials string `xml:"Initials"`
	} `xml:"MedlineCitation>Article>AuthorList>Author"`
	MeshHeadings []struct {
		Descriptor string `xml:"DescriptorName"`
	} `xml:"MedlineCitation>MeshHeadingList>MeshHeading"`
	Chemicals []struct {
		Name     string `xml:"NameOfSubstance"`
		Registry string `xml:"RegistryNumber"`
	} `xml:"MedlineCitation>ChemicalList>Chemical"`
	ArticleIDs []struct {
		IDType string `xml:"IdType,attr"`
		Value  string `xml:",chardata"`
	} `xml:"PubmedData>ArticleIdList>ArticleId"`
}

// normalizeDetail mines the raw PubmedArticle XML for MeSH terms,
// chemicals, authors and dates, tolerating decode failures: a raw block
// that will not parse leaves the detail columns null rather than failing
// the row.
func normalizeDetail(raw string, row *common.Record) {
	var detail articleDetail
	wrapped := "<PubmedArticle>" + raw + "</PubmedArticle>"
	if err := xml.Unmarshal([]byte(wrapped), &detail); err != nil {
		return
	}

	row.Set("pubmed_journal", stringOrNull(detail.JournalTitle))
	row.Set("pubmed_journal_abbrev", stringOrNull(detail.JournalAbbrev))
	row.Set("pubmed_issn", stringOrNull(detail.ISSN))
	row.Set("pubmed_publication_date", pubDateOf(detail))

	if len(detail.Abstract) > 0 {
		row.Set("pubmed_abstract", common.NewString(strings.Join(detail.Abstract, " ")))
	}
	if authors := encodeAuthors(detail); authors != "" {
		row.Set("pubmed_authors", common.NewEncoded(authors))
	}
	if mesh := joinMesh(detail); mesh != "" {
		row.Set("pubmed_mesh_terms", common.NewEncoded(mesh))
	}
	if chems := joinChemicals(detail); chems != "" {
		row.Set("pubmed_chemicals", common.NewEncoded(chems))
	}
	for _, aid := range detail.ArticleIDs {
		if aid.IDType == "doi" && aid.Value != "" {
			row.Set("doi_clean", common.NewString(strings.ToLower(strings.TrimSpace(aid.Value))))
		}
	}
}

var monthNumbers = map[string]string{
	"Jan": "01", "Feb": "02", "Mar": "03", "Apr": "04", "May": "05", "Jun": "06",
	"Jul": "07", "Aug": "08", "Sep": "09", "Oct": "10", "Nov": "11", "Dec": "12",
}

// pubDateOf renders the journal issue PubDate as an ISO-8601 date,
// defaulting missing month/day to 01 and mapping PubMed's short month
// names to numerics.
func pubDateOf(detail articleDetail) common.Scalar {
	y := strings.TrimSpace(detail.PubYear)
	if y == "" {
		return common.Null
	}
	m := strings.TrimSpace(detail.PubMonth)
	if mapped, ok := monthNumbers[m]; ok {
		m = mapped
	}
	if len(m) == 1 {
		m = "0" + m
	}
	if m == "" {
		m = "01"
	}
	d := strings.TrimSpace(detail.PubDay)
	if len(d) == 1 {
		d = "0" + d
	}
	if d == "" {
		d = "01"
	}
	return common.NewString(fmt.Sprintf("%s-%s-%s", y, m, d))
}

func stringOrNull(s string) common.Scalar {
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Null
	}
	return common.NewString(s)
}

func encodeAuthors(detail articleDetail) string {
	if len(detail.Authors) == 0 {
		return ""
	}
	type author struct {
		Family   string `json:"family,omitempty"`
		Given    string `json:"given,omitempty"`
		Initials string `json:"initials,omitempty"`
	}
	out := make([]author, 0, len(detail.Authors))
	for _, a := range detail.Authors {
		out = append(out, author{Family: a.LastName, Given: a.ForeName, Initials: a.Initials})
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return ""
	}
	return string(raw)
}

func joinMesh(detail articleDetail) string {
	parts := make([]string, 0, len(detail.MeshHeadings))
	for _, h := range detail.MeshHeadings {
		if h.Descriptor != "" {
			parts = append(parts, h.Descriptor)
		}
	}
	return strings.Join(parts, "|")
}

func joinChemicals(detail articleDetail) string {
	parts := make([]string, 0, len(detail.Chemicals))
	for _, c := range detail.Chemicals {
		if c.Name == "" {
			continue
		}
		if c.Registry != "" && c.Registry != "0" {
			parts = append(parts, c.Name+" ["+c.Registry+"]")
			continue
		}
		parts = append(parts, c.Name)
	}
	return strings.Join(parts, "|")
}
