package pipeline

import (
	"encoding/json"
	"testing"

	"copharvest/internal"
)

func copTable(rows string) string {
	return `<html><body><table>
<tr><td colspan="2">CLOSE OUT PACKAGE REVIEW</td></tr>
` + rows + `
</table></body></html>`
}

func TestParseCOPEmailScenario(t *testing.T) {
	body := copTable(`
<tr><td>Site Name:</td><td>Tower 12</td></tr>
<tr><td>Project ID:</td><td>AB-100</td></tr>`)

	result := ParseCOPEmail(body)
	if result.ParseError != "" {
		t.Fatalf("parse error: %s", result.ParseError)
	}
	if result.PackageType != internal.PackageReview {
		t.Fatalf("packageType=%s", result.PackageType)
	}
	if v, _ := result.Fields.Get("Site Name"); v != "Tower 12" {
		t.Fatalf("Site Name=%q", v)
	}
	if v, _ := result.Fields.Get("Project ID"); v != "AB-100" {
		t.Fatalf("Project ID=%q", v)
	}
}

func TestParseCOPEmailTotality(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "empty string", body: ""},
		{name: "plain text", body: "hello, see the package below"},
		{name: "html without tables", body: "<html><body><p>no tables here</p></body></html>"},
		{name: "table without marker", body: "<table><tr><td>Site Name:</td><td>X</td></tr></table>"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := ParseCOPEmail(tc.body)
			if result.ParseError != "no COP table found" {
				t.Fatalf("parseError=%q", result.ParseError)
			}
			if result.PackageType != internal.PackageUnknown {
				t.Fatalf("packageType=%s", result.PackageType)
			}
			if result.Fields.Len() != 0 {
				t.Fatalf("fields=%v", result.Fields.Keys())
			}
		})
	}
}

func TestParseCOPEmailDuplicateLabelLastWins(t *testing.T) {
	body := copTable(`
<tr><td>Site Name:</td><td>X</td></tr>
<tr><td>Site Name:</td><td>Y</td></tr>`)

	result := ParseCOPEmail(body)
	if v, _ := result.Fields.Get("Site Name"); v != "Y" {
		t.Fatalf("Site Name=%q", v)
	}
	if result.Fields.Len() != 1 {
		t.Fatalf("len=%d", result.Fields.Len())
	}
}

func TestParseCOPEmailClassification(t *testing.T) {
	cases := []struct {
		name string
		rows string
		want internal.PackageType
	}{
		{
			name: "carrier site name implies PMI",
			rows: `<tr><td>Carrier Site Name:</td><td>Tower 9</td></tr><tr><td>Revision Complete:</td><td>1/2/2026</td></tr>`,
			want: internal.PackagePMI,
		},
		{
			name: "pmi label implies PMI",
			rows: `<tr><td>PMI COP Complete:</td><td>1/2/2026</td></tr>`,
			want: internal.PackagePMI,
		},
		{
			name: "revision without pmi signatures",
			rows: `<tr><td>Revision Complete:</td><td>1/2/2026</td></tr>`,
			want: internal.PackageRevision,
		},
		{
			name: "known cop label implies review",
			rows: `<tr><td>GC Name:</td><td>Acme Build</td></tr>`,
			want: internal.PackageReview,
		},
		{
			name: "unrecognized labels stay unknown with fields kept",
			rows: `<tr><td>Frobnication Level:</td><td>11</td></tr>`,
			want: internal.PackageUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := ParseCOPEmail(copTable(tc.rows))
			if result.PackageType != tc.want {
				t.Fatalf("packageType=%s want %s", result.PackageType, tc.want)
			}
			if result.Fields.Len() == 0 {
				t.Fatal("fields discarded")
			}
		})
	}
}

func TestParseCOPEmailOnlyFirstQualifyingTable(t *testing.T) {
	body := `<html><body>
<table>
<tr><td>CLOSE OUT PACKAGE</td><td></td></tr>
<tr><td>Site Name:</td><td>First</td></tr>
</table>
<table>
<tr><td>CLOSE OUT PACKAGE</td><td></td></tr>
<tr><td>Site Name:</td><td>Quoted reply further down</td></tr>
</table>
</body></html>`

	result := ParseCOPEmail(body)
	if v, _ := result.Fields.Get("Site Name"); v != "First" {
		t.Fatalf("Site Name=%q", v)
	}
}

func TestParseCOPEmailRowShapes(t *testing.T) {
	body := copTable(`
<tr><td>Lonely cell skipped</td></tr>
<tr><td>Site Name:</td><td>Tower</td><td>12</td></tr>
<tr><td>Open Items:</td><td></td></tr>`)

	result := ParseCOPEmail(body)
	if _, ok := result.Fields.Get("Lonely cell skipped"); ok {
		t.Fatal("single-cell row became a field")
	}
	if v, _ := result.Fields.Get("Site Name"); v != "Tower 12" {
		t.Fatalf("Site Name=%q", v)
	}
	// Empty values survive as empty strings; consumers rely on key presence.
	if v, ok := result.Fields.Get("Open Items"); !ok || v != "" {
		t.Fatalf("Open Items ok=%v v=%q", ok, v)
	}
}

func TestParseCOPEmailSectionHeadersSkipped(t *testing.T) {
	body := copTable(`
<tr><td>SITE TIMELINES</td><td></td></tr>
<tr><td>CX Start:</td><td>1/2/2026</td></tr>`)

	result := ParseCOPEmail(body)
	if _, ok := result.Fields.Get("SITE TIMELINES"); ok {
		t.Fatal("section banner became a field")
	}
	if v, _ := result.Fields.Get("CX Start"); v != "1/2/2026" {
		t.Fatalf("CX Start=%q", v)
	}
}

func TestParseCOPEmailWhitespaceCollapsed(t *testing.T) {
	body := copTable(`
<tr><td>  Site
  Name : </td><td> Tower
	 12 </td></tr>`)

	result := ParseCOPEmail(body)
	if v, _ := result.Fields.Get("Site Name"); v != "Tower 12" {
		t.Fatalf("Site Name=%q", v)
	}
}

func TestParseCOPEmailLinks(t *testing.T) {
	body := copTable(`
<tr><td>Site Name:</td><td>Tower 12</td></tr>
<tr><td>Links:</td><td><a href="https://www.dropbox.com/sh/abc">Files</a> <a href="https://app.swiftprojects.io/p/42">Swift</a></td></tr>`)

	result := ParseCOPEmail(body)
	if result.DropboxURL != "https://www.dropbox.com/sh/abc" {
		t.Fatalf("dropbox=%q", result.DropboxURL)
	}
	if result.SwiftURL != "https://app.swiftprojects.io/p/42" {
		t.Fatalf("swift=%q", result.SwiftURL)
	}
}

func TestParseCOPEmailLinksBodyFallback(t *testing.T) {
	body := copTable(`<tr><td>Site Name:</td><td>Tower 12</td></tr>`) +
		`<p><a href="https://dropbox.com/sh/outside">outside the table</a></p>`

	result := ParseCOPEmail(body)
	if result.DropboxURL != "https://dropbox.com/sh/outside" {
		t.Fatalf("dropbox=%q", result.DropboxURL)
	}
	if result.SwiftURL != "" {
		t.Fatalf("swift=%q", result.SwiftURL)
	}
}

func TestParseCOPEmailLinkHostNotFooledBySubstring(t *testing.T) {
	body := copTable(`
<tr><td>Site Name:</td><td>Tower 12</td></tr>
<tr><td>Links:</td><td><a href="https://evil.example.com/dropbox.com">nope</a></td></tr>`)

	result := ParseCOPEmail(body)
	if result.DropboxURL != "" {
		t.Fatalf("dropbox=%q", result.DropboxURL)
	}
}

func TestParseCOPEmailTableWithoutPairs(t *testing.T) {
	body := `<table><tr><td>CLOSE OUT PACKAGE</td></tr></table>`

	result := ParseCOPEmail(body)
	if result.ParseError != "table found but no label:value pairs extracted" {
		t.Fatalf("parseError=%q", result.ParseError)
	}
	if result.PackageType != internal.PackageUnknown {
		t.Fatalf("packageType=%s", result.PackageType)
	}
}

func TestParseCOPEmailDeterministicReparse(t *testing.T) {
	body := copTable(`
<tr><td>Site Name:</td><td>Tower 12</td></tr>
<tr><td>Project ID:</td><td>AB-100</td></tr>
<tr><td>CX Start:</td><td>1/2/2026</td></tr>`)

	first, err := json.Marshal(ParseCOPEmail(body).Fields)
	if err != nil {
		t.Fatal(err)
	}
	second, err := json.Marshal(ParseCOPEmail(body).Fields)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatalf("reparse not byte-identical:\n%s\n%s", first, second)
	}
}

func TestParseCOPEmailNestedTableCellsExcluded(t *testing.T) {
	body := `<html><body><table>
<tr><td>CLOSE OUT PACKAGE REVIEW</td><td></td></tr>
<tr><td>Site Name:</td><td>Tower 12</td></tr>
<tr><td colspan="2"><table><tr><td>Inner Label:</td><td>inner value</td></tr></table></td></tr>
</table></body></html>`

	result := ParseCOPEmail(body)
	if v, _ := result.Fields.Get("Site Name"); v != "Tower 12" {
		t.Fatalf("Site Name=%q", v)
	}
	// Nested rows are still visited with their own direct cells.
	if v, _ := result.Fields.Get("Inner Label"); v != "inner value" {
		t.Fatalf("Inner Label=%q", v)
	}
}
