package pipeline

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"copharvest/internal"
)

// Header markers identifying a table as a COP table. Matched
// case-insensitively against cell text.
var copHeaderMarkers = []string{
	"CLOSE OUT PACKAGE",
	"CLOSEOUT PACKAGE",
}

// Section banner texts that span a row but are not field labels.
var sectionHeaders = map[string]struct{}{
	"SITE TIMELINES":    {},
	"DOWNLOAD LINKS":    {},
	"COP LINKS":         {},
	"ADDITIONAL NOTES":  {},
	"PENDING ITEMS":     {},
	"CLOSE OUT PACKAGE": {},
}

// Labels that identify a table as COP content even when neither PMI nor
// revision signatures are present.
var knownLabelMarkers = []string{
	"SITE ID", "SITE NAME", "GC NAME", "LANDLORD",
	"PROJECT", "MARKET", "COUNTY", "STRUCTURE TYPE",
	"CM COMPANY", "CM NAME", "PROJECT MANAGER",
	"EQUIPMENT ENGINEER", "CONSTRUCTION ENGINEER", "A&E COMPANY",
	"RAW FILES", "CX START", "CX COMPLETE", "CX DURATION",
	"LIVE REVIEW", "COP COMPLETE", "COP STATUS", "COP DURATION",
	"CUTOVER", "48HR", "SMART TOOL", "MDG LOCATION", "OPEN ITEMS",
}

const (
	dropboxDomain = "dropbox.com"
	swiftDomain   = "swiftprojects.io"
)

var reSpaces = regexp.MustCompile(`\s+`)

func cleanText(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(input, " "))
}

// ParseCOPEmail extracts the first COP table from an email body into a
// ParsedCOP. It is pure and total: any body string, including empty or
// non-HTML input, yields a well-formed result; failures come back as
// ParseError, never as a panic or error return.
func ParseCOPEmail(body string) internal.ParsedCOP {
	result := internal.ParsedCOP{
		PackageType: internal.PackageUnknown,
		Fields:      internal.NewFieldMap(),
	}

	if strings.TrimSpace(body) == "" {
		result.ParseError = "no COP table found"
		return result
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		result.ParseError = fmt.Sprintf("unparseable HTML: %v", err)
		return result
	}

	table := findCOPTable(doc)
	if table == nil {
		result.ParseError = "no COP table found"
		return result
	}

	extractFields(table, result.Fields)

	result.DropboxURL, result.SwiftURL = extractLinks(table)
	if result.DropboxURL == "" || result.SwiftURL == "" {
		// Links occasionally sit outside the table proper.
		dropbox, swift := extractLinks(doc.Selection)
		if result.DropboxURL == "" {
			result.DropboxURL = dropbox
		}
		if result.SwiftURL == "" {
			result.SwiftURL = swift
		}
	}

	result.PackageType = classifyPackage(result.Fields)
	if result.Fields.Len() == 0 {
		result.ParseError = "table found but no label:value pairs extracted"
	}

	return result
}

// findCOPTable returns the table containing the first cell (in document
// order) whose text carries a COP header marker, or nil.
func findCOPTable(doc *goquery.Document) *goquery.Selection {
	var table *goquery.Selection
	doc.Find("th,td").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		text := strings.ToUpper(cleanText(cell.Text()))
		for _, marker := range copHeaderMarkers {
			if strings.Contains(text, marker) {
				if t := cell.Closest("table"); t.Length() > 0 {
					table = t
					return false
				}
			}
		}
		return true
	})
	return table
}

// extractFields walks every row of the table. Only direct child cells
// count, so nested layout tables don't bleed into values. The first cell is
// the label, remaining cells concatenate into the value; single-cell rows
// are skipped. Duplicate labels overwrite earlier ones.
func extractFields(table *goquery.Selection, fields *internal.FieldMap) {
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("th,td")
		if cells.Length() < 2 {
			return
		}

		texts := make([]string, 0, cells.Length())
		cells.Each(func(_ int, cell *goquery.Selection) {
			texts = append(texts, cleanText(cell.Text()))
		})

		label := strings.TrimSpace(strings.TrimSuffix(texts[0], ":"))
		if _, banner := sectionHeaders[strings.ToUpper(label)]; banner {
			return
		}

		value := cleanText(strings.Join(texts[1:], " "))
		fields.Set(label, value)
	})
}

func extractLinks(sel *goquery.Selection) (dropboxURL, swiftURL string) {
	sel.Find("a[href]").Each(func(_ int, anchor *goquery.Selection) {
		href, _ := anchor.Attr("href")
		parsed, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		host := strings.ToLower(parsed.Hostname())
		if dropboxURL == "" && hostMatches(host, dropboxDomain) {
			dropboxURL = href
		}
		if swiftURL == "" && hostMatches(host, swiftDomain) {
			swiftURL = href
		}
	})
	return dropboxURL, swiftURL
}

func hostMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// classifyPackage derives the package type from signature labels. PMI
// signatures win over revision ones; any other recognized COP label means
// a plain review package.
func classifyPackage(fields *internal.FieldMap) internal.PackageType {
	keys := fields.Keys()

	for _, key := range keys {
		upper := strings.ToUpper(key)
		if strings.Contains(upper, "CARRIER SITE NAME") || strings.Contains(upper, "PMI") {
			return internal.PackagePMI
		}
	}
	for _, key := range keys {
		if strings.Contains(strings.ToUpper(key), "REVISION") {
			return internal.PackageRevision
		}
	}
	for _, key := range keys {
		upper := strings.ToUpper(key)
		for _, marker := range knownLabelMarkers {
			if strings.Contains(upper, marker) {
				return internal.PackageReview
			}
		}
	}
	return internal.PackageUnknown
}
