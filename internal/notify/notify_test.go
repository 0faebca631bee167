package notify

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/jhillyerd/enmime"

	"copharvest/internal"
)

func TestBuildReportHTML(t *testing.T) {
	started := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	summary := ReportSummary{
		Mode:    internal.ModeIncremental,
		Started: started,
		Ended:   started.Add(95 * time.Second),
		Counts: internal.RunCounts{
			Searched: 12,
			Fetched:  11,
			Stored:   11,
			Parsed:   11,
		},
		TotalNormalized: 340,
		ByPackageType:   map[string]int{"REVIEW": 8, "PMI": 2, "REVISION": 1},
	}

	html := buildReportHTML(summary)
	for _, want := range []string{
		"COP Harvester: SUCCESS",
		"2026-03-15 09:00:00 UTC",
		"1m35s",
		"incremental",
		">340<",
		"REVIEW",
		">8<",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("missing %q in report html", want)
		}
	}
}

func TestBuildReportHTMLEscapesValues(t *testing.T) {
	summary := ReportSummary{
		Started:       time.Now(),
		Ended:         time.Now(),
		ByPackageType: map[string]int{"<script>": 1},
	}
	html := buildReportHTML(summary)
	if strings.Contains(html, "<script>") {
		t.Fatal("package type not escaped")
	}
}

func TestBuildMessageRoundTrip(t *testing.T) {
	raw, err := buildMessage("me", "ops@example.com", "COP Harvester: SUCCESS -- 2026-03-15",
		"<html><body><h2>COP Harvester: SUCCESS</h2></body></html>",
		[]attachment{
			{content: []byte("xlsx-bytes"), mimeType: xlsxMimeType, fileName: "cop_records_2026-03-15.xlsx"},
			{content: []byte("log line\n"), mimeType: "text/plain", fileName: "harvest_2026-03-15.log"},
		})
	if err != nil {
		t.Fatal(err)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if got := env.GetHeader("To"); !strings.Contains(got, "ops@example.com") {
		t.Fatalf("to=%q", got)
	}
	if got := env.GetHeader("Subject"); got != "COP Harvester: SUCCESS -- 2026-03-15" {
		t.Fatalf("subject=%q", got)
	}
	if !strings.Contains(env.HTML, "COP Harvester: SUCCESS") {
		t.Fatalf("html=%q", env.HTML)
	}
	if len(env.Attachments) != 2 {
		t.Fatalf("attachments=%d", len(env.Attachments))
	}
	names := []string{env.Attachments[0].FileName, env.Attachments[1].FileName}
	for _, want := range []string{"cop_records_2026-03-15.xlsx", "harvest_2026-03-15.log"} {
		if names[0] != want && names[1] != want {
			t.Fatalf("attachment names=%v", names)
		}
	}
}

func TestBuildMessageNoAttachments(t *testing.T) {
	raw, err := buildMessage("me", "ops@example.com", "subject", "<p>body</p>", nil)
	if err != nil {
		t.Fatal(err)
	}
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if len(env.Attachments) != 0 {
		t.Fatalf("attachments=%d", len(env.Attachments))
	}
}
