package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"copharvest/internal"
	"copharvest/internal/config"
)

const xlsxMimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReportSummary is everything the report email shows about one run.
type ReportSummary struct {
	Mode            internal.FetchMode
	Started         time.Time
	Ended           time.Time
	Counts          internal.RunCounts
	TotalNormalized int
	ByPackageType   map[string]int
}

// Notifier sends the run report to the operator through the Gmail send
// API. It authenticates as its own sender account; when no separate
// notify credentials are configured the scraper's Gmail app is reused.
type Notifier struct {
	service *gmail.Service
	to      string
	log     *logrus.Logger
}

func NewNotifier(cfg config.Config, log *logrus.Logger) (*Notifier, error) {
	if err := cfg.Require("REPORT_EMAIL_TO", cfg.ReportEmailTo); err != nil {
		return nil, err
	}

	clientID := cfg.NotifyClientID
	clientSecret := cfg.NotifyClientSecret
	refreshToken := cfg.NotifyRefreshToken
	if clientID == "" {
		clientID = cfg.GmailClientID
	}
	if clientSecret == "" {
		clientSecret = cfg.GmailClientSecret
	}
	if refreshToken == "" {
		refreshToken = cfg.GmailRefreshToken
	}
	if err := cfg.Require("NOTIFY_REFRESH_TOKEN or GMAIL_REFRESH_TOKEN", refreshToken); err != nil {
		return nil, err
	}

	oauthCfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.GmailRedirectURI,
		Scopes:       []string{gmail.GmailSendScope},
	}

	tokenSource := oauthCfg.TokenSource(context.Background(), &oauth2.Token{RefreshToken: refreshToken})
	svc, err := gmail.NewService(context.Background(), option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, err
	}

	return &Notifier{service: svc, to: cfg.ReportEmailTo, log: log}, nil
}

// SendReport emails the run summary with the xlsx report and the run log
// attached. Callers treat failures as non-fatal: a run never fails because
// its report could not be delivered.
func (n *Notifier) SendReport(summary ReportSummary, xlsxBytes []byte, logText string) error {
	today := time.Now().UTC().Format("2006-01-02")
	subject := fmt.Sprintf("COP Harvester: SUCCESS -- %s", today)

	var attachments []attachment
	if len(xlsxBytes) > 0 {
		attachments = append(attachments, attachment{
			content:  xlsxBytes,
			mimeType: xlsxMimeType,
			fileName: fmt.Sprintf("cop_records_%s.xlsx", today),
		})
	}
	if logText != "" {
		attachments = append(attachments, attachment{
			content:  []byte(logText),
			mimeType: "text/plain",
			fileName: fmt.Sprintf("harvest_%s.log", today),
		})
	}

	// Gmail replaces the From header with the authenticated sender.
	raw, err := buildMessage("me", n.to, subject, buildReportHTML(summary), attachments)
	if err != nil {
		return fmt.Errorf("build report email: %w", err)
	}

	_, err = n.service.Users.Messages.Send("me", &gmail.Message{
		Raw: base64.RawURLEncoding.EncodeToString(raw),
	}).Do()
	if err != nil {
		return fmt.Errorf("gmail send: %w", err)
	}

	n.log.WithField("to", n.to).Info("report email sent")
	return nil
}

type attachment struct {
	content  []byte
	mimeType string
	fileName string
}

func buildMessage(from, to, subject, htmlBody string, attachments []attachment) ([]byte, error) {
	builder := enmime.Builder().
		From("", from).
		To("", to).
		Subject(subject).
		HTML([]byte(htmlBody))
	for _, a := range attachments {
		builder = builder.AddAttachment(a.content, a.mimeType, a.fileName)
	}

	part, err := builder.Build()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildReportHTML(s ReportSummary) string {
	duration := s.Ended.Sub(s.Started).Round(time.Second)
	started := s.Started.UTC().Format("2006-01-02 15:04:05 UTC")
	ended := s.Ended.UTC().Format("2006-01-02 15:04:05 UTC")

	var b strings.Builder
	b.WriteString(`<html><body style="font-family:Arial,sans-serif;margin:0;padding:0;">`)
	b.WriteString(`<div style="background-color:#2e7d32;color:white;padding:16px 24px;">` +
		`<h2 style="margin:0;">COP Harvester: SUCCESS</h2></div>`)
	b.WriteString(`<div style="padding:16px 24px;">`)

	b.WriteString(`<table style="margin-bottom:16px;">`)
	writeKV(&b, "Started", started)
	writeKV(&b, "Ended", ended)
	writeKV(&b, "Duration", duration.String())
	writeKV(&b, "Mode", string(s.Mode))
	b.WriteString(`</table>`)

	b.WriteString(`<h3 style="margin-top:24px;margin-bottom:8px;">Run Counts</h3>`)
	b.WriteString(`<table style="border-collapse:collapse;">`)
	writeCountRow(&b, "Searched", s.Counts.Searched)
	writeCountRow(&b, "Fetched", s.Counts.Fetched)
	writeCountRow(&b, "Fetch failures", s.Counts.FetchFailed)
	writeCountRow(&b, "Stored", s.Counts.Stored)
	writeCountRow(&b, "Parsed", s.Counts.Parsed)
	writeCountRow(&b, "Parse failures", s.Counts.ParseFailures)
	writeCountRow(&b, "Total stored emails", s.TotalNormalized)
	b.WriteString(`</table>`)

	b.WriteString(`<h3 style="margin-top:24px;margin-bottom:8px;">Records by Package Type</h3>`)
	b.WriteString(`<table style="border-collapse:collapse;">`)
	types := make([]string, 0, len(s.ByPackageType))
	for name := range s.ByPackageType {
		types = append(types, name)
	}
	sort.Strings(types)
	for _, name := range types {
		writeCountRow(&b, name, s.ByPackageType[name])
	}
	b.WriteString(`</table>`)

	b.WriteString(`</div></body></html>`)
	return b.String()
}

func writeKV(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, `<tr><td style="padding:2px 16px 2px 0;font-weight:bold;">%s:</td><td>%s</td></tr>`,
		html.EscapeString(label), html.EscapeString(value))
}

func writeCountRow(b *strings.Builder, label string, count int) {
	fmt.Fprintf(b, `<tr><td style="padding:6px 12px;border:1px solid #ddd;">%s</td>`+
		`<td style="padding:6px 12px;border:1px solid #ddd;text-align:right;">%d</td></tr>`,
		html.EscapeString(label), count)
}
