package internal

import "time"

type PackageType string

const (
	PackageReview   PackageType = "REVIEW"
	PackageRevision PackageType = "REVISION"
	PackagePMI      PackageType = "PMI"
	PackageUnknown  PackageType = "UNKNOWN"
)

// FetchMode selects the lower bound for a scrape run.
type FetchMode string

const (
	ModeIncremental     FetchMode = "incremental"
	ModeReprocessWindow FetchMode = "reprocess-window"
	ModeFullWindow      FetchMode = "full-window"
)

// MessageRef is a mailbox search hit, enough to request the full message.
type MessageRef struct {
	ID       string
	ThreadID string
}

// MailMessage is the full content of one fetched message.
type MailMessage struct {
	ID         string
	ThreadID   string
	Headers    map[string]string
	HTMLBody   string
	TextBody   string
	Labels     []string
	ReceivedAt time.Time
}

// RawEmail is the verbatim snapshot of a fetched message, keyed by the
// mailbox message id. Re-fetching the same id overwrites all fields.
type RawEmail struct {
	MessageID  string
	ThreadID   string
	Sender     string
	Recipients map[string]string
	Subject    string
	ReceivedAt time.Time
	HTMLBody   string
	Headers    map[string]string
	Labels     []string
	LoadedAt   time.Time
}

// NormalizedEmail is derived one-to-one from RawEmail and safe to rebuild.
type NormalizedEmail struct {
	MessageID    string
	ThreadID     string
	SenderEmail  string
	SenderName   string
	RecipientsTo []string
	RecipientsCc []string
	Subject      string
	ReceivedAt   time.Time
	HTMLBody     string
	LoadedAt     time.Time
}

// ParsedCOP is the structured extraction result for one email. Exactly one
// of Fields (non-empty) or ParseError is meaningfully populated.
type ParsedCOP struct {
	MessageID   string
	PackageType PackageType
	Fields      *FieldMap
	DropboxURL  string
	SwiftURL    string
	ParseError  string
	ParsedAt    time.Time
}

// COPReportRow joins a parse result with its normalized envelope for the
// xlsx report.
type COPReportRow struct {
	MessageID   string
	ThreadID    string
	ReceivedAt  time.Time
	SenderEmail string
	Subject     string
	PackageType PackageType
	Fields      *FieldMap
	DropboxURL  string
	SwiftURL    string
	ParseError  string
}

type RunCounts struct {
	Searched      int `json:"searched"`
	Fetched       int `json:"fetched"`
	FetchFailed   int `json:"fetchFailed"`
	Stored        int `json:"stored"`
	Parsed        int `json:"parsed"`
	ParseFailures int `json:"parseFailures"`
}
