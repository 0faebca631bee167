package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"copharvest/internal"
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS raw_emails (
  messageId TEXT PRIMARY KEY,
  threadId TEXT,
  sender TEXT,
  recipientsJson TEXT NOT NULL DEFAULT '{}',
  subject TEXT,
  receivedAt TEXT NOT NULL,
  htmlBody TEXT,
  headersJson TEXT NOT NULL DEFAULT '{}',
  labelsJson TEXT NOT NULL DEFAULT '[]',
  loadedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_raw_receivedAt ON raw_emails(receivedAt DESC);
CREATE INDEX IF NOT EXISTS idx_raw_threadId ON raw_emails(threadId);

CREATE TABLE IF NOT EXISTS stg_emails (
  messageId TEXT PRIMARY KEY,
  threadId TEXT,
  senderEmail TEXT,
  senderName TEXT,
  recipientsToJson TEXT NOT NULL DEFAULT '[]',
  recipientsCcJson TEXT NOT NULL DEFAULT '[]',
  subject TEXT,
  receivedAt TEXT NOT NULL,
  htmlBody TEXT,
  loadedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_stg_receivedAt ON stg_emails(receivedAt DESC);
CREATE INDEX IF NOT EXISTS idx_stg_threadId ON stg_emails(threadId);
CREATE INDEX IF NOT EXISTS idx_stg_senderEmail ON stg_emails(senderEmail);

CREATE TABLE IF NOT EXISTS cop_emails (
  messageId TEXT PRIMARY KEY,
  packageType TEXT NOT NULL,
  fieldsJson TEXT NOT NULL DEFAULT '{}',
  dropboxUrl TEXT NOT NULL DEFAULT '',
  swiftUrl TEXT NOT NULL DEFAULT '',
  parseError TEXT NOT NULL DEFAULT '',
  parsedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_cop_packageType ON cop_emails(packageType);

CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  traceId TEXT NOT NULL,
  mode TEXT NOT NULL,
  countsJson TEXT NOT NULL,
  startedAt TEXT NOT NULL,
  finishedAt TEXT NOT NULL
);
`

	_, err := d.conn.Exec(schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	// sqlite's CURRENT_TIMESTAMP layout, kept readable for rows written
	// outside the upsert helpers.
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func (d *DB) UpsertRawEmail(email internal.RawEmail) error {
	recipientsJSON, _ := json.Marshal(email.Recipients)
	headersJSON, _ := json.Marshal(email.Headers)
	labelsJSON, _ := json.Marshal(email.Labels)

	_, err := d.conn.Exec(`
INSERT INTO raw_emails (messageId, threadId, sender, recipientsJson, subject, receivedAt, htmlBody, headersJson, labelsJson, loadedAt)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(messageId) DO UPDATE SET
  threadId=excluded.threadId,
  sender=excluded.sender,
  recipientsJson=excluded.recipientsJson,
  subject=excluded.subject,
  receivedAt=excluded.receivedAt,
  htmlBody=excluded.htmlBody,
  headersJson=excluded.headersJson,
  labelsJson=excluded.labelsJson,
  loadedAt=excluded.loadedAt
`, email.MessageID, email.ThreadID, email.Sender, string(recipientsJSON), email.Subject,
		formatTime(email.ReceivedAt), email.HTMLBody, string(headersJSON), string(labelsJSON),
		formatTime(orNow(email.LoadedAt)))
	return err
}

func (d *DB) UpsertNormalizedEmail(email internal.NormalizedEmail) error {
	toJSON, _ := json.Marshal(email.RecipientsTo)
	ccJSON, _ := json.Marshal(email.RecipientsCc)

	_, err := d.conn.Exec(`
INSERT INTO stg_emails (messageId, threadId, senderEmail, senderName, recipientsToJson, recipientsCcJson, subject, receivedAt, htmlBody, loadedAt)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(messageId) DO UPDATE SET
  threadId=excluded.threadId,
  senderEmail=excluded.senderEmail,
  senderName=excluded.senderName,
  recipientsToJson=excluded.recipientsToJson,
  recipientsCcJson=excluded.recipientsCcJson,
  subject=excluded.subject,
  receivedAt=excluded.receivedAt,
  htmlBody=excluded.htmlBody,
  loadedAt=excluded.loadedAt
`, email.MessageID, email.ThreadID, email.SenderEmail, email.SenderName, string(toJSON),
		string(ccJSON), email.Subject, formatTime(email.ReceivedAt), email.HTMLBody,
		formatTime(orNow(email.LoadedAt)))
	return err
}

func (d *DB) UpsertParsedCOP(parsed internal.ParsedCOP) error {
	fields := parsed.Fields
	if fields == nil {
		fields = internal.NewFieldMap()
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	_, err = d.conn.Exec(`
INSERT INTO cop_emails (messageId, packageType, fieldsJson, dropboxUrl, swiftUrl, parseError, parsedAt)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(messageId) DO UPDATE SET
  packageType=excluded.packageType,
  fieldsJson=excluded.fieldsJson,
  dropboxUrl=excluded.dropboxUrl,
  swiftUrl=excluded.swiftUrl,
  parseError=excluded.parseError,
  parsedAt=excluded.parsedAt
`, parsed.MessageID, string(parsed.PackageType), string(fieldsJSON), parsed.DropboxURL, parsed.SwiftURL, parsed.ParseError,
		formatTime(orNow(parsed.ParsedAt)))
	return err
}

// MaxReceivedAt returns the watermark: the latest receivedAt over the
// normalized store, or nil when the store is empty.
func (d *DB) MaxReceivedAt() (*time.Time, error) {
	var value sql.NullString
	err := d.conn.QueryRow(`SELECT MAX(receivedAt) FROM stg_emails`).Scan(&value)
	if err != nil {
		return nil, err
	}
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	t := parseTime(value.String)
	return &t, nil
}

const normalizedColumns = `messageId, threadId, senderEmail, senderName, recipientsToJson, recipientsCcJson, subject, receivedAt, htmlBody, loadedAt`

// rowLimit maps non-positive limits to sqlite's "no limit" sentinel so
// batch sizes stay optional.
func rowLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func scanNormalized(rows *sql.Rows) (internal.NormalizedEmail, error) {
	var email internal.NormalizedEmail
	var toJSON, ccJSON, receivedAt, loadedAt string
	if err := rows.Scan(&email.MessageID, &email.ThreadID, &email.SenderEmail, &email.SenderName,
		&toJSON, &ccJSON, &email.Subject, &receivedAt, &email.HTMLBody, &loadedAt); err != nil {
		return internal.NormalizedEmail{}, err
	}
	_ = json.Unmarshal([]byte(toJSON), &email.RecipientsTo)
	_ = json.Unmarshal([]byte(ccJSON), &email.RecipientsCc)
	email.ReceivedAt = parseTime(receivedAt)
	email.LoadedAt = parseTime(loadedAt)
	return email, nil
}

func (d *DB) listNormalized(query string, args ...any) ([]internal.NormalizedEmail, error) {
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.NormalizedEmail
	for rows.Next() {
		email, err := scanNormalized(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

// ListUnparsed returns normalized emails with no parse result yet.
func (d *DB) ListUnparsed(limit int) ([]internal.NormalizedEmail, error) {
	return d.listNormalized(`
SELECT e.`+normalizedColumns+`
FROM stg_emails e
LEFT JOIN cop_emails c ON c.messageId = e.messageId
WHERE c.messageId IS NULL
ORDER BY e.receivedAt ASC
LIMIT ?`, rowLimit(limit))
}

func (d *DB) ListNormalized(limit int) ([]internal.NormalizedEmail, error) {
	return d.listNormalized(`
SELECT `+normalizedColumns+`
FROM stg_emails
ORDER BY receivedAt ASC
LIMIT ?`, rowLimit(limit))
}

func (d *DB) GetNormalized(messageID string) (*internal.NormalizedEmail, error) {
	rows, err := d.conn.Query(`SELECT `+normalizedColumns+` FROM stg_emails WHERE messageId = ?`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	email, err := scanNormalized(rows)
	if err != nil {
		return nil, err
	}
	return &email, nil
}

func (d *DB) CountNormalized() (int, error) {
	var count int
	err := d.conn.QueryRow(`SELECT COUNT(*) FROM stg_emails`).Scan(&count)
	return count, err
}

func (d *DB) CountsByPackageType() (map[string]int, error) {
	rows, err := d.conn.Query(`SELECT packageType, COUNT(*) FROM cop_emails GROUP BY packageType`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var packageType string
		var count int
		if err := rows.Scan(&packageType, &count); err != nil {
			return nil, err
		}
		out[packageType] = count
	}
	return out, rows.Err()
}

// ReportRows returns parse results joined with their normalized envelopes,
// newest first, for the xlsx report.
func (d *DB) ReportRows(limit int) ([]internal.COPReportRow, error) {
	rows, err := d.conn.Query(`
SELECT c.messageId, e.threadId, e.receivedAt, e.senderEmail, e.subject,
       c.packageType, c.fieldsJson, c.dropboxUrl, c.swiftUrl, c.parseError
FROM cop_emails c
JOIN stg_emails e ON e.messageId = c.messageId
ORDER BY e.receivedAt DESC
LIMIT ?`, rowLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.COPReportRow
	for rows.Next() {
		var row internal.COPReportRow
		var receivedAt, packageType, fieldsJSON string
		if err := rows.Scan(&row.MessageID, &row.ThreadID, &receivedAt, &row.SenderEmail, &row.Subject,
			&packageType, &fieldsJSON, &row.DropboxURL, &row.SwiftURL, &row.ParseError); err != nil {
			return nil, err
		}
		row.ReceivedAt = parseTime(receivedAt)
		row.PackageType = internal.PackageType(packageType)
		row.Fields = internal.NewFieldMap()
		if err := json.Unmarshal([]byte(fieldsJSON), row.Fields); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) GetParsedCOP(messageID string) (*internal.ParsedCOP, error) {
	var parsed internal.ParsedCOP
	var packageType, fieldsJSON, parsedAt string
	err := d.conn.QueryRow(`
SELECT messageId, packageType, fieldsJson, dropboxUrl, swiftUrl, parseError, parsedAt
FROM cop_emails WHERE messageId = ?`, messageID).Scan(
		&parsed.MessageID, &packageType, &fieldsJSON, &parsed.DropboxURL, &parsed.SwiftURL, &parsed.ParseError, &parsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	parsed.PackageType = internal.PackageType(packageType)
	parsed.Fields = internal.NewFieldMap()
	if err := json.Unmarshal([]byte(fieldsJSON), parsed.Fields); err != nil {
		return nil, err
	}
	parsed.ParsedAt = parseTime(parsedAt)
	return &parsed, nil
}

func (d *DB) InsertRun(traceID string, mode internal.FetchMode, counts internal.RunCounts, startedAt, finishedAt time.Time) error {
	countsJSON, _ := json.Marshal(counts)
	_, err := d.conn.Exec(`INSERT INTO runs (traceId, mode, countsJson, startedAt, finishedAt) VALUES (?, ?, ?, ?, ?)`,
		traceID, string(mode), string(countsJSON), formatTime(startedAt), formatTime(finishedAt))
	return err
}
