package pipeline

import (
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"copharvest/internal"
)

var reportFixedHeaders = []string{
	"message_id", "thread_id", "received_at", "sender", "subject",
	"package_type", "dropbox_url", "swift_url", "parse_error",
}

// ExportReportXLSX writes parse results to a spreadsheet. Fixed columns
// come first; every field label seen across the rows becomes its own
// column, so new labels in upstream templates show up with no code change.
func ExportReportXLSX(rows []internal.COPReportRow, outputPath string) error {
	var extraKeys []string
	seen := map[string]struct{}{}
	for _, row := range rows {
		for _, key := range row.Fields.Keys() {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			extraKeys = append(extraKeys, key)
		}
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	headers := append(append([]string{}, reportFixedHeaders...), extraKeys...)
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, row := range rows {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}

		set(1, row.MessageID)
		set(2, row.ThreadID)
		set(3, row.ReceivedAt.Format(time.RFC3339))
		set(4, row.SenderEmail)
		set(5, row.Subject)
		set(6, string(row.PackageType))
		set(7, row.DropboxURL)
		set(8, row.SwiftURL)
		set(9, row.ParseError)

		for j, key := range extraKeys {
			value, _ := row.Fields.Get(key)
			set(len(reportFixedHeaders)+j+1, value)
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}
