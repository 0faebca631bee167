package pipeline

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"copharvest/internal"
	"copharvest/internal/connectors"
	"copharvest/internal/storage"
)

// RunPipeline is one full invocation: extract, then parse. In incremental
// and full-window modes only still-unparsed emails are parsed; a
// reprocess-window run re-parses everything it touched so parser fixes
// reach previously stored messages.
func RunPipeline(db *storage.DB, connector connectors.MailConnector, log *logrus.Logger, opts ExtractOptions) (internal.RunCounts, error) {
	started := time.Now().UTC()
	traceID := uuid.NewString()

	extractor := NewExtractService(db, connector, log)
	extractResult, err := extractor.Run(opts)
	if err != nil {
		return extractResult.Counts, err
	}

	parser := NewParseService(db, log)
	var parseResult ParseResult
	if opts.Mode == internal.ModeReprocessWindow {
		parseResult, err = parser.ParseMessages(extractResult.TouchedIDs)
	} else {
		parseResult, err = parser.ParsePending(0)
	}
	counts := extractResult.Counts
	counts.Parsed = parseResult.Parsed
	counts.ParseFailures = parseResult.Failures
	if err != nil {
		return counts, err
	}

	if err := db.InsertRun(traceID, opts.Mode, counts, started, time.Now().UTC()); err != nil {
		return counts, err
	}

	byType, err := db.CountsByPackageType()
	if err != nil {
		return counts, err
	}
	log.WithFields(logrus.Fields{
		"traceId":       traceID,
		"mode":          string(opts.Mode),
		"stored":        counts.Stored,
		"parsed":        counts.Parsed,
		"parseFailures": counts.ParseFailures,
		"byPackageType": byType,
	}).Info("run complete")

	return counts, nil
}
