package listener

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"copharvest/internal"
	"copharvest/internal/config"
	"copharvest/internal/connectors"
	gmailconnector "copharvest/internal/connectors/gmail"
	imapconnector "copharvest/internal/connectors/imap"
	"copharvest/internal/logging"
	"copharvest/internal/notify"
	"copharvest/internal/pipeline"
	"copharvest/internal/storage"
)

// Service runs the harvest pipeline on an interval, standing in for an
// external scheduler. Cycle errors are logged and the next cycle still
// runs; only context cancellation stops the loop.
type Service struct {
	db      *storage.DB
	cfg     config.Config
	log     *logrus.Logger
	capture *logging.CaptureHook
}

func NewService(db *storage.DB, cfg config.Config, log *logrus.Logger) *Service {
	capture := logging.NewCaptureHook()
	log.AddHook(capture)
	return &Service{db: db, cfg: cfg, log: log, capture: capture}
}

func (s *Service) Run(ctx context.Context) error {
	for {
		if err := s.runCycle(); err != nil {
			s.log.WithError(err).Error("listener cycle failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(s.cfg.ListenerIntervalSec) * time.Second):
		}
	}
}

func (s *Service) runCycle() error {
	s.capture.Reset()
	started := time.Now().UTC()

	connector, err := s.makeConnector()
	if err != nil {
		return err
	}
	defer connector.Close()

	counts, err := pipeline.RunPipeline(s.db, connector, s.log, pipeline.ExtractOptions{
		Query:      s.cfg.MailQuery,
		MaxResults: s.cfg.MailMaxResults,
		Mode:       internal.ModeIncremental,
		DaysBack:   s.cfg.MailDaysBack,
	})
	if err != nil {
		return err
	}

	var reportPath string
	if s.cfg.ListenerAutoExport {
		reportPath, err = s.exportReport()
		if err != nil {
			return err
		}
	}

	if s.cfg.ReportEmailTo != "" {
		s.sendReport(counts, started, time.Now().UTC(), reportPath)
	}
	return nil
}

func (s *Service) exportReport() (string, error) {
	rows, err := s.db.ReportRows(0)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}

	filename := fmt.Sprintf("cop_records_%s.xlsx", time.Now().UTC().Format("2006-01-02"))
	outputPath := filepath.Join(s.cfg.OutputDir, filename)
	if err := pipeline.ExportReportXLSX(rows, outputPath); err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{"rows": len(rows), "path": outputPath}).Info("report exported")
	return outputPath, nil
}

// sendReport emails the cycle summary. Delivery failures are logged and
// swallowed so the next cycle still runs on schedule.
func (s *Service) sendReport(counts internal.RunCounts, started, ended time.Time, reportPath string) {
	notifier, err := notify.NewNotifier(s.cfg, s.log)
	if err != nil {
		s.log.WithError(err).Warn("report email skipped")
		return
	}

	total, err := s.db.CountNormalized()
	if err != nil {
		s.log.WithError(err).Warn("report email skipped")
		return
	}
	byType, err := s.db.CountsByPackageType()
	if err != nil {
		s.log.WithError(err).Warn("report email skipped")
		return
	}

	var xlsxBytes []byte
	if reportPath != "" {
		xlsxBytes, err = os.ReadFile(reportPath)
		if err != nil {
			s.log.WithError(err).Warn("report attachment unreadable, sending without it")
			xlsxBytes = nil
		}
	}

	summary := notify.ReportSummary{
		Mode:            internal.ModeIncremental,
		Started:         started,
		Ended:           ended,
		Counts:          counts,
		TotalNormalized: total,
		ByPackageType:   byType,
	}
	if err := notifier.SendReport(summary, xlsxBytes, s.capture.Text()); err != nil {
		s.log.WithError(err).Warn("report email failed")
	}
}

func (s *Service) makeConnector() (connectors.MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(s.cfg.MailProvider)) {
	case "gmail":
		return gmailconnector.NewConnector(s.cfg)
	case "imap":
		return imapconnector.NewConnector(s.cfg)
	default:
		return nil, fmt.Errorf("unsupported mail provider: %s", s.cfg.MailProvider)
	}
}
