package pipeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"copharvest/internal"
	"copharvest/internal/connectors"
	"copharvest/internal/storage"
)

type ExtractService struct {
	db        *storage.DB
	connector connectors.MailConnector
	log       *logrus.Logger
}

func NewExtractService(db *storage.DB, connector connectors.MailConnector, log *logrus.Logger) *ExtractService {
	return &ExtractService{db: db, connector: connector, log: log}
}

type ExtractOptions struct {
	Query      string
	MaxResults int
	Mode       internal.FetchMode
	DaysBack   int
}

type ExtractResult struct {
	TouchedIDs []string
	Counts     internal.RunCounts
}

// Run fetches candidate messages at or after the mode's lower bound and
// upserts raw + normalized records. The returned IDs are the messages
// written or overwritten this run. A search/transport failure is fatal; a
// single message's fetch failure is logged and skipped.
func (s *ExtractService) Run(opts ExtractOptions) (ExtractResult, error) {
	result := ExtractResult{}

	lowerBound, err := s.lowerBound(opts)
	if err != nil {
		return result, err
	}

	if lowerBound.IsZero() {
		s.log.WithField("query", opts.Query).Info("searching mailbox, unbounded window")
	} else {
		s.log.WithFields(logrus.Fields{"query": opts.Query, "after": lowerBound.Format(time.RFC3339)}).
			Info("searching mailbox")
	}

	refs, err := s.connector.Search(opts.Query, lowerBound, opts.MaxResults)
	if err != nil {
		return result, fmt.Errorf("mailbox search: %w", err)
	}
	result.Counts.Searched = len(refs)

	var fetched []*internal.MailMessage
	for _, ref := range refs {
		msg, err := s.connector.Fetch(ref.ID)
		if err != nil {
			result.Counts.FetchFailed++
			s.log.WithField("messageId", ref.ID).WithError(err).Warn("message fetch failed, skipping")
			continue
		}
		if msg.ThreadID == "" {
			msg.ThreadID = ref.ThreadID
		}
		// Inclusive boundary: a message received exactly at the watermark
		// is re-included; the keyed upsert keeps that idempotent.
		if !lowerBound.IsZero() && msg.ReceivedAt.Before(lowerBound) {
			continue
		}
		result.Counts.Fetched++
		fetched = append(fetched, msg)
	}

	// The mailbox does not promise ordering; store oldest first so an
	// interrupted run leaves a watermark that resumes cleanly.
	sort.Slice(fetched, func(i, j int) bool {
		return fetched[i].ReceivedAt.Before(fetched[j].ReceivedAt)
	})

	for _, msg := range fetched {
		raw, normalized := normalizeMessage(msg)
		if err := s.db.UpsertRawEmail(raw); err != nil {
			return result, fmt.Errorf("upsert raw email %s: %w", msg.ID, err)
		}
		if err := s.db.UpsertNormalizedEmail(normalized); err != nil {
			return result, fmt.Errorf("upsert normalized email %s: %w", msg.ID, err)
		}
		result.Counts.Stored++
		result.TouchedIDs = append(result.TouchedIDs, msg.ID)
	}

	s.log.WithFields(logrus.Fields{
		"searched":    result.Counts.Searched,
		"fetched":     result.Counts.Fetched,
		"fetchFailed": result.Counts.FetchFailed,
		"stored":      result.Counts.Stored,
	}).Info("extract complete")

	return result, nil
}

// lowerBound computes the fetch boundary for the run. The watermark is
// re-derived from the normalized store every run rather than persisted, so
// cursor state can never drift from the data.
func (s *ExtractService) lowerBound(opts ExtractOptions) (time.Time, error) {
	switch opts.Mode {
	case internal.ModeReprocessWindow:
		return time.Now().UTC().AddDate(0, 0, -opts.DaysBack), nil
	case internal.ModeFullWindow:
		return time.Time{}, nil
	default:
		watermark, err := s.db.MaxReceivedAt()
		if err != nil {
			return time.Time{}, fmt.Errorf("compute watermark: %w", err)
		}
		if watermark == nil {
			return time.Unix(0, 0).UTC(), nil
		}
		return *watermark, nil
	}
}
