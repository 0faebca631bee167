package pipeline

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"copharvest/internal"
	"copharvest/internal/storage"
)

type ParseService struct {
	db  *storage.DB
	log *logrus.Logger
}

func NewParseService(db *storage.DB, log *logrus.Logger) *ParseService {
	return &ParseService{db: db, log: log}
}

type ParseResult struct {
	Parsed   int
	Failures int
}

// ParsePending parses normalized emails that have no parse result yet.
// A non-positive limit parses everything pending.
func (s *ParseService) ParsePending(limit int) (ParseResult, error) {
	emails, err := s.db.ListUnparsed(limit)
	if err != nil {
		return ParseResult{}, fmt.Errorf("list unparsed: %w", err)
	}
	return s.parseEmails(emails)
}

// ParseAll re-parses every stored body, already-parsed ones included. Needs
// no mailbox access: the parser works off stored bodies alone. A
// non-positive limit covers the whole store.
func (s *ParseService) ParseAll(limit int) (ParseResult, error) {
	emails, err := s.db.ListNormalized(limit)
	if err != nil {
		return ParseResult{}, fmt.Errorf("list normalized: %w", err)
	}
	return s.parseEmails(emails)
}

// ParseMessages re-parses a specific set of message ids, e.g. everything a
// reprocess-window run touched.
func (s *ParseService) ParseMessages(messageIDs []string) (ParseResult, error) {
	emails := make([]internal.NormalizedEmail, 0, len(messageIDs))
	for _, id := range messageIDs {
		email, err := s.db.GetNormalized(id)
		if err != nil {
			return ParseResult{}, fmt.Errorf("load normalized email %s: %w", id, err)
		}
		if email == nil {
			s.log.WithField("messageId", id).Warn("normalized email missing, skipping parse")
			continue
		}
		emails = append(emails, *email)
	}
	return s.parseEmails(emails)
}

func (s *ParseService) parseEmails(emails []internal.NormalizedEmail) (ParseResult, error) {
	result := ParseResult{}

	for _, email := range emails {
		parsed := ParseCOPEmail(email.HTMLBody)
		parsed.MessageID = email.MessageID
		parsed.ParsedAt = time.Now().UTC()

		if err := s.db.UpsertParsedCOP(parsed); err != nil {
			return result, fmt.Errorf("upsert parsed COP %s: %w", email.MessageID, err)
		}

		result.Parsed++
		if parsed.ParseError != "" {
			result.Failures++
			s.log.WithFields(logrus.Fields{
				"messageId": email.MessageID,
				"subject":   email.Subject,
			}).Debug("parse failure: ", parsed.ParseError)
		}
	}

	s.log.WithFields(logrus.Fields{
		"parsed":   result.Parsed,
		"failures": result.Failures,
	}).Info("parse complete")

	return result, nil
}
