package imap

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/jhillyerd/enmime"

	"copharvest/internal"
	"copharvest/internal/config"
)

// Connector serves the mailbox interface over plain IMAP for inboxes that
// are not behind the Gmail API. Gmail-style query operators are reduced to
// IMAP search criteria: from:addr becomes a FROM header match, everything
// else a TEXT match.
type Connector struct {
	host     string
	port     int
	secure   bool
	user     string
	password string
	mailbox  string

	client *imapclient.Client
	uids   map[string]uint32
	dates  map[string]time.Time
}

func NewConnector(cfg config.Config) (*Connector, error) {
	if err := cfg.Require("IMAP_HOST", cfg.IMAPHost); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_USER", cfg.IMAPUser); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_PASSWORD", cfg.IMAPPassword); err != nil {
		return nil, err
	}

	return &Connector{
		host:     cfg.IMAPHost,
		port:     cfg.IMAPPort,
		secure:   cfg.IMAPSecure,
		user:     cfg.IMAPUser,
		password: cfg.IMAPPassword,
		mailbox:  cfg.IMAPMailbox,
		uids:     map[string]uint32{},
		dates:    map[string]time.Time{},
	}, nil
}

func (c *Connector) ensureClient() error {
	if c.client != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	var client *imapclient.Client
	var err error
	if c.secure {
		client, err = imapclient.DialTLS(addr, &tls.Config{ServerName: c.host})
	} else {
		client, err = imapclient.Dial(addr)
	}
	if err != nil {
		return fmt.Errorf("imap dial %s: %w", addr, err)
	}

	if err := client.Login(c.user, c.password); err != nil {
		_ = client.Logout()
		return fmt.Errorf("imap login: %w", err)
	}
	if _, err := client.Select(c.mailbox, true); err != nil {
		_ = client.Logout()
		return fmt.Errorf("imap select %s: %w", c.mailbox, err)
	}

	c.client = client
	return nil
}

func buildCriteria(query string, after time.Time) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	if !after.IsZero() {
		// SINCE is date-granular; widen by a day like the Gmail bound.
		criteria.Since = after.AddDate(0, 0, -1)
	}
	for _, token := range strings.Fields(query) {
		if addr, ok := strings.CutPrefix(token, "from:"); ok {
			criteria.Header.Add("From", addr)
			continue
		}
		criteria.Text = append(criteria.Text, token)
	}
	return criteria
}

// newestUIDs keeps the highest (most recent) uids when a positive limit
// applies; otherwise the whole set passes through.
func newestUIDs(uids []uint32, limit int) []uint32 {
	if limit > 0 && len(uids) > limit {
		return uids[len(uids)-limit:]
	}
	return uids
}

func (c *Connector) Search(query string, after time.Time, limit int) ([]internal.MessageRef, error) {
	if err := c.ensureClient(); err != nil {
		return nil, err
	}

	uids, err := c.client.UidSearch(buildCriteria(query, after))
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	uids = newestUIDs(uids, limit)

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid}
	messages := make(chan *imap.Message, len(uids))
	fetchDone := make(chan error, 1)
	go func() { fetchDone <- c.client.UidFetch(seqset, items, messages) }()

	refs := make([]internal.MessageRef, 0, len(uids))
	for msg := range messages {
		if msg == nil || msg.Envelope == nil {
			continue
		}
		messageID := msg.Envelope.MessageId
		if messageID == "" {
			messageID = fmt.Sprintf("imap-%d", msg.Uid)
		}
		c.uids[messageID] = msg.Uid
		c.dates[messageID] = msg.InternalDate.UTC()
		refs = append(refs, internal.MessageRef{ID: messageID})
	}

	if err := <-fetchDone; err != nil {
		return nil, fmt.Errorf("imap fetch envelopes: %w", err)
	}
	return refs, nil
}

func (c *Connector) Fetch(messageID string) (*internal.MailMessage, error) {
	if err := c.ensureClient(); err != nil {
		return nil, err
	}

	uid, ok := c.uids[messageID]
	if !ok {
		return nil, fmt.Errorf("imap fetch %s: unknown message id", messageID)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem()}
	messages := make(chan *imap.Message, 1)
	fetchDone := make(chan error, 1)
	go func() { fetchDone <- c.client.UidFetch(seqset, items, messages) }()

	var raw []byte
	for msg := range messages {
		if msg == nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		blob, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		raw = blob
	}
	if err := <-fetchDone; err != nil {
		return nil, fmt.Errorf("imap fetch %s: %w", messageID, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("imap fetch %s: no body returned", messageID)
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("imap parse %s: %w", messageID, err)
	}

	headers := map[string]string{}
	for _, name := range []string{"From", "To", "Cc", "Bcc", "Subject", "Message-Id", "Date"} {
		if value := env.GetHeader(name); value != "" {
			headers[name] = value
		}
	}

	return &internal.MailMessage{
		ID:         messageID,
		Headers:    headers,
		HTMLBody:   env.HTML,
		TextBody:   env.Text,
		ReceivedAt: c.dates[messageID],
	}, nil
}

func (c *Connector) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Logout()
	c.client = nil
	return err
}
