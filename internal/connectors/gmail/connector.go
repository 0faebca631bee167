package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"copharvest/internal"
	"copharvest/internal/config"
)

const pageSize = 100

type Connector struct {
	service *gmail.Service
}

func NewConnector(cfg config.Config) (*Connector, error) {
	if err := cfg.Require("GMAIL_CLIENT_ID", cfg.GmailClientID); err != nil {
		return nil, err
	}
	if err := cfg.Require("GMAIL_CLIENT_SECRET", cfg.GmailClientSecret); err != nil {
		return nil, err
	}
	if err := cfg.Require("GMAIL_REFRESH_TOKEN", cfg.GmailRefreshToken); err != nil {
		return nil, err
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.GmailRedirectURI,
		Scopes:       []string{gmail.GmailReadonlyScope},
	}

	tokenSource := oauthCfg.TokenSource(context.Background(), &oauth2.Token{RefreshToken: cfg.GmailRefreshToken})
	svc, err := gmail.NewService(context.Background(), option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, err
	}

	return &Connector{service: svc}, nil
}

// Search lists message refs matching the query, paginated. Gmail's after:
// operator is date-granular, so the bound is widened by one day; the caller
// re-filters on the exact timestamp. A non-positive limit walks every page.
func (c *Connector) Search(query string, after time.Time, limit int) ([]internal.MessageRef, error) {
	q := query
	if !after.IsZero() {
		q = fmt.Sprintf("%s after:%s", query, after.AddDate(0, 0, -1).UTC().Format("2006/01/02"))
	}

	var refs []internal.MessageRef
	pageToken := ""
	for {
		remaining := int64(pageSize)
		if limit > 0 {
			if len(refs) >= limit {
				break
			}
			if r := int64(limit - len(refs)); r < remaining {
				remaining = r
			}
		}
		call := c.service.Users.Messages.List("me").Q(q).MaxResults(remaining)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("gmail search %q: %w", q, err)
		}

		for _, m := range resp.Messages {
			if m.Id == "" {
				continue
			}
			refs = append(refs, internal.MessageRef{ID: m.Id, ThreadID: m.ThreadId})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}

	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

func (c *Connector) Fetch(messageID string) (*internal.MailMessage, error) {
	resp, err := c.service.Users.Messages.Get("me", messageID).Format("full").Do()
	if err != nil {
		return nil, fmt.Errorf("gmail fetch %s: %w", messageID, err)
	}

	headers := map[string]string{}
	if resp.Payload != nil {
		for _, h := range resp.Payload.Headers {
			headers[h.Name] = h.Value
		}
	}

	msg := &internal.MailMessage{
		ID:         resp.Id,
		ThreadID:   resp.ThreadId,
		Headers:    headers,
		Labels:     resp.LabelIds,
		ReceivedAt: time.UnixMilli(resp.InternalDate).UTC(),
	}
	if resp.Payload != nil {
		msg.HTMLBody = extractPart(resp.Payload, "text/html")
		msg.TextBody = extractPart(resp.Payload, "text/plain")
	}
	return msg, nil
}

func (c *Connector) Close() error {
	return nil
}

// extractPart walks a possibly nested multipart payload and returns the
// first part with the given MIME type, decoded.
func extractPart(payload *gmail.MessagePart, mimeType string) string {
	if payload == nil {
		return ""
	}
	if payload.MimeType == mimeType && payload.Body != nil && payload.Body.Data != "" {
		decoded, err := decodeBase64URL(payload.Body.Data)
		if err != nil {
			return ""
		}
		return string(decoded)
	}
	for _, part := range payload.Parts {
		if result := extractPart(part, mimeType); result != "" {
			return result
		}
	}
	return ""
}

func decodeBase64URL(input string) ([]byte, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	decoded, err = base64.URLEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	return nil, fmt.Errorf("decode gmail body payload: %w", err)
}
