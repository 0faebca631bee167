package pipeline

import (
	"net/mail"
	"strings"
	"time"

	"copharvest/internal"
)

// splitSender splits the standard `"Name" <addr>` convention into display
// name and bare address. A bare address with no display name is fine; an
// unparseable header falls back to the trimmed header as the address.
func splitSender(from string) (name, addr string) {
	parsed, err := mail.ParseAddress(from)
	if err != nil {
		return "", strings.TrimSpace(from)
	}
	return strings.TrimSpace(parsed.Name), strings.TrimSpace(parsed.Address)
}

// splitAddressList turns a To/Cc header into bare addresses. RFC 5322
// parsing first; hand-authored headers that don't parse are split on
// commas, trimmed, empties discarded.
func splitAddressList(header string) []string {
	if strings.TrimSpace(header) == "" {
		return nil
	}

	if parsed, err := mail.ParseAddressList(header); err == nil {
		out := make([]string, 0, len(parsed))
		for _, a := range parsed {
			if a.Address != "" {
				out = append(out, a.Address)
			}
		}
		return out
	}

	var out []string
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		_, addr := splitSender(part)
		if addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// normalizeMessage derives the raw and normalized records from one fetched
// message. The body prefers HTML, falling back to plain text. The raw
// record keeps header values verbatim; a missing subject gets its display
// placeholder only on the normalized side.
func normalizeMessage(msg *internal.MailMessage) (internal.RawEmail, internal.NormalizedEmail) {
	from := headerValue(msg.Headers, "From")
	subject := headerValue(msg.Headers, "Subject")
	displaySubject := subject
	if displaySubject == "" {
		displaySubject = "(no subject)"
	}

	body := msg.HTMLBody
	if body == "" {
		body = msg.TextBody
	}

	senderName, senderEmail := splitSender(from)

	raw := internal.RawEmail{
		MessageID: msg.ID,
		ThreadID:  msg.ThreadID,
		Sender:    from,
		Recipients: map[string]string{
			"to":  headerValue(msg.Headers, "To"),
			"cc":  headerValue(msg.Headers, "Cc"),
			"bcc": headerValue(msg.Headers, "Bcc"),
		},
		Subject:    subject,
		ReceivedAt: msg.ReceivedAt.UTC(),
		HTMLBody:   body,
		Headers:    msg.Headers,
		Labels:     msg.Labels,
		LoadedAt:   time.Now().UTC(),
	}

	normalized := internal.NormalizedEmail{
		MessageID:    msg.ID,
		ThreadID:     msg.ThreadID,
		SenderEmail:  senderEmail,
		SenderName:   senderName,
		RecipientsTo: splitAddressList(headerValue(msg.Headers, "To")),
		RecipientsCc: splitAddressList(headerValue(msg.Headers, "Cc")),
		Subject:      displaySubject,
		ReceivedAt:   msg.ReceivedAt.UTC(),
		HTMLBody:     body,
		LoadedAt:     raw.LoadedAt,
	}

	return raw, normalized
}
