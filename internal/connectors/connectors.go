package connectors

import (
	"time"

	"copharvest/internal"
)

// MailConnector is the mailbox collaborator. Search bounds results with a
// collaborator-native "fetch after" filter where the provider supports one;
// callers still apply the exact inclusive boundary themselves. Auth and
// token refresh are the connector's problem.
type MailConnector interface {
	Search(query string, after time.Time, limit int) ([]internal.MessageRef, error)
	Fetch(messageID string) (*internal.MailMessage, error)
	Close() error
}
