package ingest

import (
	"context"
	"strings"
	"time"
)

// InboundEmail is one message pulled from the monitored mailbox.
type InboundEmail struct {
	Sender     string
	Subject    string
	Body       string
	ReceivedAt time.Time
}

// MailboxClient pulls alert emails received after a point in time.
// The production connector speaks to the mail service; tests use fakes.
type MailboxClient interface {
	Fetch(ctx context.Context, since time.Time) ([]InboundEmail, error)
}

// replyMarkers open a quoted reply tail. Everything from the first
// marker on is a previous message, not the alert itself.
var replyMarkers = []string{
	"-----Original Message-----",
	"________________________________",
	"\nFrom:",
	"\r\nFrom:",
}

// CurrentBody strips quoted reply chains so only the newest message
// text is classified.
func CurrentBody(body string) string {
	cut := len(body)
	for _, marker := range replyMarkers {
		if i := strings.Index(body, marker); i >= 0 && i < cut {
			cut = i
		}
	}
	return strings.TrimSpace(body[:cut])
}
