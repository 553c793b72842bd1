// Package mailbox defines what the evidence collector needs from a mail
// provider and implements it on top of the Gmail API.
package mailbox

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUnauthorized is returned when the provider rejects our credentials.
// Collector passes stop on it instead of skipping the message.
var ErrUnauthorized = errors.New("mailbox access unauthorized")

// MessageSummary is one search hit or one message of a thread.
type MessageSummary struct {
	ID       string
	ThreadID string
	Subject  string
	Snippet  string
	From     string // bare, lower-cased address
	Date     time.Time
	// Outbound is true when we sent the message.
	Outbound bool
}

// Part is a node of a message's MIME tree. Leaves carry either an attachment
// id or the inline data itself.
type Part struct {
	MimeType     string
	Filename     string
	AttachmentID string
	Size         int64
	Data         []byte
	Parts        []*Part
}

type Message struct {
	ID       string
	ThreadID string
	Subject  string
	From     string
	Snippet  string
	// Headers are keyed by lower-cased header name; first value wins.
	Headers map[string]string
	Payload *Part
}

//go:generate mockgen -destination=mocks/mock_provider.go -source=mailbox.go Provider
type Provider interface {
	// Search returns messages matching query received within window.
	Search(ctx context.Context, query string, window time.Duration) ([]MessageSummary, error)
	Get(ctx context.Context, messageID string) (*Message, error)
	// Thread lists every message of a thread, outbound ones included.
	Thread(ctx context.Context, threadID string) ([]MessageSummary, error)
	Attachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// Header returns a header value by case-insensitive name.
func (m *Message) Header(name string) string {
	if m == nil || m.Headers == nil {
		return ""
	}
	return m.Headers[strings.ToLower(name)]
}
