package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"payment-evidence-backend/internal/config"
	"payment-evidence-backend/internal/logger"
)

const gmailUser = "me"

// AddressSource tells the adapter which address is ours.
type AddressSource interface {
	MailboxAddress(ctx context.Context) string
}

// Gmail implements Provider against the Gmail REST API.
type Gmail struct {
	svc         *gmail.Service
	addresses   AddressSource
	maxMessages int64
	log         zerolog.Logger
}

// NewGmail builds a Gmail provider using a service account with domain-wide
// delegation, impersonating the configured mailbox.
func NewGmail(ctx context.Context, cfg config.MailboxConfig, addresses AddressSource, maxMessages int64) (*Gmail, error) {
	const op = "NewGmail"

	var creds []byte
	var err error
	if cfg.CredentialsFile != "" {
		creds, err = os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to read credentials file: %w", op, err)
		}
	} else if cfg.CredentialsJSON != "" {
		creds = []byte(cfg.CredentialsJSON)
	} else {
		return nil, fmt.Errorf("%s: neither GOOGLE_APPLICATION_CREDENTIALS nor GOOGLE_CREDENTIALS is set", op)
	}

	jwtCfg, err := google.JWTConfigFromJSON(creds, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}
	jwtCfg.Subject = cfg.Address

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(jwtCfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create gmail service: %w", op, err)
	}
	return NewGmailWithService(svc, addresses, maxMessages), nil
}

// NewGmailWithService wraps an existing service (used by tests).
func NewGmailWithService(svc *gmail.Service, addresses AddressSource, maxMessages int64) *Gmail {
	if maxMessages <= 0 {
		maxMessages = 100
	}
	return &Gmail{
		svc:         svc,
		addresses:   addresses,
		maxMessages: maxMessages,
		log:         logger.WithComponent("gmail"),
	}
}

func (g *Gmail) Search(ctx context.Context, query string, window time.Duration) ([]MessageSummary, error) {
	const op = "Search"

	q := strings.TrimSpace(query + " " + newerThan(window))
	var ids []*gmail.Message
	pageToken := ""
	for int64(len(ids)) < g.maxMessages {
		call := g.svc.Users.Messages.List(gmailUser).Q(q).MaxResults(g.maxMessages - int64(len(ids))).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("%s: list %q: %w", op, q, classify(err))
		}
		ids = append(ids, resp.Messages...)
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	g.log.Debug().Str("query", q).Int("hits", len(ids)).Msg("Mailbox search finished")

	ours := g.ourAddress(ctx)
	out := make([]MessageSummary, 0, len(ids))
	for _, ref := range ids {
		msg, err := g.svc.Users.Messages.Get(gmailUser, ref.Id).
			Format("metadata").MetadataHeaders("Subject", "From").
			Context(ctx).Do()
		if err != nil {
			return out, fmt.Errorf("%s: metadata %s: %w", op, ref.Id, classify(err))
		}
		out = append(out, summarize(msg, ours))
	}
	return out, nil
}

func (g *Gmail) Get(ctx context.Context, messageID string) (*Message, error) {
	msg, err := g.svc.Users.Messages.Get(gmailUser, messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("Get %s: %w", messageID, classify(err))
	}

	out := &Message{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Headers:  map[string]string{},
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			key := strings.ToLower(h.Name)
			if _, ok := out.Headers[key]; !ok {
				out.Headers[key] = h.Value
			}
		}
		out.Payload = convertPart(msg.Payload)
	}
	out.Subject = out.Headers["subject"]
	out.From = parseAddress(out.Headers["from"])
	return out, nil
}

func (g *Gmail) Thread(ctx context.Context, threadID string) ([]MessageSummary, error) {
	thread, err := g.svc.Users.Threads.Get(gmailUser, threadID).
		Format("metadata").MetadataHeaders("Subject", "From").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("Thread %s: %w", threadID, classify(err))
	}

	ours := g.ourAddress(ctx)
	out := make([]MessageSummary, 0, len(thread.Messages))
	for _, msg := range thread.Messages {
		out = append(out, summarize(msg, ours))
	}
	return out, nil
}

func (g *Gmail) Attachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	body, err := g.svc.Users.Messages.Attachments.Get(gmailUser, messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("Attachment %s/%s: %w", messageID, attachmentID, classify(err))
	}
	data, err := decodeBody(body.Data)
	if err != nil {
		return nil, fmt.Errorf("Attachment %s/%s: decode: %w", messageID, attachmentID, err)
	}
	return data, nil
}

func (g *Gmail) ourAddress(ctx context.Context) string {
	if g.addresses == nil {
		return ""
	}
	return g.addresses.MailboxAddress(ctx)
}

func summarize(msg *gmail.Message, ours string) MessageSummary {
	s := MessageSummary{ID: msg.Id, ThreadID: msg.ThreadId, Snippet: msg.Snippet}
	if msg.InternalDate > 0 {
		s.Date = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "subject":
				if s.Subject == "" {
					s.Subject = h.Value
				}
			case "from":
				if s.From == "" {
					s.From = parseAddress(h.Value)
				}
			}
		}
	}
	for _, label := range msg.LabelIds {
		if label == "SENT" {
			s.Outbound = true
		}
	}
	if ours != "" && s.From == ours {
		s.Outbound = true
	}
	return s
}

func convertPart(p *gmail.MessagePart) *Part {
	out := &Part{MimeType: p.MimeType, Filename: p.Filename}
	if p.Body != nil {
		out.AttachmentID = p.Body.AttachmentId
		out.Size = p.Body.Size
		if p.Body.AttachmentId == "" && p.Body.Data != "" {
			if data, err := decodeBody(p.Body.Data); err == nil {
				out.Data = data
			}
		}
	}
	for _, child := range p.Parts {
		out.Parts = append(out.Parts, convertPart(child))
	}
	return out
}

// Gmail bodies are base64url, sometimes without padding.
func decodeBody(data string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}

func parseAddress(from string) string {
	if from == "" {
		return ""
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return strings.ToLower(strings.Trim(strings.TrimSpace(from), "<>"))
	}
	return strings.ToLower(addr.Address)
}

// newerThan renders a lookback window as a Gmail query term, rounded up to
// whole days.
func newerThan(window time.Duration) string {
	if window <= 0 {
		return ""
	}
	days := int(math.Ceil(window.Hours() / 24))
	if days < 1 {
		days = 1
	}
	return fmt.Sprintf("newer_than:%dd", days)
}

func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden) {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return err
}
