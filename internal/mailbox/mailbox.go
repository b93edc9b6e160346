package mailbox

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/trident-re/mailroom/internal/config"
)

// Attachment is one file carried by an inbound message
type Attachment struct {
	Filename string
	MimeType string
	Content  []byte
}

// Message is a parsed inbound email ready for the pipeline
type Message struct {
	UID         uint32 // Mailbox-assigned id, used for dedup and flag operations
	MessageID   string
	ThreadID    string // In-Reply-To message id, when present
	From        string
	FromName    string
	To          string
	Subject     string
	TextBody    string
	HTMLBody    string
	ReceivedAt  time.Time
	Attachments []Attachment
}

// Client handles the IMAP connection to the shared transaction inbox
type Client struct {
	config config.MailboxConfig
	client *client.Client
}

func NewClient(cfg config.MailboxConfig) *Client {
	return &Client{config: cfg}
}

// Connect establishes the IMAP connection and logs in
func (c *Client) Connect(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", c.config.Server, c.config.Port)

	log.Printf("[mailbox] connecting to IMAP server %s...", addr)

	conn, err := client.DialTLS(addr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := conn.Login(c.config.Email, c.config.Password); err != nil {
		conn.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}

	c.client = conn
	log.Printf("[mailbox] logged in as %s", c.config.Email)
	return nil
}

// Disconnect closes the IMAP connection
func (c *Client) Disconnect() error {
	if c.client != nil {
		return c.client.Logout()
	}
	return nil
}

// FetchUnread returns up to max unread messages from the monitored folder.
// Bodies are fetched with Peek so the fetch itself never flips read-flags;
// the pipeline decides whether to mark each message read after processing.
func (c *Client) FetchUnread(ctx context.Context, max int) ([]Message, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected to IMAP server")
	}

	mbox, err := c.client.Select(c.config.Folder, false)
	if err != nil {
		return nil, fmt.Errorf("failed to select mailbox %s: %w", c.config.Folder, err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search unread messages: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	if max > 0 && len(uids) > max {
		uids = uids[:max]
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var parsed []Message
	for msg := range messages {
		m, err := c.parseMessage(msg, section)
		if err != nil {
			log.Printf("[mailbox] warning: failed to parse message: %v", err)
			continue
		}
		if m != nil {
			parsed = append(parsed, *m)
		}
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return parsed, nil
}

// parseMessage converts an IMAP message into a Message, walking the MIME
// tree for bodies and attachments.
func (c *Client) parseMessage(msg *imap.Message, section *imap.BodySectionName) (*Message, error) {
	if msg == nil || msg.Envelope == nil {
		return nil, nil
	}

	m := &Message{
		UID:        msg.Uid,
		Subject:    msg.Envelope.Subject,
		MessageID:  msg.Envelope.MessageId,
		ReceivedAt: msg.Envelope.Date,
	}
	if msg.Envelope.InReplyTo != "" {
		m.ThreadID = msg.Envelope.InReplyTo
	}

	if len(msg.Envelope.From) > 0 {
		from := msg.Envelope.From[0]
		m.From = from.Address()
		m.FromName = from.PersonalName
	}
	if len(msg.Envelope.To) > 0 {
		m.To = msg.Envelope.To[0].Address()
	}

	r := msg.GetBody(section)
	if r == nil {
		return m, nil
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return m, nil // Keep the envelope even when the body won't parse
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, _ := io.ReadAll(p.Body)

			if strings.HasPrefix(ct, "text/plain") && m.TextBody == "" {
				m.TextBody = string(body)
			} else if strings.HasPrefix(ct, "text/html") && m.HTMLBody == "" {
				m.HTMLBody = string(body)
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			ct, _, _ := h.ContentType()
			content, err := io.ReadAll(p.Body)
			if err != nil {
				log.Printf("[mailbox] warning: failed to read attachment %s: %v", filename, err)
				continue
			}
			m.Attachments = append(m.Attachments, Attachment{
				Filename: filename,
				MimeType: ct,
				Content:  content,
			})
		}
	}

	return m, nil
}

// MarkRead sets the \Seen flag on a message. Best effort: the EmailRecord
// is the source of truth, so callers log and continue on failure.
func (c *Client) MarkRead(uid uint32) error {
	return c.storeFlag(uid, imap.AddFlags)
}

// MarkUnread clears the \Seen flag so a human can still triage the message
func (c *Client) MarkUnread(uid uint32) error {
	return c.storeFlag(uid, imap.RemoveFlags)
}

func (c *Client) storeFlag(uid uint32, op imap.FlagsOp) error {
	if c.client == nil {
		return fmt.Errorf("not connected to IMAP server")
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(op, true)
	flags := []interface{}{imap.SeenFlag}
	if err := c.client.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to update flags for uid %d: %w", uid, err)
	}
	return nil
}
