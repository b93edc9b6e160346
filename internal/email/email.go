package email

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
)

// Message is one outbound reply. TextBody is required; HTMLBody is included
// as a multipart alternative when present.
type Message struct {
	To        string
	From      string
	Subject   string
	InReplyTo string // Message-ID of the email being answered, for threading
	TextBody  string
	HTMLBody  string
}

type Result struct {
	Success bool
	Error   error
}

type Sender interface {
	Send(ctx context.Context, msg Message) Result
	Name() string
}

// ValidateEmail checks for injection characters and RFC 5322 compliance
func ValidateEmail(email string) error {
	if strings.ContainsAny(email, "\r\n,;") {
		return fmt.Errorf("email contains invalid characters")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	return nil
}

func validateMessage(msg Message) error {
	if err := ValidateEmail(msg.From); err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if err := ValidateEmail(msg.To); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	// Reject headers with CRLF to prevent injection
	if strings.ContainsAny(msg.Subject, "\r\n") {
		return fmt.Errorf("subject contains invalid characters")
	}
	if strings.ContainsAny(msg.InReplyTo, "\r\n") {
		return fmt.Errorf("in-reply-to contains invalid characters")
	}
	if msg.TextBody == "" {
		return fmt.Errorf("message has no text body")
	}
	return nil
}
