package email

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{"valid", "agent@example.com", false},
		{"valid with name", "Mike Torres <mike@example.com>", false},
		{"newline injection", "a@example.com\r\nBcc: victim@example.com", true},
		{"comma", "a@example.com,b@example.com", true},
		{"semicolon", "a@example.com;b@example.com", true},
		{"not an address", "not-an-email", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmail(%q) = %v, wantErr %v", tt.email, err, tt.wantErr)
			}
		})
	}
}

func TestValidateMessage(t *testing.T) {
	valid := Message{
		From:     "deals@trident.example",
		To:       "agent@example.com",
		Subject:  "Filed: 123 Oak St",
		TextBody: "Your documents were filed.",
	}

	tests := []struct {
		name    string
		mutate  func(*Message)
		wantErr string
	}{
		{"valid", func(m *Message) {}, ""},
		{"bad recipient", func(m *Message) { m.To = "nope" }, "recipient"},
		{"bad sender", func(m *Message) { m.From = "" }, "sender"},
		{"subject injection", func(m *Message) { m.Subject = "hi\r\nBcc: x@example.com" }, "subject"},
		{"in-reply-to injection", func(m *Message) { m.InReplyTo = "<id>\r\nX: y" }, "in-reply-to"},
		{"empty body", func(m *Message) { m.TextBody = "" }, "text body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := valid
			tt.mutate(&msg)
			err := validateMessage(msg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validateMessage() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validateMessage() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestBuildMessagePlainText(t *testing.T) {
	body, err := buildMessage(Message{
		From:      "deals@trident.example",
		To:        "agent@example.com",
		Subject:   "Filed: 123 Oak St",
		InReplyTo: "<original@example.com>",
		TextBody:  "Your documents were filed.",
	})
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}

	s := string(body)
	for _, want := range []string{
		"From: deals@trident.example\r\n",
		"To: agent@example.com\r\n",
		"In-Reply-To: <original@example.com>\r\n",
		"References: <original@example.com>\r\n",
		"Content-Type: text/plain; charset=utf-8\r\n\r\nYour documents were filed.",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("message missing %q:\n%s", want, s)
		}
	}
	if strings.Contains(s, "multipart") {
		t.Error("plain-text message built as multipart")
	}
}

func TestBuildMessageMultipart(t *testing.T) {
	body, err := buildMessage(Message{
		From:     "deals@trident.example",
		To:       "agent@example.com",
		Subject:  "Filed",
		TextBody: "plain rendering",
		HTMLBody: "<p>html rendering</p>",
	})
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}

	s := string(body)
	if !strings.Contains(s, "Content-Type: multipart/alternative; boundary=") {
		t.Errorf("multipart header missing:\n%s", s)
	}
	textAt := strings.Index(s, "plain rendering")
	htmlAt := strings.Index(s, "<p>html rendering</p>")
	if textAt == -1 || htmlAt == -1 {
		t.Fatalf("parts missing:\n%s", s)
	}
	if textAt > htmlAt {
		t.Error("plain part must come before the HTML alternative")
	}
}

func TestSanitizeSMTPError(t *testing.T) {
	tests := []struct {
		in   error
		want string
	}{
		{errors.New("535 5.7.8 Username and Password not accepted, auth failure"), "SMTP authentication failed"},
		{errors.New("x509: certificate signed by unknown authority"), "TLS certificate error"},
		{errors.New("dial tcp 10.0.0.5:465: connection refused"), "SMTP error: check your configuration"},
	}

	for _, tt := range tests {
		if got := sanitizeSMTPError(tt.in); got.Error() != tt.want {
			t.Errorf("sanitizeSMTPError(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
