package respond

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html"
	"log"
	"strings"
	"text/template"

	"github.com/google/uuid"

	"github.com/trident-re/mailroom/internal/config"
	"github.com/trident-re/mailroom/internal/email"
	"github.com/trident-re/mailroom/internal/queue"
)

//go:embed templates/*.tmpl
var embeddedTemplates embed.FS

// Response template categories
const (
	CategoryMatched      = "property_matched"
	CategoryNotFound     = "property_not_found"
	CategoryManualReview = "manual_review"
	CategoryTasksCreated = "tasks_created"
	CategoryNotRelated   = "not_property_related"
)

// templateSpecs declares, per category, the variables a template needs and
// its rendered subject line. Missing variables are filled with a safe
// placeholder at render time rather than failing the send.
var templateSpecs = map[string]struct {
	required []string
	subject  string
}{
	CategoryMatched:      {[]string{"SenderName", "PropertyAddress", "ActionSummary"}, "Filed: %s"},
	CategoryNotFound:     {[]string{"SenderName", "Subject"}, "Re: %s"},
	CategoryManualReview: {[]string{"SenderName", "PropertyAddress"}, "Re: %s"},
	CategoryTasksCreated: {[]string{"SenderName", "PropertyAddress", "TaskList"}, "Filed: %s"},
	CategoryNotRelated:   {[]string{"SenderName"}, "Re: %s"},
}

// Email is a rendered response ready to send or queue
type Email struct {
	Subject  string
	TextBody string
	HTMLBody string
}

// Engine renders response templates by category
type Engine struct {
	templates map[string]*template.Template
}

func NewEngine() (*Engine, error) {
	e := &Engine{templates: make(map[string]*template.Template)}

	for name := range templateSpecs {
		content, err := embeddedTemplates.ReadFile("templates/" + name + ".tmpl")
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded template %s: %w", name, err)
		}
		tmpl, err := template.New(name).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		e.templates[name] = tmpl
	}
	return e, nil
}

// Render produces the subject and both body renderings for a category. Any
// declared variable the caller did not supply is replaced with a visible
// placeholder so the send still goes out.
func (e *Engine) Render(category string, vars map[string]string) (*Email, error) {
	tmpl, ok := e.templates[category]
	if !ok {
		return nil, fmt.Errorf("unknown response template: %s", category)
	}
	spec := templateSpecs[category]

	data := make(map[string]string, len(vars))
	for k, v := range vars {
		data[k] = v
	}
	for _, name := range spec.required {
		if data[name] == "" {
			data[name] = placeholder(name)
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render template %s: %w", category, err)
	}
	text := buf.String()

	subjectArg := data["PropertyAddress"]
	if strings.HasPrefix(spec.subject, "Re:") {
		subjectArg = data["Subject"]
		if subjectArg == "" || strings.HasPrefix(subjectArg, "[") {
			subjectArg = "your email"
		}
	}

	return &Email{
		Subject:  fmt.Sprintf(spec.subject, subjectArg),
		TextBody: text,
		HTMLBody: textToHTML(text),
	}, nil
}

func placeholder(name string) string {
	words := strings.ToLower(strings.Join(splitCamel(name), " "))
	return "[" + words + " unavailable]"
}

func splitCamel(s string) []string {
	var words []string
	start := 0
	for i := 1; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			words = append(words, s[start:i])
			start = i
		}
	}
	return append(words, s[start:])
}

// textToHTML wraps the plain rendering into minimal HTML paragraphs
func textToHTML(text string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>"))
		b.WriteString("</p>")
	}
	b.WriteString("</body></html>")
	return b.String()
}

// Dispatcher renders and sends (or queues) responses for processed emails
type Dispatcher struct {
	engine          *Engine
	sender          email.Sender
	queue           *queue.Store
	from            string
	requireApproval map[string]bool
}

func NewDispatcher(engine *Engine, sender email.Sender, q *queue.Store, smtp config.SMTPConfig, respond config.RespondConfig) *Dispatcher {
	approval := make(map[string]bool)
	for _, category := range respond.RequireApproval {
		approval[category] = true
	}
	return &Dispatcher{
		engine:          engine,
		sender:          sender,
		queue:           q,
		from:            smtp.From,
		requireApproval: approval,
	}
}

// Respond renders the category template and either sends it or queues a
// draft for operator approval. Returns whether a message actually went out.
// Send failures are recorded but must not fail the caller's pipeline stage.
func (d *Dispatcher) Respond(ctx context.Context, rec *queue.EmailRecord, category string, vars map[string]string) (bool, error) {
	rendered, err := d.engine.Render(category, vars)
	if err != nil {
		return false, err
	}

	if d.requireApproval[category] {
		draft := &queue.Draft{
			ID:       uuid.New().String(),
			EmailID:  rec.ID,
			Category: category,
			To:       rec.From,
			Subject:  rendered.Subject,
			TextBody: rendered.TextBody,
			HTMLBody: rendered.HTMLBody,
		}
		if err := d.queue.InsertDraft(draft); err != nil {
			return false, err
		}
		log.Printf("[respond] queued %s draft %s for email %d", category, draft.ID, rec.ID)
		return false, nil
	}

	result := d.sender.Send(ctx, email.Message{
		To:        rec.From,
		From:      d.from,
		Subject:   rendered.Subject,
		InReplyTo: rec.MessageID,
		TextBody:  rendered.TextBody,
		HTMLBody:  rendered.HTMLBody,
	})
	if !result.Success {
		log.Printf("[respond] send failed for email %d (%s): %v", rec.ID, category, result.Error)
		return false, nil
	}

	if err := d.queue.MarkResponded(rec.ID, category); err != nil {
		return true, err
	}
	return true, nil
}

// SendDraft dispatches a previously approved draft
func (d *Dispatcher) SendDraft(ctx context.Context, draft *queue.Draft) error {
	result := d.sender.Send(ctx, email.Message{
		To:       draft.To,
		From:     d.from,
		Subject:  draft.Subject,
		TextBody: draft.TextBody,
		HTMLBody: draft.HTMLBody,
	})
	if !result.Success {
		return result.Error
	}

	if err := d.queue.SetDraftStatus(draft.ID, queue.DraftApproved); err != nil {
		return err
	}
	return d.queue.MarkResponded(draft.EmailID, draft.Category)
}
