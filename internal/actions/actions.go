package actions

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trident-re/mailroom/internal/ai"
	"github.com/trident-re/mailroom/internal/property"
	"github.com/trident-re/mailroom/internal/queue"
)

// taskRule maps a detected document type to the follow-up task it triggers
type taskRule struct {
	title   string
	dueDays int
}

var taskRules = map[string]taskRule{
	"contract":   {"Review contract", 3},
	"inspection": {"Review inspection report", 5},
	"appraisal":  {"Review appraisal", 3},
	"disclosure": {"Review disclosure documents", 3},
	"closing":    {"Review closing documents", 7},
	"loan":       {"Review loan documents", 3},
	"addendum":   {"Review addendum", 3},
	"title":      {"Review title commitment", 5},
	"listing":    {"Review listing agreement", 3},
}

// Summary reports what one generation pass produced, including artifacts
// that already existed from a prior pass.
type Summary struct {
	DocumentsFiled int
	TasksCreated   int
	EventsCreated  int
	NotesAdded     int
}

// String renders the summary the way response templates present it
func (s Summary) String() string {
	parts := []string{
		fmt.Sprintf("%d document(s) filed", s.DocumentsFiled),
		fmt.Sprintf("%d task(s) created", s.TasksCreated),
	}
	if s.EventsCreated > 0 {
		parts = append(parts, fmt.Sprintf("%d calendar event(s) added", s.EventsCreated))
	}
	if s.NotesAdded > 0 {
		parts = append(parts, fmt.Sprintf("%d note(s) added", s.NotesAdded))
	}
	return strings.Join(parts, ", ") + "."
}

// Generator derives tasks, timeline events, and a summary note from a
// matched email and files its documents into the property store.
type Generator struct {
	queue *queue.Store
	props *property.Store
}

func NewGenerator(q *queue.Store, p *property.Store) *Generator {
	return &Generator{queue: q, props: p}
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	return strings.Trim(slugRe.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Generate runs one idempotent generation pass for an email matched to a
// property. Every property-store write happens in a single transaction, so a
// failure midway leaves no partial artifacts. Re-running for the same email
// skips artifacts whose dedup key is already linked to it.
func (g *Generator) Generate(rec *queue.EmailRecord, docs []queue.DocumentRecord, propertyID string, extra ai.Entities) (Summary, error) {
	existing, err := g.queue.ArtifactKeys(rec.ID)
	if err != nil {
		return Summary{}, err
	}

	err = g.props.WithTx(func(tx *sql.Tx) error {
		if err := g.fileDocuments(tx, rec, docs, propertyID, existing); err != nil {
			return err
		}
		if err := g.createTasks(tx, rec, docs, propertyID, existing); err != nil {
			return err
		}
		if err := g.createEvents(tx, rec, docs, propertyID, extra, existing); err != nil {
			return err
		}
		return g.appendSummaryNote(tx, rec, docs, propertyID, existing)
	})
	if err != nil {
		return Summary{}, err
	}

	return g.summarize(rec.ID)
}

// fileDocuments promotes each non-duplicate attachment into the property
// store. Duplicates are acknowledged with an artifact but their content is
// not stored again.
func (g *Generator) fileDocuments(tx *sql.Tx, rec *queue.EmailRecord, docs []queue.DocumentRecord, propertyID string, existing map[string]bool) error {
	for i := range docs {
		doc := &docs[i]
		key := "doc:" + doc.FileHash
		if doc.PageStart > 0 {
			key = fmt.Sprintf("doc:%s:%d-%d", doc.FileHash, doc.PageStart, doc.PageEnd)
		}
		if existing[key] {
			continue
		}

		if doc.Duplicate {
			if err := g.recordArtifact(tx, rec.ID, queue.ArtifactDocument, "", key,
				fmt.Sprintf("duplicate of previously filed %s acknowledged", doc.Filename), existing); err != nil {
				return err
			}
			continue
		}

		filed := &property.FiledDocument{
			PropertyID: propertyID,
			Filename:   doc.Filename,
			MimeType:   doc.MimeType,
			SizeBytes:  doc.SizeBytes,
			FileHash:   doc.FileHash,
			Content:    doc.Content,
			DocType:    doc.DocType,
		}
		if err := g.props.FileDocumentTx(tx, filed); err != nil {
			return err
		}
		if err := g.queue.MarkDocumentFiledTx(tx, doc.ID, propertyID, filed.ID); err != nil {
			return err
		}
		doc.PropertyID = propertyID
		doc.FiledDocID = filed.ID

		if err := g.recordArtifact(tx, rec.ID, queue.ArtifactDocument, filed.ID, key,
			fmt.Sprintf("filed %s", doc.Filename), existing); err != nil {
			return err
		}
	}
	return nil
}

// createTasks derives one follow-up task per distinct document type seen.
// Suggested tasks carried in a document's analysis payload are honored too.
func (g *Generator) createTasks(tx *sql.Tx, rec *queue.EmailRecord, docs []queue.DocumentRecord, propertyID string, existing map[string]bool) error {
	for _, doc := range docs {
		if doc.Duplicate || doc.DocType == "" {
			continue
		}
		rule, ok := taskRules[doc.DocType]
		if !ok {
			continue
		}
		key := "task:" + doc.DocType
		if existing[key] {
			continue
		}

		task := &property.Task{
			PropertyID:  propertyID,
			Title:       rule.title,
			Description: fmt.Sprintf("Triggered by %q received %s", doc.Filename, rec.ReceivedAt.Format("Jan 2, 2006")),
			DueDate:     sql.NullTime{Time: time.Now().AddDate(0, 0, rule.dueDays), Valid: true},
		}
		if err := g.props.CreateTaskTx(tx, task); err != nil {
			return err
		}
		if err := g.recordArtifact(tx, rec.ID, queue.ArtifactTask, task.ID, key,
			fmt.Sprintf("%s document detected", doc.DocType), existing); err != nil {
			return err
		}
	}

	for _, suggested := range suggestedTasks(docs) {
		key := "task:suggested:" + slug(suggested.Title)
		if key == "task:suggested:" || existing[key] {
			continue
		}
		task := &property.Task{
			PropertyID:  propertyID,
			Title:       suggested.Title,
			Description: fmt.Sprintf("Suggested from email %q", rec.Subject),
		}
		if suggested.DueDays > 0 {
			task.DueDate = sql.NullTime{Time: time.Now().AddDate(0, 0, suggested.DueDays), Valid: true}
		}
		if err := g.props.CreateTaskTx(tx, task); err != nil {
			return err
		}
		if err := g.recordArtifact(tx, rec.ID, queue.ArtifactTask, task.ID, key,
			"suggested by document analysis", existing); err != nil {
			return err
		}
	}
	return nil
}

// createEvents turns every dated milestone found in the documents or the
// email body into a timeline event.
func (g *Generator) createEvents(tx *sql.Tx, rec *queue.EmailRecord, docs []queue.DocumentRecord, propertyID string, extra ai.Entities, existing map[string]bool) error {
	dates := extra.Dates
	for _, doc := range docs {
		if doc.Duplicate {
			continue
		}
		dates = append(dates, documentEntities(doc).Dates...)
	}

	for _, d := range dates {
		when, err := time.Parse("2006-01-02", d.Date)
		if err != nil {
			continue
		}
		key := fmt.Sprintf("event:%s:%s", d.Type, d.Date)
		if existing[key] {
			continue
		}

		title := d.Label
		if title == "" {
			title = capitalize(d.Type) + " scheduled"
		}
		event := &property.TimelineEvent{
			PropertyID: propertyID,
			EventType:  d.Type,
			Title:      title,
			EventDate:  when,
		}
		if err := g.props.CreateEventTx(tx, event); err != nil {
			return err
		}
		if err := g.recordArtifact(tx, rec.ID, queue.ArtifactEvent, event.ID, key,
			fmt.Sprintf("%s date found in email", d.Type), existing); err != nil {
			return err
		}
	}
	return nil
}

// appendSummaryNote writes exactly one note per email summarizing what came
// in and what was generated from it.
func (g *Generator) appendSummaryNote(tx *sql.Tx, rec *queue.EmailRecord, docs []queue.DocumentRecord, propertyID string, existing map[string]bool) error {
	const key = "note:summary"
	if existing[key] {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Email from %s on %s: %s", rec.From,
		rec.ReceivedAt.Format("Jan 2, 2006"), rec.Subject)
	for _, doc := range docs {
		if doc.Duplicate {
			fmt.Fprintf(&b, "\n- %s (duplicate of previously filed document)", doc.Filename)
			continue
		}
		if doc.DocType != "" {
			fmt.Fprintf(&b, "\n- %s (%s)", doc.Filename, doc.DocType)
		} else {
			fmt.Fprintf(&b, "\n- %s", doc.Filename)
		}
	}

	noteID, err := g.props.AppendNoteTx(tx, propertyID, b.String())
	if err != nil {
		return err
	}
	return g.recordArtifact(tx, rec.ID, queue.ArtifactNote, noteID, key, "email summary", existing)
}

func (g *Generator) recordArtifact(tx *sql.Tx, emailID int64, kind queue.ArtifactKind, refID, key, reason string, existing map[string]bool) error {
	if err := g.queue.InsertArtifactTx(tx, &queue.Artifact{
		ID:       uuid.New().String(),
		EmailID:  emailID,
		Kind:     kind,
		RefID:    refID,
		DedupKey: key,
		Reason:   reason,
	}); err != nil {
		return err
	}
	existing[key] = true
	return nil
}

// summarize recounts artifacts by kind and pushes the derived counters onto
// the EmailRecord. Counters never decrease.
func (g *Generator) summarize(emailID int64) (Summary, error) {
	artifacts, err := g.queue.ListArtifacts(emailID)
	if err != nil {
		return Summary{}, err
	}

	var s Summary
	for _, a := range artifacts {
		switch a.Kind {
		case queue.ArtifactDocument:
			if a.RefID != "" {
				s.DocumentsFiled++
			}
		case queue.ArtifactTask:
			s.TasksCreated++
		case queue.ArtifactEvent:
			s.EventsCreated++
		case queue.ArtifactNote:
			s.NotesAdded++
		}
	}

	if err := g.queue.SetCounters(emailID, s.DocumentsFiled, s.TasksCreated, s.EventsCreated, s.NotesAdded); err != nil {
		return s, err
	}
	return s, nil
}

func suggestedTasks(docs []queue.DocumentRecord) []ai.SuggestedTask {
	var out []ai.SuggestedTask
	seen := make(map[string]bool)
	for _, doc := range docs {
		if doc.Duplicate {
			continue
		}
		for _, t := range documentTasks(doc) {
			k := slug(t.Title)
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, t)
		}
	}
	return out
}

// documentEntities decodes the entities JSON persisted on a DocumentRecord.
// A malformed payload yields no entities rather than failing generation.
func documentEntities(doc queue.DocumentRecord) ai.Entities {
	if doc.Entities == "" {
		return ai.Entities{}
	}
	var payload struct {
		ai.Entities
		SuggestedTasks []ai.SuggestedTask `json:"suggested_tasks"`
	}
	if err := json.Unmarshal([]byte(doc.Entities), &payload); err != nil {
		log.Printf("[actions] bad entities payload on document %d: %v", doc.ID, err)
		return ai.Entities{}
	}
	return payload.Entities
}

func documentTasks(doc queue.DocumentRecord) []ai.SuggestedTask {
	if doc.Entities == "" {
		return nil
	}
	var payload struct {
		SuggestedTasks []ai.SuggestedTask `json:"suggested_tasks"`
	}
	if err := json.Unmarshal([]byte(doc.Entities), &payload); err != nil {
		return nil
	}
	return payload.SuggestedTasks
}
