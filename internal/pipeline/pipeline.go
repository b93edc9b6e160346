package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/trident-re/mailroom/internal/actions"
	"github.com/trident-re/mailroom/internal/ai"
	"github.com/trident-re/mailroom/internal/config"
	"github.com/trident-re/mailroom/internal/extract"
	"github.com/trident-re/mailroom/internal/mailbox"
	"github.com/trident-re/mailroom/internal/match"
	"github.com/trident-re/mailroom/internal/property"
	"github.com/trident-re/mailroom/internal/queue"
	"github.com/trident-re/mailroom/internal/respond"
)

// Mailbox is the slice of the IMAP client the poll loop uses
type Mailbox interface {
	Connect(ctx context.Context) error
	Disconnect() error
	FetchUnread(ctx context.Context, max int) ([]mailbox.Message, error)
	MarkRead(uid uint32) error
}

// Classifier is the slice of the AI client the stages use
type Classifier interface {
	Classify(ctx context.Context, subject, body string, attachmentSummaries []string) (*ai.Classification, error)
	AnalyzeDocument(ctx context.Context, text, filename string) (*ai.DocumentAnalysis, error)
}

// Extractor converts one attachment into logical documents
type Extractor interface {
	Extract(ctx context.Context, filename, mimeType string, content []byte) ([]extract.Document, error)
}

// Matcher resolves extracted entities to a property
type Matcher interface {
	Match(entities ai.Entities, emailText string) (*match.Result, error)
}

// Generator derives tasks/events/notes and files documents
type Generator interface {
	Generate(rec *queue.EmailRecord, docs []queue.DocumentRecord, propertyID string, extra ai.Entities) (actions.Summary, error)
}

// Responder sends or queues templated replies
type Responder interface {
	Respond(ctx context.Context, rec *queue.EmailRecord, category string, vars map[string]string) (bool, error)
}

// CycleStats describes the most recent poll cycle
type CycleStats struct {
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
	Fetched      int           `json:"fetched"`
	Processed    int           `json:"processed"`
	Ignored      int           `json:"ignored"`
	ManualReview int           `json:"manual_review"`
	Failed       int           `json:"failed"`
	Err          string        `json:"error,omitempty"`
}

// Orchestrator owns the poll loop and drives every EmailRecord through the
// processing state machine. One instance is the process-wide run-lock:
// Start/Stop are idempotent and a second Start while running is refused.
type Orchestrator struct {
	cfg        *config.Config
	queue      *queue.Store
	props      *property.Store
	mailbox    Mailbox
	classifier Classifier
	extractor  Extractor
	matcher    Matcher
	generator  Generator
	responder  Responder

	mu        sync.Mutex
	running   bool
	stopping  bool
	stop      chan struct{}
	done      chan struct{}
	lastCycle CycleStats
}

func New(cfg *config.Config, qs *queue.Store, ps *property.Store, mb Mailbox,
	cl Classifier, ex Extractor, ma Matcher, gen Generator, resp Responder) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		queue:      qs,
		props:      ps,
		mailbox:    mb,
		classifier: cl,
		extractor:  ex,
		matcher:    ma,
		generator:  gen,
		responder:  resp,
	}
}

// Start launches the poll loop. Returns false if it was already running.
func (o *Orchestrator) Start() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	o.stop = make(chan struct{})
	o.done = make(chan struct{})

	go o.loop(o.stop, o.done)
	log.Printf("[pipeline] started, polling every %v", o.cfg.Pipeline.PollInterval())
	return true
}

// Stop halts the poll loop after the in-flight message finishes. Stopping an
// already-stopped orchestrator is a no-op, and only one concurrent caller
// gets to close the stop channel; the rest return false immediately.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	if !o.running || o.stopping {
		o.mu.Unlock()
		return false
	}
	o.stopping = true
	stop, done := o.stop, o.done
	o.mu.Unlock()

	close(stop)
	<-done

	o.mu.Lock()
	o.running = false
	o.stopping = false
	o.mu.Unlock()
	log.Printf("[pipeline] stopped")
	return true
}

// Running reports whether the poll loop is active
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// LastCycle returns the stats of the most recent poll cycle
func (o *Orchestrator) LastCycle() CycleStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastCycle
}

func (o *Orchestrator) loop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(o.cfg.Pipeline.PollInterval())
	defer ticker.Stop()

	for {
		o.runCycle(stop)
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// runCycle fetches one batch and processes it sequentially. Messages share a
// global AI rate budget, so parallelism here would only add contention.
func (o *Orchestrator) runCycle(stop chan struct{}) {
	stats := CycleStats{StartedAt: time.Now()}
	defer func() {
		stats.Duration = time.Since(stats.StartedAt)
		o.mu.Lock()
		o.lastCycle = stats
		o.mu.Unlock()
	}()

	// No mid-message abort: stop is only honored between messages, so a
	// half-processed record never gets left behind
	ctx := context.Background()

	if err := o.mailbox.Connect(ctx); err != nil {
		stats.Err = err.Error()
		log.Printf("[pipeline] mailbox connect failed: %v", err)
		return
	}
	defer o.mailbox.Disconnect()

	messages, err := o.mailbox.FetchUnread(ctx, o.cfg.Pipeline.BatchSize)
	if err != nil {
		stats.Err = err.Error()
		log.Printf("[pipeline] fetch failed: %v", err)
		return
	}
	stats.Fetched = len(messages)

	for i := range messages {
		select {
		case <-stop:
			return
		default:
		}
		o.ingest(ctx, &messages[i], &stats)
	}
}

// ingest persists one fetched message and runs it through the pipeline. No
// per-message failure is allowed to abort the cycle.
func (o *Orchestrator) ingest(ctx context.Context, msg *mailbox.Message, stats *CycleStats) {
	seen, err := o.queue.Seen(msg.UID)
	if err != nil {
		log.Printf("[pipeline] dedup check failed for uid %d: %v", msg.UID, err)
		return
	}
	if seen {
		return
	}

	rec := &queue.EmailRecord{
		UID:        msg.UID,
		MessageID:  msg.MessageID,
		ThreadID:   msg.ThreadID,
		From:       msg.From,
		To:         msg.To,
		Subject:    msg.Subject,
		TextBody:   msg.TextBody,
		HTMLBody:   msg.HTMLBody,
		ReceivedAt: msg.ReceivedAt,
	}
	if err := o.queue.InsertEmail(rec); err != nil {
		log.Printf("[pipeline] failed to persist uid %d: %v", msg.UID, err)
		return
	}

	claimed, err := o.queue.ClaimForProcessing(rec.ID)
	if err != nil || !claimed {
		log.Printf("[pipeline] could not claim email %d: %v", rec.ID, err)
		return
	}

	final := o.process(ctx, rec, msg.Attachments)
	switch final {
	case queue.StatusProcessed:
		stats.Processed++
	case queue.StatusIgnored:
		stats.Ignored++
	case queue.StatusManualReview:
		stats.ManualReview++
	case queue.StatusFailed:
		stats.Failed++
	}

	// The record is the source of truth; the read-flag is a convenience for
	// humans watching the inbox, set only once we know the email is ours.
	if final != queue.StatusFailed {
		if fresh, _ := o.queue.GetEmail(rec.ID); fresh != nil && fresh.PropertyRelated {
			if err := o.mailbox.MarkRead(msg.UID); err != nil {
				log.Printf("[pipeline] failed to mark uid %d read: %v", msg.UID, err)
			}
		}
	}
}

// pendingDoc is one extracted logical document awaiting persistence
type pendingDoc struct {
	doc        extract.Document
	docType    string
	confidence float64
	entities   ai.Entities
	tasks      []ai.SuggestedTask
}

// process drives one claimed EmailRecord to a terminal state and returns it.
// Every stage failure is caught here and recorded on the record.
func (o *Orchestrator) process(ctx context.Context, rec *queue.EmailRecord, attachments []mailbox.Attachment) queue.Status {
	// Stage 1: extraction. Per-attachment failures degrade, they don't abort.
	pending, summaries := o.extractAll(ctx, rec, attachments)

	// Persist every extracted document before any gating so attachment
	// content survives a failure or a detour through manual review. Filing
	// into the property store still waits for an accepted match.
	docs, err := o.persistDocuments(rec, pending)
	if err != nil {
		o.fail(rec.ID, fmt.Sprintf("document persistence failed: %v", err))
		return queue.StatusFailed
	}

	// Stage 2: classification
	cls, err := o.classifier.Classify(ctx, rec.Subject, bodyText(rec), summaries)
	if err != nil {
		reason := fmt.Sprintf("classification failed: %v", err)
		log.Printf("[pipeline] email %d: %s", rec.ID, reason)
		o.fail(rec.ID, reason)
		return queue.StatusFailed
	}
	if err := o.queue.SetClassification(rec.ID, cls.PropertyRelated, cls.Confidence, cls.Reason, string(cls.Raw)); err != nil {
		o.fail(rec.ID, err.Error())
		return queue.StatusFailed
	}

	if !cls.PropertyRelated {
		if o.cfg.Pipeline.RespondToIrrelevant {
			o.respond(ctx, rec, respond.CategoryNotRelated, nil)
		}
		o.setStatus(rec.ID, queue.StatusIgnored)
		return queue.StatusIgnored
	}

	// Stage 3: per-document analysis, with rule-based fallback
	entities := cls.Entities
	o.analyzeAll(ctx, rec.ID, pending, &entities)
	o.storeAnalysis(docs, pending)

	// Stage 4: matching and threshold gating
	result, err := o.matcher.Match(entities, rec.Subject+"\n"+bodyText(rec))
	if err != nil {
		reason := fmt.Sprintf("matching failed: %v", err)
		o.fail(rec.ID, reason)
		return queue.StatusFailed
	}

	accept := o.cfg.Matching.AcceptThreshold
	review := o.cfg.Matching.ReviewThreshold

	switch {
	case result == nil || result.Confidence < review:
		// No usable match: discard anything below the review gate and hand
		// the email to a human, telling the sender we couldn't place it
		if result != nil {
			if err := o.queue.ClearMatch(rec.ID); err != nil {
				log.Printf("[pipeline] email %d: %v", rec.ID, err)
			}
		}
		o.respond(ctx, rec, respond.CategoryNotFound, map[string]string{
			"SenderName": senderName(rec.From),
			"Subject":    rec.Subject,
		})
		o.setStatus(rec.ID, queue.StatusManualReview)
		return queue.StatusManualReview

	case result.Confidence < accept:
		// Mid-band: record the tentative match but require a human to confirm
		// before any artifacts are generated
		if err := o.queue.SetMatch(rec.ID, result.PropertyID, result.Confidence, result.Method, result.Detail, true); err != nil {
			o.fail(rec.ID, err.Error())
			return queue.StatusFailed
		}
		o.respond(ctx, rec, respond.CategoryManualReview, map[string]string{
			"SenderName":      senderName(rec.From),
			"PropertyAddress": o.propertyAddress(result.PropertyID),
		})
		o.setStatus(rec.ID, queue.StatusManualReview)
		return queue.StatusManualReview
	}

	if err := o.queue.SetMatch(rec.ID, result.PropertyID, result.Confidence, result.Method, result.Detail, false); err != nil {
		o.fail(rec.ID, err.Error())
		return queue.StatusFailed
	}

	// Stage 5: duplicate marking and artifact generation
	if err := o.markDuplicates(rec, docs, result.PropertyID); err != nil {
		o.fail(rec.ID, fmt.Sprintf("duplicate check failed: %v", err))
		return queue.StatusFailed
	}

	summary, err := o.generator.Generate(rec, docs, result.PropertyID, entities)
	if err != nil {
		o.fail(rec.ID, fmt.Sprintf("action generation failed: %v", err))
		return queue.StatusFailed
	}

	// Stage 6: response. Failure here is logged, never fatal to the record.
	o.respond(ctx, rec, respond.CategoryMatched, map[string]string{
		"SenderName":      senderName(rec.From),
		"PropertyAddress": o.propertyAddress(result.PropertyID),
		"ActionSummary":   summary.String(),
	})

	o.setStatus(rec.ID, queue.StatusProcessed)
	return queue.StatusProcessed
}

// extractAll runs the extractor over every attachment. Failures are recorded
// per attachment; the message proceeds with whatever succeeded.
func (o *Orchestrator) extractAll(ctx context.Context, rec *queue.EmailRecord, attachments []mailbox.Attachment) ([]pendingDoc, []string) {
	var pending []pendingDoc
	var summaries []string

	for _, att := range attachments {
		docs, err := o.extractor.Extract(ctx, att.Filename, att.MimeType, att.Content)
		if err != nil {
			log.Printf("[pipeline] email %d: extraction failed for %s: %v", rec.ID, att.Filename, err)
			summaries = append(summaries, fmt.Sprintf("%s (unreadable)", att.Filename))
			continue
		}
		for _, doc := range docs {
			pending = append(pending, pendingDoc{doc: doc})
			summaries = append(summaries, summarize(doc))
		}
	}
	return pending, summaries
}

// analyzeAll types each document. Content an earlier email already carried
// reuses that analysis instead of spending an AI call; otherwise the AI
// service is asked, falling back to the filename/title heuristic plus
// rule-based entity harvesting when it fails.
func (o *Orchestrator) analyzeAll(ctx context.Context, emailID int64, pending []pendingDoc, entities *ai.Entities) {
	for i := range pending {
		p := &pending[i]

		if prior := o.priorAnalysis(p.doc.Hash, emailID); prior != nil {
			p.docType = prior.DocType
			p.confidence = prior.Confidence
			p.entities, p.tasks = decodeEntities(prior.Entities)
			entities.Merge(p.entities)
			continue
		}

		analysis, err := o.classifier.AnalyzeDocument(ctx, p.doc.Text, p.doc.Filename)
		if err != nil {
			log.Printf("[pipeline] document analysis failed for %s, using heuristics: %v", p.doc.Filename, err)
			p.docType, p.confidence = extract.InferDocType(p.doc.Filename, p.doc.Text)
			p.entities = extract.HarvestEntities(p.doc.Text)
		} else {
			p.docType = analysis.DocType
			p.confidence = analysis.Confidence
			p.entities = analysis.Entities
			p.tasks = analysis.SuggestedTasks
		}
		entities.Merge(p.entities)
	}
}

// priorAnalysis finds another email's analysis of the same content, if any
func (o *Orchestrator) priorAnalysis(hash string, emailID int64) *queue.DocumentRecord {
	prior, err := o.queue.FindDuplicate(hash, "", true)
	if err != nil || prior == nil {
		return nil
	}
	if prior.EmailID == emailID || prior.DocType == "" {
		return nil
	}
	return prior
}

// persistDocuments writes one DocumentRecord per extracted document as soon
// as extraction finishes, content included, so the attachment is recoverable
// from any later state. Typing and duplicate flags are filled in later.
func (o *Orchestrator) persistDocuments(rec *queue.EmailRecord, pending []pendingDoc) ([]queue.DocumentRecord, error) {
	var out []queue.DocumentRecord
	for _, p := range pending {
		doc := queue.DocumentRecord{
			EmailID:   rec.ID,
			Filename:  p.doc.Filename,
			MimeType:  p.doc.MimeType,
			SizeBytes: int64(len(p.doc.Content)),
			FileHash:  p.doc.Hash,
			PageStart: p.doc.PageStart,
			PageEnd:   p.doc.PageEnd,
			Text:      p.doc.Text,
			Content:   p.doc.Content,
		}
		if err := o.queue.InsertDocument(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// storeAnalysis copies each document's analysis onto its stored row. An
// empty docType keeps whatever typing the row already carries.
func (o *Orchestrator) storeAnalysis(docs []queue.DocumentRecord, pending []pendingDoc) {
	for i := range docs {
		if i >= len(pending) {
			return
		}
		if pending[i].docType != "" {
			docs[i].DocType = pending[i].docType
			docs[i].Confidence = pending[i].confidence
		}
		docs[i].Entities = encodeEntities(pending[i].entities, pending[i].tasks)
		if err := o.queue.UpdateDocumentAnalysis(docs[i].ID, docs[i].DocType, docs[i].Confidence, docs[i].Entities); err != nil {
			log.Printf("[pipeline] failed to store analysis for document %d: %v", docs[i].ID, err)
		}
	}
}

// markDuplicates flags documents whose content hash was already filed and
// drops their stored payload, keeping a single copy per property (or
// globally, when configured). Runs once a property is known; two identical
// attachments on the same email stay as one record each.
func (o *Orchestrator) markDuplicates(rec *queue.EmailRecord, docs []queue.DocumentRecord, propertyID string) error {
	for i := range docs {
		if docs[i].Duplicate {
			continue
		}
		prior, err := o.queue.FindDuplicate(docs[i].FileHash, propertyID, o.cfg.Matching.GlobalDedup)
		if err != nil {
			return err
		}
		if prior == nil || prior.ID == docs[i].ID || prior.EmailID == rec.ID {
			continue
		}
		if err := o.queue.MarkDocumentDuplicate(docs[i].ID); err != nil {
			return err
		}
		docs[i].Duplicate = true
		docs[i].Content = nil
	}
	return nil
}

// Reprocess resets a failed or review-parked record and runs it through the
// pipeline again using its stored bodies and documents.
func (o *Orchestrator) Reprocess(ctx context.Context, emailID int64) error {
	rec, err := o.queue.GetEmail(emailID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("email %d not found", emailID)
	}

	claimed, err := o.queue.ClaimForProcessing(emailID,
		queue.StatusFailed, queue.StatusManualReview, queue.StatusPending)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("email %d is not eligible for reprocessing (status %s)", emailID, rec.Status)
	}

	docs, err := o.queue.ListDocumentsByEmail(emailID)
	if err != nil {
		return err
	}

	// Stored documents stand in for the original attachments; they carry the
	// already-extracted text so no re-download is needed
	pending := make([]pendingDoc, 0, len(docs))
	summaries := make([]string, 0, len(docs))
	for _, d := range docs {
		pd := pendingDoc{doc: extract.Document{
			Filename:  d.Filename,
			MimeType:  d.MimeType,
			Content:   d.Content,
			Hash:      d.FileHash,
			PageStart: d.PageStart,
			PageEnd:   d.PageEnd,
			Text:      d.Text,
		}}
		pending = append(pending, pd)
		summaries = append(summaries, summarize(pd.doc))
	}

	final := o.processStored(ctx, rec, pending, summaries, docs)
	log.Printf("[pipeline] reprocessed email %d -> %s", emailID, final)
	return nil
}

// processStored mirrors process() for a record whose documents are already
// persisted.
func (o *Orchestrator) processStored(ctx context.Context, rec *queue.EmailRecord, pending []pendingDoc, summaries []string, stored []queue.DocumentRecord) queue.Status {
	cls, err := o.classifier.Classify(ctx, rec.Subject, bodyText(rec), summaries)
	if err != nil {
		o.fail(rec.ID, fmt.Sprintf("classification failed: %v", err))
		return queue.StatusFailed
	}
	if err := o.queue.SetClassification(rec.ID, cls.PropertyRelated, cls.Confidence, cls.Reason, string(cls.Raw)); err != nil {
		o.fail(rec.ID, err.Error())
		return queue.StatusFailed
	}

	if !cls.PropertyRelated {
		o.setStatus(rec.ID, queue.StatusIgnored)
		return queue.StatusIgnored
	}

	entities := cls.Entities
	o.analyzeAll(ctx, rec.ID, pending, &entities)

	result, err := o.matcher.Match(entities, rec.Subject+"\n"+bodyText(rec))
	if err != nil {
		o.fail(rec.ID, fmt.Sprintf("matching failed: %v", err))
		return queue.StatusFailed
	}

	accept := o.cfg.Matching.AcceptThreshold
	review := o.cfg.Matching.ReviewThreshold

	// The review replies below are suppressed when the first pass already
	// sent one, so operator retries never spam the sender
	if result == nil || result.Confidence < review {
		if result != nil {
			o.queue.ClearMatch(rec.ID)
		}
		if !rec.ResponseSent {
			o.respond(ctx, rec, respond.CategoryNotFound, map[string]string{
				"SenderName": senderName(rec.From),
				"Subject":    rec.Subject,
			})
		}
		o.setStatus(rec.ID, queue.StatusManualReview)
		return queue.StatusManualReview
	}
	needsReview := result.Confidence < accept
	if err := o.queue.SetMatch(rec.ID, result.PropertyID, result.Confidence, result.Method, result.Detail, needsReview); err != nil {
		o.fail(rec.ID, err.Error())
		return queue.StatusFailed
	}
	if needsReview {
		if !rec.ResponseSent {
			o.respond(ctx, rec, respond.CategoryManualReview, map[string]string{
				"SenderName":      senderName(rec.From),
				"PropertyAddress": o.propertyAddress(result.PropertyID),
			})
		}
		o.setStatus(rec.ID, queue.StatusManualReview)
		return queue.StatusManualReview
	}

	// Refresh per-document analysis on the stored rows before generation
	o.storeAnalysis(stored, pending)
	if err := o.markDuplicates(rec, stored, result.PropertyID); err != nil {
		o.fail(rec.ID, fmt.Sprintf("duplicate check failed: %v", err))
		return queue.StatusFailed
	}

	summary, err := o.generator.Generate(rec, stored, result.PropertyID, entities)
	if err != nil {
		o.fail(rec.ID, fmt.Sprintf("action generation failed: %v", err))
		return queue.StatusFailed
	}

	o.respond(ctx, rec, respond.CategoryMatched, map[string]string{
		"SenderName":      senderName(rec.From),
		"PropertyAddress": o.propertyAddress(result.PropertyID),
		"ActionSummary":   summary.String(),
	})
	o.setStatus(rec.ID, queue.StatusProcessed)
	return queue.StatusProcessed
}

// AssignProperty is the manual override: an operator pins the record to a
// property with confidence 1.0. Re-assigning the same property is a no-op.
func (o *Orchestrator) AssignProperty(ctx context.Context, emailID int64, propertyID string) error {
	rec, err := o.queue.GetEmail(emailID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("email %d not found", emailID)
	}

	prop, err := o.props.Get(propertyID)
	if err != nil {
		return err
	}
	if prop == nil {
		return fmt.Errorf("property %s not found", propertyID)
	}

	if rec.PropertyID == propertyID && rec.MatchMethod == queue.MethodManual && rec.Status == queue.StatusProcessed {
		return nil
	}

	claimed, err := o.queue.ClaimForProcessing(emailID,
		queue.StatusManualReview, queue.StatusFailed, queue.StatusProcessed, queue.StatusIgnored, queue.StatusPending)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("email %d is busy (status %s)", emailID, rec.Status)
	}

	detail, _ := json.Marshal(map[string]string{"strategy": "manual", "assigned_by": "operator"})
	if err := o.queue.SetMatch(emailID, propertyID, 1.0, queue.MethodManual, string(detail), false); err != nil {
		o.fail(emailID, err.Error())
		return err
	}

	docs, err := o.queue.ListDocumentsByEmail(emailID)
	if err != nil {
		o.fail(emailID, err.Error())
		return err
	}
	if err := o.markDuplicates(rec, docs, propertyID); err != nil {
		o.fail(emailID, err.Error())
		return err
	}

	summary, err := o.generator.Generate(rec, docs, propertyID, ai.Entities{})
	if err != nil {
		o.fail(emailID, fmt.Sprintf("action generation failed: %v", err))
		return err
	}

	o.respond(ctx, rec, respond.CategoryMatched, map[string]string{
		"SenderName":      senderName(rec.From),
		"PropertyAddress": prop.Address,
		"ActionSummary":   summary.String(),
	})
	return o.queue.SetStatus(emailID, queue.StatusProcessed)
}

func (o *Orchestrator) respond(ctx context.Context, rec *queue.EmailRecord, category string, vars map[string]string) {
	if vars == nil {
		vars = map[string]string{"SenderName": senderName(rec.From)}
	}
	if _, err := o.responder.Respond(ctx, rec, category, vars); err != nil {
		log.Printf("[pipeline] email %d: response %s failed: %v", rec.ID, category, err)
	}
}

func (o *Orchestrator) fail(id int64, reason string) {
	if err := o.queue.Fail(id, reason); err != nil {
		log.Printf("[pipeline] failed to record failure for email %d: %v", id, err)
	}
}

func (o *Orchestrator) setStatus(id int64, status queue.Status) {
	if err := o.queue.SetStatus(id, status); err != nil {
		log.Printf("[pipeline] failed to set email %d to %s: %v", id, status, err)
	}
}

func (o *Orchestrator) propertyAddress(propertyID string) string {
	p, err := o.props.Get(propertyID)
	if err != nil || p == nil {
		return ""
	}
	return p.Address
}

func bodyText(rec *queue.EmailRecord) string {
	if rec.TextBody != "" {
		return rec.TextBody
	}
	if rec.HTMLBody != "" {
		if text, err := extract.HTMLToText(rec.HTMLBody); err == nil {
			return text
		}
	}
	return ""
}

func senderName(from string) string {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return from
	}
	if addr.Name != "" {
		return addr.Name
	}
	// Fall back to the mailbox part of the address
	if i := strings.Index(addr.Address, "@"); i > 0 {
		return addr.Address[:i]
	}
	return addr.Address
}

// summarize gives the classifier a one-line view of an attachment
func summarize(doc extract.Document) string {
	text := strings.Join(strings.Fields(doc.Text), " ")
	if len(text) > 200 {
		// Back off to a rune boundary so the cut never splits a character
		cut := 200
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	if text == "" {
		return doc.Filename
	}
	return fmt.Sprintf("%s: %s", doc.Filename, text)
}

// encodeEntities serializes a document's entities and suggested tasks into
// the record's JSON payload column.
func encodeEntities(e ai.Entities, tasks []ai.SuggestedTask) string {
	payload := struct {
		ai.Entities
		SuggestedTasks []ai.SuggestedTask `json:"suggested_tasks,omitempty"`
	}{e, tasks}
	b, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(b)
}

// decodeEntities is the inverse of encodeEntities
func decodeEntities(s string) (ai.Entities, []ai.SuggestedTask) {
	var payload struct {
		ai.Entities
		SuggestedTasks []ai.SuggestedTask `json:"suggested_tasks,omitempty"`
	}
	if s == "" || json.Unmarshal([]byte(s), &payload) != nil {
		return ai.Entities{}, nil
	}
	return payload.Entities, payload.SuggestedTasks
}
