package queue

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Status is the processing state of an EmailRecord
type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusProcessed    Status = "processed"
	StatusFailed       Status = "failed"
	StatusIgnored      Status = "ignored"
	StatusManualReview Status = "manual_review"
)

// MatchMethod identifies which strategy produced a property match
type MatchMethod string

const (
	MethodMLS          MatchMethod = "mls"
	MethodLoan         MatchMethod = "loan"
	MethodAddressExact MatchMethod = "address_exact"
	MethodClientName   MatchMethod = "client_name"
	MethodAddressFuzzy MatchMethod = "address_fuzzy"
	MethodCombined     MatchMethod = "combined"
	MethodManual       MatchMethod = "manual"
)

// EmailRecord is one inbound message moving through the pipeline. The row is
// the source of truth for processing state; mailbox read-flags are only a
// best-effort convenience.
type EmailRecord struct {
	ID        int64
	UID       uint32 // Mailbox-assigned unique id, used for dedup
	MessageID string
	ThreadID  string

	From       string
	To         string
	Subject    string
	TextBody   string
	HTMLBody   string
	ReceivedAt time.Time

	// Classification result
	PropertyRelated    bool
	ClassifyConfidence float64
	ClassifyReason     string
	RawClassification  string // Opaque classifier payload, kept for audit

	// Match result
	PropertyID      string // Empty when unmatched
	MatchConfidence sql.NullFloat64
	MatchMethod     MatchMethod
	MatchDetail     string // Opaque match payload, kept for audit
	NeedsReview     bool

	Status Status
	Error  string

	// Derived counters, monotonically non-decreasing
	DocumentsSaved int
	TasksCreated   int
	EventsCreated  int
	NotesAdded     int

	ResponseSent     bool
	ResponseTemplate string

	CreatedAt   time.Time
	ProcessedAt sql.NullTime
}

// DocumentRecord is one attachment, or one logical sub-document of a split
// PDF bundle. Immutable after creation except for the filing fields.
type DocumentRecord struct {
	ID         int64
	EmailID    int64
	Filename   string
	MimeType   string
	SizeBytes  int64
	FileHash   string // sha256 of Content, used for resend dedup
	Content    []byte
	PageStart  int // 1-based page range within the source attachment (0 = whole file)
	PageEnd    int
	Text       string
	DocType    string
	Confidence float64
	Entities   string // JSON-encoded extracted entities
	Duplicate  bool
	PropertyID string // Set when filed into the property store
	FiledDocID string
	CreatedAt  time.Time
}

// ArtifactKind distinguishes generated side effects
type ArtifactKind string

const (
	ArtifactTask     ArtifactKind = "task"
	ArtifactEvent    ArtifactKind = "event"
	ArtifactNote     ArtifactKind = "note"
	ArtifactDocument ArtifactKind = "document"
)

// Artifact links one generated task/event/note back to its originating
// EmailRecord so generation can be audited and replayed idempotently.
type Artifact struct {
	ID        string
	EmailID   int64
	Kind      ArtifactKind
	RefID     string // Id of the row created in the property store
	DedupKey  string // Stable key; re-generation skips keys already present
	Reason    string
	CreatedAt time.Time
}

// DraftStatus is the review state of a queued response draft
type DraftStatus string

const (
	DraftPending   DraftStatus = "pending"
	DraftApproved  DraftStatus = "approved"
	DraftDiscarded DraftStatus = "discarded"
)

// Draft is a rendered response waiting for operator approval
type Draft struct {
	ID        string
	EmailID   int64
	Category  string
	To        string
	Subject   string
	TextBody  string
	HTMLBody  string
	Status    DraftStatus
	CreatedAt time.Time
}

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// DB exposes the underlying handle so the property store can share the same
// database file and transactions.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS email_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid INTEGER NOT NULL UNIQUE,
		message_id TEXT,
		thread_id TEXT,
		from_addr TEXT NOT NULL,
		to_addr TEXT,
		subject TEXT,
		text_body TEXT,
		html_body TEXT,
		received_at DATETIME,
		property_related INTEGER DEFAULT 0,
		classify_confidence REAL DEFAULT 0,
		classify_reason TEXT,
		raw_classification TEXT,
		property_id TEXT,
		match_confidence REAL,
		match_method TEXT,
		match_detail TEXT,
		needs_review INTEGER DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT,
		documents_saved INTEGER DEFAULT 0,
		tasks_created INTEGER DEFAULT 0,
		events_created INTEGER DEFAULT 0,
		notes_added INTEGER DEFAULT 0,
		response_sent INTEGER DEFAULT 0,
		response_template TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_eq_status ON email_queue(status);
	CREATE INDEX IF NOT EXISTS idx_eq_property ON email_queue(property_id);
	CREATE INDEX IF NOT EXISTS idx_eq_received ON email_queue(received_at);

	CREATE TABLE IF NOT EXISTS document_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email_id INTEGER NOT NULL REFERENCES email_queue(id),
		filename TEXT,
		mime_type TEXT,
		size_bytes INTEGER DEFAULT 0,
		file_hash TEXT NOT NULL,
		content BLOB,
		page_start INTEGER DEFAULT 0,
		page_end INTEGER DEFAULT 0,
		extracted_text TEXT,
		doc_type TEXT,
		confidence REAL DEFAULT 0,
		entities TEXT,
		duplicate INTEGER DEFAULT 0,
		property_id TEXT,
		filed_doc_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_dr_email ON document_records(email_id);
	CREATE INDEX IF NOT EXISTS idx_dr_hash ON document_records(file_hash);

	CREATE TABLE IF NOT EXISTS generated_artifacts (
		id TEXT PRIMARY KEY,
		email_id INTEGER NOT NULL REFERENCES email_queue(id),
		kind TEXT NOT NULL,
		ref_id TEXT,
		dedup_key TEXT NOT NULL,
		reason TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(email_id, dedup_key)
	);

	CREATE INDEX IF NOT EXISTS idx_ga_email ON generated_artifacts(email_id);

	CREATE TABLE IF NOT EXISTS response_drafts (
		id TEXT PRIMARY KEY,
		email_id INTEGER NOT NULL REFERENCES email_queue(id),
		category TEXT NOT NULL,
		to_addr TEXT NOT NULL,
		subject TEXT,
		text_body TEXT,
		html_body TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_rd_status ON response_drafts(status);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

const emailColumns = `id, uid, message_id, thread_id, from_addr, to_addr, subject, text_body, html_body,
	received_at, property_related, classify_confidence, classify_reason, raw_classification,
	property_id, match_confidence, match_method, match_detail, needs_review, status, error,
	documents_saved, tasks_created, events_created, notes_added, response_sent, response_template,
	created_at, processed_at`

// scanEmail handles nullable columns when scanning a row
func scanEmail(scanner interface{ Scan(...any) error }) (*EmailRecord, error) {
	var r EmailRecord
	var messageID, threadID, toAddr, subject, textBody, htmlBody sql.NullString
	var classifyReason, rawClassification, propertyID, matchMethod, matchDetail sql.NullString
	var errStr, responseTemplate sql.NullString
	var receivedAt, createdAt sql.NullTime
	var propertyRelated, needsReview, responseSent int

	err := scanner.Scan(&r.ID, &r.UID, &messageID, &threadID, &r.From, &toAddr, &subject,
		&textBody, &htmlBody, &receivedAt, &propertyRelated, &r.ClassifyConfidence,
		&classifyReason, &rawClassification, &propertyID, &r.MatchConfidence, &matchMethod,
		&matchDetail, &needsReview, &r.Status, &errStr, &r.DocumentsSaved, &r.TasksCreated,
		&r.EventsCreated, &r.NotesAdded, &responseSent, &responseTemplate, &createdAt, &r.ProcessedAt)
	if err != nil {
		return nil, err
	}

	r.MessageID = messageID.String
	r.ThreadID = threadID.String
	r.To = toAddr.String
	r.Subject = subject.String
	r.TextBody = textBody.String
	r.HTMLBody = htmlBody.String
	r.ReceivedAt = receivedAt.Time
	r.PropertyRelated = propertyRelated == 1
	r.ClassifyReason = classifyReason.String
	r.RawClassification = rawClassification.String
	r.PropertyID = propertyID.String
	r.MatchMethod = MatchMethod(matchMethod.String)
	r.MatchDetail = matchDetail.String
	r.NeedsReview = needsReview == 1
	r.Error = errStr.String
	r.ResponseSent = responseSent == 1
	r.ResponseTemplate = responseTemplate.String
	r.CreatedAt = createdAt.Time
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ==================== EmailRecord methods ====================

// Seen reports whether the mailbox-assigned uid is already known. Defends
// against duplicate fetches of the same message.
func (s *Store) Seen(uid uint32) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM email_queue WHERE uid = ?`, uid).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check uid: %w", err)
	}
	return n > 0, nil
}

// InsertEmail creates a new pending EmailRecord
func (s *Store) InsertEmail(r *EmailRecord) error {
	query := `
	INSERT INTO email_queue (uid, message_id, thread_id, from_addr, to_addr, subject,
		text_body, html_body, received_at, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if r.Status == "" {
		r.Status = StatusPending
	}
	result, err := s.db.Exec(query, r.UID, r.MessageID, r.ThreadID, r.From, r.To,
		r.Subject, r.TextBody, r.HTMLBody, r.ReceivedAt, r.Status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert email record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	r.ID = id
	return nil
}

func (s *Store) GetEmail(id int64) (*EmailRecord, error) {
	record, err := scanEmail(s.db.QueryRow(
		`SELECT `+emailColumns+` FROM email_queue WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query email record: %w", err)
	}
	return record, nil
}

// ListEmails returns records filtered by status (empty = all), newest first
func (s *Store) ListEmails(status Status, limit int) ([]EmailRecord, error) {
	var rows *sql.Rows
	var err error

	if status != "" {
		rows, err = s.db.Query(`SELECT `+emailColumns+` FROM email_queue
			WHERE status = ? ORDER BY received_at DESC LIMIT ?`, status, limit)
	} else {
		rows, err = s.db.Query(`SELECT `+emailColumns+` FROM email_queue
			ORDER BY received_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query email records: %w", err)
	}
	defer rows.Close()

	var records []EmailRecord
	for rows.Next() {
		record, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// ClaimForProcessing atomically moves a record from an eligible state into
// processing. Returns false if the record was not in an eligible state,
// which prevents two pollers from claiming the same message.
func (s *Store) ClaimForProcessing(id int64, from ...Status) (bool, error) {
	if len(from) == 0 {
		from = []Status{StatusPending}
	}

	args := []any{StatusProcessing, id}
	placeholders := ""
	for i, st := range from {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, st)
	}

	result, err := s.db.Exec(
		`UPDATE email_queue SET status = ?, error = '' WHERE id = ? AND status IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return false, fmt.Errorf("failed to claim email record: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) SetStatus(id int64, status Status) error {
	var err error
	if status == StatusProcessed || status == StatusIgnored || status == StatusFailed {
		_, err = s.db.Exec(`UPDATE email_queue SET status = ?, processed_at = ? WHERE id = ?`,
			status, time.Now(), id)
	} else {
		_, err = s.db.Exec(`UPDATE email_queue SET status = ? WHERE id = ?`, status, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

// Fail marks the record failed with the stored error text
func (s *Store) Fail(id int64, reason string) error {
	_, err := s.db.Exec(`UPDATE email_queue SET status = ?, error = ?, processed_at = ? WHERE id = ?`,
		StatusFailed, reason, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark record failed: %w", err)
	}
	return nil
}

// SetClassification records the classifier verdict plus the raw payload
func (s *Store) SetClassification(id int64, related bool, confidence float64, reason, raw string) error {
	_, err := s.db.Exec(`UPDATE email_queue SET property_related = ?, classify_confidence = ?,
		classify_reason = ?, raw_classification = ? WHERE id = ?`,
		boolInt(related), confidence, reason, raw, id)
	if err != nil {
		return fmt.Errorf("failed to set classification: %w", err)
	}
	return nil
}

// SetMatch records an accepted or review-flagged property match
func (s *Store) SetMatch(id int64, propertyID string, confidence float64, method MatchMethod, detail string, needsReview bool) error {
	_, err := s.db.Exec(`UPDATE email_queue SET property_id = ?, match_confidence = ?,
		match_method = ?, match_detail = ?, needs_review = ? WHERE id = ?`,
		propertyID, confidence, method, detail, boolInt(needsReview), id)
	if err != nil {
		return fmt.Errorf("failed to set match: %w", err)
	}
	return nil
}

// ClearMatch discards a below-review-threshold match
func (s *Store) ClearMatch(id int64) error {
	_, err := s.db.Exec(`UPDATE email_queue SET property_id = NULL, match_confidence = NULL,
		match_method = '', match_detail = '', needs_review = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to clear match: %w", err)
	}
	return nil
}

// SetCounters updates the derived counters; values only ever grow
func (s *Store) SetCounters(id int64, docs, tasks, events, notes int) error {
	_, err := s.db.Exec(`UPDATE email_queue SET
		documents_saved = MAX(documents_saved, ?),
		tasks_created = MAX(tasks_created, ?),
		events_created = MAX(events_created, ?),
		notes_added = MAX(notes_added, ?)
		WHERE id = ?`, docs, tasks, events, notes, id)
	if err != nil {
		return fmt.Errorf("failed to update counters: %w", err)
	}
	return nil
}

func (s *Store) MarkResponded(id int64, templateCategory string) error {
	_, err := s.db.Exec(`UPDATE email_queue SET response_sent = 1, response_template = ? WHERE id = ?`,
		templateCategory, id)
	if err != nil {
		return fmt.Errorf("failed to mark response sent: %w", err)
	}
	return nil
}

// Stats aggregates queue counts by status since the given time (zero = all)
func (s *Store) Stats(since time.Time) (map[Status]int, error) {
	var rows *sql.Rows
	var err error

	if since.IsZero() {
		rows, err = s.db.Query(`SELECT status, COUNT(*) FROM email_queue GROUP BY status`)
	} else {
		rows, err = s.db.Query(`SELECT status, COUNT(*) FROM email_queue
			WHERE received_at >= ? GROUP BY status`, since)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stat: %w", err)
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

// ==================== DocumentRecord methods ====================

func (s *Store) InsertDocument(d *DocumentRecord) error {
	query := `
	INSERT INTO document_records (email_id, filename, mime_type, size_bytes, file_hash, content,
		page_start, page_end, extracted_text, doc_type, confidence, entities, duplicate,
		property_id, filed_doc_id, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(query, d.EmailID, d.Filename, d.MimeType, d.SizeBytes, d.FileHash,
		d.Content, d.PageStart, d.PageEnd, d.Text, d.DocType, d.Confidence, d.Entities,
		boolInt(d.Duplicate), d.PropertyID, d.FiledDocID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert document record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	d.ID = id
	return nil
}

const documentColumns = `id, email_id, filename, mime_type, size_bytes, file_hash, content,
	page_start, page_end, extracted_text, doc_type, confidence, entities, duplicate,
	property_id, filed_doc_id, created_at`

func scanDocument(scanner interface{ Scan(...any) error }) (*DocumentRecord, error) {
	var d DocumentRecord
	var filename, mimeType, text, docType, entities, propertyID, filedDocID sql.NullString
	var duplicate int
	var createdAt sql.NullTime

	err := scanner.Scan(&d.ID, &d.EmailID, &filename, &mimeType, &d.SizeBytes, &d.FileHash,
		&d.Content, &d.PageStart, &d.PageEnd, &text, &docType, &d.Confidence, &entities,
		&duplicate, &propertyID, &filedDocID, &createdAt)
	if err != nil {
		return nil, err
	}

	d.Filename = filename.String
	d.MimeType = mimeType.String
	d.Text = text.String
	d.DocType = docType.String
	d.Entities = entities.String
	d.Duplicate = duplicate == 1
	d.PropertyID = propertyID.String
	d.FiledDocID = filedDocID.String
	d.CreatedAt = createdAt.Time
	return &d, nil
}

func (s *Store) GetDocument(id int64) (*DocumentRecord, error) {
	doc, err := scanDocument(s.db.QueryRow(
		`SELECT `+documentColumns+` FROM document_records WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document record: %w", err)
	}
	return doc, nil
}

func (s *Store) ListDocumentsByEmail(emailID int64) ([]DocumentRecord, error) {
	rows, err := s.db.Query(`SELECT `+documentColumns+` FROM document_records
		WHERE email_id = ? ORDER BY id`, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to query document records: %w", err)
	}
	defer rows.Close()

	var docs []DocumentRecord
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document record: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// FindDuplicate looks for a prior non-duplicate document with the same hash.
// With global=false the hash only counts as a duplicate when it was filed to
// the same property.
func (s *Store) FindDuplicate(hash, propertyID string, global bool) (*DocumentRecord, error) {
	var row *sql.Row
	if global {
		row = s.db.QueryRow(`SELECT `+documentColumns+` FROM document_records
			WHERE file_hash = ? AND duplicate = 0 ORDER BY id LIMIT 1`, hash)
	} else {
		if propertyID == "" {
			return nil, nil
		}
		row = s.db.QueryRow(`SELECT `+documentColumns+` FROM document_records
			WHERE file_hash = ? AND duplicate = 0 AND property_id = ? ORDER BY id LIMIT 1`,
			hash, propertyID)
	}

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicate: %w", err)
	}
	return doc, nil
}

// UpdateDocumentAnalysis refreshes a stored document's typing and entity
// payload once a later analysis pass has run.
func (s *Store) UpdateDocumentAnalysis(id int64, docType string, confidence float64, entities string) error {
	_, err := s.db.Exec(`UPDATE document_records SET doc_type = ?, confidence = ?, entities = ? WHERE id = ?`,
		docType, confidence, entities, id)
	if err != nil {
		return fmt.Errorf("failed to update document analysis: %w", err)
	}
	return nil
}

// MarkDocumentDuplicate flags a stored document as a duplicate of an already
// filed payload and drops its content blob; the original keeps the bytes.
func (s *Store) MarkDocumentDuplicate(id int64) error {
	_, err := s.db.Exec(`UPDATE document_records SET duplicate = 1, content = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark document duplicate: %w", err)
	}
	return nil
}

// MarkDocumentFiled records the 1:1 link into the property store's document
// table once the payload has been promoted.
func (s *Store) MarkDocumentFiled(id int64, propertyID, filedDocID string) error {
	_, err := s.db.Exec(`UPDATE document_records SET property_id = ?, filed_doc_id = ? WHERE id = ?`,
		propertyID, filedDocID, id)
	if err != nil {
		return fmt.Errorf("failed to mark document filed: %w", err)
	}
	return nil
}

// MarkDocumentFiledTx is MarkDocumentFiled inside the caller's transaction,
// used when filing commits together with the property-store write.
func (s *Store) MarkDocumentFiledTx(tx *sql.Tx, id int64, propertyID, filedDocID string) error {
	_, err := tx.Exec(`UPDATE document_records SET property_id = ?, filed_doc_id = ? WHERE id = ?`,
		propertyID, filedDocID, id)
	if err != nil {
		return fmt.Errorf("failed to mark document filed: %w", err)
	}
	return nil
}

// ==================== Artifact methods ====================

// InsertArtifactTx records an artifact link inside the caller's transaction
// so the link commits or rolls back together with the property-store write.
func (s *Store) InsertArtifactTx(tx *sql.Tx, a *Artifact) error {
	_, err := tx.Exec(`INSERT INTO generated_artifacts (id, email_id, kind, ref_id, dedup_key, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.EmailID, a.Kind, a.RefID, a.DedupKey, a.Reason, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert artifact: %w", err)
	}
	return nil
}

func (s *Store) ListArtifacts(emailID int64) ([]Artifact, error) {
	rows, err := s.db.Query(`SELECT id, email_id, kind, ref_id, dedup_key, reason, created_at
		FROM generated_artifacts WHERE email_id = ? ORDER BY created_at`, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []Artifact
	for rows.Next() {
		var a Artifact
		var refID, reason sql.NullString
		var createdAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.EmailID, &a.Kind, &refID, &a.DedupKey, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		a.RefID = refID.String
		a.Reason = reason.String
		a.CreatedAt = createdAt.Time
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// ArtifactKeys returns the dedup keys already generated for an email
func (s *Store) ArtifactKeys(emailID int64) (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT dedup_key FROM generated_artifacts WHERE email_id = ?`, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifact keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan artifact key: %w", err)
		}
		keys[key] = true
	}
	return keys, rows.Err()
}

// ==================== Response draft methods ====================

func (s *Store) InsertDraft(d *Draft) error {
	if d.Status == "" {
		d.Status = DraftPending
	}
	_, err := s.db.Exec(`INSERT INTO response_drafts (id, email_id, category, to_addr, subject,
		text_body, html_body, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.EmailID, d.Category, d.To, d.Subject, d.TextBody, d.HTMLBody, d.Status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert draft: %w", err)
	}
	return nil
}

func (s *Store) GetDraft(id string) (*Draft, error) {
	var d Draft
	var subject, textBody, htmlBody sql.NullString
	var createdAt sql.NullTime

	err := s.db.QueryRow(`SELECT id, email_id, category, to_addr, subject, text_body, html_body, status, created_at
		FROM response_drafts WHERE id = ?`, id).Scan(
		&d.ID, &d.EmailID, &d.Category, &d.To, &subject, &textBody, &htmlBody, &d.Status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query draft: %w", err)
	}

	d.Subject = subject.String
	d.TextBody = textBody.String
	d.HTMLBody = htmlBody.String
	d.CreatedAt = createdAt.Time
	return &d, nil
}

func (s *Store) ListDrafts(status DraftStatus) ([]Draft, error) {
	rows, err := s.db.Query(`SELECT id, email_id, category, to_addr, subject, text_body, html_body, status, created_at
		FROM response_drafts WHERE status = ? ORDER BY created_at DESC`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query drafts: %w", err)
	}
	defer rows.Close()

	var drafts []Draft
	for rows.Next() {
		var d Draft
		var subject, textBody, htmlBody sql.NullString
		var createdAt sql.NullTime
		if err := rows.Scan(&d.ID, &d.EmailID, &d.Category, &d.To, &subject, &textBody,
			&htmlBody, &d.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan draft: %w", err)
		}
		d.Subject = subject.String
		d.TextBody = textBody.String
		d.HTMLBody = htmlBody.String
		d.CreatedAt = createdAt.Time
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

func (s *Store) SetDraftStatus(id string, status DraftStatus) error {
	_, err := s.db.Exec(`UPDATE response_drafts SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update draft status: %w", err)
	}
	return nil
}
