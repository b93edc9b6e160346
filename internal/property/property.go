package property

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NoteDelimiter separates appended entries in a property's free-text notes
// field. Appends are additionally tracked row-by-row for audit.
const NoteDelimiter = "\n---\n"

// Property is the subset of the dashboard's property record the pipeline
// reads for matching and writes artifacts against.
type Property struct {
	ID          string
	Address     string
	AddressNorm string // Normalized form used for exact-address matching
	City        string
	State       string
	ZipCode     string
	MLSNumber   string
	LoanNumber  string // Canonical LN-<digits> form
	ClientName  string
	AgentName   string
	Status      string
	UpdatedAt   time.Time
}

// Candidate is the lightweight row set the fuzzy-address strategy scores
type Candidate struct {
	ID          string
	AddressNorm string
	UpdatedAt   time.Time
}

// Task is a to-do row created in the dashboard's task list
type Task struct {
	ID          string
	PropertyID  string
	Title       string
	Description string
	DueDate     sql.NullTime
	Status      string
}

// TimelineEvent is a dated calendar/timeline row with a type tag
type TimelineEvent struct {
	ID         string
	PropertyID string
	EventType  string // inspection, appraisal, closing, deadline
	Title      string
	EventDate  time.Time
}

// FiledDocument is an attachment promoted into the property store
type FiledDocument struct {
	ID         string
	PropertyID string
	Filename   string
	MimeType   string
	SizeBytes  int64
	FileHash   string
	Content    []byte
	DocType    string
	CreatedAt  time.Time
}

type Store struct {
	db *sql.DB
}

// NewStore prepares the property tables on a database handle shared with the
// pipeline queue, so action generation can commit both in one transaction.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS properties (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		address_norm TEXT NOT NULL,
		city TEXT,
		state TEXT,
		zip_code TEXT,
		mls_number TEXT,
		loan_number TEXT,
		client_name TEXT,
		agent_name TEXT,
		status TEXT DEFAULT 'Active',
		notes TEXT DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_prop_mls ON properties(mls_number);
	CREATE INDEX IF NOT EXISTS idx_prop_loan ON properties(loan_number);
	CREATE INDEX IF NOT EXISTS idx_prop_addr ON properties(address_norm);

	CREATE TABLE IF NOT EXISTS property_tasks (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL REFERENCES properties(id),
		title TEXT NOT NULL,
		description TEXT,
		due_date DATETIME,
		status TEXT DEFAULT 'pending',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_pt_property ON property_tasks(property_id);

	CREATE TABLE IF NOT EXISTS property_events (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL REFERENCES properties(id),
		event_type TEXT NOT NULL,
		title TEXT,
		event_date DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_pe_property ON property_events(property_id);

	CREATE TABLE IF NOT EXISTS property_notes (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL REFERENCES properties(id),
		body TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS property_documents (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL REFERENCES properties(id),
		filename TEXT,
		mime_type TEXT,
		size_bytes INTEGER DEFAULT 0,
		file_hash TEXT,
		content BLOB,
		doc_type TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_pd_property ON property_documents(property_id);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to migrate property tables: %w", err)
	}
	return nil
}

const propertyColumns = `id, address, address_norm, city, state, zip_code,
	mls_number, loan_number, client_name, agent_name, status, updated_at`

func scanProperty(scanner interface{ Scan(...any) error }) (*Property, error) {
	var p Property
	var city, state, zip, mls, loan, client, agent, status sql.NullString
	var updatedAt sql.NullTime

	err := scanner.Scan(&p.ID, &p.Address, &p.AddressNorm, &city, &state, &zip,
		&mls, &loan, &client, &agent, &status, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.City = city.String
	p.State = state.String
	p.ZipCode = zip.String
	p.MLSNumber = mls.String
	p.LoanNumber = loan.String
	p.ClientName = client.String
	p.AgentName = agent.String
	p.Status = status.String
	p.UpdatedAt = updatedAt.Time
	return &p, nil
}

// Insert creates a property row; used by tests and by the dashboard's
// import path, not by the pipeline itself.
func (s *Store) Insert(p *Property) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO properties (id, address, address_norm, city, state, zip_code,
		mls_number, loan_number, client_name, agent_name, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Address, p.AddressNorm, p.City, p.State, p.ZipCode,
		p.MLSNumber, p.LoanNumber, p.ClientName, p.AgentName, p.Status, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert property: %w", err)
	}
	return nil
}

func (s *Store) Get(id string) (*Property, error) {
	p, err := scanProperty(s.db.QueryRow(
		`SELECT `+propertyColumns+` FROM properties WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query property: %w", err)
	}
	return p, nil
}

func (s *Store) findOne(query string, args ...any) (*Property, error) {
	p, err := scanProperty(s.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query property: %w", err)
	}
	return p, nil
}

// FindByMLS looks up a property by exact MLS number
func (s *Store) FindByMLS(mls string) (*Property, error) {
	if mls == "" {
		return nil, nil
	}
	return s.findOne(`SELECT `+propertyColumns+` FROM properties
		WHERE mls_number = ? ORDER BY updated_at DESC LIMIT 1`, mls)
}

// FindByLoan looks up a property by canonical loan number
func (s *Store) FindByLoan(loan string) (*Property, error) {
	if loan == "" {
		return nil, nil
	}
	return s.findOne(`SELECT `+propertyColumns+` FROM properties
		WHERE loan_number = ? ORDER BY updated_at DESC LIMIT 1`, loan)
}

// FindByNormalizedAddress looks up a property by its normalized address
func (s *Store) FindByNormalizedAddress(norm string) (*Property, error) {
	if norm == "" {
		return nil, nil
	}
	return s.findOne(`SELECT `+propertyColumns+` FROM properties
		WHERE address_norm = ? ORDER BY updated_at DESC LIMIT 1`, norm)
}

// FindByClientName looks up a property by exact client name, case-insensitive
func (s *Store) FindByClientName(name string) (*Property, error) {
	if name == "" {
		return nil, nil
	}
	return s.findOne(`SELECT `+propertyColumns+` FROM properties
		WHERE LOWER(client_name) = LOWER(?) ORDER BY updated_at DESC LIMIT 1`, name)
}

// FindByClientSubstring looks up a property whose client name contains the
// given fragment (or the reverse), case-insensitive.
func (s *Store) FindByClientSubstring(fragment string) (*Property, error) {
	fragment = strings.ToLower(strings.TrimSpace(fragment))
	if fragment == "" {
		return nil, nil
	}
	return s.findOne(`SELECT `+propertyColumns+` FROM properties
		WHERE client_name != '' AND (INSTR(LOWER(client_name), ?) > 0 OR INSTR(?, LOWER(client_name)) > 0)
		ORDER BY updated_at DESC LIMIT 1`, fragment, fragment)
}

// FindByAgentName looks up a property by agent, used by the combined
// weak-signal strategy.
func (s *Store) FindByAgentName(name string) ([]Property, error) {
	if name == "" {
		return nil, nil
	}
	rows, err := s.db.Query(`SELECT `+propertyColumns+` FROM properties
		WHERE LOWER(agent_name) = LOWER(?) ORDER BY updated_at DESC`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties by agent: %w", err)
	}
	defer rows.Close()

	var props []Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		props = append(props, *p)
	}
	return props, rows.Err()
}

// Candidates returns all properties' normalized addresses for fuzzy scoring
func (s *Store) Candidates() ([]Candidate, error) {
	rows, err := s.db.Query(`SELECT id, address_norm, updated_at FROM properties`)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var c Candidate
		var updatedAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.AddressNorm, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		c.UpdatedAt = updatedAt.Time
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// ==================== Write methods ====================

// WithTx runs fn inside a transaction. Action generation uses one
// transaction per EmailRecord so a failure midway leaves no partial
// artifacts.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateTaskTx inserts a task row inside the caller's transaction
func (s *Store) CreateTaskTx(tx *sql.Tx, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = "pending"
	}
	_, err := tx.Exec(`INSERT INTO property_tasks (id, property_id, title, description, due_date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PropertyID, t.Title, t.Description, t.DueDate, t.Status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// CreateEventTx inserts a timeline event inside the caller's transaction
func (s *Store) CreateEventTx(tx *sql.Tx, e *TimelineEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := tx.Exec(`INSERT INTO property_events (id, property_id, event_type, title, event_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.PropertyID, e.EventType, e.Title, e.EventDate, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// AppendNoteTx appends to the property's free-text notes with the standard
// delimiter and records the entry separately for audit. Returns the audit
// row id.
func (s *Store) AppendNoteTx(tx *sql.Tx, propertyID, body string) (string, error) {
	_, err := tx.Exec(`UPDATE properties SET
		notes = CASE WHEN notes = '' THEN ? ELSE notes || ? || ? END,
		updated_at = ?
		WHERE id = ?`,
		body, NoteDelimiter, body, time.Now(), propertyID)
	if err != nil {
		return "", fmt.Errorf("failed to append note: %w", err)
	}

	id := uuid.New().String()
	_, err = tx.Exec(`INSERT INTO property_notes (id, property_id, body, created_at)
		VALUES (?, ?, ?, ?)`, id, propertyID, body, time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to record note: %w", err)
	}
	return id, nil
}

// FileDocumentTx promotes an attachment payload into the property store
func (s *Store) FileDocumentTx(tx *sql.Tx, d *FiledDocument) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	_, err := tx.Exec(`INSERT INTO property_documents (id, property_id, filename, mime_type,
		size_bytes, file_hash, content, doc_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.PropertyID, d.Filename, d.MimeType, d.SizeBytes, d.FileHash, d.Content,
		d.DocType, time.Now())
	if err != nil {
		return fmt.Errorf("failed to file document: %w", err)
	}
	return nil
}

// GetFiledDocument fetches a filed document including its binary payload
func (s *Store) GetFiledDocument(id string) (*FiledDocument, error) {
	var d FiledDocument
	var filename, mimeType, hash, docType sql.NullString
	var createdAt sql.NullTime

	err := s.db.QueryRow(`SELECT id, property_id, filename, mime_type, size_bytes, file_hash, content, doc_type, created_at
		FROM property_documents WHERE id = ?`, id).Scan(
		&d.ID, &d.PropertyID, &filename, &mimeType, &d.SizeBytes, &hash, &d.Content, &docType, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query filed document: %w", err)
	}

	d.Filename = filename.String
	d.MimeType = mimeType.String
	d.FileHash = hash.String
	d.DocType = docType.String
	d.CreatedAt = createdAt.Time
	return &d, nil
}

// Notes returns the property's free-text notes field
func (s *Store) Notes(propertyID string) (string, error) {
	var notes string
	err := s.db.QueryRow(`SELECT notes FROM properties WHERE id = ?`, propertyID).Scan(&notes)
	if err != nil {
		return "", fmt.Errorf("failed to query notes: %w", err)
	}
	return notes, nil
}
