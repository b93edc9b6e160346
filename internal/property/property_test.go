package property

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/trident-re/mailroom/internal/queue"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	qs, err := queue.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { qs.Close() })

	ps, err := NewStore(qs.DB())
	if err != nil {
		t.Fatalf("failed to prepare property tables: %v", err)
	}
	return ps
}

func seed(t *testing.T, s *Store, p Property) *Property {
	t.Helper()
	if err := s.Insert(&p); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return &p
}

func TestLookups(t *testing.T) {
	s := testStore(t)
	oak := seed(t, s, Property{
		Address:     "123 Oak Street",
		AddressNorm: "123 oak st",
		MLSNumber:   "ML1234567",
		LoanNumber:  "LN-555123",
		ClientName:  "Sarah Chen",
		AgentName:   "Mike Torres",
	})
	seed(t, s, Property{
		Address:     "456 Maple Avenue",
		AddressNorm: "456 maple ave",
		ClientName:  "Robert Delgado",
		AgentName:   "Mike Torres",
	})

	tests := []struct {
		name   string
		lookup func() (*Property, error)
		wantID string
	}{
		{"mls hit", func() (*Property, error) { return s.FindByMLS("ML1234567") }, oak.ID},
		{"mls miss", func() (*Property, error) { return s.FindByMLS("ML0000000") }, ""},
		{"mls empty", func() (*Property, error) { return s.FindByMLS("") }, ""},
		{"loan hit", func() (*Property, error) { return s.FindByLoan("LN-555123") }, oak.ID},
		{"address hit", func() (*Property, error) { return s.FindByNormalizedAddress("123 oak st") }, oak.ID},
		{"client exact case-insensitive", func() (*Property, error) { return s.FindByClientName("sarah chen") }, oak.ID},
		{"client substring", func() (*Property, error) { return s.FindByClientSubstring("Chen") }, oak.ID},
		{"client substring reverse", func() (*Property, error) { return s.FindByClientSubstring("Sarah Chen (buyer)") }, oak.ID},
		{"client substring miss", func() (*Property, error) { return s.FindByClientSubstring("Nguyen") }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.lookup()
			if err != nil {
				t.Fatal(err)
			}
			if tt.wantID == "" {
				if got != nil {
					t.Errorf("lookup = %+v, want nil", got)
				}
				return
			}
			if got == nil || got.ID != tt.wantID {
				t.Errorf("lookup = %+v, want id %s", got, tt.wantID)
			}
		})
	}
}

func TestFindByAgentName(t *testing.T) {
	s := testStore(t)
	seed(t, s, Property{Address: "123 Oak St", AddressNorm: "123 oak st", AgentName: "Mike Torres"})
	seed(t, s, Property{Address: "456 Maple Ave", AddressNorm: "456 maple ave", AgentName: "Mike Torres"})
	seed(t, s, Property{Address: "789 Pine Dr", AddressNorm: "789 pine dr", AgentName: "Dana Whitfield"})

	props, err := s.FindByAgentName("mike torres")
	if err != nil {
		t.Fatal(err)
	}
	if len(props) != 2 {
		t.Errorf("got %d properties for agent, want 2", len(props))
	}

	if props, _ := s.FindByAgentName(""); props != nil {
		t.Error("empty agent name returned rows")
	}
}

func TestCandidates(t *testing.T) {
	s := testStore(t)
	seed(t, s, Property{Address: "123 Oak St", AddressNorm: "123 oak st"})
	seed(t, s, Property{Address: "456 Maple Ave", AddressNorm: "456 maple ave", UpdatedAt: time.Now().Add(-time.Hour)})

	candidates, err := s.Candidates()
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 2 {
		t.Fatalf("got %d candidates", len(candidates))
	}
	for _, c := range candidates {
		if c.ID == "" || c.AddressNorm == "" || c.UpdatedAt.IsZero() {
			t.Errorf("candidate incomplete: %+v", c)
		}
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := testStore(t)
	p := seed(t, s, Property{Address: "123 Oak St", AddressNorm: "123 oak st"})

	wantErr := errors.New("boom")
	err := s.WithTx(func(tx *sql.Tx) error {
		if err := s.CreateTaskTx(tx, &Task{PropertyID: p.ID, Title: "Review contract"}); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithTx err = %v", err)
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM property_tasks`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("task survived rolled-back transaction")
	}
}

func TestAppendNote(t *testing.T) {
	s := testStore(t)
	p := seed(t, s, Property{Address: "123 Oak St", AddressNorm: "123 oak st"})

	for _, body := range []string{"first entry", "second entry"} {
		err := s.WithTx(func(tx *sql.Tx) error {
			id, err := s.AppendNoteTx(tx, p.ID, body)
			if err == nil && id == "" {
				t.Error("AppendNoteTx returned empty audit id")
			}
			return err
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	notes, err := s.Notes(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := "first entry" + NoteDelimiter + "second entry"
	if notes != want {
		t.Errorf("notes = %q, want %q", notes, want)
	}
}

func TestFileAndFetchDocument(t *testing.T) {
	s := testStore(t)
	p := seed(t, s, Property{Address: "123 Oak St", AddressNorm: "123 oak st"})

	doc := &FiledDocument{
		PropertyID: p.ID,
		Filename:   "contract.pdf",
		MimeType:   "application/pdf",
		Content:    []byte("%PDF-1.4 body"),
		SizeBytes:  13,
		FileHash:   "hash-1",
		DocType:    "contract",
	}
	if err := s.WithTx(func(tx *sql.Tx) error {
		return s.FileDocumentTx(tx, doc)
	}); err != nil {
		t.Fatal(err)
	}
	if doc.ID == "" {
		t.Fatal("FileDocumentTx did not assign an id")
	}

	got, err := s.GetFiledDocument(doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || string(got.Content) != "%PDF-1.4 body" || got.DocType != "contract" {
		t.Errorf("filed document = %+v", got)
	}

	if missing, _ := s.GetFiledDocument("nope"); missing != nil {
		t.Error("unknown id returned a document")
	}
}
